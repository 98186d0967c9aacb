package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tksohan/starline-optimizer/internal/database"
)

// HistoryRepository persists per-symbol daily price series in the history
// database. Rows are keyed by (symbol, date); re-inserting a date overwrites
// the previous row, so the most recently synced value wins.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a history repository and ensures its schema.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) (*HistoryRepository, error) {
	repo := &HistoryRepository{
		db:  db,
		log: log.With().Str("component", "history_repo").Logger(),
	}
	if err := repo.migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *HistoryRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS series (
		symbol     TEXT    NOT NULL,
		date       TEXT    NOT NULL,
		price      REAL    NOT NULL,
		volume     REAL    NOT NULL DEFAULT 0,
		updated_at TEXT    NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (symbol, date)
	);
	CREATE INDEX IF NOT EXISTS idx_series_date ON series(date);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate series schema: %w", err)
	}
	return nil
}

const dateLayout = "2006-01-02"

// Upsert writes price points for a symbol, overwriting existing dates.
func (r *HistoryRepository) Upsert(ctx context.Context, symbol string, points []SeriesPoint) error {
	symbol = strings.ToUpper(symbol)

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO series (symbol, date, price, volume, updated_at)
			VALUES (?, ?, ?, ?, datetime('now'))
			ON CONFLICT(symbol, date) DO UPDATE SET
				price = excluded.price,
				volume = excluded.volume,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, pt := range points {
			date := pt.Date.UTC().Format(dateLayout)
			if _, err := stmt.ExecContext(ctx, symbol, date, pt.Price, pt.Volume); err != nil {
				return fmt.Errorf("failed to upsert %s %s: %w", symbol, date, err)
			}
		}
		return nil
	})
}

// GetSeries returns price points for a symbol within [start, end], ascending.
func (r *HistoryRepository) GetSeries(ctx context.Context, symbol string, start, end time.Time) ([]SeriesPoint, error) {
	symbol = strings.ToUpper(symbol)

	rows, err := r.db.QueryContext(ctx, `
		SELECT date, price, volume FROM series
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query series for %s: %w", symbol, err)
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var dateStr string
		var pt SeriesPoint
		if err := rows.Scan(&dateStr, &pt.Price, &pt.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q for %s: %w", dateStr, symbol, err)
		}
		pt.Date = date
		points = append(points, pt)
	}
	return points, rows.Err()
}

// LatestDate returns the most recent stored date for a symbol, with ok=false
// when the symbol has no rows at all.
func (r *HistoryRepository) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	symbol = strings.ToUpper(symbol)

	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM series WHERE symbol = ?`, symbol,
	).Scan(&dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest date for %s: %w", symbol, err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, false, nil
	}
	date, err := time.Parse(dateLayout, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid latest date %q for %s: %w", dateStr.String, symbol, err)
	}
	return date, true, nil
}

// Symbols lists all symbols present in the history database.
func (r *HistoryRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM series ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// HistoryProvider serves panels from the local history database instead of
// hitting the upstream API. The sync job keeps the database current.
type HistoryProvider struct {
	repo     *HistoryRepository
	riskFree float64
	log      zerolog.Logger
}

// NewHistoryProvider creates a provider backed by the history database.
func NewHistoryProvider(repo *HistoryRepository, log zerolog.Logger) *HistoryProvider {
	return &HistoryProvider{
		repo:     repo,
		riskFree: DefaultRiskFreeRate,
		log:      log.With().Str("component", "history_provider").Logger(),
	}
}

// SetRiskFreeRate overrides the annualized cash rate used in built panels.
func (p *HistoryProvider) SetRiskFreeRate(rate float64) {
	p.riskFree = rate
}

// GetPanel implements Provider from stored series.
func (p *HistoryProvider) GetPanel(ctx context.Context, symbols []string, lookbackDays int) (*Panel, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(lookbackDays*7/5 + 10))

	series := make(map[string][]SeriesPoint, len(symbols))
	for _, sym := range symbols {
		points, err := p.repo.GetSeries(ctx, sym, start, end)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			series[sym] = points
		} else {
			p.log.Warn().Str("symbol", sym).Msg("No stored history for symbol")
		}
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("%w: none of %d symbols has stored history", ErrDataUnavailable, len(symbols))
	}

	return NewPanel(symbols, series, p.riskFree)
}

// CurrentPrices implements Provider using the latest stored price per symbol.
func (p *HistoryProvider) CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		latest, ok, err := p.repo.LatestDate(ctx, sym)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		points, err := p.repo.GetSeries(ctx, sym, latest, latest)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			prices[sym] = points[len(points)-1].Price
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no stored prices for requested symbols", ErrDataUnavailable)
	}
	return prices, nil
}

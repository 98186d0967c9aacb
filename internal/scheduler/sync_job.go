package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tksohan/starline-optimizer/internal/clients/yahoo"
	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

// PriceSyncJob pulls daily closes from Yahoo Finance into the history
// database. Symbols already stored are brought up to date incrementally;
// configured extra symbols are backfilled over the lookback window.
type PriceSyncJob struct {
	client       *yahoo.Client
	repo         *marketdata.HistoryRepository
	extraSymbols []string
	lookbackDays int
	timeout      time.Duration
	log          zerolog.Logger
}

// NewPriceSyncJob creates the daily price sync job.
func NewPriceSyncJob(
	client *yahoo.Client,
	repo *marketdata.HistoryRepository,
	extraSymbols []string,
	lookbackDays int,
	log zerolog.Logger,
) *PriceSyncJob {
	return &PriceSyncJob{
		client:       client,
		repo:         repo,
		extraSymbols: extraSymbols,
		lookbackDays: lookbackDays,
		timeout:      10 * time.Minute,
		log:          log.With().Str("job", "price_sync").Logger(),
	}
}

// Name implements Job.
func (j *PriceSyncJob) Name() string { return "price_sync" }

// Run implements Job. Per-symbol failures are logged and skipped so one bad
// ticker does not block the rest of the sync; the job fails only when every
// symbol fails.
func (j *PriceSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	symbols, err := j.collectSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		j.log.Info().Msg("No symbols to sync")
		return nil
	}

	synced, failed := 0, 0
	for _, sym := range symbols {
		if err := j.syncSymbol(ctx, sym); err != nil {
			// Yahoo has no history for some stored symbols (delistings);
			// that is routine, not a sync failure.
			if errors.Is(err, yahoo.ErrNotFound) {
				j.log.Warn().Str("symbol", sym).Msg("No upstream data for symbol")
				continue
			}
			failed++
			j.log.Error().Err(err).Str("symbol", sym).Msg("Failed to sync symbol")
			continue
		}
		synced++
	}

	j.log.Info().
		Int("synced", synced).
		Int("failed", failed).
		Int("total", len(symbols)).
		Msg("Price sync complete")

	if synced == 0 && failed > 0 {
		return fmt.Errorf("price sync: all %d symbols failed", failed)
	}
	return nil
}

// collectSymbols merges stored symbols with the configured extras, sorted
// for stable run order.
func (j *PriceSyncJob) collectSymbols(ctx context.Context) ([]string, error) {
	stored, err := j.repo.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored symbols: %w", err)
	}

	seen := make(map[string]struct{}, len(stored)+len(j.extraSymbols))
	var symbols []string
	for _, sym := range append(stored, j.extraSymbols...) {
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (j *PriceSyncJob) syncSymbol(ctx context.Context, symbol string) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(j.lookbackDays*7/5 + 10))

	if latest, ok, err := j.repo.LatestDate(ctx, symbol); err != nil {
		return err
	} else if ok {
		if !latest.Before(end.Truncate(24 * time.Hour)) {
			return nil // already current
		}
		start = latest.AddDate(0, 0, 1)
	}

	history, err := j.client.GetDailyHistory(ctx, symbol, start, end)
	if err != nil {
		return err
	}

	points := make([]marketdata.SeriesPoint, 0, len(history))
	for _, h := range history {
		points = append(points, marketdata.SeriesPoint{
			Date:   h.Date,
			Price:  h.AdjClose,
			Volume: float64(h.Volume),
		})
	}
	if err := j.repo.Upsert(ctx, symbol, points); err != nil {
		return err
	}

	j.log.Debug().Str("symbol", symbol).Int("rows", len(points)).Msg("Symbol synced")
	return nil
}

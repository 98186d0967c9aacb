package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tksohan/starline-optimizer/internal/clients/yahoo"
)

// Provider serves normalized market data to the optimization engine. It is
// injected as a collaborator so tests can substitute a fixture.
type Provider interface {
	// GetPanel fetches a price/return panel covering roughly lookbackDays
	// trading days for the given symbols. Symbols without data are excluded
	// and reported via Panel.Failed; if no symbol has data the call fails
	// with ErrDataUnavailable (or ErrRateLimited/ErrNetwork when that is
	// the underlying cause).
	GetPanel(ctx context.Context, symbols []string, lookbackDays int) (*Panel, error)

	// CurrentPrices fetches the latest price per symbol. Missing symbols
	// are absent from the result rather than failing the whole call.
	CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// YahooProvider fetches market data from Yahoo Finance, with an optional
// cache for current prices.
type YahooProvider struct {
	client   *yahoo.Client
	cache    *Cache
	riskFree float64
	log      zerolog.Logger
}

// NewYahooProvider creates a Yahoo-backed provider. cache may be nil.
func NewYahooProvider(client *yahoo.Client, cache *Cache, log zerolog.Logger) *YahooProvider {
	return &YahooProvider{
		client:   client,
		cache:    cache,
		riskFree: DefaultRiskFreeRate,
		log:      log.With().Str("component", "yahoo_provider").Logger(),
	}
}

// SetRiskFreeRate overrides the annualized cash rate used in built panels.
func (p *YahooProvider) SetRiskFreeRate(rate float64) {
	p.riskFree = rate
}

// GetPanel implements Provider. Per-symbol failures are collected rather
// than aborting the fetch, so one bad ticker does not sink the universe.
func (p *YahooProvider) GetPanel(ctx context.Context, symbols []string, lookbackDays int) (*Panel, error) {
	end := time.Now().UTC()
	// Calendar-day buffer over trading days: weekends plus holidays
	start := end.AddDate(0, 0, -(lookbackDays*7/5 + 10))

	series := make(map[string][]SeriesPoint, len(symbols))
	fetchErrs := make(map[string]error)

	for _, sym := range symbols {
		history, err := p.client.GetDailyHistory(ctx, sym, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fetchErrs[sym] = translateYahooErr(err)
			p.log.Warn().Err(err).Str("symbol", sym).Msg("No data for symbol, excluding from panel")
			continue
		}
		points := make([]SeriesPoint, 0, len(history))
		for _, h := range history {
			points = append(points, SeriesPoint{
				Date:   h.Date,
				Price:  h.AdjClose,
				Volume: float64(h.Volume),
			})
		}
		series[sym] = points
	}

	if len(series) == 0 {
		return nil, wholePanelError(symbols, fetchErrs)
	}

	panel, err := NewPanel(symbols, series, p.riskFree)
	if err != nil {
		return nil, err
	}
	// Merge fetch failures into the panel's failed set so callers see one
	// symbol -> reason map regardless of where the exclusion happened.
	for sym, ferr := range fetchErrs {
		panel.failed[sym] = ferr
	}
	return panel, nil
}

// CurrentPrices implements Provider with a short-TTL cache in front of the
// quote endpoint.
func (p *YahooProvider) CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(symbols))
	var lastErr error

	for _, sym := range symbols {
		if p.cache != nil {
			var cached float64
			if ok, _ := p.cache.GetIfFresh(NamespaceCurrentPrice, sym, &cached); ok {
				prices[sym] = cached
				continue
			}
		}

		price, err := p.client.GetCurrentPrice(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = translateYahooErr(err)
			p.log.Warn().Err(err).Str("symbol", sym).Msg("Failed to fetch current price")
			continue
		}
		prices[sym] = price

		if p.cache != nil {
			if err := p.cache.Store(NamespaceCurrentPrice, sym, price, TTLCurrentPrice); err != nil {
				p.log.Warn().Err(err).Str("symbol", sym).Msg("Failed to cache current price")
			}
		}
	}

	if len(prices) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return prices, nil
}

// translateYahooErr maps client-level errors onto the marketdata taxonomy.
func translateYahooErr(err error) error {
	switch {
	case errors.Is(err, yahoo.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	case errors.Is(err, yahoo.ErrRateLimited):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

// wholePanelError picks the most actionable error when every symbol failed:
// a rate limit or network failure is transient and worth retrying, while
// uniform "no data" is a caller mistake.
func wholePanelError(symbols []string, fetchErrs map[string]error) error {
	for _, err := range fetchErrs {
		if errors.Is(err, ErrRateLimited) {
			return fmt.Errorf("%w: all %d symbols failed", ErrRateLimited, len(symbols))
		}
	}
	for _, err := range fetchErrs {
		if errors.Is(err, ErrNetwork) {
			return fmt.Errorf("%w: all %d symbols failed", ErrNetwork, len(symbols))
		}
	}
	return fmt.Errorf("%w: none of %d symbols returned data", ErrDataUnavailable, len(symbols))
}

package marketdata

import (
	"context"

	"github.com/rs/zerolog"
)

// FallbackProvider serves from a primary provider and falls back to a
// secondary when the primary cannot serve the request at all. The usual
// pairing puts Yahoo in front of the local history store, so optimizations
// keep running on synced data when the upstream API is down or rate
// limiting.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	log      zerolog.Logger
}

// NewFallbackProvider creates a provider that prefers primary and falls
// back to fallback on whole-request failure.
func NewFallbackProvider(primary, fallback Provider, log zerolog.Logger) *FallbackProvider {
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "fallback_provider").Logger(),
	}
}

// GetPanel implements Provider. Partial failures inside the primary panel
// are not retried here; the fallback is consulted only when the primary
// returns no panel at all.
func (p *FallbackProvider) GetPanel(ctx context.Context, symbols []string, lookbackDays int) (*Panel, error) {
	panel, err := p.primary.GetPanel(ctx, symbols, lookbackDays)
	if err == nil {
		return panel, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	p.log.Warn().Err(err).Msg("Primary provider failed, serving panel from fallback")
	fbPanel, fbErr := p.fallback.GetPanel(ctx, symbols, lookbackDays)
	if fbErr != nil {
		p.log.Warn().Err(fbErr).Msg("Fallback provider failed as well")
		// The primary error names the transient cause worth surfacing.
		return nil, err
	}
	return fbPanel, nil
}

// CurrentPrices implements Provider with the same whole-request fallback.
func (p *FallbackProvider) CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := p.primary.CurrentPrices(ctx, symbols)
	if err == nil {
		return prices, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	p.log.Warn().Err(err).Msg("Primary provider failed, serving prices from fallback")
	fbPrices, fbErr := p.fallback.CurrentPrices(ctx, symbols)
	if fbErr != nil {
		p.log.Warn().Err(fbErr).Msg("Fallback provider failed as well")
		return nil, err
	}
	return fbPrices, nil
}

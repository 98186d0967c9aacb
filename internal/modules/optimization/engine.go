// Package optimization builds and solves portfolio optimization problems
// over a fixed ticker universe, turning solver weights into executable
// share counts.
package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

// TradeResult is the outcome of one rebalancing period: target weights,
// the execution timestamp, and the signed whole-share deltas that realize
// those weights at the last observed prices.
type TradeResult struct {
	RunID        string             `json:"run_id"`
	Weights      map[string]float64 `json:"weights"` // includes CashSymbol residual
	Time         time.Time          `json:"time"`
	SharesTraded map[string]float64 `json:"shares_traded"`
	Cash         float64            `json:"cash"` // dollars held as cash after trading
}

// Engine runs optimization policies over a fixed ticker universe. The
// universe and data provider are set at construction and never change, so
// an Engine is safe to treat as immutable.
type Engine struct {
	universe     []string
	provider     marketdata.Provider
	cache        *marketdata.Cache
	lookbackDays int
	initialCash  float64
	log          zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLookback sets the historical window, in trading days.
func WithLookback(days int) Option {
	return func(e *Engine) { e.lookbackDays = days }
}

// WithInitialCash sets the starting portfolio value in dollars.
func WithInitialCash(cash float64) Option {
	return func(e *Engine) { e.initialCash = cash }
}

// WithMomentCache reuses covariance estimates across runs sharing a
// universe and trading day. Covariance is the expensive estimate on large
// universes; expected returns are recomputed every run.
func WithMomentCache(cache *marketdata.Cache) Option {
	return func(e *Engine) { e.cache = cache }
}

// NewEngine creates an engine over the given tickers. Symbols are
// upper-cased and deduplicated preserving first occurrence; an empty
// universe fails with ErrInvalidUniverse. The provider is injected rather
// than constructed internally so tests can substitute a fixture.
func NewEngine(tickers []string, provider marketdata.Provider, log zerolog.Logger, opts ...Option) (*Engine, error) {
	universe, err := normalizeUniverse(tickers)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: nil data provider", ErrInvalidUniverse)
	}

	e := &Engine{
		universe:     universe,
		provider:     provider,
		lookbackDays: marketdata.PeriodsPerYear,
		initialCash:  1_000_000,
		log:          log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// normalizeUniverse upper-cases, trims and deduplicates symbols preserving
// input order.
func normalizeUniverse(tickers []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tickers))
	var universe []string
	for _, t := range tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if sym == "" {
			return nil, fmt.Errorf("%w: blank symbol", ErrInvalidUniverse)
		}
		if sym == CashSymbol {
			return nil, fmt.Errorf("%w: %s is reserved for the cash account", ErrInvalidUniverse, CashSymbol)
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		universe = append(universe, sym)
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("%w: no symbols provided", ErrInvalidUniverse)
	}
	return universe, nil
}

// Universe returns a copy of the engine's deduplicated ticker universe.
func (e *Engine) Universe() []string {
	out := make([]string, len(e.universe))
	copy(out, e.universe)
	return out
}

// Execute runs the policy and returns one TradeResult per period in its
// planning horizon. Symbols without data are excluded from the solve with a
// warning; if the whole universe is unavailable the fetch error is returned
// as-is. Solver failures carry ErrInfeasible or ErrSolver so callers can
// tell them apart.
//
// Share counts use a whole-share rule: shares = floor(weight * portfolio
// value / price), so rounding never spends more than the solver allocated
// and the remainder stays in cash.
func (e *Engine) Execute(ctx context.Context, policy Policy) ([]TradeResult, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}

	runID := uuid.New().String()
	log := e.log.With().Str("run_id", runID).Str("policy", policy.Name()).Logger()

	panel, err := e.provider.GetPanel(ctx, e.universe, e.lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("fetching panel for %d symbols: %w", len(e.universe), err)
	}

	for sym, cause := range panel.Failed() {
		log.Warn().Str("symbol", sym).Err(cause).Msg("Symbol excluded from optimization")
	}

	active := panel.Symbols()
	prob := &problem{
		symbols:  active,
		riskFree: panel.RiskFreePerPeriod(),
	}

	// Cash-only needs no estimates and must stay feasible even on thin data
	if _, cashOnly := policy.(*CashOnlyPolicy); !cashOnly {
		if prob.mu, err = estimateExpectedReturns(panel); err != nil {
			return nil, err
		}
		if prob.cov, err = e.covariance(panel); err != nil {
			return nil, err
		}
	}

	calendar := panel.TradingCalendar()
	execTime := calendar[len(calendar)-1]
	prices := panel.PricesAt(panel.Len() - 1)

	heldShares := make(map[string]float64, len(active))
	value := e.initialCash

	horizon := policy.Horizon()
	var results []TradeResult
	for period := 0; period < horizon; period++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			// Split the remaining request budget evenly over the periods left
			prob.deadline = time.Now().Add(time.Until(deadline) / time.Duration(horizon-period))
		}

		weights, err := policy.solve(prob)
		if err != nil {
			return nil, err
		}

		result := e.buildResult(runID, active, weights, prices, heldShares, value, execTime)
		results = append(results, result)

		prob.prevWeights = weights
		execTime = nextBusinessDay(execTime)
	}

	log.Info().
		Int("periods", len(results)).
		Int("active_symbols", len(active)).
		Msg("Policy executed")

	return results, nil
}

// covariance estimates the covariance matrix, reusing a cached estimate for
// the same universe and trading day when a moment cache is configured.
func (e *Engine) covariance(panel *marketdata.Panel) ([][]float64, error) {
	if e.cache == nil {
		return estimateCovariance(panel)
	}

	calendar := panel.TradingCalendar()
	key := strings.Join(panel.Symbols(), ",") + "|" + calendar[len(calendar)-1].Format("2006-01-02")

	var cached [][]float64
	if ok, err := e.cache.GetIfFresh(marketdata.NamespaceCovariance, key, &cached); err == nil && ok && len(cached) == len(panel.Symbols()) {
		return cached, nil
	}

	cov, err := estimateCovariance(panel)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Store(marketdata.NamespaceCovariance, key, cov, marketdata.TTLCovariance); err != nil {
		e.log.Warn().Err(err).Msg("Failed to cache covariance estimate")
	}
	return cov, nil
}

// buildResult converts solver weights into whole-share trades against the
// last observed prices and updates held shares in place.
func (e *Engine) buildResult(
	runID string,
	symbols []string,
	weights []float64,
	prices map[string]float64,
	heldShares map[string]float64,
	value float64,
	execTime time.Time,
) TradeResult {
	weightMap := make(map[string]float64, len(symbols)+1)
	sharesTraded := make(map[string]float64, len(symbols))

	invested := 0.0
	riskySum := 0.0
	for j, sym := range symbols {
		w := weights[j]
		weightMap[sym] = w
		riskySum += w

		price := prices[sym]
		target := 0.0
		if price > 0 && w > 0 {
			target = math.Floor(w * value / price)
		}
		delta := target - heldShares[sym]
		if delta != 0 {
			sharesTraded[sym] = delta
		}
		heldShares[sym] = target
		invested += target * price
	}

	weightMap[CashSymbol] = math.Max(0, 1-riskySum)

	return TradeResult{
		RunID:        runID,
		Weights:      weightMap,
		Time:         execTime,
		SharesTraded: sharesTraded,
		Cash:         value - invested,
	}
}

// nextBusinessDay steps one calendar day forward, skipping weekends.
func nextBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

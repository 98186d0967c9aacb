package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
	"github.com/tksohan/starline-optimizer/internal/modules/optimization"
)

// OptimizeHandlers serves the optimization endpoints. An engine is built per
// request because the universe comes from the request body.
type OptimizeHandlers struct {
	provider     marketdata.Provider
	cache        *marketdata.Cache
	lookbackDays int
	initialCash  float64
	log          zerolog.Logger
}

// NewOptimizeHandlers creates the optimization handlers. cache may be nil,
// in which case moments are re-estimated on every request.
func NewOptimizeHandlers(provider marketdata.Provider, cache *marketdata.Cache, lookbackDays int, initialCash float64, log zerolog.Logger) *OptimizeHandlers {
	return &OptimizeHandlers{
		provider:     provider,
		cache:        cache,
		lookbackDays: lookbackDays,
		initialCash:  initialCash,
		log:          log.With().Str("component", "optimize_handlers").Logger(),
	}
}

type optimizeRequest struct {
	Tickers     []string       `json:"tickers"`
	Policy      *policyRequest `json:"policy,omitempty"`
	InitialCash float64        `json:"initial_cash,omitempty"`
}

type policyRequest struct {
	Type             string   `json:"type"`
	TargetReturn     *float64 `json:"target_return,omitempty"`
	TargetVolatility *float64 `json:"target_volatility,omitempty"`
	MaxWeight        float64  `json:"max_weight,omitempty"`
	RiskAversion     float64  `json:"risk_aversion,omitempty"`
	PlanningHorizon  int      `json:"planning_horizon,omitempty"`
	GammaRisk        float64  `json:"gamma_risk,omitempty"`
	GammaTrade       float64  `json:"gamma_trade,omitempty"`
}

type optimizeResponse struct {
	RunID   string                     `json:"run_id"`
	Policy  string                     `json:"policy"`
	Results []optimization.TradeResult `json:"results"`
}

// HandleCashOnly is the legacy entrypoint: it runs the cash-only baseline
// over the posted tickers and returns the single resulting trade.
func (h *OptimizeHandlers) HandleCashOnly(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	results, err := h.run(r, req, optimization.CashOnly())
	if err != nil {
		h.respondOptimizeError(w, err)
		return
	}

	// Single-period policy, single result.
	respondJSON(w, http.StatusOK, results[0])
}

// HandleOptimize runs a policy chosen by the request over the posted
// tickers. Without an explicit policy it defaults to multi-period.
func (h *OptimizeHandlers) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	policy, err := buildPolicy(req.Policy)
	if err != nil {
		h.respondOptimizeError(w, err)
		return
	}

	results, err := h.run(r, req, policy)
	if err != nil {
		h.respondOptimizeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, optimizeResponse{
		RunID:   results[0].RunID,
		Policy:  policy.Name(),
		Results: results,
	})
}

func (h *OptimizeHandlers) run(r *http.Request, req optimizeRequest, policy optimization.Policy) ([]optimization.TradeResult, error) {
	opts := []optimization.Option{
		optimization.WithLookback(h.lookbackDays),
		optimization.WithInitialCash(h.initialCash),
	}
	if req.InitialCash > 0 {
		opts = append(opts, optimization.WithInitialCash(req.InitialCash))
	}
	if h.cache != nil {
		opts = append(opts, optimization.WithMomentCache(h.cache))
	}

	engine, err := optimization.NewEngine(req.Tickers, h.provider, h.log, opts...)
	if err != nil {
		return nil, err
	}
	return engine.Execute(r.Context(), policy)
}

// buildPolicy maps the request's policy block onto the closed policy set.
// nil means the multi-period default.
func buildPolicy(req *policyRequest) (optimization.Policy, error) {
	if req == nil {
		return optimization.MultiPeriod(), nil
	}

	switch req.Type {
	case "", "multi_period":
		policy := optimization.MultiPeriod()
		if req.PlanningHorizon > 0 {
			policy.PlanningHorizon = req.PlanningHorizon
		}
		if req.GammaRisk > 0 {
			policy.GammaRisk = req.GammaRisk
		}
		if req.GammaTrade > 0 {
			policy.GammaTrade = req.GammaTrade
		}
		if req.MaxWeight > 0 {
			policy.MaxWeight = req.MaxWeight
		}
		policy.TargetReturn = req.TargetReturn
		return policy, nil

	case "cash_only":
		return optimization.CashOnly(), nil

	case optimization.StrategyMinVolatility, optimization.StrategyMaxSharpe,
		optimization.StrategyEfficientReturn, optimization.StrategyEfficientRisk:
		policy := &optimization.MeanVariancePolicy{
			Strategy:         req.Type,
			TargetReturn:     req.TargetReturn,
			TargetVolatility: req.TargetVolatility,
			MaxWeight:        req.MaxWeight,
			RiskAversion:     req.RiskAversion,
		}
		return policy, nil

	default:
		return nil, fmt.Errorf("%w: unknown policy type %q", optimization.ErrInvalidPolicy, req.Type)
	}
}

// respondOptimizeError maps domain errors onto HTTP statuses.
func (h *OptimizeHandlers) respondOptimizeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, optimization.ErrInvalidUniverse),
		errors.Is(err, optimization.ErrInvalidPolicy):
		status = http.StatusBadRequest
	case errors.Is(err, optimization.ErrInfeasible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, marketdata.ErrDataUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, marketdata.ErrRateLimited):
		status = http.StatusServiceUnavailable
	case errors.Is(err, marketdata.ErrNetwork):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimization failed")
	} else {
		h.log.Warn().Err(err).Int("status", status).Msg("Optimization rejected")
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

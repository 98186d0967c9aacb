package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

// CashSymbol is the synthetic symbol for the cash account. Cash earns the
// panel's risk-free rate and absorbs whatever the risky weights leave over.
const CashSymbol = "USDOLLAR"

// Mean-variance strategies.
const (
	StrategyMinVolatility   = "min_volatility"
	StrategyMaxSharpe       = "max_sharpe"
	StrategyEfficientReturn = "efficient_return"
	StrategyEfficientRisk   = "efficient_risk"
)

// problem carries everything a policy needs to solve one rebalancing period.
// Expected returns and covariance are per-period (daily), in symbol order.
type problem struct {
	symbols     []string
	mu          []float64
	cov         [][]float64
	prevWeights []float64 // post-trade risky weights of the previous period
	riskFree    float64   // per-period cash return
	deadline    time.Time // wall-clock budget for this period's solve; zero means no caller deadline
}

// Policy describes the optimization objective and constraints for a solve.
// The set of policies is closed: the unexported solve method keeps callers
// from injecting opaque objects whose shape is discovered at call time.
type Policy interface {
	// Name identifies the policy in logs and API responses.
	Name() string
	// Horizon is the number of rebalancing periods the policy plans over.
	Horizon() int
	// solve computes post-trade risky weights for one period.
	solve(p *problem) ([]float64, error)
}

// CashOnlyPolicy holds 100% cash and never rebalances. It is always
// feasible, which makes it the baseline smoke-test policy.
type CashOnlyPolicy struct {
	Periods int // number of periods to emit, default 1
}

// CashOnly returns the baseline no-rebalance policy.
func CashOnly() *CashOnlyPolicy {
	return &CashOnlyPolicy{Periods: 1}
}

// Name implements Policy.
func (c *CashOnlyPolicy) Name() string { return "cash_only" }

// Horizon implements Policy.
func (c *CashOnlyPolicy) Horizon() int {
	if c.Periods < 1 {
		return 1
	}
	return c.Periods
}

func (c *CashOnlyPolicy) solve(p *problem) ([]float64, error) {
	return make([]float64, len(p.symbols)), nil
}

// MeanVariancePolicy is a single-period mean-variance optimization with one
// of four strategies. Weights are long-only and capped at MaxWeight; the
// portfolio is fully invested (weights sum to 1).
type MeanVariancePolicy struct {
	Strategy         string
	TargetReturn     *float64 // annualized, required for efficient_return
	TargetVolatility *float64 // annualized, required for efficient_risk
	RiskAversion     float64  // lambda in mu'w - lambda*(w'Sigma*w), default 1
	MaxWeight        float64  // per-asset cap, default 1
}

// EfficientReturn builds a mean-variance policy targeting an annualized
// growth factor, e.g. 1.06 for a 6% annual return target.
func EfficientReturn(annualTarget float64) *MeanVariancePolicy {
	target := annualTarget
	return &MeanVariancePolicy{
		Strategy:     StrategyEfficientReturn,
		TargetReturn: &target,
	}
}

// MinVolatility builds the minimum-variance policy.
func MinVolatility() *MeanVariancePolicy {
	return &MeanVariancePolicy{Strategy: StrategyMinVolatility}
}

// MaxSharpe builds the maximum Sharpe ratio policy.
func MaxSharpe() *MeanVariancePolicy {
	return &MeanVariancePolicy{Strategy: StrategyMaxSharpe}
}

// EfficientRisk builds a mean-variance policy maximizing return at a given
// annualized volatility, e.g. 0.15 for a 15% volatility budget.
func EfficientRisk(annualVol float64) *MeanVariancePolicy {
	vol := annualVol
	return &MeanVariancePolicy{
		Strategy:         StrategyEfficientRisk,
		TargetVolatility: &vol,
	}
}

// Name implements Policy.
func (m *MeanVariancePolicy) Name() string { return "mean_variance_" + m.Strategy }

// Horizon implements Policy. Mean-variance is single-period.
func (m *MeanVariancePolicy) Horizon() int { return 1 }

func (m *MeanVariancePolicy) validate() error {
	switch m.Strategy {
	case StrategyMinVolatility, StrategyMaxSharpe:
	case StrategyEfficientReturn:
		if m.TargetReturn == nil {
			return fmt.Errorf("target_return required for %s strategy", m.Strategy)
		}
	case StrategyEfficientRisk:
		if m.TargetVolatility == nil {
			return fmt.Errorf("target_volatility required for %s strategy", m.Strategy)
		}
	default:
		return fmt.Errorf("unknown strategy: %q", m.Strategy)
	}
	return nil
}

func (m *MeanVariancePolicy) maxWeight() float64 {
	if m.MaxWeight <= 0 || m.MaxWeight > 1 {
		return 1.0
	}
	return m.MaxWeight
}

func (m *MeanVariancePolicy) riskAversion() float64 {
	if m.RiskAversion <= 0 {
		return 1.0
	}
	return m.RiskAversion
}

// perPeriodTarget de-annualizes the target growth factor: an annual target
// of 1.06 becomes 1.06^(1/252) - 1 per trading day. Plain rates (0.06) are
// accepted as well and treated as 1.06.
func (m *MeanVariancePolicy) perPeriodTarget() float64 {
	target := *m.TargetReturn
	if target < 1 {
		target += 1
	}
	return math.Pow(target, 1.0/float64(marketdata.PeriodsPerYear)) - 1
}

// perPeriodVolTarget de-annualizes volatility by sqrt of periods per year.
func (m *MeanVariancePolicy) perPeriodVolTarget() float64 {
	return *m.TargetVolatility / math.Sqrt(float64(marketdata.PeriodsPerYear))
}

func (m *MeanVariancePolicy) solve(p *problem) ([]float64, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return solveMeanVariance(p, m)
}

// MultiPeriodPolicy plans over a horizon of trading periods, penalizing risk
// and turnover against the previous period's allocation. Long-only with a
// leverage limit of 1; cash absorbs what the risky assets do not take.
type MultiPeriodPolicy struct {
	PlanningHorizon int     // default 6
	GammaRisk       float64 // risk penalty, default 5
	GammaTrade      float64 // turnover penalty, default 3
	MaxWeight       float64 // per-asset cap, default 1
	TargetReturn    *float64
}

// MultiPeriod builds a multi-period policy with the default hyperparameters.
func MultiPeriod() *MultiPeriodPolicy {
	return &MultiPeriodPolicy{
		PlanningHorizon: 6,
		GammaRisk:       5,
		GammaTrade:      3,
	}
}

// Name implements Policy.
func (m *MultiPeriodPolicy) Name() string { return "multi_period" }

// Horizon implements Policy.
func (m *MultiPeriodPolicy) Horizon() int {
	if m.PlanningHorizon < 1 {
		return 6
	}
	return m.PlanningHorizon
}

func (m *MultiPeriodPolicy) gammaRisk() float64 {
	if m.GammaRisk <= 0 {
		return 5
	}
	return m.GammaRisk
}

func (m *MultiPeriodPolicy) gammaTrade() float64 {
	if m.GammaTrade <= 0 {
		return 3
	}
	return m.GammaTrade
}

// perPeriodTarget de-annualizes TargetReturn the same way the
// mean-variance policies do.
func (m *MultiPeriodPolicy) perPeriodTarget() float64 {
	target := *m.TargetReturn
	if target < 1 {
		target += 1
	}
	return math.Pow(target, 1.0/float64(marketdata.PeriodsPerYear)) - 1
}

func (m *MultiPeriodPolicy) maxWeight() float64 {
	if m.MaxWeight <= 0 || m.MaxWeight > 1 {
		return 1.0
	}
	return m.MaxWeight
}

func (m *MultiPeriodPolicy) solve(p *problem) ([]float64, error) {
	return solveMultiPeriod(p, m)
}

package optimization

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// The solver expresses each policy as an unconstrained problem with penalty
// terms and hands it to gonum's minimizers: BFGS first, Nelder-Mead as the
// fallback. Bounds are handled by projection, equality constraints by
// quadratic penalties.

const (
	penaltyWeight = 1000.0
	constraintTol = 1e-3 // residual above this after convergence means infeasible
	varianceFloor = 1e-10
	weightEpsilon = 1e-8

	// solverTimeout bounds a single minimizer run so a pathological
	// objective cannot hang a request.
	solverTimeout = 30 * time.Second

	// minSolverRuntime is the floor on a minimizer run when the caller's
	// deadline is nearly spent; true expiry is caught between periods.
	minSolverRuntime = time.Second
)

// successStatuses are the gonum convergence statuses we accept.
var successStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

// runtimeBudget caps one minimizer run at solverTimeout, shrunk to an even
// share of the time left until deadline across the attempts still to run.
// A zero deadline keeps the default bound.
func runtimeBudget(deadline time.Time, attemptsLeft int) time.Duration {
	if deadline.IsZero() {
		return solverTimeout
	}
	budget := time.Until(deadline) / time.Duration(attemptsLeft)
	if budget > solverTimeout {
		return solverTimeout
	}
	if budget < minSolverRuntime {
		return minSolverRuntime
	}
	return budget
}

// minimize runs the problem through BFGS, retrying with Nelder-Mead when
// BFGS fails or does not converge. Each attempt is wall-clock bounded so a
// pathological objective fails cleanly inside the caller's deadline instead
// of outliving the request.
func minimize(prob optimize.Problem, initial []float64, deadline time.Time) (*optimize.Result, error) {
	settings := &optimize.Settings{Runtime: runtimeBudget(deadline, 2)}

	result, err := optimize.Minimize(prob, initial, settings, &optimize.BFGS{})
	if err == nil && successStatuses[result.Status] {
		return result, nil
	}

	settings.Runtime = runtimeBudget(deadline, 1)
	fallback, ferr := optimize.Minimize(prob, initial, settings, &optimize.NelderMead{})
	if ferr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w: BFGS: %v; NelderMead: %v", ErrSolver, err, ferr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSolver, ferr)
	}
	if !successStatuses[fallback.Status] {
		return nil, fmt.Errorf("%w: did not converge (BFGS status=%v, NelderMead status=%v)",
			ErrSolver, statusOf(result), fallback.Status)
	}
	return fallback, nil
}

func statusOf(r *optimize.Result) optimize.Status {
	if r == nil {
		return optimize.NotTerminated
	}
	return r.Status
}

// projectToBounds clamps each weight into [0, maxWeight].
func projectToBounds(x []float64, maxWeight float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(0, math.Min(maxWeight, x[i]))
	}
	return proj
}

func portfolioMoments(x, mu []float64, cov [][]float64) (ret, variance float64) {
	for i := range x {
		ret += mu[i] * x[i]
		for j := range x {
			variance += x[i] * x[j] * cov[i][j]
		}
	}
	return ret, variance
}

func weightSum(x []float64) float64 {
	sum := 0.0
	for _, w := range x {
		sum += w
	}
	return sum
}

func uniformStart(n int) []float64 {
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}
	return initial
}

// normalize scales weights so they sum to 1, guarding tiny sums.
func normalize(x []float64) []float64 {
	sum := math.Max(weightSum(x), varianceFloor)
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.Max(0, x[i]/sum)
	}
	return out
}

// maxAchievableReturn is the best expected return reachable under the
// per-asset cap with weights summing to 1: greedily fill the highest-mu
// assets up to maxWeight. Used to pre-check efficient_return feasibility.
func maxAchievableReturn(mu []float64, maxWeight float64) float64 {
	order := make([]int, len(mu))
	for i := range order {
		order[i] = i
	}
	// insertion sort by descending mu; universes are small
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && mu[order[j]] > mu[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	best, remaining := 0.0, 1.0
	for _, idx := range order {
		if remaining <= 0 {
			break
		}
		take := math.Min(maxWeight, remaining)
		best += take * mu[idx]
		remaining -= take
	}
	return best
}

// solveMeanVariance solves the four single-period strategies. Grounded on
// the classic formulations:
//   - efficient_return: maximize mu'w - lambda*(w'Sigma*w) s.t. mu'w = target
//   - min_volatility:   minimize w'Sigma*w
//   - max_sharpe:       maximize (mu'w - rf) / sqrt(w'Sigma*w)
//   - efficient_risk:   maximize mu'w s.t. sqrt(w'Sigma*w) = target
//
// plus sum(w) = 1 and 0 <= w_i <= maxWeight for all strategies.
func solveMeanVariance(p *problem, pol *MeanVariancePolicy) ([]float64, error) {
	n := len(p.symbols)
	maxW := pol.maxWeight()

	if maxW*float64(n) < 1-constraintTol {
		return nil, fmt.Errorf("%w: max weight %.3f cannot cover %d assets summing to 1",
			ErrInfeasible, maxW, n)
	}

	var target float64
	switch pol.Strategy {
	case StrategyEfficientReturn:
		target = pol.perPeriodTarget()
		if best := maxAchievableReturn(p.mu, maxW); target > best+constraintTol {
			return nil, fmt.Errorf(
				"%w: per-period target return %.6f exceeds best achievable %.6f",
				ErrInfeasible, target, best)
		}
	case StrategyEfficientRisk:
		target = pol.perPeriodVolTarget()
	}

	lambda := pol.riskAversion()

	objective := func(xRaw []float64) float64 {
		x := projectToBounds(xRaw, maxW)
		ret, variance := portfolioMoments(x, p.mu, p.cov)
		sum := weightSum(x)

		var obj float64
		switch pol.Strategy {
		case StrategyMinVolatility:
			obj = variance
		case StrategyMaxSharpe:
			stdDev := math.Sqrt(math.Max(variance, varianceFloor))
			obj = -(ret - p.riskFree) / stdDev
		case StrategyEfficientReturn:
			obj = -(ret - lambda*variance)
			obj += penaltyWeight * (ret - target) * (ret - target)
		case StrategyEfficientRisk:
			obj = -ret
			obj += penaltyWeight * (variance - target*target) * (variance - target*target)
		}

		obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)
		return obj
	}

	result, err := minimize(optimize.Problem{Func: objective}, uniformStart(n), p.deadline)
	if err != nil {
		return nil, err
	}

	weights := normalize(projectToBounds(result.X, maxW))

	// A converged solution that still violates its equality constraint means
	// the constraint set is empty, not that the solver broke.
	if pol.Strategy == StrategyEfficientReturn {
		achieved, _ := portfolioMoments(weights, p.mu, p.cov)
		if math.Abs(achieved-target) > constraintTol {
			return nil, fmt.Errorf(
				"%w: achieved per-period return %.6f vs target %.6f under the given bounds",
				ErrInfeasible, achieved, target)
		}
	}
	if pol.Strategy == StrategyEfficientRisk {
		_, variance := portfolioMoments(weights, p.mu, p.cov)
		if math.Sqrt(math.Max(variance, 0)) > target+constraintTol {
			return nil, fmt.Errorf(
				"%w: achieved per-period volatility %.6f exceeds target %.6f",
				ErrInfeasible, math.Sqrt(variance), target)
		}
	}

	return weights, nil
}

// solveMultiPeriod solves one period of the multi-period objective:
//
//	maximize mu'w + (1 - sum(w))*rf - gammaRisk*(w'Sigma*w)
//	         - gammaTrade*||w - w_prev||^2
//
// subject to 0 <= w_i <= maxWeight and sum(w) <= 1 (long-only, leverage
// limit 1, cash earns the risk-free rate).
func solveMultiPeriod(p *problem, pol *MultiPeriodPolicy) ([]float64, error) {
	n := len(p.symbols)
	maxW := pol.maxWeight()
	gammaRisk := pol.gammaRisk()
	gammaTrade := pol.gammaTrade()

	// Optional return floor on top of the base objective
	hasTarget := pol.TargetReturn != nil
	var target float64
	if hasTarget {
		target = pol.perPeriodTarget()
		if best := maxAchievableReturn(p.mu, maxW); target > best+constraintTol {
			return nil, fmt.Errorf(
				"%w: per-period target return %.6f exceeds best achievable %.6f",
				ErrInfeasible, target, best)
		}
	}

	prev := p.prevWeights
	if prev == nil {
		prev = make([]float64, n)
	}

	objective := func(xRaw []float64) float64 {
		x := projectToBounds(xRaw, maxW)
		ret, variance := portfolioMoments(x, p.mu, p.cov)
		sum := weightSum(x)

		obj := -(ret + (1-sum)*p.riskFree)
		obj += gammaRisk * variance
		for i := range x {
			d := x[i] - prev[i]
			obj += gammaTrade * d * d
		}

		// Leverage limit: penalize only sums above 1
		if sum > 1 {
			obj += penaltyWeight * (sum - 1) * (sum - 1)
		}
		// Return floor: penalize only shortfalls
		if hasTarget && ret < target {
			obj += penaltyWeight * (target - ret) * (target - ret)
		}
		return obj
	}

	result, err := minimize(optimize.Problem{Func: objective}, uniformStart(n), p.deadline)
	if err != nil {
		return nil, err
	}

	weights := projectToBounds(result.X, maxW)
	// Clamp any residual leverage-limit overshoot left by the penalty
	if sum := weightSum(weights); sum > 1 {
		weights = normalize(weights)
	}
	for i := range weights {
		if weights[i] < weightEpsilon {
			weights[i] = 0
		}
	}

	if hasTarget {
		achieved, _ := portfolioMoments(weights, p.mu, p.cov)
		if achieved < target-constraintTol {
			return nil, fmt.Errorf(
				"%w: achieved per-period return %.6f below target %.6f under the given bounds",
				ErrInfeasible, achieved, target)
		}
	}

	return weights, nil
}

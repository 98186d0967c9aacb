package optimization

import "errors"

// Error taxonomy for engine construction and solving. A portfolio manager
// must be able to tell "no solution exists under these constraints" from
// "the solver crashed", so infeasibility and solver failure are distinct.
var (
	// ErrInvalidUniverse means the ticker universe is empty or otherwise
	// unusable at construction time.
	ErrInvalidUniverse = errors.New("optimization: invalid ticker universe")

	// ErrInvalidPolicy means the policy configuration itself is unusable,
	// e.g. an efficient_return strategy without a target return.
	ErrInvalidPolicy = errors.New("optimization: invalid policy")

	// ErrInfeasible means the solver converged but no allocation satisfies
	// the policy's constraints.
	ErrInfeasible = errors.New("optimization: problem is infeasible")

	// ErrSolver means the solver itself failed (did not converge, numeric
	// breakdown). The underlying diagnostic is attached.
	ErrSolver = errors.New("optimization: solver failure")
)

package glean

import (
	"context"
	"fmt"
)

// Satisfiability is the verdict of a satisfiability check.
type Satisfiability int

const (
	SatisfiabilityUnknown = Satisfiability(iota)
	Satisfiable
	Unsatisfiable
)

// String returns the SMT-LIB response for the verdict.
func (s Satisfiability) String() string {
	switch s {
	case SatisfiabilityUnknown:
		return "unknown"
	case Satisfiable:
		return "sat"
	case Unsatisfiable:
		return "unsat"
	default:
		return fmt.Sprintf("Satisfiability<%d>", s)
	}
}

// Solver represents an incremental decision procedure.
// A solver is used by a single goroutine and must be closed after use.
type Solver interface {
	// Assert adds a boolean term to the set of assertions.
	Assert(t Term) error

	// CheckSatisfiability checks the current assertions. If they are
	// satisfiable, fn is invoked with a model before returning.
	CheckSatisfiability(fn func(Model) error) (Satisfiability, error)

	// Close releases the solver. Any later call returns ErrSolverClosed.
	Close() error
}

// Model represents a satisfying assignment.
// It is only valid for the duration of the CheckSatisfiability callback.
type Model interface {
	// Evaluate returns the value of t under the model.
	Evaluate(t Term) (*Literal, error)
}

// SolverFactory creates fresh solver instances.
type SolverFactory interface {
	NewSolver(ctx context.Context) (Solver, error)
}

// SolverFactoryFunc is an adapter to allow a function to be used as a SolverFactory.
type SolverFactoryFunc func(ctx context.Context) (Solver, error)

// NewSolver calls fn(ctx).
func (fn SolverFactoryFunc) NewSolver(ctx context.Context) (Solver, error) {
	return fn(ctx)
}

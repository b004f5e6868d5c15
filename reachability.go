package glean

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/glean/config"
)

// Reachability builds a query asking whether the exit block of a procedure
// can be reached under a set of constraints.
type Reachability struct {
	graph       FlowGraph
	constraints []Expr

	Logger *config.LogGroup
}

// NewReachability returns a new query on the exit block of g.
func NewReachability(g FlowGraph) *Reachability {
	return &Reachability{graph: g}
}

// Parameter returns the parameter of the procedure with the given name.
func (r *Reachability) Parameter(name string) (*Variable, error) {
	if entry := r.graph.Entry(); entry != nil {
		for _, p := range entry.Params {
			if p.Name == name {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, r.graph.Name(), name)
}

// ReturnValue returns the variable holding the i-th return value of the
// procedure, for use in constraints.
func (r *Reachability) ReturnValue(i int) (*Variable, error) {
	exit := r.graph.Exit()
	if exit == nil {
		return nil, ErrNoExit
	} else if i < 0 || i >= len(exit.Values) {
		return nil, fmt.Errorf("glean: %s has no return value %d", r.graph.Name(), i)
	}
	return NewVariable(ReturnVariableName(i), ExprWidth(exit.Values[i])), nil
}

// Constrain adds boolean constraints that must hold when the exit is reached.
func (r *Reachability) Constrain(exprs ...Expr) error {
	for _, expr := range exprs {
		if w := ExprWidth(expr); w != WidthBool {
			return fmt.Errorf("glean: constraint %s has width %d", expr, w)
		}
	}
	r.constraints = append(r.constraints, exprs...)
	return nil
}

// Constraints returns the constraints added so far.
func (r *Reachability) Constraints() []Expr { return r.constraints }

// Analyze runs symbolic execution with the exit block as the only target.
func (r *Reachability) Analyze(ctx context.Context, factory SolverFactory) (ReachabilityResult, error) {
	exit := r.graph.Exit()
	if exit == nil {
		return nil, ErrNoExit
	}

	e := NewExecutor(r.graph, factory)
	e.Assumptions = r.constraints
	if r.Logger != nil {
		e.Logger = r.Logger
	}

	result, err := e.Execute(ctx, exit)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case ExecutionStatusReachable:
		return &Reachable{Params: r.graph.Entry().Params, Inputs: result.Inputs}, nil
	case ExecutionStatusUnreachable:
		return &Unreachable{}, nil
	default:
		return &Unknown{}, nil
	}
}

// ReachabilityResult is the verdict of a reachability query.
type ReachabilityResult interface {
	reachabilityResult()
	String() string
}

func (*Reachable) reachabilityResult()   {}
func (*Unreachable) reachabilityResult() {}
func (*Unknown) reachabilityResult()     {}

// Reachable holds input values under which the target is reached.
type Reachable struct {
	Params []*Variable
	Inputs map[*Variable]*ConstantExpr
}

// Input returns the value of the named parameter.
func (r *Reachable) Input(name string) (*ConstantExpr, bool) {
	for p, v := range r.Inputs {
		if p.Name == name {
			return v, true
		}
	}
	return nil, false
}

// String returns the verdict followed by each input in parameter order.
func (r *Reachable) String() string {
	var buf strings.Builder
	buf.WriteString("reachable")
	for _, p := range r.Params {
		v, ok := r.Inputs[p]
		if !ok {
			continue
		}
		if v.Width == WidthBool {
			fmt.Fprintf(&buf, " %s=%s", p.Name, v)
		} else {
			fmt.Fprintf(&buf, " %s=%d", p.Name, v.Int64())
		}
	}
	return buf.String()
}

// Unreachable means no path reaches the target under the constraints.
type Unreachable struct{}

func (*Unreachable) String() string { return "unreachable" }

// Unknown means the solver could not decide a path condition.
type Unknown struct{}

func (*Unknown) String() string { return "unknown" }

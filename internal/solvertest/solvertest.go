// Package solvertest implements a small exhaustive solver for tests.
//
// Assertions of the form (= c t), where c is a constant not defined before,
// are treated as definitions of c. Every other constant is free and its
// values are enumerated from zero until the remaining assertions hold or the
// search limit is reached.
package solvertest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/benbjohnson/glean"
)

// DefaultLimit is the default number of assignments enumerated per check.
const DefaultLimit = 1 << 16

// Factory creates solvers and keeps track of them.
type Factory struct {
	// Maximum number of assignments tried by a check. A check that gives up
	// reports unknown.
	Limit int

	// If set, every check reports unknown.
	Unknown bool

	// Solvers created so far, in order.
	Solvers []*Solver
}

// NewFactory returns a factory with the default limit.
func NewFactory() *Factory {
	return &Factory{Limit: DefaultLimit}
}

// NewSolver returns a new, empty solver.
func (f *Factory) NewSolver(ctx context.Context) (glean.Solver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Solver{factory: f}
	f.Solvers = append(f.Solvers, s)
	return s, nil
}

// AllClosed returns true if every solver created by f has been closed.
func (f *Factory) AllClosed() bool {
	for _, s := range f.Solvers {
		if !s.closed {
			return false
		}
	}
	return true
}

var _ glean.Solver = (*Solver)(nil)

// Solver is an exhaustive glean.Solver.
type Solver struct {
	factory    *Factory
	assertions []glean.Term
	closed     bool
}

// Assertions returns the terms asserted so far.
func (s *Solver) Assertions() []glean.Term { return s.assertions }

// Closed returns true once Close has been called.
func (s *Solver) Closed() bool { return s.closed }

// Assert adds a boolean assertion.
func (s *Solver) Assert(t glean.Term) error {
	if s.closed {
		return glean.ErrSolverClosed
	} else if sort := glean.TermSort(t); sort != glean.SortBool {
		return fmt.Errorf("solvertest: assertion of sort %s", sort)
	}
	s.assertions = append(s.assertions, t)
	return nil
}

// Close marks the solver as closed.
func (s *Solver) Close() error {
	if s.closed {
		return glean.ErrSolverClosed
	}
	s.closed = true
	return nil
}

// CheckSatisfiability enumerates the free constants.
func (s *Solver) CheckSatisfiability(fn func(glean.Model) error) (glean.Satisfiability, error) {
	if s.closed {
		return glean.SatisfiabilityUnknown, glean.ErrSolverClosed
	} else if s.factory.Unknown {
		return glean.SatisfiabilityUnknown, nil
	}

	defs := make(map[string]glean.Term)
	var constraints []glean.Term
	for _, t := range s.assertions {
		if name, rhs, ok := definition(t); ok {
			if _, exists := defs[name]; !exists && !mentions(rhs, name) {
				defs[name] = rhs
				continue
			}
		}
		constraints = append(constraints, t)
	}

	free := freeConstants(s.assertions, defs)
	limit := s.factory.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	values := make([]uint64, len(free))
	for n := 0; n < limit; n++ {
		m := newModel(defs, free, values)
		ok, err := m.holds(constraints)
		if err != nil {
			return glean.SatisfiabilityUnknown, err
		} else if ok {
			if fn != nil {
				if err := fn(m); err != nil {
					return glean.SatisfiabilityUnknown, err
				}
			}
			return glean.Satisfiable, nil
		}

		if !increment(values, free) {
			return glean.Unsatisfiable, nil
		}
	}
	return glean.SatisfiabilityUnknown, nil
}

// increment advances values to the next assignment. Returns false once
// every assignment has been visited.
func increment(values []uint64, free []*glean.FuncDecl) bool {
	for i := range values {
		max := maxValue(free[i].Result)
		if values[i] < max {
			values[i]++
			return true
		}
		values[i] = 0
	}
	return false
}

func maxValue(sort glean.Sort) uint64 {
	if sort == glean.SortBool {
		return 1
	}
	w := sort.Width()
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

// definition returns the name and value of an assertion (= c t).
func definition(t glean.Term) (string, glean.Term, bool) {
	app, ok := t.(*glean.Apply)
	if !ok || !app.Func.Builtin || app.Func.Name != "=" || len(app.Args) != 2 {
		return "", nil, false
	}
	c, ok := app.Args[0].(*glean.Apply)
	if !ok || c.Func.Builtin || len(c.Args) != 0 {
		return "", nil, false
	}
	return c.Func.Name, app.Args[1], true
}

func mentions(t glean.Term, name string) bool {
	found := false
	glean.TermFuncs(t, func(f *glean.FuncDecl) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// freeConstants returns the undefined constants of terms, sorted by name.
func freeConstants(terms []glean.Term, defs map[string]glean.Term) []*glean.FuncDecl {
	m := make(map[string]*glean.FuncDecl)
	for _, t := range terms {
		glean.TermFuncs(t, func(f *glean.FuncDecl) {
			if _, ok := defs[f.Name]; !ok {
				m[f.Name] = f
			}
		})
	}

	a := make([]*glean.FuncDecl, 0, len(m))
	for _, f := range m {
		a = append(a, f)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

var errCycle = errors.New("solvertest: cyclic definition")

// model evaluates terms under one assignment of the free constants.
type model struct {
	defs   map[string]glean.Term
	values map[string]uint64
	busy   map[string]bool
}

func newModel(defs map[string]glean.Term, free []*glean.FuncDecl, values []uint64) *model {
	m := &model{
		defs:   defs,
		values: make(map[string]uint64, len(free)),
		busy:   make(map[string]bool),
	}
	for i, f := range free {
		m.values[f.Name] = values[i]
	}
	return m
}

func (m *model) holds(constraints []glean.Term) (bool, error) {
	for _, t := range constraints {
		v, err := m.eval(t)
		if err != nil {
			return false, err
		} else if v == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Evaluate implements glean.Model.
func (m *model) Evaluate(t glean.Term) (*glean.Literal, error) {
	v, err := m.eval(t)
	if err != nil {
		return nil, err
	}
	return &glean.Literal{Sort: glean.TermSort(t), Value: v}, nil
}

func (m *model) eval(t glean.Term) (uint64, error) {
	switch t := t.(type) {
	case *glean.Literal:
		return t.Value, nil
	case *glean.Apply:
		if !t.Func.Builtin {
			return m.evalConst(t)
		}
		return m.evalBuiltin(t)
	default:
		return 0, fmt.Errorf("solvertest: unexpected term: %T", t)
	}
}

func (m *model) evalConst(t *glean.Apply) (uint64, error) {
	name := t.Func.Name
	if len(t.Args) != 0 {
		return 0, fmt.Errorf("solvertest: uninterpreted function %s is not supported", name)
	}
	if v, ok := m.values[name]; ok {
		return v, nil
	}

	def, ok := m.defs[name]
	if !ok {
		return 0, fmt.Errorf("solvertest: unknown constant %s", name)
	} else if m.busy[name] {
		return 0, errCycle
	}
	m.busy[name] = true
	v, err := m.eval(def)
	m.busy[name] = false
	if err != nil {
		return 0, err
	}
	m.values[name] = v
	return v, nil
}

func (m *model) evalBuiltin(t *glean.Apply) (uint64, error) {
	args := make([]uint64, len(t.Args))
	for i, arg := range t.Args {
		v, err := m.eval(arg)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}

	switch name := t.Func.Name; name {
	case "not":
		return args[0] ^ 1, nil
	case "and":
		for _, v := range args {
			if v == 0 {
				return 0, nil
			}
		}
		return 1, nil
	case "or":
		for _, v := range args {
			if v != 0 {
				return 1, nil
			}
		}
		return 0, nil
	case "xor":
		return args[0] ^ args[1], nil
	case "=":
		if args[0] == args[1] {
			return 1, nil
		}
		return 0, nil
	case "ite":
		if args[0] != 0 {
			return args[1], nil
		}
		return args[2], nil
	default:
		op, ok := glean.LookupBitVecOp(name)
		if !ok || len(args) != 2 {
			return 0, fmt.Errorf("solvertest: unsupported function %s", name)
		}
		return glean.EvalBinaryOp(op, args[0], args[1], t.Func.Params[0].Width()), nil
	}
}

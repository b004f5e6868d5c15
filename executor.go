package glean

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/glean/config"
	"github.com/yourbasic/graph"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Executor symbolically executes a loop-free region of a flow graph to decide
// whether a set of target blocks is reachable.
//
// States are scheduled in topological order of their blocks so that every
// state arriving at a block is known when the block is executed. Those states
// are merged into a single state before the block's operation runs.
type Executor struct {
	graph FlowGraph

	// Per-execution bookkeeping, reset by Execute.
	index      map[Block]int        // position in graph.Blocks()
	order      map[Block]int        // topological position, relevant blocks only
	relevant   map[Block]bool       // blocks able to reach a target
	targets    map[Block]bool       // requested targets
	vars       map[string]*Variable // variables by name
	versionSeq map[string]int       // last version allocated per variable
	params     map[string]int       // entry version of each parameter
	pathSeq    int                  // last path literal allocated
	stateIDSeq int                  // autoincrementing state ID
	checks     int                  // number of solver queries

	// Used for solving path conditions. A new solver is created for every
	// target check. Must set before execution.
	SolverFactory SolverFactory

	// Boolean constraints asserted with the path condition of every target.
	// Parameters are read at their entry versions; other variables at the
	// versions of the state reaching the target.
	Assumptions []Expr

	Logger *config.LogGroup
}

// NewExecutor returns a new instance of Executor.
func NewExecutor(g FlowGraph, factory SolverFactory) *Executor {
	return &Executor{
		graph:         g,
		SolverFactory: factory,
		Logger:        config.NewLogGroup(nil),
	}
}

// Graph returns the flow graph being executed.
func (e *Executor) Graph() FlowGraph { return e.graph }

// ExecutionResult is the outcome of Executor.Execute.
type ExecutionResult struct {
	Status ExecutionStatus

	// Target reached and the state reaching it. Set when the status is
	// reachable or unknown.
	Target Block
	State  *ExecutionState

	// Value of every parameter of the entry block in the satisfying model.
	// Only set when reachable.
	Inputs map[*Variable]*ConstantExpr

	// Number of solver queries issued.
	Checks int
}

// Execute explores the paths from the entry block to any of the targets.
// It stops at the first target proven reachable, or when the solver cannot
// decide a query. If no target is reachable, the status is unreachable.
//
// The subgraph of blocks able to reach a target must be acyclic; otherwise a
// *CycleError is returned.
func (e *Executor) Execute(ctx context.Context, targets ...Block) (*ExecutionResult, error) {
	if e.graph.Entry() == nil {
		return nil, ErrNoEntry
	} else if len(targets) == 0 {
		return nil, ErrNoTarget
	} else if e.SolverFactory == nil {
		return nil, fmt.Errorf("glean: executor requires a solver factory")
	}
	e.reset()

	if err := e.prepare(targets); err != nil {
		return nil, err
	}

	entry := e.graph.Entry()
	if !e.relevant[entry] {
		e.Logger.Debugf("[exec] %s: no target reachable from entry", e.graph.Name())
		return &ExecutionResult{Status: ExecutionStatusUnreachable}, nil
	}

	// Bucket queue indexed by topological position. All predecessors of a
	// block come before it, so a single forward scan visits each block once.
	buckets := make([][]*ExecutionState, len(e.order))
	buckets[e.order[entry]] = append(buckets[e.order[entry]], NewExecutionState(e.nextStateID(), entry))

	for pos := range buckets {
		states := buckets[pos]
		if len(states) == 0 {
			continue
		}
		buckets[pos] = nil

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state := e.join(states)
		state, err := e.arrive(state)
		if err != nil {
			return nil, err
		}
		e.Logger.Tracef("[state] #%d %s", state.ID(), state.Block())

		if e.targets[state.Block()] {
			result, err := e.check(ctx, state)
			if err != nil {
				return nil, err
			}
			switch result.Status {
			case ExecutionStatusReachable, ExecutionStatusUnknown:
				return result, nil
			}
			continue
		}

		next, err := e.step(state)
		if err != nil {
			return nil, err
		}
		for _, s := range next {
			i := e.order[s.Block()]
			assert(i > pos, "successor %s scheduled before %s", s.Block(), state.Block())
			buckets[i] = append(buckets[i], s)
		}
	}

	return &ExecutionResult{Status: ExecutionStatusUnreachable, Checks: e.checks}, nil
}

func (e *Executor) reset() {
	e.index = make(map[Block]int)
	e.order = make(map[Block]int)
	e.relevant = make(map[Block]bool)
	e.targets = make(map[Block]bool)
	e.vars = make(map[string]*Variable)
	e.versionSeq = make(map[string]int)
	e.params = make(map[string]int)
	e.pathSeq, e.stateIDSeq, e.checks = 0, 0, 0
}

// prepare computes the blocks able to reach a target and orders them topologically.
func (e *Executor) prepare(targets []Block) error {
	blocks := e.graph.Blocks()
	for i, b := range blocks {
		e.index[b] = i
	}

	g := graph.New(len(blocks))
	for _, b := range blocks {
		for _, edge := range e.graph.Edges(b) {
			to, ok := e.index[edge.To]
			if !ok {
				return fmt.Errorf("glean: edge from %s to a block outside the graph", b)
			}
			g.Add(e.index[b], to)
		}
	}

	// Walk backward from the targets.
	rev := graph.Transpose(g)
	for _, t := range targets {
		i, ok := e.index[t]
		if !ok {
			return fmt.Errorf("glean: target %s is not a block of %s", t, e.graph.Name())
		}
		e.targets[t] = true
		e.relevant[t] = true
		graph.BFS(rev, i, func(_, w int, _ int64) {
			e.relevant[blocks[w]] = true
		})
	}

	sub := graph.New(len(blocks))
	for _, b := range blocks {
		if !e.relevant[b] {
			continue
		}
		for _, edge := range e.graph.Edges(b) {
			if e.relevant[edge.To] {
				sub.Add(e.index[b], e.index[edge.To])
			}
		}
	}

	order, ok := graph.TopSort(sub)
	if !ok {
		return newCycleError(sub, blocks)
	}
	for i, v := range order {
		e.order[blocks[v]] = i
	}
	return nil
}

// join merges the states arriving at the same block into a single state.
//
// A lone state folds its pending branch condition into a new path literal.
// Several states are combined by merging their condition stacks, defining a
// path literal as the disjunction of their path conditions, and giving a new
// version to every variable whose versions disagree.
func (e *Executor) join(states []*ExecutionState) *ExecutionState {
	if len(states) == 1 {
		s := states[0]
		if s.unmerged == nil {
			return s
		}
		p := e.newPathLiteral()
		other := s.WithCondition(Eq(p, s.pathCondition()))
		other.guard, other.unmerged = p, nil
		return other
	}

	stacks := make([]ConditionStack, len(states))
	guards := make([]Term, len(states))
	names := make(map[string]struct{})
	for i, s := range states {
		stacks[i] = s.conditions
		guards[i] = s.pathCondition()
		itr := s.versions.Iterator()
		for !itr.Done() {
			k, _ := itr.Next()
			names[k.(string)] = struct{}{}
		}
	}

	merged := &ExecutionState{
		id:         e.nextStateID(),
		block:      states[0].block,
		versions:   states[0].versions,
		conditions: MergeStacks(stacks...),
	}

	sorted := maps.Keys(names)
	slices.Sort(sorted)
	for _, name := range sorted {
		if sameVersion(states, name) {
			continue
		}

		v := e.vars[name]
		last := len(states) - 1
		value := e.versionTerm(v, states[last].Version(name))
		for i := last - 1; i >= 0; i-- {
			value = Ite(guards[i], e.versionTerm(v, states[i].Version(name)), value)
		}

		version := e.nextVersion(name)
		merged.conditions = merged.conditions.Push(Eq(e.versionTerm(v, version), value))
		merged.versions = merged.versions.Set(name, version)
	}

	p := e.newPathLiteral()
	merged.conditions = merged.conditions.Push(Eq(p, Or(guards...)))
	merged.guard = p

	e.Logger.Debugf("[merge] %d states at %s into #%d", len(states), merged.block, merged.id)
	return merged
}

func sameVersion(states []*ExecutionState, name string) bool {
	v := states[0].Version(name)
	for _, s := range states[1:] {
		if s.Version(name) != v {
			return false
		}
	}
	return true
}

// arrive applies the effects of entering a block: the entry block defines
// the parameters and the exit block defines the return values.
func (e *Executor) arrive(state *ExecutionState) (*ExecutionState, error) {
	switch b := state.Block().(type) {
	case *EntryBlock:
		for _, p := range b.Params {
			if _, err := e.declare(p); err != nil {
				return nil, fmt.Errorf("glean: %s: %w", b, err)
			}
			version := e.nextVersion(p.Name)
			e.params[p.Name] = version
			state = state.WithVersion(p.Name, version)
		}

	case *ExitBlock:
		for i, value := range b.Values {
			rhs, err := e.term(state, value)
			if err != nil {
				return nil, fmt.Errorf("glean: %s: %w", b, err)
			}
			v, err := e.declare(NewVariable(ReturnVariableName(i), ExprWidth(value)))
			if err != nil {
				return nil, fmt.Errorf("glean: %s: %w", b, err)
			}
			version := e.nextVersion(v.Name)
			state = state.WithVersion(v.Name, version).WithCondition(Eq(e.versionTerm(v, version), rhs))
		}
	}
	return state, nil
}

// step executes the operation of the state's block and returns the states
// for the successors that can still reach a target.
func (e *Executor) step(state *ExecutionState) ([]*ExecutionState, error) {
	switch b := state.Block().(type) {
	case *EntryBlock:
		return e.follow(state), nil
	case *ExitBlock:
		return nil, nil
	case *InnerBlock:
		switch op := b.Op.(type) {
		case *AssignOp:
			return e.stepAssign(state, b, op)
		case *CallOp:
			return e.stepCall(state, b, op)
		case *JumpOp:
			return e.stepJump(state, b, op)
		default:
			return nil, fmt.Errorf("glean: unsupported operation in %s: %T", b, op)
		}
	default:
		return nil, fmt.Errorf("glean: unsupported block: %T", b)
	}
}

func (e *Executor) stepAssign(state *ExecutionState, b *InnerBlock, op *AssignOp) ([]*ExecutionState, error) {
	v, err := locationVariable(op.Target)
	if err != nil {
		return nil, err
	}

	// Evaluate before the new version so that x := x + 1 reads the old one.
	rhs, err := e.term(state, op.Value)
	if err != nil {
		return nil, fmt.Errorf("glean: %s: %w", b, err)
	}
	if _, err := e.declare(v); err != nil {
		return nil, fmt.Errorf("glean: %s: %w", b, err)
	}
	version := e.nextVersion(v.Name)
	state = state.WithVersion(v.Name, version).WithCondition(Eq(e.versionTerm(v, version), rhs))
	return e.follow(state), nil
}

// stepCall gives every return location a fresh, unconstrained version.
func (e *Executor) stepCall(state *ExecutionState, b *InnerBlock, op *CallOp) ([]*ExecutionState, error) {
	for _, loc := range op.Returns {
		v, err := locationVariable(loc)
		if err != nil {
			return nil, err
		}
		if _, err := e.declare(v); err != nil {
			return nil, fmt.Errorf("glean: %s: %w", b, err)
		}
		state = state.WithVersion(v.Name, e.nextVersion(v.Name))
	}
	return e.follow(state), nil
}

// stepJump forks the state on the branch condition. Branches leading away
// from every target are pruned.
func (e *Executor) stepJump(state *ExecutionState, b *InnerBlock, op *JumpOp) ([]*ExecutionState, error) {
	if w := ExprWidth(op.Cond); w != WidthBool {
		return nil, fmt.Errorf("glean: jump condition in %s has width %d", b, w)
	}
	cond, err := e.term(state, op.Cond)
	if err != nil {
		return nil, fmt.Errorf("glean: %s: %w", b, err)
	}

	var next []*ExecutionState
	for _, edge := range e.graph.Edges(b) {
		var c Term
		switch edge.Kind {
		case EdgeTrue:
			c = cond
		case EdgeFalse:
			c = Not(cond)
		default:
			return nil, fmt.Errorf("glean: jump block %s has an unlabelled edge", b)
		}

		if !e.relevant[edge.To] {
			e.Logger.Tracef("[fork] #%d: prune %s edge to %s", state.ID(), edge.Kind, edge.To)
			continue
		}
		next = append(next, e.fork(state, edge.To).WithUnmergedCondition(c))
	}
	return next, nil
}

// follow moves the state along every relevant outgoing edge.
func (e *Executor) follow(state *ExecutionState) []*ExecutionState {
	var next []*ExecutionState
	for _, edge := range e.graph.Edges(state.Block()) {
		if e.relevant[edge.To] {
			next = append(next, e.fork(state, edge.To))
		}
	}
	return next
}

func (e *Executor) fork(state *ExecutionState, to Block) *ExecutionState {
	other := state.WithBlock(to)
	other.id = e.nextStateID()
	return other
}

// check asks a fresh solver whether the state's path is feasible together
// with the assumptions. The solver is always closed before returning.
func (e *Executor) check(ctx context.Context, state *ExecutionState) (_ *ExecutionResult, err error) {
	solver, err := e.SolverFactory.NewSolver(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := solver.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	e.checks++

	for _, t := range state.Conditions().Slice() {
		if err := solver.Assert(t); err != nil {
			return nil, err
		}
	}
	if state.guard != nil {
		if err := solver.Assert(state.guard); err != nil {
			return nil, err
		}
	}
	// Parameters in assumptions refer to the procedure's inputs.
	entry := state
	for name, version := range e.params {
		entry = entry.WithVersion(name, version)
	}
	for _, expr := range e.Assumptions {
		if w := ExprWidth(expr); w != WidthBool {
			return nil, fmt.Errorf("glean: assumption %s has width %d", expr, w)
		}
		t, err := e.term(entry, expr)
		if err != nil {
			return nil, fmt.Errorf("glean: assumption %s: %w", expr, err)
		}
		if err := solver.Assert(t); err != nil {
			return nil, err
		}
	}

	inputs := make(map[*Variable]*ConstantExpr)
	sat, err := solver.CheckSatisfiability(func(m Model) error {
		for _, p := range e.graph.Entry().Params {
			lit, err := m.Evaluate(e.versionTerm(p, e.params[p.Name]))
			if err != nil {
				return err
			}
			inputs[p] = lit.Constant()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Debugf("[check] %s: %s (#%d, %d conditions)", state.Block(), sat, state.ID(), state.Conditions().Len())

	result := &ExecutionResult{Target: state.Block(), State: state, Checks: e.checks}
	switch sat {
	case Satisfiable:
		result.Status = ExecutionStatusReachable
		result.Inputs = inputs
	case Unsatisfiable:
		result.Status = ExecutionStatusUnreachable
	default:
		result.Status = ExecutionStatusUnknown
	}
	return result, nil
}

// term translates expr into a solver term using the versions of state.
func (e *Executor) term(state *ExecutionState, expr Expr) (Term, error) {
	switch expr := expr.(type) {
	case *VarRef:
		v, err := e.declare(expr.Var)
		if err != nil {
			return nil, err
		}
		return e.versionTerm(v, state.Version(v.Name)), nil
	case *ConstantExpr:
		return constantTerm(expr), nil
	case *BinaryExpr:
		lhs, err := e.term(state, expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := e.term(state, expr.RHS)
		if err != nil {
			return nil, err
		}
		return BinaryTerm(expr.Op, lhs, rhs), nil
	default:
		return nil, fmt.Errorf("glean: unsupported expression: %T", expr)
	}
}

func constantTerm(expr *ConstantExpr) Term {
	if expr.Width == WidthBool {
		return BoolLiteral(expr.Value != 0)
	}
	return BitVecLiteral(expr.Value, expr.Width)
}

// declare records the width of a variable by name and returns the
// first variable seen with that name.
func (e *Executor) declare(v *Variable) (*Variable, error) {
	if other, ok := e.vars[v.Name]; ok {
		if other.Width != v.Width {
			return nil, &WidthError{Name: v.Name, Widths: [2]uint{other.Width, v.Width}}
		}
		return other, nil
	}
	e.vars[v.Name] = v
	return v, nil
}

// versionTerm returns the solver constant for a version of v. Version zero
// stands for the value of a variable that was never written.
func (e *Executor) versionTerm(v *Variable, version int) Term {
	return NewConst(VersionedName(v.Name, version), SortOf(v.Width))
}

// nextVersion allocates a version of a variable that is unique across the
// whole execution, so each versioned constant is defined at most once.
func (e *Executor) nextVersion(name string) int {
	e.versionSeq[name]++
	return e.versionSeq[name]
}

func (e *Executor) newPathLiteral() Term {
	e.pathSeq++
	return NewConst(fmt.Sprintf("~pc!%d", e.pathSeq), SortBool)
}

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// VersionedName returns the solver name of a version of a variable.
func VersionedName(name string, version int) string {
	return fmt.Sprintf("%s!%d", name, version)
}

// ReturnVariableName returns the name of the variable holding the i-th
// return value at the exit block.
func ReturnVariableName(i int) string {
	return fmt.Sprintf("$return%d", i)
}

func locationVariable(loc Location) (*Variable, error) {
	switch loc := loc.(type) {
	case *VarRef:
		return loc.Var, nil
	default:
		return nil, fmt.Errorf("glean: unsupported location: %T", loc)
	}
}

// WidthError is returned when a variable name is used with two widths.
type WidthError struct {
	Name   string
	Widths [2]uint
}

func (e *WidthError) Error() string {
	return fmt.Sprintf("variable %s used with widths %d and %d", e.Name, e.Widths[0], e.Widths[1])
}

// CycleError is returned when the blocks able to reach a target contain a loop.
type CycleError struct {
	Blocks []Block
}

func newCycleError(g *graph.Mutable, blocks []Block) *CycleError {
	var a []Block
	for _, comp := range graph.StrongComponents(g) {
		if len(comp) == 1 && !g.Edge(comp[0], comp[0]) {
			continue
		}
		for _, v := range comp {
			a = append(a, blocks[v])
		}
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID() < a[j].ID() })
	return &CycleError{Blocks: a}
}

// Error returns the string representation of the error.
func (e *CycleError) Error() string {
	ids := make([]string, len(e.Blocks))
	for i, b := range e.Blocks {
		ids[i] = fmt.Sprintf("b%d", b.ID())
	}
	return fmt.Sprintf("%s: %s", ErrCyclicGraph, strings.Join(ids, ", "))
}

// Unwrap returns ErrCyclicGraph.
func (e *CycleError) Unwrap() error { return ErrCyclicGraph }

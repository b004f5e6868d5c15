package glean

import (
	"bytes"
	"fmt"
	"strings"
)

// Operation represents the single effect held by an inner block.
type Operation interface {
	op()
	String() string
}

func (*AssignOp) op() {}
func (*JumpOp) op()   {}
func (*CallOp) op()   {}

// AssignOp writes the value of an expression to a location.
type AssignOp struct {
	Target Location
	Value  Expr
}

// NewAssignOp returns an assignment of value to v.
func NewAssignOp(v *Variable, value Expr) *AssignOp {
	assert(v.Width == ExprWidth(value), "assign width mismatch: %s: %d != %d", v.Name, v.Width, ExprWidth(value))
	return &AssignOp{Target: NewVarRef(v), Value: value}
}

func (op *AssignOp) String() string {
	return fmt.Sprintf("%s := %s", op.Target, op.Value)
}

// JumpOp branches on a boolean condition. The block holding it must have
// exactly one true edge and one false edge.
type JumpOp struct {
	Cond Expr
}

func (op *JumpOp) String() string {
	return fmt.Sprintf("if %s", op.Cond)
}

// CallOp invokes another procedure. Arguments are matched to the callee's
// parameters by position.
type CallOp struct {
	Signature *ProcedureSignature
	Args      []Expr
	Returns   []Location
}

func (op *CallOp) String() string {
	var buf bytes.Buffer
	if len(op.Returns) > 0 {
		for i, loc := range op.Returns {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(loc.String())
		}
		buf.WriteString(" := ")
	}
	buf.WriteString(op.Signature.Name)
	buf.WriteString("(")
	for i, arg := range op.Args {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(arg.String())
	}
	buf.WriteString(")")
	return buf.String()
}

// OperationReads returns the variables read by op.
func OperationReads(op Operation) []*Variable {
	switch op := op.(type) {
	case *AssignOp:
		return ExprVariables(op.Value)
	case *JumpOp:
		return ExprVariables(op.Cond)
	case *CallOp:
		return exprsVariables(op.Args)
	default:
		return nil
	}
}

// OperationWrites returns the variables written by op.
func OperationWrites(op Operation) []*Variable {
	switch op := op.(type) {
	case *AssignOp:
		return locationVariables([]Location{op.Target})
	case *CallOp:
		return locationVariables(op.Returns)
	default:
		return nil
	}
}

func locationVariables(locs []Location) []*Variable {
	a := make([]*Variable, 0, len(locs))
	for _, loc := range locs {
		if ref, ok := loc.(*VarRef); ok {
			a = append(a, ref.Var)
		}
	}
	return a
}

func exprsVariables(exprs []Expr) []*Variable {
	var a []*Variable
	seen := make(map[string]struct{})
	for _, expr := range exprs {
		for _, v := range ExprVariables(expr) {
			if _, ok := seen[v.Name]; !ok {
				seen[v.Name] = struct{}{}
				a = append(a, v)
			}
		}
	}
	return a
}

// ProcedureSignature identifies a procedure at a call site.
type ProcedureSignature struct {
	Name    string
	Params  []*Variable
	Results []uint // result widths
}

func (sig *ProcedureSignature) String() string {
	var params []string
	for _, p := range sig.Params {
		params = append(params, fmt.Sprintf("%s:%d", p.Name, p.Width))
	}
	return fmt.Sprintf("%s(%s)", sig.Name, strings.Join(params, ", "))
}

// Block represents a node of a flow graph. Blocks are compared by identity.
type Block interface {
	ID() int
	String() string
	block()
}

func (*EntryBlock) block() {}
func (*InnerBlock) block() {}
func (*ExitBlock) block()  {}

// EntryBlock is the unique first block of a procedure. It defines the parameters.
type EntryBlock struct {
	id     int
	Params []*Variable
}

func (b *EntryBlock) ID() int { return b.id }

func (b *EntryBlock) String() string {
	names := make([]string, len(b.Params))
	for i, p := range b.Params {
		names[i] = p.Name
	}
	return fmt.Sprintf("b%d: entry(%s)", b.id, strings.Join(names, ", "))
}

// InnerBlock holds exactly one operation.
type InnerBlock struct {
	id int
	Op Operation
}

func (b *InnerBlock) ID() int { return b.id }

func (b *InnerBlock) String() string {
	return fmt.Sprintf("b%d: %s", b.id, b.Op)
}

// ExitBlock is the unique last block of a procedure. It reads the returned values.
type ExitBlock struct {
	id     int
	Values []Expr
}

func (b *ExitBlock) ID() int { return b.id }

func (b *ExitBlock) String() string {
	values := make([]string, len(b.Values))
	for i, v := range b.Values {
		values[i] = v.String()
	}
	return fmt.Sprintf("b%d: exit(%s)", b.id, strings.Join(values, ", "))
}

// BlockReads returns the variables read by a block.
func BlockReads(b Block) []*Variable {
	switch b := b.(type) {
	case *InnerBlock:
		return OperationReads(b.Op)
	case *ExitBlock:
		return exprsVariables(b.Values)
	default:
		return nil
	}
}

// EdgeKind labels the outgoing edges of a block.
type EdgeKind int

const (
	EdgeDefault = EdgeKind(iota)
	EdgeTrue
	EdgeFalse
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeDefault:
		return "default"
	case EdgeTrue:
		return "true"
	case EdgeFalse:
		return "false"
	default:
		return fmt.Sprintf("EdgeKind<%d>", k)
	}
}

// Edge represents a directed control flow edge.
type Edge struct {
	From Block
	To   Block
	Kind EdgeKind
}

// FlowGraph represents the control flow graph of a single procedure.
// Implementations must be safe to read concurrently once built.
type FlowGraph interface {
	// Name of the procedure.
	Name() string

	Entry() *EntryBlock
	Exit() *ExitBlock

	// Blocks returns every block in a stable order.
	Blocks() []Block

	Predecessors(b Block) []Block
	Successors(b Block) []Block

	// Edges returns the outgoing edges of b.
	Edges(b Block) []Edge
}

var _ FlowGraph = (*Graph)(nil)

// Graph is a mutable FlowGraph used by front ends and tests.
type Graph struct {
	name   string
	entry  *EntryBlock
	exit   *ExitBlock
	blocks []Block
	succs  map[Block][]Edge
	preds  map[Block][]Block
}

// NewGraph returns a graph holding only an entry block for params and an exit block.
func NewGraph(name string, params ...*Variable) *Graph {
	g := &Graph{
		name:  name,
		succs: make(map[Block][]Edge),
		preds: make(map[Block][]Block),
	}
	g.entry = &EntryBlock{id: 0, Params: params}
	g.exit = &ExitBlock{id: 1}
	g.blocks = []Block{g.entry, g.exit}
	return g
}

func (g *Graph) Name() string       { return g.name }
func (g *Graph) Entry() *EntryBlock { return g.entry }
func (g *Graph) Exit() *ExitBlock   { return g.exit }

// Blocks returns all blocks in order of creation.
func (g *Graph) Blocks() []Block { return g.blocks }

func (g *Graph) Predecessors(b Block) []Block { return g.preds[b] }

func (g *Graph) Successors(b Block) []Block {
	edges := g.succs[b]
	a := make([]Block, len(edges))
	for i, e := range edges {
		a[i] = e.To
	}
	return a
}

func (g *Graph) Edges(b Block) []Edge { return g.succs[b] }

// Signature returns the signature of the procedure described by g.
func (g *Graph) Signature() *ProcedureSignature {
	sig := &ProcedureSignature{Name: g.name, Params: g.entry.Params}
	for _, v := range g.exit.Values {
		sig.Results = append(sig.Results, ExprWidth(v))
	}
	return sig
}

// SetReturns sets the values read by the exit block.
func (g *Graph) SetReturns(values ...Expr) {
	g.exit.Values = values
}

// AddBlock appends a new inner block holding op.
func (g *Graph) AddBlock(op Operation) *InnerBlock {
	b := &InnerBlock{id: len(g.blocks), Op: op}
	g.blocks = append(g.blocks, b)
	return b
}

// Assign is an ease of use function for adding an assignment block.
func (g *Graph) Assign(v *Variable, value Expr) *InnerBlock {
	return g.AddBlock(NewAssignOp(v, value))
}

// AddEdge adds an unconditional edge between two blocks.
func (g *Graph) AddEdge(from, to Block) {
	g.addEdge(Edge{From: from, To: to, Kind: EdgeDefault})
}

// AddBranch adds the true and false edges of a conditional jump block.
func (g *Graph) AddBranch(from *InnerBlock, t, f Block) {
	_, ok := from.Op.(*JumpOp)
	assert(ok, "branch from non-jump block: %s", from)
	g.addEdge(Edge{From: from, To: t, Kind: EdgeTrue})
	g.addEdge(Edge{From: from, To: f, Kind: EdgeFalse})
}

// Chain connects each block to the next with an unconditional edge.
func (g *Graph) Chain(blocks ...Block) {
	for i := 1; i < len(blocks); i++ {
		g.AddEdge(blocks[i-1], blocks[i])
	}
}

func (g *Graph) addEdge(e Edge) {
	g.succs[e.From] = append(g.succs[e.From], e)
	g.preds[e.To] = append(g.preds[e.To], e.From)
}

// Validate checks the structural invariants of the graph.
func (g *Graph) Validate() error {
	if g.entry == nil {
		return ErrNoEntry
	} else if g.exit == nil {
		return ErrNoExit
	}
	if len(g.preds[g.entry]) > 0 {
		return fmt.Errorf("%s: entry block has predecessors", g.name)
	}
	if len(g.succs[g.exit]) > 0 {
		return fmt.Errorf("%s: exit block has successors", g.name)
	}

	for _, b := range g.blocks {
		edges := g.succs[b]
		if ib, ok := b.(*InnerBlock); ok {
			if ib.Op == nil {
				return fmt.Errorf("%s: block %d has no operation", g.name, ib.id)
			}
			if _, ok := ib.Op.(*JumpOp); ok {
				if len(edges) != 2 || edges[0].Kind != EdgeTrue || edges[1].Kind != EdgeFalse {
					return fmt.Errorf("%s: jump block %d must have one true and one false edge", g.name, ib.id)
				}
				continue
			}
		}
		for _, e := range edges {
			if e.Kind != EdgeDefault {
				return fmt.Errorf("%s: block %d has a %s edge but is not a jump", g.name, b.ID(), e.Kind)
			}
		}
	}
	return nil
}

// Dump returns a textual listing of the graph.
func (g *Graph) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "== %s\n", g.name)
	for _, b := range g.blocks {
		fmt.Fprintf(&buf, "%s", b)
		for _, e := range g.succs[b] {
			if e.Kind == EdgeDefault {
				fmt.Fprintf(&buf, " -> b%d", e.To.ID())
			} else {
				fmt.Fprintf(&buf, " -%s-> b%d", e.Kind, e.To.ID())
			}
		}
		fmt.Fprintln(&buf)
	}
	return buf.String()
}

// FindBlock returns the block of g with the given ID, or nil.
func FindBlock(g FlowGraph, id int) Block {
	for _, b := range g.Blocks() {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

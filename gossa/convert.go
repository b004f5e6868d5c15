package gossa

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"github.com/benbjohnson/glean"
	"golang.org/x/tools/go/ssa"
)

// PanicVariableName is the boolean set on paths ending in a panic.
const PanicVariableName = "$panic"

// ResultVariableName returns the name of the variable holding result i.
func ResultVariableName(i int) string { return fmt.Sprintf("$ret%d", i) }

// ValueVariableName returns the name of the variable holding an SSA value.
// The prefix keeps it apart from parameters, which use Go identifiers.
func ValueVariableName(name string) string { return "%" + name }

// converter translates one SSA function. Instructions of each SSA block are
// emitted as a chain of inner blocks. Phi nodes become copies placed on the
// incoming edges.
type converter struct {
	p     *Program
	fn    *ssa.Function
	graph *glean.Graph

	vars map[ssa.Value]*glean.Variable
	rets []*glean.Variable

	code      map[*ssa.BasicBlock][]glean.Block
	heads     map[*ssa.BasicBlock]glean.Block
	edges     map[[2]*ssa.BasicBlock]glean.Block
	resolving map[*ssa.BasicBlock]bool
}

func newConverter(p *Program, fn *ssa.Function) *converter {
	return &converter{
		p:         p,
		fn:        fn,
		vars:      make(map[ssa.Value]*glean.Variable),
		code:      make(map[*ssa.BasicBlock][]glean.Block),
		heads:     make(map[*ssa.BasicBlock]glean.Block),
		edges:     make(map[[2]*ssa.BasicBlock]glean.Block),
		resolving: make(map[*ssa.BasicBlock]bool),
	}
}

func (c *converter) convert() (*glean.Graph, error) {
	if c.fn.Blocks == nil {
		return nil, nil
	}

	var params []*glean.Variable
	for i, param := range c.fn.Params {
		w, err := c.width(param.Pos(), param.Type())
		if err != nil {
			return nil, err
		}
		v := glean.NewVariable(paramName(param.Name(), i), w)
		c.vars[param] = v
		params = append(params, v)
	}
	c.graph = glean.NewGraph(ProcedureName(c.fn), params...)

	results := c.fn.Signature.Results()
	returns := make([]glean.Expr, results.Len())
	for i := 0; i < results.Len(); i++ {
		w, err := c.width(results.At(i).Pos(), results.At(i).Type())
		if err != nil {
			return nil, err
		}
		v := glean.NewVariable(ResultVariableName(i), w)
		c.rets = append(c.rets, v)
		returns[i] = glean.NewVarRef(v)
	}
	c.graph.SetReturns(returns...)

	for _, b := range c.fn.Blocks {
		if err := c.emitBlock(b); err != nil {
			return nil, err
		}
	}

	head, err := c.head(c.fn.Blocks[0])
	if err != nil {
		return nil, err
	}
	c.graph.AddEdge(c.graph.Entry(), head)

	for _, b := range c.fn.Blocks {
		if err := c.wireBlock(b); err != nil {
			return nil, err
		}
	}
	return c.graph, nil
}

func (c *converter) unsupported(pos token.Pos, format string, args ...interface{}) error {
	return &UnsupportedError{
		Func:    ProcedureName(c.fn),
		Pos:     c.p.prog.Fset.Position(pos),
		Message: fmt.Sprintf(format, args...),
	}
}

// width returns the bit width used for values of type typ.
func (c *converter) width(pos token.Pos, typ types.Type) (uint, error) {
	if basic, ok := typ.Underlying().(*types.Basic); ok {
		info := basic.Info()
		if info&types.IsBoolean != 0 {
			return glean.WidthBool, nil
		} else if info&types.IsInteger != 0 {
			return uint(c.p.sizes.Sizeof(typ)) * 8, nil
		}
	}
	return 0, c.unsupported(pos, "unsupported type %s", typ)
}

func (c *converter) variable(v ssa.Value) (*glean.Variable, error) {
	if variable := c.vars[v]; variable != nil {
		return variable, nil
	}
	w, err := c.width(v.Pos(), v.Type())
	if err != nil {
		return nil, err
	}
	variable := glean.NewVariable(ValueVariableName(v.Name()), w)
	c.vars[v] = variable
	return variable, nil
}

// operand returns the expression for an SSA value used as an operand.
func (c *converter) operand(v ssa.Value) (glean.Expr, error) {
	switch v := v.(type) {
	case *ssa.Const:
		w, err := c.width(v.Pos(), v.Type())
		if err != nil {
			return nil, err
		}
		return constantExpr(v.Value, w), nil
	case *ssa.Parameter, *ssa.BinOp, *ssa.UnOp, *ssa.Call, *ssa.Phi, *ssa.Convert, *ssa.ChangeType:
		variable, err := c.variable(v)
		if err != nil {
			return nil, err
		}
		return glean.NewVarRef(variable), nil
	default:
		return nil, c.unsupported(v.Pos(), "unsupported operand %s (%T)", v.Name(), v)
	}
}

func constantExpr(value constant.Value, width uint) *glean.ConstantExpr {
	if width == glean.WidthBool {
		return glean.NewBoolConstantExpr(constant.BoolVal(value))
	}
	value = constant.ToInt(value)
	if i, ok := constant.Int64Val(value); ok {
		return glean.NewConstantExpr(uint64(i), width)
	}
	u, _ := constant.Uint64Val(value)
	return glean.NewConstantExpr(u, width)
}

func (c *converter) emit(b *ssa.BasicBlock, op glean.Operation) {
	c.code[b] = append(c.code[b], c.graph.AddBlock(op))
}

func (c *converter) assign(b *ssa.BasicBlock, v ssa.Value, expr glean.Expr) error {
	variable, err := c.variable(v)
	if err != nil {
		return err
	}
	c.emit(b, glean.NewAssignOp(variable, expr))
	return nil
}

func (c *converter) emitBlock(b *ssa.BasicBlock) error {
	for _, instr := range b.Instrs {
		switch instr := instr.(type) {
		case *ssa.DebugRef:
		case *ssa.Phi:
			if _, err := c.variable(instr); err != nil {
				return err
			}
		case *ssa.BinOp:
			expr, err := c.binOp(instr)
			if err != nil {
				return err
			} else if err := c.assign(b, instr, expr); err != nil {
				return err
			}
		case *ssa.UnOp:
			expr, err := c.unOp(instr)
			if err != nil {
				return err
			} else if err := c.assign(b, instr, expr); err != nil {
				return err
			}
		case *ssa.Convert:
			if err := c.conversion(b, instr, instr.X); err != nil {
				return err
			}
		case *ssa.ChangeType:
			if err := c.conversion(b, instr, instr.X); err != nil {
				return err
			}
		case *ssa.Call:
			if err := c.call(b, instr); err != nil {
				return err
			}
		case *ssa.If:
			cond, err := c.operand(instr.Cond)
			if err != nil {
				return err
			}
			c.emit(b, &glean.JumpOp{Cond: cond})
		case *ssa.Jump:
		case *ssa.Return:
			for i, result := range instr.Results {
				expr, err := c.operand(result)
				if err != nil {
					return err
				}
				c.emit(b, glean.NewAssignOp(c.rets[i], expr))
			}
		case *ssa.Panic:
			c.emit(b, glean.NewAssignOp(glean.NewVariable(PanicVariableName, glean.WidthBool), glean.NewBoolConstantExpr(true)))
		default:
			return c.unsupported(instr.Pos(), "unsupported instruction %q (%T)", instr, instr)
		}
	}
	return nil
}

func (c *converter) binOp(instr *ssa.BinOp) (glean.Expr, error) {
	x, err := c.operand(instr.X)
	if err != nil {
		return nil, err
	}

	basic, _ := instr.X.Type().Underlying().(*types.Basic)
	if basic == nil {
		return nil, c.unsupported(instr.Pos(), "unsupported operand type %s", instr.X.Type())
	}

	// Shift counts may have any integer type. Constant counts are re-typed.
	var y glean.Expr
	if k, ok := instr.Y.(*ssa.Const); ok && (instr.Op == token.SHL || instr.Op == token.SHR) {
		y = constantExpr(k.Value, glean.ExprWidth(x))
	} else if y, err = c.operand(instr.Y); err != nil {
		return nil, err
	}
	if glean.ExprWidth(x) != glean.ExprWidth(y) {
		return nil, c.unsupported(instr.Pos(), "mixed operand widths in %q", instr)
	}

	if basic.Info()&types.IsBoolean != 0 {
		switch instr.Op {
		case token.EQL:
			return glean.NewBinaryExpr(glean.EQ, x, y), nil
		case token.NEQ:
			return glean.NewBinaryExpr(glean.NE, x, y), nil
		}
		return nil, c.unsupported(instr.Pos(), "invalid boolean operator %s", instr.Op)
	} else if basic.Info()&types.IsInteger == 0 {
		return nil, c.unsupported(instr.Pos(), "unsupported operand type %s", instr.X.Type())
	}

	signed := basic.Info()&types.IsUnsigned == 0
	pick := func(s, u glean.BinaryOp) glean.BinaryOp {
		if signed {
			return s
		}
		return u
	}

	switch instr.Op {
	case token.ADD:
		return glean.NewBinaryExpr(glean.ADD, x, y), nil
	case token.SUB:
		return glean.NewBinaryExpr(glean.SUB, x, y), nil
	case token.MUL:
		return glean.NewBinaryExpr(glean.MUL, x, y), nil
	case token.QUO:
		return glean.NewBinaryExpr(pick(glean.SDIV, glean.UDIV), x, y), nil
	case token.REM:
		return glean.NewBinaryExpr(pick(glean.SREM, glean.UREM), x, y), nil
	case token.AND:
		return glean.NewBinaryExpr(glean.AND, x, y), nil
	case token.OR:
		return glean.NewBinaryExpr(glean.OR, x, y), nil
	case token.XOR:
		return glean.NewBinaryExpr(glean.XOR, x, y), nil
	case token.AND_NOT:
		return glean.NewBinaryExpr(glean.AND, x, complement(y)), nil
	case token.SHL:
		return glean.NewBinaryExpr(glean.SHL, x, y), nil
	case token.SHR:
		return glean.NewBinaryExpr(pick(glean.ASHR, glean.LSHR), x, y), nil
	case token.EQL:
		return glean.NewBinaryExpr(glean.EQ, x, y), nil
	case token.NEQ:
		return glean.NewBinaryExpr(glean.NE, x, y), nil
	case token.LSS:
		return glean.NewBinaryExpr(pick(glean.SLT, glean.ULT), x, y), nil
	case token.LEQ:
		return glean.NewBinaryExpr(pick(glean.SLE, glean.ULE), x, y), nil
	case token.GTR:
		return glean.NewBinaryExpr(pick(glean.SGT, glean.UGT), x, y), nil
	case token.GEQ:
		return glean.NewBinaryExpr(pick(glean.SGE, glean.UGE), x, y), nil
	default:
		return nil, c.unsupported(instr.Pos(), "invalid integer operator %s", instr.Op)
	}
}

// complement returns the bitwise negation of an integer expression.
func complement(expr glean.Expr) glean.Expr {
	w := glean.ExprWidth(expr)
	return glean.NewBinaryExpr(glean.XOR, expr, glean.NewConstantExpr(^uint64(0), w))
}

func (c *converter) unOp(instr *ssa.UnOp) (glean.Expr, error) {
	switch instr.Op {
	case token.NOT, token.SUB, token.XOR:
	default:
		return nil, c.unsupported(instr.Pos(), "unsupported unary operator %s", instr.Op)
	}

	x, err := c.operand(instr.X)
	if err != nil {
		return nil, err
	}
	switch instr.Op {
	case token.NOT:
		return glean.NewNotExpr(x), nil
	case token.SUB:
		return glean.NewBinaryExpr(glean.SUB, glean.NewConstantExpr(0, glean.ExprWidth(x)), x), nil
	default:
		return complement(x), nil
	}
}

// conversion copies x when its width matches the converted value.
func (c *converter) conversion(b *ssa.BasicBlock, v ssa.Value, x ssa.Value) error {
	expr, err := c.operand(x)
	if err != nil {
		return err
	}
	w, err := c.width(v.Pos(), v.Type())
	if err != nil {
		return err
	} else if w != glean.ExprWidth(expr) {
		return c.unsupported(v.Pos(), "conversion from %s to %s changes width", x.Type(), v.Type())
	}
	return c.assign(b, v, expr)
}

func (c *converter) call(b *ssa.BasicBlock, instr *ssa.Call) error {
	common := instr.Common()
	callee := common.StaticCallee()
	if callee == nil {
		return c.unsupported(instr.Pos(), "dynamic or builtin call %q", instr)
	}

	sig, err := c.signature(instr.Pos(), callee)
	if err != nil {
		return err
	}

	op := &glean.CallOp{Signature: sig}
	for i, arg := range common.Args {
		expr, err := c.operand(arg)
		if err != nil {
			return err
		} else if i < len(sig.Params) && glean.ExprWidth(expr) != sig.Params[i].Width {
			return c.unsupported(instr.Pos(), "argument %d of %q has width %d", i, instr, glean.ExprWidth(expr))
		}
		op.Args = append(op.Args, expr)
	}

	switch len(sig.Results) {
	case 0:
	case 1:
		v, err := c.variable(instr)
		if err != nil {
			return err
		}
		op.Returns = []glean.Location{glean.NewVarRef(v)}
	default:
		return c.unsupported(instr.Pos(), "call with multiple results %q", instr)
	}

	c.emit(b, op)
	return nil
}

// signature describes callee with the same parameter names as its flow graph.
func (c *converter) signature(pos token.Pos, callee *ssa.Function) (*glean.ProcedureSignature, error) {
	sig := &glean.ProcedureSignature{Name: ProcedureName(callee)}

	var vars []*types.Var
	if recv := callee.Signature.Recv(); recv != nil {
		vars = append(vars, recv)
	}
	for i := 0; i < callee.Signature.Params().Len(); i++ {
		vars = append(vars, callee.Signature.Params().At(i))
	}
	for i, v := range vars {
		name := v.Name()
		if i < len(callee.Params) {
			name = callee.Params[i].Name()
		}
		w, err := c.width(pos, v.Type())
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, glean.NewVariable(paramName(name, i), w))
	}

	results := callee.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		w, err := c.width(pos, results.At(i).Type())
		if err != nil {
			return nil, err
		}
		sig.Results = append(sig.Results, w)
	}
	return sig, nil
}

// paramName returns a usable name for parameter i. Blank parameters get a
// name no Go identifier can take.
func paramName(name string, i int) string {
	if name == "" || name == "_" {
		return fmt.Sprintf("$arg%d", i)
	}
	return name
}

// head returns the first flow graph block executed for b.
func (c *converter) head(b *ssa.BasicBlock) (glean.Block, error) {
	if code := c.code[b]; len(code) > 0 {
		return code[0], nil
	} else if head := c.heads[b]; head != nil {
		return head, nil
	} else if c.resolving[b] {
		return nil, c.unsupported(c.fn.Pos(), "empty infinite loop at block %d", b.Index)
	}
	c.resolving[b] = true
	defer delete(c.resolving, b)

	var head glean.Block
	var err error
	switch term := b.Instrs[len(b.Instrs)-1].(type) {
	case *ssa.Jump:
		head, err = c.edgeTarget(b, b.Succs[0])
	case *ssa.Return:
		head = c.graph.Exit()
	default:
		return nil, c.unsupported(term.Pos(), "unexpected empty block %d ending in %T", b.Index, term)
	}
	if err != nil {
		return nil, err
	}
	c.heads[b] = head
	return head, nil
}

// edgeTarget returns the block reached when control flows from one SSA block
// to another. Phi values of the target are copied on the way.
func (c *converter) edgeTarget(from, to *ssa.BasicBlock) (glean.Block, error) {
	key := [2]*ssa.BasicBlock{from, to}
	if blk := c.edges[key]; blk != nil {
		return blk, nil
	}

	var phis []*ssa.Phi
	for _, instr := range to.Instrs {
		if phi, ok := instr.(*ssa.Phi); ok {
			phis = append(phis, phi)
		}
	}
	if len(phis) == 0 {
		return c.head(to)
	}

	index := -1
	for i, pred := range to.Preds {
		if pred == from {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, c.unsupported(c.fn.Pos(), "block %d is not a predecessor of block %d", from.Index, to.Index)
	}

	// Phis reading another phi of the same block go through temporaries so
	// that every phi sees the values from before the edge.
	var viaTemp bool
	for _, phi := range phis {
		if other, ok := phi.Edges[index].(*ssa.Phi); ok && other.Block() == to {
			viaTemp = true
		}
	}

	var blocks []glean.Block
	var temps []*glean.Variable
	for _, phi := range phis {
		dst, err := c.variable(phi)
		if err != nil {
			return nil, err
		}
		src, err := c.operand(phi.Edges[index])
		if err != nil {
			return nil, err
		}
		if viaTemp {
			tmp := glean.NewVariable(fmt.Sprintf("%s$%d", dst.Name, from.Index), dst.Width)
			temps = append(temps, tmp)
			dst = tmp
		}
		blocks = append(blocks, c.graph.Assign(dst, src))
	}
	for i, tmp := range temps {
		blocks = append(blocks, c.graph.Assign(c.vars[phis[i]], glean.NewVarRef(tmp)))
	}

	head, err := c.head(to)
	if err != nil {
		return nil, err
	}
	c.graph.Chain(append(blocks, head)...)
	c.edges[key] = blocks[0]
	return blocks[0], nil
}

// wireBlock adds the edges within and out of the code emitted for b.
func (c *converter) wireBlock(b *ssa.BasicBlock) error {
	code := c.code[b]
	if len(code) == 0 {
		return nil
	}
	c.graph.Chain(code...)
	last := code[len(code)-1]

	switch term := b.Instrs[len(b.Instrs)-1].(type) {
	case *ssa.If:
		t, err := c.edgeTarget(b, b.Succs[0])
		if err != nil {
			return err
		}
		f, err := c.edgeTarget(b, b.Succs[1])
		if err != nil {
			return err
		}
		c.graph.AddBranch(last.(*glean.InnerBlock), t, f)
	case *ssa.Jump:
		target, err := c.edgeTarget(b, b.Succs[0])
		if err != nil {
			return err
		}
		c.graph.AddEdge(last, target)
	case *ssa.Return:
		c.graph.AddEdge(last, c.graph.Exit())
	case *ssa.Panic:
	default:
		return c.unsupported(term.Pos(), "unexpected terminator %T", term)
	}
	return nil
}

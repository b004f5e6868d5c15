package gossa

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"go/types"

	"github.com/benbjohnson/glean"
	"golang.org/x/tools/go/ssa"
)

// Symbol is a variable that can be named in a constraint.
type Symbol struct {
	Var      *glean.Variable
	Unsigned bool
}

// Symbols returns the names usable in constraints on fn: its parameters and
// "ret", "ret1", ... for its results.
func (p *Program) Symbols(fn *ssa.Function) (map[string]Symbol, error) {
	g, err := p.Convert(fn)
	if err != nil {
		return nil, err
	} else if g == nil {
		return nil, fmt.Errorf("gossa: %s has no body", fn)
	}

	m := make(map[string]Symbol)
	for i, param := range g.Entry().Params {
		m[param.Name] = Symbol{Var: param, Unsigned: isUnsigned(fn.Params[i].Type())}
	}

	results := fn.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		name := "ret"
		if i > 0 {
			name = fmt.Sprintf("ret%d", i)
		}
		w := glean.ExprWidth(g.Exit().Values[i])
		m[name] = Symbol{
			Var:      glean.NewVariable(glean.ReturnVariableName(i), w),
			Unsigned: isUnsigned(results.At(i).Type()),
		}
	}
	return m, nil
}

func isUnsigned(typ types.Type) bool {
	basic, ok := typ.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsUnsigned != 0
}

// ParseConstraint parses a Go boolean expression over the given symbols.
// Untyped integer constants take the width of the other operand.
func ParseConstraint(src string, symbols map[string]Symbol) (glean.Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", src, err)
	}

	cp := &constraintParser{symbols: symbols}
	expr, err := cp.expr(node, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", src, err)
	} else if glean.ExprWidth(expr) != glean.WidthBool {
		return nil, fmt.Errorf("invalid constraint %q: not a boolean expression", src)
	}
	return expr, nil
}

type constraintParser struct {
	symbols map[string]Symbol
}

// width returns the width of a typed expression or zero for untyped constants.
func (cp *constraintParser) width(node ast.Expr) (uint, error) {
	switch node := node.(type) {
	case *ast.ParenExpr:
		return cp.width(node.X)
	case *ast.BasicLit:
		return 0, nil
	case *ast.Ident:
		if node.Name == "true" || node.Name == "false" {
			return glean.WidthBool, nil
		} else if sym, ok := cp.symbols[node.Name]; ok {
			return sym.Var.Width, nil
		}
		return 0, fmt.Errorf("undefined: %s", node.Name)
	case *ast.UnaryExpr:
		return cp.width(node.X)
	case *ast.BinaryExpr:
		switch node.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ, token.LAND, token.LOR:
			return glean.WidthBool, nil
		case token.SHL, token.SHR:
			return cp.width(node.X)
		}
		if w, err := cp.width(node.X); err != nil || w != 0 {
			return w, err
		}
		return cp.width(node.Y)
	default:
		return 0, fmt.Errorf("unsupported expression %T", node)
	}
}

// unsigned reports whether a typed expression is unsigned.
func (cp *constraintParser) unsigned(node ast.Expr) bool {
	switch node := node.(type) {
	case *ast.ParenExpr:
		return cp.unsigned(node.X)
	case *ast.Ident:
		return cp.symbols[node.Name].Unsigned
	case *ast.UnaryExpr:
		return cp.unsigned(node.X)
	case *ast.BinaryExpr:
		return cp.unsigned(node.X) || cp.unsigned(node.Y)
	default:
		return false
	}
}

// expr converts node. Untyped constants are given width want.
func (cp *constraintParser) expr(node ast.Expr, want uint) (glean.Expr, error) {
	switch node := node.(type) {
	case *ast.ParenExpr:
		return cp.expr(node.X, want)

	case *ast.BasicLit:
		if node.Kind != token.INT {
			return nil, fmt.Errorf("unsupported literal %s", node.Value)
		} else if want == 0 || want == glean.WidthBool {
			return nil, fmt.Errorf("cannot infer type of constant %s", node.Value)
		}
		return constantExpr(constant.MakeFromLiteral(node.Value, node.Kind, 0), want), nil

	case *ast.Ident:
		switch node.Name {
		case "true":
			return glean.NewBoolConstantExpr(true), nil
		case "false":
			return glean.NewBoolConstantExpr(false), nil
		}
		sym, ok := cp.symbols[node.Name]
		if !ok {
			return nil, fmt.Errorf("undefined: %s", node.Name)
		}
		return glean.NewVarRef(sym.Var), nil

	case *ast.UnaryExpr:
		x, err := cp.expr(node.X, want)
		if err != nil {
			return nil, err
		}
		switch node.Op {
		case token.NOT:
			if glean.ExprWidth(x) != glean.WidthBool {
				return nil, fmt.Errorf("operator ! not defined on integers")
			}
			return glean.NewNotExpr(x), nil
		case token.SUB:
			return glean.NewBinaryExpr(glean.SUB, glean.NewConstantExpr(0, glean.ExprWidth(x)), x), nil
		case token.XOR:
			return complement(x), nil
		case token.ADD:
			return x, nil
		}
		return nil, fmt.Errorf("unsupported operator %s", node.Op)

	case *ast.BinaryExpr:
		return cp.binaryExpr(node, want)

	default:
		return nil, fmt.Errorf("unsupported expression %T", node)
	}
}

func (cp *constraintParser) binaryExpr(node *ast.BinaryExpr, want uint) (glean.Expr, error) {
	// Operands share a width, taken from whichever side is typed.
	w, err := cp.width(node.X)
	if err != nil {
		return nil, err
	} else if w == 0 {
		if w, err = cp.width(node.Y); err != nil {
			return nil, err
		}
	}
	switch node.Op {
	case token.SHL, token.SHR:
		if w, err = cp.width(node.X); err != nil {
			return nil, err
		}
	}
	if w == 0 {
		w = want
	}

	x, err := cp.expr(node.X, w)
	if err != nil {
		return nil, err
	}
	y, err := cp.expr(node.Y, w)
	if err != nil {
		return nil, err
	} else if glean.ExprWidth(x) != glean.ExprWidth(y) {
		return nil, fmt.Errorf("mismatched operand widths in %s", node.Op)
	}

	if w == glean.WidthBool {
		switch node.Op {
		case token.LAND:
			return glean.NewBinaryExpr(glean.AND, x, y), nil
		case token.LOR:
			return glean.NewBinaryExpr(glean.OR, x, y), nil
		case token.EQL:
			return glean.NewBinaryExpr(glean.EQ, x, y), nil
		case token.NEQ:
			return glean.NewBinaryExpr(glean.NE, x, y), nil
		}
		return nil, fmt.Errorf("operator %s not defined on booleans", node.Op)
	}

	signed := !cp.unsigned(node.X) && !cp.unsigned(node.Y)
	pick := func(s, u glean.BinaryOp) glean.BinaryOp {
		if signed {
			return s
		}
		return u
	}

	var op glean.BinaryOp
	switch node.Op {
	case token.ADD:
		op = glean.ADD
	case token.SUB:
		op = glean.SUB
	case token.MUL:
		op = glean.MUL
	case token.QUO:
		op = pick(glean.SDIV, glean.UDIV)
	case token.REM:
		op = pick(glean.SREM, glean.UREM)
	case token.AND:
		op = glean.AND
	case token.OR:
		op = glean.OR
	case token.XOR:
		op = glean.XOR
	case token.AND_NOT:
		return glean.NewBinaryExpr(glean.AND, x, complement(y)), nil
	case token.SHL:
		op = glean.SHL
	case token.SHR:
		op = pick(glean.ASHR, glean.LSHR)
	case token.EQL:
		op = glean.EQ
	case token.NEQ:
		op = glean.NE
	case token.LSS:
		op = pick(glean.SLT, glean.ULT)
	case token.LEQ:
		op = pick(glean.SLE, glean.ULE)
	case token.GTR:
		op = pick(glean.SGT, glean.UGT)
	case token.GEQ:
		op = pick(glean.SGE, glean.UGE)
	default:
		return nil, fmt.Errorf("operator %s not defined on integers", node.Op)
	}
	return glean.NewBinaryExpr(op, x, y), nil
}

package glean

import (
	"fmt"
	"strings"
)

// Variable represents a named storage location within a procedure.
// Variables are identified by name; two variables with the same name in the
// same flow graph refer to the same storage.
type Variable struct {
	Name  string
	Width uint
}

// NewVariable returns a new variable. A width of WidthBool declares a boolean.
func NewVariable(name string, width uint) *Variable {
	assert(width > 0 && width <= Width64, "invalid variable width: %d", width)
	return &Variable{Name: name, Width: width}
}

// IsBool returns true if the variable holds a boolean.
func (v *Variable) IsBool() bool { return v.Width == WidthBool }

// String returns the name of the variable.
func (v *Variable) String() string { return v.Name }

// Expr represents a side effect free expression over variables.
type Expr interface {
	expr()
	String() string
}

func (*VarRef) expr()       {}
func (*ConstantExpr) expr() {}
func (*BinaryExpr) expr()   {}

// Location represents a write target of an operation.
type Location interface {
	Expr
	location()
}

func (*VarRef) location() {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *VarRef:
		return expr.Var.Width
	case *ConstantExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// VarRef represents a read of a variable, or a write when used as a Location.
type VarRef struct {
	Var *Variable
}

// NewVarRef returns a reference to v.
func NewVarRef(v *Variable) *VarRef {
	return &VarRef{Var: v}
}

// String returns the variable name.
func (e *VarRef) String() string { return e.Var.Name }

// ConstantExpr represents a fixed-width constant value.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
// The value is truncated to the given width.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return &ConstantExpr{
		Value: value & bitmask(width),
		Width: width,
	}
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: 1, Width: WidthBool}
	}
	return &ConstantExpr{Value: 0, Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	if e.Width == WidthBool {
		if e.Value != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value == 0
}

// Int64 returns the value interpreted as a signed integer of the expression's width.
func (e *ConstantExpr) Int64() int64 {
	return signExtend(e.Value, e.Width)
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// ParseBinaryOp returns the operation with the given name.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	for op, name := range binaryOps {
		if name != "" && name == strings.ToLower(s) {
			return BinaryOp(op), true
		}
	}
	return 0, false
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// IsLogical returns true if op is defined on boolean operands.
func (op BinaryOp) IsLogical() bool {
	switch op {
	case AND, OR, XOR, EQ, NE:
		return true
	default:
		return false
	}
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a new binary expression. Operations on two constants
// are folded into a single constant.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(op.IsArithmetic() || op.IsCompare(), "invalid binary op: %s", op)
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s (%T) %d != (%T) %d", op, lhs, ExprWidth(lhs), rhs, ExprWidth(rhs))
	assert(ExprWidth(lhs) != WidthBool || op.IsLogical(), "op %s is not defined on booleans", op)

	if l, ok := lhs.(*ConstantExpr); ok {
		if r, ok := rhs.(*ConstantExpr); ok {
			width := l.Width
			if op.IsCompare() {
				width = WidthBool
			}
			return NewConstantExpr(EvalBinaryOp(op, l.Value, r.Value, l.Width), width)
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// NewNotExpr returns the logical negation of a boolean expression.
func NewNotExpr(expr Expr) Expr {
	return NewBinaryExpr(EQ, expr, NewBoolConstantExpr(false))
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// EvalBinaryOp applies op to two operands of the given width. Division and
// remainder by zero follow the SMT-LIB bit-vector semantics. Comparisons
// return 1 for true and 0 for false.
func EvalBinaryOp(op BinaryOp, lhs, rhs uint64, width uint) uint64 {
	mask := bitmask(width)
	lhs, rhs = lhs&mask, rhs&mask
	slhs, srhs := signExtend(lhs, width), signExtend(rhs, width)

	switch op {
	case ADD:
		return (lhs + rhs) & mask
	case SUB:
		return (lhs - rhs) & mask
	case MUL:
		return (lhs * rhs) & mask
	case UDIV:
		if rhs == 0 {
			return mask
		}
		return lhs / rhs
	case SDIV:
		if rhs == 0 {
			if slhs < 0 {
				return 1
			}
			return mask
		}
		if srhs == -1 {
			return uint64(-slhs) & mask
		}
		return uint64(slhs/srhs) & mask
	case UREM:
		if rhs == 0 {
			return lhs
		}
		return lhs % rhs
	case SREM:
		if rhs == 0 {
			return lhs
		} else if srhs == -1 {
			return 0
		}
		return uint64(slhs%srhs) & mask
	case AND:
		return lhs & rhs
	case OR:
		return lhs | rhs
	case XOR:
		return lhs ^ rhs
	case SHL:
		if rhs >= uint64(width) {
			return 0
		}
		return (lhs << rhs) & mask
	case LSHR:
		if rhs >= uint64(width) {
			return 0
		}
		return lhs >> rhs
	case ASHR:
		if rhs >= uint64(width) {
			rhs = uint64(width) - 1
		}
		return uint64(slhs>>rhs) & mask
	case EQ:
		return boolValue(lhs == rhs)
	case NE:
		return boolValue(lhs != rhs)
	case ULT:
		return boolValue(lhs < rhs)
	case ULE:
		return boolValue(lhs <= rhs)
	case UGT:
		return boolValue(lhs > rhs)
	case UGE:
		return boolValue(lhs >= rhs)
	case SLT:
		return boolValue(slhs < srhs)
	case SLE:
		return boolValue(slhs <= srhs)
	case SGT:
		return boolValue(slhs > srhs)
	case SGE:
		return boolValue(slhs >= srhs)
	default:
		panic(fmt.Sprintf("unexpected binary op: %s", op))
	}
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// CompareExpr returns an integer comparing two expressions structurally.
// Variable references are compared by name.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *VarRef:
		return compareVarRef(a, b.(*VarRef))
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	default:
		panic("unreachable")
	}
}

func compareVarRef(a, b *VarRef) int {
	if a.Var.Name < b.Var.Name {
		return -1
	} else if a.Var.Name > b.Var.Name {
		return 1
	}
	return compareUint(a.Var.Width, b.Var.Width)
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if cmp := compareUint(a.Width, b.Width); cmp != 0 {
		return cmp
	}

	if a.Value < b.Value {
		return -1
	} else if a.Value > b.Value {
		return 1
	}
	return 0
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}

	if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.RHS, b.RHS)
}

func compareUint(a, b uint) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func exprKind(expr Expr) int {
	switch expr.(type) {
	case *VarRef:
		return 1
	case *ConstantExpr:
		return 2
	case *BinaryExpr:
		return 3
	default:
		panic("unreachable")
	}
}

// ContainsExpr returns true if needle is structurally equal to expr or to
// one of its sub-expressions.
func ContainsExpr(expr, needle Expr) bool {
	if CompareExpr(expr, needle) == 0 {
		return true
	}
	if expr, ok := expr.(*BinaryExpr); ok {
		return ContainsExpr(expr.LHS, needle) || ContainsExpr(expr.RHS, needle)
	}
	return false
}

// ExprVariables returns the variables read by expr in order of first
// appearance. Each name is reported once.
func ExprVariables(expr Expr) []*Variable {
	var a []*Variable
	seen := make(map[string]struct{})
	walkVarRefs(expr, func(ref *VarRef) {
		if _, ok := seen[ref.Var.Name]; ok {
			return
		}
		seen[ref.Var.Name] = struct{}{}
		a = append(a, ref.Var)
	})
	return a
}

func walkVarRefs(expr Expr, fn func(*VarRef)) {
	switch expr := expr.(type) {
	case *VarRef:
		fn(expr)
	case *BinaryExpr:
		walkVarRefs(expr.LHS, fn)
		walkVarRefs(expr.RHS, fn)
	}
}

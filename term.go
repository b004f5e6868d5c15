package glean

import (
	"bytes"
	"fmt"
	"strings"
)

// Sort represents the type of a solver term. SortBool is the boolean sort;
// any other value n is the sort of n-bit vectors.
type Sort uint

// SortBool is the boolean sort.
const SortBool = Sort(0)

// SortOf returns the sort used to represent values of the given width.
func SortOf(width uint) Sort {
	if width == WidthBool {
		return SortBool
	}
	return Sort(width)
}

// Width returns the bit width of values of the sort.
func (s Sort) Width() uint {
	if s == SortBool {
		return WidthBool
	}
	return uint(s)
}

// String returns the SMT-LIB representation of the sort.
func (s Sort) String() string {
	if s == SortBool {
		return "Bool"
	}
	return fmt.Sprintf("(_ BitVec %d)", uint(s))
}

// Term represents a solver term.
type Term interface {
	term()
	String() string
}

func (*Literal) term() {}
func (*Apply) term()   {}

// TermSort returns the sort of a term.
func TermSort(t Term) Sort {
	switch t := t.(type) {
	case *Literal:
		return t.Sort
	case *Apply:
		return t.Func.Result
	default:
		panic("unreachable")
	}
}

// Literal represents a boolean or bit-vector constant.
type Literal struct {
	Sort  Sort
	Value uint64
}

// BoolLiteral returns the literal true or false.
func BoolLiteral(b bool) *Literal {
	return &Literal{Sort: SortBool, Value: boolValue(b)}
}

// BitVecLiteral returns a bit-vector literal truncated to width.
func BitVecLiteral(value uint64, width uint) *Literal {
	assert(width > WidthBool && width <= Width64, "invalid bit-vector width: %d", width)
	return &Literal{Sort: Sort(width), Value: value & bitmask(width)}
}

// IsTrue returns true if the literal is the boolean true.
func (t *Literal) IsTrue() bool { return t.Sort == SortBool && t.Value != 0 }

// IsFalse returns true if the literal is the boolean false.
func (t *Literal) IsFalse() bool { return t.Sort == SortBool && t.Value == 0 }

// String returns the SMT-LIB representation of the literal.
func (t *Literal) String() string {
	if t.Sort == SortBool {
		if t.Value != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("(_ bv%d %d)", t.Value, uint(t.Sort))
}

// Constant returns the literal as an IR constant.
func (t *Literal) Constant() *ConstantExpr {
	return NewConstantExpr(t.Value, t.Sort.Width())
}

// FuncDecl declares a function symbol. Built-in functions are part of the
// logic and never declared to the solver.
type FuncDecl struct {
	Name    string
	Params  []Sort
	Result  Sort
	Builtin bool
}

// NewFuncDecl returns a declaration of an uninterpreted function.
func NewFuncDecl(name string, result Sort, params ...Sort) *FuncDecl {
	return &FuncDecl{Name: name, Params: params, Result: result}
}

func builtin(name string, result Sort, params ...Sort) *FuncDecl {
	return &FuncDecl{Name: name, Params: params, Result: result, Builtin: true}
}

// Declaration returns the SMT-LIB command declaring f.
func (f *FuncDecl) Declaration() string {
	if len(f.Params) == 0 {
		return fmt.Sprintf("(declare-const %s %s)", Symbol(f.Name), f.Result)
	}
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("(declare-fun %s (%s) %s)", Symbol(f.Name), strings.Join(params, " "), f.Result)
}

// Apply represents the application of a function to arguments.
// A nullary application is a constant symbol.
type Apply struct {
	Func *FuncDecl
	Args []Term
}

// NewConst returns a constant symbol of the given sort.
func NewConst(name string, sort Sort) *Apply {
	return &Apply{Func: NewFuncDecl(name, sort)}
}

// NewApply returns the application of f to args.
func NewApply(f *FuncDecl, args ...Term) *Apply {
	assert(len(f.Params) == len(args), "%s: expected %d arguments, got %d", f.Name, len(f.Params), len(args))
	for i, arg := range args {
		assert(f.Params[i] == TermSort(arg), "%s: argument %d sort mismatch: %s != %s", f.Name, i, f.Params[i], TermSort(arg))
	}
	return &Apply{Func: f, Args: args}
}

// String returns the SMT-LIB representation of the term.
func (t *Apply) String() string {
	if len(t.Args) == 0 {
		return Symbol(t.Func.Name)
	}

	var buf bytes.Buffer
	buf.WriteString("(")
	if t.Func.Builtin {
		buf.WriteString(t.Func.Name)
	} else {
		buf.WriteString(Symbol(t.Func.Name))
	}
	for _, arg := range t.Args {
		buf.WriteString(" ")
		buf.WriteString(arg.String())
	}
	buf.WriteString(")")
	return buf.String()
}

// Eq returns (= a b).
func Eq(a, b Term) Term {
	s := TermSort(a)
	return NewApply(builtin("=", SortBool, s, s), a, b)
}

// Not returns the negation of a boolean term.
func Not(t Term) Term {
	if lit, ok := t.(*Literal); ok {
		return BoolLiteral(lit.IsFalse())
	}
	return NewApply(builtin("not", SortBool, SortBool), t)
}

// And returns the conjunction of terms. An empty conjunction is true.
func And(terms ...Term) Term {
	return junction("and", true, terms)
}

// Or returns the disjunction of terms. An empty disjunction is false.
func Or(terms ...Term) Term {
	return junction("or", false, terms)
}

// junction builds an n-ary and/or. Neutral literals are dropped and an
// absorbing literal short circuits the whole term.
func junction(name string, neutral bool, terms []Term) Term {
	var args []Term
	for _, t := range terms {
		if lit, ok := t.(*Literal); ok {
			if lit.IsTrue() == neutral {
				continue
			}
			return BoolLiteral(!neutral)
		}
		args = append(args, t)
	}

	switch len(args) {
	case 0:
		return BoolLiteral(neutral)
	case 1:
		return args[0]
	}
	params := make([]Sort, len(args))
	return NewApply(builtin(name, SortBool, params...), args...)
}

// Ite returns (ite cond t e).
func Ite(cond, t, e Term) Term {
	if lit, ok := cond.(*Literal); ok {
		if lit.IsTrue() {
			return t
		}
		return e
	}
	s := TermSort(t)
	return NewApply(builtin("ite", s, SortBool, s, s), cond, t, e)
}

var bitVecOps = [...]string{
	ADD:  "bvadd",
	SUB:  "bvsub",
	MUL:  "bvmul",
	UDIV: "bvudiv",
	SDIV: "bvsdiv",
	UREM: "bvurem",
	SREM: "bvsrem",
	AND:  "bvand",
	OR:   "bvor",
	XOR:  "bvxor",
	SHL:  "bvshl",
	LSHR: "bvlshr",
	ASHR: "bvashr",
	EQ:   "=",
	ULT:  "bvult",
	ULE:  "bvule",
	UGT:  "bvugt",
	UGE:  "bvuge",
	SLT:  "bvslt",
	SLE:  "bvsle",
	SGT:  "bvsgt",
	SGE:  "bvsge",
}

// BinaryTerm returns the term applying op to lhs and rhs.
func BinaryTerm(op BinaryOp, lhs, rhs Term) Term {
	s := TermSort(lhs)
	assert(s == TermSort(rhs), "binary term sort mismatch: op=%s %s != %s", op, s, TermSort(rhs))

	if s == SortBool {
		switch op {
		case AND:
			return And(lhs, rhs)
		case OR:
			return Or(lhs, rhs)
		case XOR:
			return NewApply(builtin("xor", SortBool, s, s), lhs, rhs)
		case EQ:
			return Eq(lhs, rhs)
		case NE:
			return Not(Eq(lhs, rhs))
		default:
			panic(fmt.Sprintf("op %s is not defined on booleans", op))
		}
	}

	switch {
	case op == NE:
		return Not(Eq(lhs, rhs))
	case op.IsCompare():
		return NewApply(builtin(bitVecOps[op], SortBool, s, s), lhs, rhs)
	case op.IsArithmetic():
		return NewApply(builtin(bitVecOps[op], s, s, s), lhs, rhs)
	default:
		panic(fmt.Sprintf("unexpected binary op: %s", op))
	}
}

// LookupBitVecOp returns the IR operation for an SMT-LIB bit-vector function name.
func LookupBitVecOp(name string) (BinaryOp, bool) {
	for op, s := range bitVecOps {
		if s != "" && s == name && BinaryOp(op) != EQ {
			return BinaryOp(op), true
		}
	}
	return 0, false
}

// TermFuncs calls fn for every user function applied within t, outermost first.
func TermFuncs(t Term, fn func(*FuncDecl)) {
	if t, ok := t.(*Apply); ok {
		if !t.Func.Builtin {
			fn(t.Func)
		}
		for _, arg := range t.Args {
			TermFuncs(arg, fn)
		}
	}
}

// Symbol returns name as an SMT-LIB symbol, quoting it if it is not a
// simple symbol.
func Symbol(name string) string {
	if isSimpleSymbol(name) {
		return name
	}
	return "|" + symbolReplacer.Replace(name) + "|"
}

// symbolReplacer removes the characters not allowed in quoted symbols.
var symbolReplacer = strings.NewReplacer("|", "_", `\`, "_")

func isSimpleSymbol(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case strings.ContainsRune("~!@$%^&*_-+=<>.?/", ch):
		default:
			return false
		}
	}
	return true
}

package glean_test

import (
	"testing"

	"github.com/benbjohnson/glean"
	"github.com/google/go-cmp/cmp"
)

func TestExprWidth(t *testing.T) {
	x := glean.NewVariable("x", 16)
	t.Run("VarRef", func(t *testing.T) {
		if w := glean.ExprWidth(glean.NewVarRef(x)); w != 16 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ConstantExpr", func(t *testing.T) {
		if w := glean.ExprWidth(&glean.ConstantExpr{Value: 0, Width: 8}); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("BinaryExpr", func(t *testing.T) {
		t.Run("Bool", func(t *testing.T) {
			if w := glean.ExprWidth(&glean.BinaryExpr{
				Op:  glean.EQ,
				LHS: glean.NewVarRef(x),
				RHS: &glean.ConstantExpr{Value: 0, Width: 16},
			}); w != 1 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
		t.Run("NonBool", func(t *testing.T) {
			if w := glean.ExprWidth(&glean.BinaryExpr{
				Op:  glean.ADD,
				LHS: glean.NewVarRef(x),
				RHS: &glean.ConstantExpr{Value: 0, Width: 16},
			}); w != 16 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
	})
}

func TestBinaryOp_String(t *testing.T) {
	t.Run("Known", func(t *testing.T) {
		if s := glean.ADD.String(); s != "add" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
	t.Run("Unknown", func(t *testing.T) {
		if s := glean.BinaryOp(1000).String(); s != "BinaryOp<1000>" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
	t.Run("Parse", func(t *testing.T) {
		if op, ok := glean.ParseBinaryOp("SLE"); !ok || op != glean.SLE {
			t.Fatalf("unexpected op: %s", op)
		} else if _, ok := glean.ParseBinaryOp("nope"); ok {
			t.Fatal("expected no op")
		}
	})
}

func TestEvalBinaryOp(t *testing.T) {
	for _, tt := range []struct {
		name  string
		op    glean.BinaryOp
		lhs   uint64
		rhs   uint64
		width uint
		exp   uint64
	}{
		{"AddOverflow", glean.ADD, 0xFF, 0x01, 8, 0x00},
		{"SubUnderflow", glean.SUB, 0x00, 0x01, 8, 0xFF},
		{"Mul", glean.MUL, 0x10, 0x10, 8, 0x00},
		{"UDiv", glean.UDIV, 7, 2, 8, 3},
		{"UDivZero", glean.UDIV, 7, 0, 8, 0xFF},
		{"SDiv", glean.SDIV, 0xF9, 2, 8, 0xFD}, // -7 / 2 = -3
		{"SDivZeroNegative", glean.SDIV, 0xF9, 0, 8, 1},
		{"URemZero", glean.UREM, 7, 0, 8, 7},
		{"SRem", glean.SREM, 0xF9, 2, 8, 0xFF}, // -7 % 2 = -1
		{"Shl", glean.SHL, 1, 7, 8, 0x80},
		{"ShlWide", glean.SHL, 1, 8, 8, 0},
		{"AShr", glean.ASHR, 0x80, 7, 8, 0xFF},
		{"LShr", glean.LSHR, 0x80, 7, 8, 0x01},
		{"ULT", glean.ULT, 0x01, 0xFF, 8, 1},
		{"SLT", glean.SLT, 0xFF, 0x01, 8, 1}, // -1 < 1
		{"SGE", glean.SGE, 0x01, 0xFF, 8, 1},
		{"NE", glean.NE, 3, 3, 64, 0},
		{"Add64", glean.ADD, ^uint64(0), 2, 64, 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := glean.EvalBinaryOp(tt.op, tt.lhs, tt.rhs, tt.width); got != tt.exp {
				t.Fatalf("%s(%#x, %#x)=%#x, expected %#x", tt.op, tt.lhs, tt.rhs, got, tt.exp)
			}
		})
	}
}

func TestNewBinaryExpr(t *testing.T) {
	t.Run("Fold", func(t *testing.T) {
		expr := glean.NewBinaryExpr(glean.SUB, glean.NewConstantExpr(1, 32), glean.NewConstantExpr(2, 32))
		if diff := cmp.Diff(glean.NewConstantExpr(0xFFFFFFFF, 32), expr); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("FoldCompare", func(t *testing.T) {
		expr := glean.NewBinaryExpr(glean.SLT, glean.NewConstantExpr(0xFFFFFFFF, 32), glean.NewConstantExpr(0, 32))
		if diff := cmp.Diff(glean.NewBoolConstantExpr(true), expr); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		x := glean.NewVarRef(glean.NewVariable("x", 32))
		expr := glean.NewBinaryExpr(glean.ADD, x, glean.NewConstantExpr(1, 32))
		if got, exp := expr.String(), "(add x (const 1 32))"; got != exp {
			t.Fatalf("unexpected string: %s", got)
		}
	})
	t.Run("ErrWidthMismatch", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		glean.NewBinaryExpr(glean.ADD, glean.NewConstantExpr(1, 32), glean.NewConstantExpr(1, 8))
	})
	t.Run("ErrBoolArithmetic", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		b := glean.NewVarRef(glean.NewVariable("b", glean.WidthBool))
		glean.NewBinaryExpr(glean.ADD, b, b)
	})
}

func TestCompareExpr(t *testing.T) {
	x := glean.NewVarRef(glean.NewVariable("x", 8))
	y := glean.NewVarRef(glean.NewVariable("y", 8))
	one := glean.NewConstantExpr(1, 8)

	if cmp := glean.CompareExpr(x, glean.NewVarRef(glean.NewVariable("x", 8))); cmp != 0 {
		t.Fatalf("unexpected comparison: %d", cmp)
	} else if cmp := glean.CompareExpr(x, y); cmp != -1 {
		t.Fatalf("unexpected comparison: %d", cmp)
	} else if cmp := glean.CompareExpr(one, x); cmp != 1 {
		t.Fatalf("unexpected comparison: %d", cmp)
	} else if cmp := glean.CompareExpr(glean.NewBinaryExpr(glean.ADD, x, one), glean.NewBinaryExpr(glean.ADD, x, one)); cmp != 0 {
		t.Fatalf("unexpected comparison: %d", cmp)
	} else if cmp := glean.CompareExpr(glean.NewBinaryExpr(glean.ADD, x, one), glean.NewBinaryExpr(glean.SUB, x, one)); cmp != -1 {
		t.Fatalf("unexpected comparison: %d", cmp)
	} else if cmp := glean.CompareExpr(nil, x); cmp != -1 {
		t.Fatalf("unexpected comparison: %d", cmp)
	}
}

func TestContainsExpr(t *testing.T) {
	x := glean.NewVarRef(glean.NewVariable("x", 8))
	y := glean.NewVarRef(glean.NewVariable("y", 8))
	expr := glean.NewBinaryExpr(glean.MUL, glean.NewBinaryExpr(glean.ADD, x, glean.NewConstantExpr(1, 8)), glean.NewConstantExpr(2, 8))

	if !glean.ContainsExpr(expr, x) {
		t.Fatal("expected x")
	} else if glean.ContainsExpr(expr, y) {
		t.Fatal("unexpected y")
	} else if !glean.ContainsExpr(expr, glean.NewBinaryExpr(glean.ADD, x, glean.NewConstantExpr(1, 8))) {
		t.Fatal("expected sub-expression")
	}
}

func TestExprVariables(t *testing.T) {
	x := glean.NewVariable("x", 8)
	y := glean.NewVariable("y", 8)
	expr := glean.NewBinaryExpr(glean.ADD,
		glean.NewBinaryExpr(glean.MUL, glean.NewVarRef(y), glean.NewVarRef(x)),
		glean.NewVarRef(y),
	)
	if diff := cmp.Diff([]*glean.Variable{y, x}, glean.ExprVariables(expr)); diff != "" {
		t.Fatal(diff)
	}
}

package gossa_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/dataflow"
	"github.com/benbjohnson/glean/gossa"
	"github.com/benbjohnson/glean/internal/solvertest"
	"github.com/benbjohnson/glean/interproc"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/ssa"
)

// MustLoad loads the package at path. Fatal on error.
func MustLoad(tb testing.TB, path string) *gossa.Program {
	tb.Helper()
	c := config.NewDefault()
	c.LogLevel = int(config.ErrLevel)
	p, err := gossa.Load(context.Background(), c, path)
	if err != nil {
		tb.Fatal(err)
	}
	p.Logger = config.NewDiscardLogGroup()
	return p
}

// MustFindFunction returns a function by name. Fatal if not found.
func MustFindFunction(tb testing.TB, p *gossa.Program, name string) *ssa.Function {
	tb.Helper()
	fn, err := p.LookupFunction(name)
	if err != nil {
		tb.Fatal(err)
	}
	return fn
}

// MustConvert returns the flow graph of a function. Fatal on error.
func MustConvert(tb testing.TB, p *gossa.Program, name string) (*ssa.Function, *glean.Graph) {
	tb.Helper()
	fn := MustFindFunction(tb, p, name)
	g, err := p.Convert(fn)
	if err != nil {
		tb.Fatal(err)
	} else if g == nil {
		tb.Fatalf("%s has no body", name)
	}
	return fn, g
}

// MustReach analyzes reachability of the exit of a function under the
// given constraints. Fatal on error.
func MustReach(tb testing.TB, p *gossa.Program, name string, constraints ...string) glean.ReachabilityResult {
	tb.Helper()
	fn, g := MustConvert(tb, p, name)
	symbols, err := p.Symbols(fn)
	if err != nil {
		tb.Fatal(err)
	}

	r := glean.NewReachability(g)
	r.Logger = config.NewDiscardLogGroup()
	for _, src := range constraints {
		expr, err := gossa.ParseConstraint(src, symbols)
		if err != nil {
			tb.Fatal(err)
		} else if err := r.Constrain(expr); err != nil {
			tb.Fatal(err)
		}
	}

	result, err := r.Analyze(context.Background(), solvertest.NewFactory())
	if err != nil {
		tb.Fatal(err)
	}
	return result
}

func TestProgram_Convert(t *testing.T) {
	p := MustLoad(t, "./testdata/pkg003_branch")

	t.Run("Sign", func(t *testing.T) {
		if result := MustReach(t, p, "sign", "ret == 1"); result.String() != "reachable a=0" {
			t.Fatalf("unexpected result: %s", result)
		} else if result := MustReach(t, p, "sign", "ret == 1", "a != 0"); result.String() != "unreachable" {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("Abs", func(t *testing.T) {
		if result := MustReach(t, p, "abs", "ret == 5", "x < 0"); result.String() != "reachable x=-5" {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("AndNot", func(t *testing.T) {
		if result := MustReach(t, p, "clearBits", "ret == 0x0F", "mask == 0x30"); result.String() != "reachable x=15 mask=48" {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("Signature", func(t *testing.T) {
		_, g := MustConvert(t, p, "sign")
		if got, exp := g.Name(), gossa.ProcedureName(MustFindFunction(t, p, "sign")); got != exp {
			t.Fatalf("unexpected name: %s", got)
		} else if diff := cmp.Diff([]uint{8}, g.Signature().Results); diff != "" {
			t.Fatal(diff)
		} else if params := g.Entry().Params; len(params) != 1 || params[0].Name != "a" || params[0].Width != 8 {
			t.Fatalf("unexpected params: %v", params)
		}
	})

	t.Run("Cached", func(t *testing.T) {
		fn, g := MustConvert(t, p, "sign")
		if other, err := p.Convert(fn); err != nil {
			t.Fatal(err)
		} else if other != g {
			t.Fatal("expected cached graph")
		}
	})

	// Loops convert but cannot be executed symbolically.
	t.Run("Loop", func(t *testing.T) {
		_, g := MustConvert(t, p, "sum")
		if dus, err := dataflow.ComputeDefUses(g); err != nil {
			t.Fatal(err)
		} else if len(dus) == 0 {
			t.Fatal("expected def-uses")
		}

		r := glean.NewReachability(g)
		r.Logger = config.NewDiscardLogGroup()
		if _, err := r.Analyze(context.Background(), solvertest.NewFactory()); !errors.Is(err, glean.ErrCyclicGraph) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	// Phis that read each other are copied through temporaries.
	t.Run("Swap", func(t *testing.T) {
		_, g := MustConvert(t, p, "swap")

		var temps int
		for _, b := range g.Blocks() {
			if b, ok := b.(*glean.InnerBlock); ok {
				if op, ok := b.Op.(*glean.AssignOp); ok {
					if name := op.Target.(*glean.VarRef).Var.Name; strings.Contains(name, "$") && !strings.HasPrefix(name, "$ret") {
						temps++
					}
				}
			}
		}
		if temps < 2 {
			t.Fatalf("unexpected temporaries: %d\n%s", temps, g.Dump())
		}
	})

	// Parameters named like SSA values do not collide with them.
	t.Run("ParamNamedLikeValue", func(t *testing.T) {
		if result := MustReach(t, p, "shadow", "ret", "t0 == 7"); result.String() != "reachable t0=7" {
			t.Fatalf("unexpected result: %s", result)
		} else if result := MustReach(t, p, "shadow", "ret", "t0 == 3"); result.String() != "unreachable" {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("BlankParam", func(t *testing.T) {
		_, g := MustConvert(t, p, "pick")
		if params := g.Entry().Params; len(params) != 2 || params[0].Name != "$arg0" || params[1].Name != "arg0" {
			t.Fatalf("unexpected params: %v", params)
		} else if result := MustReach(t, p, "pick", "ret == 3"); !strings.Contains(result.String(), " arg0=3") {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("ErrUnsupported", func(t *testing.T) {
		p := MustLoad(t, "./testdata/pkg002_struct")
		fn := MustFindFunction(t, p, "simple")

		var e *gossa.UnsupportedError
		if _, err := p.Convert(fn); !errors.As(err, &e) {
			t.Fatalf("unexpected error: %v", err)
		} else if !strings.Contains(e.Message, "unsupported instruction") {
			t.Fatalf("unexpected message: %s", e.Message)
		}
	})
}

func TestProgram_LookupFunction(t *testing.T) {
	p := MustLoad(t, "./testdata/pkg001_call")
	fn := MustFindFunction(t, p, "callee")
	if other := MustFindFunction(t, p, gossa.ProcedureName(fn)); other != fn {
		t.Fatal("expected same function")
	} else if _, err := p.LookupFunction("missing"); err == nil {
		t.Fatal("expected error")
	}
}

func TestProgram_CallGraph(t *testing.T) {
	p := MustLoad(t, "./testdata/pkg001_call")
	caller := p.Procedure(MustFindFunction(t, p, "caller"))
	callee := p.Procedure(MustFindFunction(t, p, "callee"))
	fixed := p.Procedure(MustFindFunction(t, p, "fixed"))

	cg := p.CallGraph()
	if callees := cg.Callees(caller); len(callees) != 1 || callees[0] != callee {
		t.Fatalf("unexpected callees: %v", callees)
	} else if callers := cg.Callers(callee); len(callers) != 2 || (callers[0] != fixed && callers[1] != fixed) {
		t.Fatalf("unexpected callers: %v", callers)
	}

	prop := interproc.NewPropagator(cg, p)
	prop.Logger = config.NewDiscardLogGroup()

	result, err := prop.Propagate(interproc.ParameterRef{Procedure: caller, Param: "y"})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, ref := range result {
		got = append(got, ref.Procedure.Name[strings.LastIndex(ref.Procedure.Name, ".")+1:]+"."+ref.Param)
	}
	if diff := cmp.Diff([]string{"caller.y", "callee.b"}, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseConstraint(t *testing.T) {
	symbols := map[string]gossa.Symbol{
		"a":   {Var: glean.NewVariable("a", glean.Width8)},
		"u":   {Var: glean.NewVariable("u", glean.Width8), Unsigned: true},
		"ok":  {Var: glean.NewVariable("ok", glean.WidthBool)},
		"ret": {Var: glean.NewVariable(glean.ReturnVariableName(0), glean.Width8)},
	}

	for _, tt := range []struct {
		src string
		exp string
	}{
		{"a < 0", "(slt a (const 0 8))"},
		{"u < 0", "(ult u (const 0 8))"},
		{"a == -1", "(eq a (const 255 8))"},
		{"(a + 1) >= ret", "(sge (add a (const 1 8)) $return0)"},
		{"a&^3 == 0", "(eq (and a (const 252 8)) (const 0 8))"},
		{"ok && !(u != 0x10)", "(and ok (eq (ne u (const 16 8)) false))"},
		{"ok || false", "(or ok false)"},
		{"u >> 1 == a", "(eq (lshr u (const 1 8)) a)"},
	} {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := gossa.ParseConstraint(tt.src, symbols)
			if err != nil {
				t.Fatal(err)
			} else if got := expr.String(); got != tt.exp {
				t.Fatalf("unexpected expr: %s", got)
			}
		})
	}

	for _, src := range []string{
		"a + 1",
		"z == 1",
		"1 == 1",
		"a == true",
		"ok & ok",
		"a &&",
		`a == "x"`,
		"f(a)",
	} {
		if _, err := gossa.ParseConstraint(src, symbols); err == nil {
			t.Fatalf("%s: expected error", src)
		}
	}
}

package dataflow_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/dataflow"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/slices"
)

func ref(v *glean.Variable) *glean.VarRef { return glean.NewVarRef(v) }

func c8(v uint64) *glean.ConstantExpr { return glean.NewConstantExpr(v, glean.Width8) }

// IncGraph is the procedure:
//
//	func f(p int8) int8 {
//		x := p
//		if x > 0 {
//			x = x + 1
//		} else {
//			x = x + 1
//		}
//		return x
//	}
type IncGraph struct {
	*glean.Graph
	P, X       *glean.Variable
	Init, Jump *glean.InnerBlock
	Then, Else *glean.InnerBlock
}

func NewIncGraph() *IncGraph {
	g := &IncGraph{
		P: glean.NewVariable("p", glean.Width8),
		X: glean.NewVariable("x", glean.Width8),
	}
	g.Graph = glean.NewGraph("f", g.P)
	g.Init = g.Assign(g.X, ref(g.P))
	g.Jump = g.AddBlock(&glean.JumpOp{Cond: glean.NewBinaryExpr(glean.SGT, ref(g.X), c8(0))})
	g.Then = g.Assign(g.X, glean.NewBinaryExpr(glean.ADD, ref(g.X), c8(1)))
	g.Else = g.Assign(g.X, glean.NewBinaryExpr(glean.ADD, ref(g.X), c8(1)))
	g.Chain(g.Entry(), g.Init, g.Jump)
	g.AddBranch(g.Jump, g.Then, g.Else)
	g.AddEdge(g.Then, g.Exit())
	g.AddEdge(g.Else, g.Exit())
	g.SetReturns(ref(g.X))
	return g
}

// MustRunReachingDefinitions runs reaching definitions over g. Fatal on error.
func MustRunReachingDefinitions(tb testing.TB, g glean.FlowGraph) (*dataflow.ReachingDefinitions, *dataflow.Result[dataflow.Set[glean.Block]]) {
	tb.Helper()
	var rd dataflow.ReachingDefinitions
	result, err := dataflow.Run(g, dataflow.NewGenKill[glean.Block](&rd))
	if err != nil {
		tb.Fatal(err)
	}
	return &rd, result
}

// blockIDs returns the sorted IDs of the blocks in s.
func blockIDs(s dataflow.Set[glean.Block]) []int {
	ids := make([]int, 0, s.Len())
	for _, b := range s.Items() {
		ids = append(ids, b.ID())
	}
	slices.Sort(ids)
	return ids
}

func TestRun(t *testing.T) {
	t.Run("Fixpoint", func(t *testing.T) {
		g := NewIncGraph()
		rd, result := MustRunReachingDefinitions(t, g)
		a := dataflow.NewGenKill[glean.Block](rd)

		for _, b := range g.Blocks() {
			if out := a.Transfer(b, result.In(b)); !out.Equal(result.Out(b)) {
				t.Fatalf("%s: transfer(in)=%v, out=%v", b, blockIDs(out), blockIDs(result.Out(b)))
			}
		}
	})

	t.Run("ReachingSets", func(t *testing.T) {
		g := NewIncGraph()
		_, result := MustRunReachingDefinitions(t, g)

		if diff := cmp.Diff([]int{0, 2}, blockIDs(result.In(g.Jump))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff([]int{0, 4, 5}, blockIDs(result.In(g.Exit()))); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff([]int{0, 4}, blockIDs(result.Out(g.Then))); diff != "" {
			t.Fatal(diff)
		} else if n := result.In(g.Entry()).Len(); n != 0 {
			t.Fatalf("unexpected entry input size: %d", n)
		}
	})

	// Blocks without neighbors keep their seeded values.
	t.Run("NoEdges", func(t *testing.T) {
		x := glean.NewVariable("x", glean.Width8)
		g := glean.NewGraph("f", x)
		b := g.Assign(x, c8(1))

		result, err := dataflow.Run[dataflow.Set[int]](g, &seedAnalysis{})
		if err != nil {
			t.Fatal(err)
		}
		for _, blk := range []glean.Block{g.Entry(), g.Exit(), b} {
			if diff := cmp.Diff([]int{blk.ID()}, result.In(blk).Items()); diff != "" {
				t.Fatalf("%s: %s", blk, diff)
			} else if diff := cmp.Diff([]int{blk.ID()}, result.Out(blk).Items()); diff != "" {
				t.Fatalf("%s: %s", blk, diff)
			}
		}
	})

	// Every block reaches itself and the blocks after it.
	t.Run("Backward", func(t *testing.T) {
		g := NewIncGraph()
		result, err := dataflow.Run(g, dataflow.NewGenKill[int](&reachesExit{}))
		if err != nil {
			t.Fatal(err)
		}

		for _, tt := range []struct {
			block glean.Block
			exp   []int
		}{
			{g.Exit(), []int{1}},
			{g.Then, []int{1, 4}},
			{g.Jump, []int{1, 3, 4, 5}},
			{g.Entry(), []int{0, 1, 2, 3, 4, 5}},
		} {
			ids := result.In(tt.block).Items()
			slices.Sort(ids)
			if diff := cmp.Diff(tt.exp, ids); diff != "" {
				t.Fatalf("%s: %s", tt.block, diff)
			}
		}
		if n := result.Out(g.Exit()).Len(); n != 0 {
			t.Fatalf("unexpected exit output size: %d", n)
		}
	})

	t.Run("ErrInitialize", func(t *testing.T) {
		errMarker := errors.New("marker")
		if _, err := dataflow.Run[dataflow.Set[int]](NewIncGraph(), &seedAnalysis{err: errMarker}); err != errMarker {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestGenKill_Transfer(t *testing.T) {
	g := NewIncGraph()
	var rd dataflow.ReachingDefinitions
	if err := rd.Initialize(g); err != nil {
		t.Fatal(err)
	}
	a := dataflow.NewGenKill[glean.Block](&rd)

	candidates := []dataflow.Set[glean.Block]{
		dataflow.NewSet[glean.Block](),
		dataflow.NewSet[glean.Block](g.Entry()),
		dataflow.NewSet[glean.Block](g.Init, g.Then),
		dataflow.NewSet[glean.Block](g.Blocks()...),
	}
	for _, b := range g.Blocks() {
		for _, s := range candidates {
			exp := s.Union(rd.Gen(b)).Difference(rd.Kill(b))
			if got := a.Transfer(b, s); !got.Equal(exp) {
				t.Fatalf("%s: transfer(%v)=%v, expected %v", b, blockIDs(s), blockIDs(got), blockIDs(exp))
			}
		}
	}

	if diff := cmp.Diff([]int{4}, blockIDs(a.Transfer(g.Then, dataflow.NewSet[glean.Block](g.Init)))); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff([]int{0}, blockIDs(a.Transfer(g.Entry(), dataflow.NewSet[glean.Block]()))); diff != "" {
		t.Fatal(diff)
	} else if n := a.Transfer(g.Jump, dataflow.NewSet[glean.Block]()).Len(); n != 0 {
		t.Fatalf("unexpected jump output size: %d", n)
	}
}

func TestReachingDefinitions_DefUses(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		g := NewIncGraph()
		dus, err := dataflow.ComputeDefUses(g)
		if err != nil {
			t.Fatal(err)
		}

		var got []string
		for _, du := range dus {
			got = append(got, du.String())
		}
		if diff := cmp.Diff([]string{
			"x: b4 -> b1",
			"x: b5 -> b1",
			"p: b0 -> b2",
			"x: b2 -> b3",
			"x: b2 -> b4",
			"x: b2 -> b5",
		}, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrUnsupportedCall", func(t *testing.T) {
		x := glean.NewVariable("x", glean.Width8)
		y := glean.NewVariable("y", glean.Width8)
		g := glean.NewGraph("f", x)
		call := g.AddBlock(&glean.CallOp{
			Signature: &glean.ProcedureSignature{Name: "g", Results: []uint{8, 8}},
			Args:      []glean.Expr{ref(x)},
			Returns:   []glean.Location{ref(x), ref(y)},
		})
		g.Chain(g.Entry(), call, g.Exit())

		if _, err := dataflow.ComputeDefUses(g); !errors.Is(err, dataflow.ErrUnsupportedCall) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Call", func(t *testing.T) {
		x := glean.NewVariable("x", glean.Width8)
		y := glean.NewVariable("y", glean.Width8)
		g := glean.NewGraph("f", x)
		call := g.AddBlock(&glean.CallOp{
			Signature: &glean.ProcedureSignature{Name: "g", Results: []uint{8}},
			Args:      []glean.Expr{ref(x)},
			Returns:   []glean.Location{ref(y)},
		})
		g.Chain(g.Entry(), call, g.Exit())
		g.SetReturns(ref(y))

		dus, err := dataflow.ComputeDefUses(g)
		if err != nil {
			t.Fatal(err)
		} else if len(dus) != 2 {
			t.Fatalf("unexpected def-uses: %v", dus)
		} else if dus[0].Def != call || dus[0].Use != g.Exit() {
			t.Fatalf("unexpected def-use: %s", dus[0])
		} else if dus[1].Def != g.Entry() || dus[1].Use != call {
			t.Fatalf("unexpected def-use: %s", dus[1])
		}
	})
}

func TestSet(t *testing.T) {
	a := dataflow.NewSet(1, 2, 3)
	b := dataflow.NewSet(3, 4)

	sorted := func(s dataflow.Set[int]) []int {
		items := s.Items()
		slices.Sort(items)
		return items
	}

	if diff := cmp.Diff([]int{1, 2, 3, 4}, sorted(a.Union(b))); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff([]int{3}, sorted(a.Intersect(b))); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff([]int{1, 2}, sorted(a.Difference(b))); diff != "" {
		t.Fatal(diff)
	} else if a.Len() != 3 || b.Len() != 2 {
		t.Fatal("operands modified")
	}

	var zero dataflow.Set[int]
	if !zero.Equal(dataflow.NewSet[int]()) {
		t.Fatal("expected empty sets to be equal")
	} else if zero.Contains(1) {
		t.Fatal("unexpected element")
	}
	zero.Add(1)
	if !zero.Equal(dataflow.NewSet(1)) {
		t.Fatal("expected equal sets")
	} else if zero.Equal(a) {
		t.Fatal("expected unequal sets")
	}

	c := a.Clone()
	c.Add(9)
	if a.Contains(9) {
		t.Fatal("clone shares storage")
	}
}

// seedAnalysis seeds every block with its own ID and transfers unchanged.
type seedAnalysis struct {
	err error
}

func (a *seedAnalysis) Direction() dataflow.Direction                               { return dataflow.Forward }
func (a *seedAnalysis) Initialize(g glean.FlowGraph) error                          { return a.err }
func (a *seedAnalysis) InitialInput(b glean.Block) dataflow.Set[int]                { return dataflow.NewSet(b.ID()) }
func (a *seedAnalysis) InitialOutput(b glean.Block) dataflow.Set[int]               { return dataflow.NewSet(b.ID()) }
func (a *seedAnalysis) Transfer(b glean.Block, v dataflow.Set[int]) dataflow.Set[int] { return v }
func (a *seedAnalysis) Meet(l, r dataflow.Set[int]) dataflow.Set[int]                 { return l.Union(r) }
func (a *seedAnalysis) Equal(x, y dataflow.Set[int]) bool                             { return x.Equal(y) }

// reachesExit is a backward gen-kill analysis over block IDs.
type reachesExit struct{}

func (*reachesExit) Direction() dataflow.Direction                 { return dataflow.Backward }
func (*reachesExit) MeetKind() dataflow.MeetKind                   { return dataflow.Union }
func (*reachesExit) Initialize(g glean.FlowGraph) error            { return nil }
func (*reachesExit) InitialInput(b glean.Block) dataflow.Set[int]  { return dataflow.NewSet[int]() }
func (*reachesExit) InitialOutput(b glean.Block) dataflow.Set[int] { return dataflow.NewSet[int]() }
func (*reachesExit) Gen(b glean.Block) dataflow.Set[int]           { return dataflow.NewSet(b.ID()) }
func (*reachesExit) Kill(b glean.Block) dataflow.Set[int]          { return dataflow.NewSet[int]() }

package dataflow

import (
	"fmt"

	"github.com/benbjohnson/glean"
)

// MeetKind selects how a gen-kill analysis combines values at joins.
type MeetKind int

const (
	Union = MeetKind(iota)
	Intersection
)

func (k MeetKind) String() string {
	switch k {
	case Union:
		return "union"
	case Intersection:
		return "intersection"
	default:
		return fmt.Sprintf("MeetKind<%d>", k)
	}
}

// GenKill is a set-domain analysis described by per-block gen and kill sets.
type GenKill[T comparable] interface {
	Direction() Direction
	MeetKind() MeetKind
	Initialize(g glean.FlowGraph) error
	InitialInput(b glean.Block) Set[T]
	InitialOutput(b glean.Block) Set[T]
	Gen(b glean.Block) Set[T]
	Kill(b glean.Block) Set[T]
}

// NewGenKill adapts a gen-kill description to the Analysis contract.
func NewGenKill[T comparable](gk GenKill[T]) Analysis[Set[T]] {
	return &genKillAnalysis[T]{GenKill: gk}
}

type genKillAnalysis[T comparable] struct {
	GenKill[T]
}

// Transfer returns (v ∪ Gen(b)) − Kill(b).
func (a *genKillAnalysis[T]) Transfer(b glean.Block, v Set[T]) Set[T] {
	return v.Union(a.Gen(b)).Difference(a.Kill(b))
}

func (a *genKillAnalysis[T]) Meet(l, r Set[T]) Set[T] {
	if a.MeetKind() == Intersection {
		return l.Intersect(r)
	}
	return l.Union(r)
}

func (a *genKillAnalysis[T]) Equal(x, y Set[T]) bool { return x.Equal(y) }

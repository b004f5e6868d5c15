// Package dataflow implements a monotone dataflow framework over glean flow
// graphs, a gen-kill specialization and reaching definitions.
package dataflow

import (
	"fmt"

	"github.com/benbjohnson/glean"
)

// Direction is the direction in which facts propagate.
type Direction int

const (
	Forward = Direction(iota)
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction<%d>", d)
	}
}

// Analysis describes a dataflow problem over a domain T.
//
// Run only terminates if Transfer and Meet are monotone over a lattice of
// finite height. This is not checked.
type Analysis[T any] interface {
	Direction() Direction

	// Initialize is called once with the graph before any other method.
	Initialize(g glean.FlowGraph) error

	// Values used to seed the input and output of every block.
	InitialInput(b glean.Block) T
	InitialOutput(b glean.Block) T

	// Transfer computes the output of a block from its input (forward), or
	// its input from its output (backward).
	Transfer(b glean.Block, v T) T

	Meet(l, r T) T
	Equal(a, b T) bool
}

// Result holds the input and output value of every block at the fixpoint.
type Result[T any] struct {
	graph glean.FlowGraph
	in    map[glean.Block]T
	out   map[glean.Block]T
}

// Graph returns the analyzed graph.
func (r *Result[T]) Graph() glean.FlowGraph { return r.graph }

// In returns the value at the start of b.
func (r *Result[T]) In(b glean.Block) T { return r.in[b] }

// Out returns the value at the end of b.
func (r *Result[T]) Out(b glean.Block) T { return r.out[b] }

// Run computes the fixpoint of a over g with a worklist.
//
// Every block is queued once initially. When a block is processed, its
// incoming value is the meet of its neighbors' values; a block without
// neighbors keeps its seeded value. If the transferred value changes, the
// neighbors downstream are queued again.
func Run[T any](g glean.FlowGraph, a Analysis[T]) (*Result[T], error) {
	if err := a.Initialize(g); err != nil {
		return nil, err
	}

	blocks := g.Blocks()
	r := &Result[T]{
		graph: g,
		in:    make(map[glean.Block]T, len(blocks)),
		out:   make(map[glean.Block]T, len(blocks)),
	}
	for _, b := range blocks {
		r.in[b] = a.InitialInput(b)
		r.out[b] = a.InitialOutput(b)
	}

	// For a forward analysis a block's incoming value is its input and the
	// transferred value is its output. Backward swaps both.
	incoming, transferred := r.in, r.out
	upstream, downstream := g.Predecessors, g.Successors
	if a.Direction() == Backward {
		incoming, transferred = r.out, r.in
		upstream, downstream = g.Successors, g.Predecessors
	}

	queue := append([]glean.Block(nil), blocks...)
	queued := make(map[glean.Block]struct{}, len(blocks))
	for _, b := range blocks {
		queued[b] = struct{}{}
	}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		delete(queued, b)

		v := incoming[b]
		if neighbors := upstream(b); len(neighbors) > 0 {
			v = transferred[neighbors[0]]
			for _, n := range neighbors[1:] {
				v = a.Meet(v, transferred[n])
			}
			incoming[b] = v
		}

		next := a.Transfer(b, v)
		if a.Equal(next, transferred[b]) {
			continue
		}
		transferred[b] = next

		for _, n := range downstream(b) {
			if _, ok := queued[n]; !ok {
				queued[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	return r, nil
}

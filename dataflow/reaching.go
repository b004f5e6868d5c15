package dataflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/benbjohnson/glean"
)

// ErrUnsupportedCall is returned for a call writing more than one location.
var ErrUnsupportedCall = errors.New("dataflow: call with multiple return locations is not supported")

// ReachingDefinitions is a forward gen-kill analysis whose facts are the
// blocks defining a variable. The Entry block defines every parameter.
type ReachingDefinitions struct {
	defs    map[string]Set[glean.Block] // variable name -> defining blocks
	defines map[glean.Block][]string    // block -> defined variable names
}

var _ GenKill[glean.Block] = (*ReachingDefinitions)(nil)

func (a *ReachingDefinitions) Direction() Direction { return Forward }
func (a *ReachingDefinitions) MeetKind() MeetKind   { return Union }

// Initialize indexes the definitions of every variable in g.
func (a *ReachingDefinitions) Initialize(g glean.FlowGraph) error {
	a.defs = make(map[string]Set[glean.Block])
	a.defines = make(map[glean.Block][]string)

	for _, b := range g.Blocks() {
		switch b := b.(type) {
		case *glean.EntryBlock:
			for _, p := range b.Params {
				a.define(b, p.Name)
			}

		case *glean.InnerBlock:
			switch op := b.Op.(type) {
			case *glean.AssignOp:
				for _, v := range glean.OperationWrites(op) {
					a.define(b, v.Name)
				}
			case *glean.CallOp:
				if len(op.Returns) > 1 {
					return fmt.Errorf("%s: %w", b, ErrUnsupportedCall)
				}
				for _, v := range glean.OperationWrites(op) {
					a.define(b, v.Name)
				}
			}
		}
	}
	return nil
}

func (a *ReachingDefinitions) define(b glean.Block, name string) {
	s := a.defs[name]
	s.Add(b)
	a.defs[name] = s
	a.defines[b] = append(a.defines[b], name)
}

func (a *ReachingDefinitions) InitialInput(b glean.Block) Set[glean.Block]  { return NewSet[glean.Block]() }
func (a *ReachingDefinitions) InitialOutput(b glean.Block) Set[glean.Block] { return NewSet[glean.Block]() }

// Gen returns {b} for the Entry block and for assignment and call blocks.
func (a *ReachingDefinitions) Gen(b glean.Block) Set[glean.Block] {
	switch b := b.(type) {
	case *glean.EntryBlock:
		return NewSet[glean.Block](b)
	case *glean.InnerBlock:
		switch b.Op.(type) {
		case *glean.AssignOp, *glean.CallOp:
			return NewSet[glean.Block](b)
		}
	}
	return NewSet[glean.Block]()
}

// Kill returns every other block defining a variable that b defines.
func (a *ReachingDefinitions) Kill(b glean.Block) Set[glean.Block] {
	kill := NewSet[glean.Block]()
	for _, name := range a.defines[b] {
		for _, def := range a.defs[name].Items() {
			if def != b {
				kill.Add(def)
			}
		}
	}
	return kill
}

// Defines reports whether block b defines the variable name.
func (a *ReachingDefinitions) Defines(b glean.Block, name string) bool {
	return a.defs[name].Contains(b)
}

// DefUse pairs a definition of a variable with a block reading it.
type DefUse struct {
	Var *glean.Variable
	Def glean.Block
	Use glean.Block
}

func (du DefUse) String() string {
	return fmt.Sprintf("%s: b%d -> b%d", du.Var.Name, du.Def.ID(), du.Use.ID())
}

// DefUses extracts def-use chains from a reaching definitions result.
//
// Each variable read by an inner block or by the exit is paired with every
// definition of that variable in the block's input set. Chains are ordered by
// use block, then by read order, then by definition block ID.
func (a *ReachingDefinitions) DefUses(result *Result[Set[glean.Block]]) []DefUse {
	var dus []DefUse
	for _, use := range result.Graph().Blocks() {
		switch use.(type) {
		case *glean.InnerBlock, *glean.ExitBlock:
		default:
			continue
		}

		in := result.In(use)
		for _, v := range glean.BlockReads(use) {
			defs := make([]glean.Block, 0)
			for _, def := range in.Items() {
				if a.Defines(def, v.Name) {
					defs = append(defs, def)
				}
			}
			sort.Slice(defs, func(i, j int) bool { return defs[i].ID() < defs[j].ID() })

			for _, def := range defs {
				dus = append(dus, DefUse{Var: v, Def: def, Use: use})
			}
		}
	}
	return dus
}

// ComputeDefUses runs reaching definitions over g and returns its def-use chains.
func ComputeDefUses(g glean.FlowGraph) ([]DefUse, error) {
	var rd ReachingDefinitions
	result, err := Run(g, NewGenKill[glean.Block](&rd))
	if err != nil {
		return nil, err
	}
	return rd.DefUses(result), nil
}

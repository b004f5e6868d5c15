// Package interproc propagates parameter reachability across procedure calls.
package interproc

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/glean"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// Procedure is a node of the call graph.
type Procedure struct {
	id   int64
	Name string
}

var _ graph.Node = (*Procedure)(nil)

// ID implements graph.Node.
func (p *Procedure) ID() int64 { return p.id }

func (p *Procedure) String() string { return p.Name }

// CallGraph holds procedures and the calls between them. Procedures are
// identified by name.
type CallGraph struct {
	g      *simple.DirectedGraph
	byName map[string]*Procedure
	procs  []*Procedure
}

func NewCallGraph() *CallGraph {
	return &CallGraph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*Procedure),
	}
}

// AddProcedure returns the procedure with the given name, creating it if needed.
func (cg *CallGraph) AddProcedure(name string) *Procedure {
	if p := cg.byName[name]; p != nil {
		return p
	}
	p := &Procedure{id: int64(len(cg.procs)), Name: name}
	cg.g.AddNode(p)
	cg.byName[name] = p
	cg.procs = append(cg.procs, p)
	return p
}

// Procedure returns the procedure with the given name, or nil.
func (cg *CallGraph) Procedure(name string) *Procedure { return cg.byName[name] }

// Procedures returns all procedures in insertion order.
func (cg *CallGraph) Procedures() []*Procedure { return cg.procs }

// AddCall records that caller calls callee. Recursive calls are not stored
// since they cannot add new parameters to the propagation.
func (cg *CallGraph) AddCall(caller, callee *Procedure) {
	if caller == callee || cg.g.HasEdgeFromTo(caller.ID(), callee.ID()) {
		return
	}
	cg.g.SetEdge(cg.g.NewEdge(caller, callee))
}

// Callees returns the procedures called by p, ordered by ID.
func (cg *CallGraph) Callees(p *Procedure) []*Procedure {
	var a []*Procedure
	for it := cg.g.From(p.ID()); it.Next(); {
		a = append(a, it.Node().(*Procedure))
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID() < a[j].ID() })
	return a
}

// Callers returns the procedures calling p, ordered by ID.
func (cg *CallGraph) Callers(p *Procedure) []*Procedure {
	var a []*Procedure
	for it := cg.g.To(p.ID()); it.Next(); {
		a = append(a, it.Node().(*Procedure))
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID() < a[j].ID() })
	return a
}

// resolve finds the procedure targeted by a call from caller. Callees of the
// caller are searched first.
func (cg *CallGraph) resolve(caller *Procedure, sig *glean.ProcedureSignature) *Procedure {
	for _, callee := range cg.Callees(caller) {
		if callee.Name == sig.Name {
			return callee
		}
	}
	return cg.byName[sig.Name]
}

// FlowGraphProvider returns the flow graph of a procedure. A nil graph means
// that no body is known for the procedure.
type FlowGraphProvider interface {
	FlowGraph(p *Procedure) (glean.FlowGraph, error)
}

// FlowGraphs is a FlowGraphProvider backed by a map of procedure names.
type FlowGraphs map[string]glean.FlowGraph

func (m FlowGraphs) FlowGraph(p *Procedure) (glean.FlowGraph, error) {
	return m[p.Name], nil
}

// ParameterRef identifies a parameter of a procedure.
type ParameterRef struct {
	Procedure *Procedure
	Param     string
}

func (r ParameterRef) String() string {
	return fmt.Sprintf("%s.%s", r.Procedure.Name, r.Param)
}

package interproc

import (
	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/dataflow"
)

// Propagator computes the parameters reachable from an initial set of
// parameters through direct assignments and call arguments.
//
// Flow through fields, pointers or return values is not tracked.
type Propagator struct {
	callGraph *CallGraph
	provider  FlowGraphProvider

	// def-use chains per procedure, scoped to a single Propagate call
	defUses map[*Procedure][]dataflow.DefUse

	Logger *config.LogGroup
}

func NewPropagator(cg *CallGraph, provider FlowGraphProvider) *Propagator {
	return &Propagator{
		callGraph: cg,
		provider:  provider,
		Logger:    config.NewLogGroup(nil),
	}
}

// Propagate returns the initial parameters plus every parameter they reach,
// in discovery order.
func (p *Propagator) Propagate(initial ...ParameterRef) ([]ParameterRef, error) {
	p.defUses = make(map[*Procedure][]dataflow.DefUse)
	defer func() { p.defUses = nil }()

	var result []ParameterRef
	seen := make(map[ParameterRef]struct{})
	var queue []ParameterRef

	push := func(ref ParameterRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		result = append(result, ref)
		queue = append(queue, ref)
	}
	for _, ref := range initial {
		push(ref)
	}

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		found, err := p.visit(ref)
		if err != nil {
			return nil, err
		}
		for _, ref := range found {
			push(ref)
		}
	}
	return result, nil
}

// visit follows the uses of one parameter within its procedure and returns
// the callee parameters it flows into.
func (p *Propagator) visit(ref ParameterRef) ([]ParameterRef, error) {
	g, err := p.provider.FlowGraph(ref.Procedure)
	if err != nil {
		return nil, err
	} else if g == nil {
		p.Logger.Debugf("[propagate] %s: no body", ref.Procedure)
		return nil, nil
	}

	dus, err := p.procedureDefUses(ref.Procedure, g)
	if err != nil {
		return nil, err
	}

	var queue []dataflow.DefUse
	for _, du := range dus {
		if du.Def == glean.Block(g.Entry()) && du.Var.Name == ref.Param {
			queue = append(queue, du)
		}
	}

	var found []ParameterRef
	seen := make(map[dataflow.DefUse]struct{})
	for len(queue) > 0 {
		du := queue[0]
		queue = queue[1:]
		if _, ok := seen[du]; ok {
			continue
		}
		seen[du] = struct{}{}
		p.Logger.Tracef("[propagate] %s: %s", ref, du)

		use, ok := du.Use.(*glean.InnerBlock)
		if !ok {
			continue
		}

		switch op := use.Op.(type) {
		case *glean.CallOp:
			callee := p.callGraph.resolve(ref.Procedure, op.Signature)
			if callee == nil {
				p.Logger.Debugf("[propagate] %s: unresolved callee %s", ref.Procedure, op.Signature.Name)
				continue
			}
			needle := glean.NewVarRef(du.Var)
			for i, arg := range op.Args {
				if !glean.ContainsExpr(arg, needle) {
					continue
				} else if i >= len(op.Signature.Params) {
					p.Logger.Warnf("[propagate] %s: argument %d has no parameter in %s", ref.Procedure, i, op.Signature)
					continue
				}
				found = append(found, ParameterRef{Procedure: callee, Param: op.Signature.Params[i].Name})
			}

		case *glean.AssignOp:
			for _, next := range dus {
				if next.Def == du.Use {
					queue = append(queue, next)
				}
			}
		}
	}
	return found, nil
}

func (p *Propagator) procedureDefUses(proc *Procedure, g glean.FlowGraph) ([]dataflow.DefUse, error) {
	if dus, ok := p.defUses[proc]; ok {
		return dus, nil
	}
	dus, err := dataflow.ComputeDefUses(g)
	if err != nil {
		return nil, err
	}
	p.defUses[proc] = dus
	return dus, nil
}

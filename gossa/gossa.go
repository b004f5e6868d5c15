// Package gossa converts Go functions in SSA form into glean flow graphs and
// builds the static call graph between them.
//
// Only functions over booleans and fixed-size integers can be converted.
package gossa

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"go/types"
	"sort"

	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/interproc"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// UnsupportedError is returned for Go code that has no flow graph
// representation.
type UnsupportedError struct {
	Func    string
	Pos     token.Position
	Message string
}

func (e *UnsupportedError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("gossa: %s: %s: %s", e.Pos, e.Func, e.Message)
	}
	return fmt.Sprintf("gossa: %s: %s", e.Func, e.Message)
}

var _ interproc.FlowGraphProvider = (*Program)(nil)

// Program holds the SSA form of a set of packages and the flow graphs
// converted from it.
type Program struct {
	prog  *ssa.Program
	pkgs  []*ssa.Package
	sizes types.Sizes

	graphs map[*ssa.Function]*glean.Graph
	errs   map[*ssa.Function]error
	funcs  map[string]*ssa.Function // by procedure name

	callGraph *interproc.CallGraph

	Logger *config.LogGroup
}

// Load loads and type checks the packages matching patterns and builds
// their SSA form.
func Load(ctx context.Context, c *config.Config, patterns ...string) (*Program, error) {
	initial, err := packages.Load(&packages.Config{
		Context: ctx,
		Mode:    packages.LoadAllSyntax,
	}, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(initial) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	} else if len(initial) == 0 {
		return nil, fmt.Errorf("no packages matching %v", patterns)
	}

	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
	}
	prog.Build()

	p, err := NewProgram(prog, pkgs, c.Frontend.Arch)
	if err != nil {
		return nil, err
	}
	p.Logger = config.NewLogGroup(c)
	return p, nil
}

// NewProgram returns a program over the given packages of prog. Integer
// widths follow the gc compiler for arch.
func NewProgram(prog *ssa.Program, pkgs []*ssa.Package, arch string) (*Program, error) {
	sizes := types.SizesFor("gc", arch)
	if sizes == nil {
		return nil, fmt.Errorf("gossa: unknown architecture %q", arch)
	}
	return &Program{
		prog:   prog,
		pkgs:   pkgs,
		sizes:  sizes,
		graphs: make(map[*ssa.Function]*glean.Graph),
		errs:   make(map[*ssa.Function]error),
		funcs:  make(map[string]*ssa.Function),
		Logger: config.NewLogGroup(nil),
	}, nil
}

// SSA returns the underlying SSA program.
func (p *Program) SSA() *ssa.Program { return p.prog }

// Functions returns the package-level functions of the loaded packages,
// sorted by name.
func (p *Program) Functions() []*ssa.Function {
	var fns []*ssa.Function
	for _, pkg := range p.pkgs {
		for _, m := range pkg.Members {
			if fn, ok := m.(*ssa.Function); ok && fn.Synthetic == "" {
				fns = append(fns, fn)
			}
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	return fns
}

// LookupFunction returns the function with the given name. The name may be
// qualified by its package path.
func (p *Program) LookupFunction(name string) (*ssa.Function, error) {
	var found *ssa.Function
	for _, fn := range p.Functions() {
		if fn.String() == name {
			return fn, nil
		} else if fn.Name() != name {
			continue
		} else if found != nil {
			return nil, fmt.Errorf("gossa: ambiguous function name %q: %s, %s", name, found, fn)
		}
		found = fn
	}
	if found == nil {
		return nil, fmt.Errorf("gossa: function %q not found", name)
	}
	return found, nil
}

// ProcedureName returns the name used for fn in flow graphs and call graphs.
func ProcedureName(fn *ssa.Function) string { return fn.String() }

// Convert returns the flow graph of fn. Results are cached. A function
// without a body has no graph and returns nil.
func (p *Program) Convert(fn *ssa.Function) (*glean.Graph, error) {
	if g, ok := p.graphs[fn]; ok {
		return g, nil
	} else if err, ok := p.errs[fn]; ok {
		return nil, err
	}

	g, err := newConverter(p, fn).convert()
	if err != nil {
		p.errs[fn] = err
		return nil, err
	}
	if g != nil {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("gossa: %s: %w", fn, err)
		}
		p.Logger.Debugf("[gossa] converted %s: %d blocks", fn, len(g.Blocks()))
	}
	p.graphs[fn] = g
	return g, nil
}

// CallGraph returns the static call graph of the loaded functions. Callees
// outside of the loaded packages are included as procedures.
func (p *Program) CallGraph() *interproc.CallGraph {
	if p.callGraph != nil {
		return p.callGraph
	}

	cg := interproc.NewCallGraph()
	for _, fn := range p.Functions() {
		caller := p.addProcedure(cg, fn)
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				if callee := call.Common().StaticCallee(); callee != nil {
					cg.AddCall(caller, p.addProcedure(cg, callee))
				}
			}
		}
	}
	p.callGraph = cg
	return cg
}

func (p *Program) addProcedure(cg *interproc.CallGraph, fn *ssa.Function) *interproc.Procedure {
	name := ProcedureName(fn)
	p.funcs[name] = fn
	return cg.AddProcedure(name)
}

// Procedure returns the call graph procedure of fn.
func (p *Program) Procedure(fn *ssa.Function) *interproc.Procedure {
	return p.CallGraph().Procedure(ProcedureName(fn))
}

// FlowGraph implements interproc.FlowGraphProvider. Procedures that cannot be
// converted are reported as having no body.
func (p *Program) FlowGraph(proc *interproc.Procedure) (glean.FlowGraph, error) {
	fn := p.funcs[proc.Name]
	if fn == nil {
		return nil, nil
	}

	g, err := p.Convert(fn)
	var unsupported *UnsupportedError
	if errors.As(err, &unsupported) {
		p.Logger.Warnf("[gossa] skipping %s: %s", proc, err)
		return nil, nil
	} else if err != nil {
		return nil, err
	} else if g == nil {
		return nil, nil
	}
	return g, nil
}

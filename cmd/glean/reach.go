package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/gossa"
	"github.com/benbjohnson/glean/smt"
)

// ReachCommand represents a command for deciding whether a function returns.
type ReachCommand struct {
	Stdout io.Writer
	Stderr io.Writer

	// Solver factory. Defaults to the solver process from the configuration.
	Factory glean.SolverFactory
}

// NewReachCommand returns a new instance of ReachCommand.
func NewReachCommand() *ReachCommand {
	return &ReachCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "reach" subcommand.
func (cmd *ReachCommand) Run(ctx context.Context, args []string) error {
	var flags commonFlags
	var assumptions stringSlice
	fs := flag.NewFlagSet("glean-reach", flag.ContinueOnError)
	flags.register(fs)
	fs.Var(&assumptions, "assume", "constraint on parameters and results")
	ret := fs.String("return", "", "required value of the first result")
	fs.SetOutput(cmd.Stderr)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 2 {
		return fmt.Errorf("package and function required")
	}
	pkg, name := fs.Arg(0), fs.Arg(1)

	c, err := flags.loadConfig(cmd.Stderr)
	if err != nil {
		return err
	}
	logger := config.NewLogGroup(c)
	logger.SetAllOutput(cmd.Stderr)

	prog, err := gossa.Load(ctx, c, pkg)
	if err != nil {
		return err
	}
	prog.Logger = logger

	fn, err := prog.LookupFunction(name)
	if err != nil {
		return err
	}
	g, err := prog.Convert(fn)
	if err != nil {
		return err
	} else if g == nil {
		return fmt.Errorf("%s has no body", fn)
	}

	symbols, err := prog.Symbols(fn)
	if err != nil {
		return err
	}
	if *ret != "" {
		assumptions = append(assumptions, "ret == "+*ret)
	}

	r := glean.NewReachability(g)
	r.Logger = logger
	for _, src := range assumptions {
		expr, err := gossa.ParseConstraint(src, symbols)
		if err != nil {
			return err
		} else if err := r.Constrain(expr); err != nil {
			return err
		}
	}

	factory := cmd.Factory
	if factory == nil {
		factory = smt.NewFactory(c, logger)
	}

	if c.Solver.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Solver.Timeout)
		defer cancel()
	}

	result, err := r.Analyze(ctx, factory)
	if err != nil {
		return err
	}

	color := isTerminal(cmd.Stdout)
	switch result.(type) {
	case *glean.Reachable:
		writeln(cmd.Stdout, color, escapeGreen, "%s", result)
	case *glean.Unreachable:
		writeln(cmd.Stdout, color, escapeRed, "%s", result)
	default:
		writeln(cmd.Stdout, color, escapeYellow, "%s", result)
	}
	return nil
}

func (cmd *ReachCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: glean reach [arguments] package function

Decides whether function can return when every constraint holds. Prints
parameter values reaching the return when one is found.

Constraints are Go boolean expressions over the parameters of function and
its results, named ret, ret1, ret2 and so on.

Arguments:

	-assume EXPR
	    Add a constraint. May be repeated.
	-return VALUE
	    Require the first result to equal VALUE.
	-config PATH
	    Read configuration from a YAML file.
	-v
	    Enable verbose logging.
`[1:])
}

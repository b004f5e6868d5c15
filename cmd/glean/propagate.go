package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/gossa"
	"github.com/benbjohnson/glean/interproc"
)

// PropagateCommand represents a command for finding the parameters that
// receive values derived from a set of parameters.
type PropagateCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewPropagateCommand returns a new instance of PropagateCommand.
func NewPropagateCommand() *PropagateCommand {
	return &PropagateCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "propagate" subcommand.
func (cmd *PropagateCommand) Run(ctx context.Context, args []string) error {
	var flags commonFlags
	fs := flag.NewFlagSet("glean-propagate", flag.ContinueOnError)
	flags.register(fs)
	fs.SetOutput(cmd.Stderr)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() < 2 {
		return fmt.Errorf("package and at least one parameter required")
	}

	c, err := flags.loadConfig(cmd.Stderr)
	if err != nil {
		return err
	}
	logger := config.NewLogGroup(c)
	logger.SetAllOutput(cmd.Stderr)

	prog, err := gossa.Load(ctx, c, fs.Arg(0))
	if err != nil {
		return err
	}
	prog.Logger = logger

	var initial []interproc.ParameterRef
	for _, arg := range fs.Args()[1:] {
		i := strings.LastIndex(arg, ":")
		if i < 0 {
			return fmt.Errorf("invalid parameter %q, expected FUNC:PARAM", arg)
		}

		fn, err := prog.LookupFunction(arg[:i])
		if err != nil {
			return err
		}
		initial = append(initial, interproc.ParameterRef{
			Procedure: prog.Procedure(fn),
			Param:     arg[i+1:],
		})
	}

	p := interproc.NewPropagator(prog.CallGraph(), prog)
	p.Logger = logger

	refs, err := p.Propagate(initial...)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Fprintln(cmd.Stdout, ref)
	}
	return nil
}

func (cmd *PropagateCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: glean propagate [arguments] package function:param...

Prints every parameter, across the functions of package, that may receive
a value derived from one of the given parameters.

Arguments:

	-config PATH
	    Read configuration from a YAML file.
	-v
	    Enable verbose logging.
`[1:])
}

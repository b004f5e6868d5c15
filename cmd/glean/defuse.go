package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/glean/config"
	"github.com/benbjohnson/glean/dataflow"
	"github.com/benbjohnson/glean/gossa"
)

// DefUseCommand represents a command for printing def-use chains.
type DefUseCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewDefUseCommand returns a new instance of DefUseCommand.
func NewDefUseCommand() *DefUseCommand {
	return &DefUseCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "defuse" subcommand.
func (cmd *DefUseCommand) Run(ctx context.Context, args []string) error {
	var flags commonFlags
	fs := flag.NewFlagSet("glean-defuse", flag.ContinueOnError)
	flags.register(fs)
	dump := fs.Bool("graph", false, "print the flow graph first")
	fs.SetOutput(cmd.Stderr)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 2 {
		return fmt.Errorf("package and function required")
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

	fn, err := prog.LookupFunction(fs.Arg(1))
	if err != nil {
		return err
	}
	g, err := prog.Convert(fn)
	if err != nil {
		return err
	} else if g == nil {
		return fmt.Errorf("%s has no body", fn)
	}

	if *dump {
		fmt.Fprintln(cmd.Stdout, g.Dump())
	}

	dus, err := dataflow.ComputeDefUses(g)
	if err != nil {
		return err
	}
	for _, du := range dus {
		fmt.Fprintln(cmd.Stdout, du)
	}
	return nil
}

func (cmd *DefUseCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: glean defuse [arguments] package function

Prints every definition of a variable and the blocks that may read it.

Arguments:

	-graph
	    Print the flow graph of function first.
	-config PATH
	    Read configuration from a YAML file.
	-v
	    Enable verbose logging.
`[1:])
}

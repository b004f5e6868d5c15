package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/benbjohnson/glean/config"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/term"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "reach":
		return NewReachCommand().Run(ctx, args)
	case "defuse":
		return NewDefUseCommand().Run(ctx, args)
	case "propagate":
		return NewPropagateCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`glean %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Glean is a tool for data flow analysis and symbolic execution of Go code.

Usage:

	glean <command> [arguments]

The commands are:

	reach       decide whether a function can return under constraints
	defuse      print the def-use chains of a function
	propagate   print the parameters reachable from a set of parameters
	help        this screen
`[1:])
}

// commonFlags holds the flags shared by every command.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "configuration file")
	fs.BoolVar(&f.verbose, "v", false, "verbose")
}

// loadConfig reads the configuration file, if any, and applies the flags.
// Verbose mode raises the log level to debug and dumps the configuration.
func (f *commonFlags) loadConfig(w io.Writer) (*config.Config, error) {
	c := config.NewDefault()
	if f.configPath != "" {
		var err error
		if c, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if f.verbose {
		if c.LogLevel < int(config.DebugLevel) {
			c.LogLevel = int(config.DebugLevel)
		}
		dumpConfig.Fdump(w, c)
	}
	return c, nil
}

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// stringSlice is a repeatable string flag.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Terminal escape sequences used for verdicts.
const (
	escapeRed    = "\x1b[31m"
	escapeGreen  = "\x1b[32m"
	escapeYellow = "\x1b[33m"
	escapeReset  = "\x1b[0m"
)

// isTerminal returns true if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeln prints a line to w, wrapped in escape if color is enabled.
func writeln(w io.Writer, color bool, escape string, format string, a ...any) {
	s := fmt.Sprintf(format, a...)
	if color && escape != "" {
		s = escape + s + escapeReset
	}
	fmt.Fprintln(w, s)
}

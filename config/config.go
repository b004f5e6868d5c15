package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for unset fields.
const (
	DefaultSolverPath = "z3"
	DefaultArch       = "amd64"
)

// DefaultSolverArgs are the arguments passed to the default solver so that it
// reads an SMT-LIB script from standard input.
var DefaultSolverArgs = []string{"-in", "-smt2"}

// Config holds the settings shared by the command line tools.
// If some field is not defined in the config file, it is set to its default
// by Load.
type Config struct {
	sourceFile string

	// LogLevel controls the verbosity of the tool (1=error .. 5=trace).
	LogLevel int `yaml:"log-level"`

	// Solver configures the external decision procedure.
	Solver SolverOptions `yaml:"solver"`

	// Frontend configures the conversion of Go code into flow graphs.
	Frontend FrontendOptions `yaml:"frontend"`
}

// SolverOptions describes how to start the solver process.
type SolverOptions struct {
	// Path is the executable, looked up in PATH if not absolute.
	Path string `yaml:"path"`

	// Args are passed to the executable unchanged.
	Args []string `yaml:"args"`

	// Timeout bounds a single reachability query. Zero means no bound.
	Timeout time.Duration `yaml:"timeout"`

	// Trace echoes every solver command to the debug log.
	Trace bool `yaml:"trace"`
}

// FrontendOptions configures the Go front end.
type FrontendOptions struct {
	// Arch selects the type sizes used to choose bit-vector widths.
	Arch string `yaml:"arch"`
}

// NewDefault returns a config with every field set to its default.
func NewDefault() *Config {
	return &Config{
		LogLevel: int(InfoLevel),
		Solver: SolverOptions{
			Path: DefaultSolverPath,
			Args: append([]string(nil), DefaultSolverArgs...),
		},
		Frontend: FrontendOptions{
			Arch: DefaultArch,
		},
	}
}

// Load reads a configuration from a YAML file.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", filename, err)
	}
	cfg.sourceFile = filename
	return cfg, nil
}

// Parse decodes a YAML document on top of the default configuration.
func Parse(b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}

	// An explicit zero level falls back to Info.
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	if cfg.LogLevel < int(ErrLevel) || cfg.LogLevel > int(TraceLevel) {
		return nil, fmt.Errorf("log-level must be between %d and %d, got %d", ErrLevel, TraceLevel, cfg.LogLevel)
	}
	if cfg.Solver.Path == "" {
		cfg.Solver.Path = DefaultSolverPath
		if len(cfg.Solver.Args) == 0 {
			cfg.Solver.Args = append([]string(nil), DefaultSolverArgs...)
		}
	}
	if cfg.Solver.Timeout < 0 {
		return nil, fmt.Errorf("solver timeout must not be negative")
	}
	if cfg.Frontend.Arch == "" {
		cfg.Frontend.Arch = DefaultArch
	}
	return cfg, nil
}

// SourceFile returns the file the config was loaded from, if any.
func (c Config) SourceFile() string { return c.sourceFile }

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

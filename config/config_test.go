package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/glean/config"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParse(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		cfg, err := config.Parse(nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(config.NewDefault(), cfg, cmpopts.IgnoreUnexported(config.Config{})); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Full", func(t *testing.T) {
		cfg, err := config.Parse([]byte(`
log-level: 5
solver:
  path: /usr/bin/cvc5
  args: ["--lang", "smt2", "--incremental"]
  timeout: 1m30s
  trace: true
frontend:
  arch: "386"
`))
		if err != nil {
			t.Fatal(err)
		}
		exp := &config.Config{
			LogLevel: 5,
			Solver: config.SolverOptions{
				Path:    "/usr/bin/cvc5",
				Args:    []string{"--lang", "smt2", "--incremental"},
				Timeout: 90 * time.Second,
				Trace:   true,
			},
			Frontend: config.FrontendOptions{Arch: "386"},
		}
		if diff := cmp.Diff(exp, cfg, cmpopts.IgnoreUnexported(config.Config{})); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrLogLevel", func(t *testing.T) {
		if _, err := config.Parse([]byte(`log-level: 9`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ErrNegativeTimeout", func(t *testing.T) {
		if _, err := config.Parse([]byte("solver:\n  timeout: -1s\n")); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ErrBadFormat", func(t *testing.T) {
		if _, err := config.Parse([]byte("solver: [1, 2")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(filename, []byte("log-level: 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(filename)
	if err != nil {
		t.Fatal(err)
	} else if got, exp := cfg.LogLevel, 4; got != exp {
		t.Fatalf("LogLevel=%d, expected %d", got, exp)
	} else if got, exp := cfg.SourceFile(), filename; got != exp {
		t.Fatalf("SourceFile()=%s, expected %s", got, exp)
	} else if got, exp := cfg.RelPath("x.yaml"), filepath.Join(dir, "x.yaml"); got != exp {
		t.Fatalf("RelPath()=%s, expected %s", got, exp)
	}

	if _, err := config.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogGroup(t *testing.T) {
	var buf bytes.Buffer
	l := config.NewLogGroup(&config.Config{LogLevel: int(config.WarnLevel)})
	l.SetAllOutput(&buf)
	l.SetAllFlags(0)

	l.Errorf("e%d", 1)
	l.Warnf("w%d", 2)
	l.Infof("i%d", 3)
	l.Debugf("d%d", 4)
	l.Tracef("t%d", 5)

	if got, exp := buf.String(), "[ERROR] e1\n[WARN] w2\n"; got != exp {
		t.Fatalf("unexpected output: %q", got)
	}

	buf.Reset()
	l.SetLevel(config.DebugLevel)
	if _, err := l.DebugWriter().Write([]byte("raw\n")); err != nil {
		t.Fatal(err)
	} else if !strings.Contains(buf.String(), "raw") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

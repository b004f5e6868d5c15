package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/glean/internal/solvertest"
)

const (
	branchPkg = "../../gossa/testdata/pkg003_branch"
	callPkg   = "../../gossa/testdata/pkg001_call"
)

// MustWriteConfig writes a config file that silences logging. Fatal on error.
func MustWriteConfig(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "glean.yaml")
	if err := os.WriteFile(path, []byte("log-level: 1\n"), 0o666); err != nil {
		tb.Fatal(err)
	}
	return path
}

func TestReachCommand_Run(t *testing.T) {
	run := func(tb testing.TB, args ...string) (string, error) {
		tb.Helper()
		var stdout, stderr bytes.Buffer
		cmd := NewReachCommand()
		cmd.Stdout, cmd.Stderr = &stdout, &stderr
		cmd.Factory = solvertest.NewFactory()
		err := cmd.Run(context.Background(), append([]string{"-config", MustWriteConfig(tb)}, args...))
		return strings.TrimSpace(stdout.String()), err
	}

	t.Run("Reachable", func(t *testing.T) {
		if out, err := run(t, "-return", "-5", "-assume", "x < 0", branchPkg, "abs"); err != nil {
			t.Fatal(err)
		} else if out != "reachable x=-5" {
			t.Fatalf("unexpected output: %q", out)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		if out, err := run(t, "-return", "1", "-assume", "a == 1", branchPkg, "sign"); err != nil {
			t.Fatal(err)
		} else if out != "unreachable" {
			t.Fatalf("unexpected output: %q", out)
		}
	})

	t.Run("ErrInvalidConstraint", func(t *testing.T) {
		if _, err := run(t, "-assume", "missing > 0", branchPkg, "sign"); err == nil || !strings.Contains(err.Error(), "undefined: missing") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrArgs", func(t *testing.T) {
		if _, err := run(t, branchPkg); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestDefUseCommand_Run(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := NewDefUseCommand()
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(context.Background(), []string{"-config", MustWriteConfig(t), branchPkg, "sign"}); err != nil {
		t.Fatal(err)
	} else if !strings.Contains(stdout.String(), "a: b0 -> ") {
		t.Fatalf("unexpected output: %s", stdout.String())
	}
}

func TestPropagateCommand_Run(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := NewPropagateCommand()
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(context.Background(), []string{"-config", MustWriteConfig(t), callPkg, "caller:x"}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], ".caller.x") || !strings.HasSuffix(lines[1], ".callee.a") {
		t.Fatalf("unexpected output: %q", lines)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"bad"}); err == nil || err.Error() != "glean bad: unknown command" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Package smt implements glean.Solver by driving an external SMT-LIB solver
// process, such as "z3 -in -smt2", over its standard input and output.
package smt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/benbjohnson/glean"
	"github.com/benbjohnson/glean/config"
	"github.com/pkg/errors"
)

// Error is returned when the solver reports an error or replies with
// something the driver does not understand.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("smt: %s: %s", e.Op, e.Message)
}

// Stats holds statistics for a solver.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}

var _ glean.SolverFactory = (*Factory)(nil)

// Factory starts a new solver process for every solver.
type Factory struct {
	// Executable and arguments of the solver process.
	Path string
	Args []string

	// Environment of the solver process. Inherited if nil.
	Env []string

	// If set, every command sent to the solver is written to Trace.
	Trace io.Writer

	Logger *config.LogGroup
}

// NewFactory returns a factory configured from c. If c.Solver.Trace is set,
// commands are echoed to the logger's debug output.
func NewFactory(c *config.Config, logger *config.LogGroup) *Factory {
	if logger == nil {
		logger = config.NewLogGroup(c)
	}
	f := &Factory{
		Path:   c.Solver.Path,
		Args:   c.Solver.Args,
		Logger: logger,
	}
	if c.Solver.Trace {
		f.Trace = logger.DebugWriter()
	}
	return f
}

// NewSolver starts a solver process. The process is killed if ctx is done
// before the solver is closed.
func (f *Factory) NewSolver(ctx context.Context) (glean.Solver, error) {
	logger := f.Logger
	if logger == nil {
		logger = config.NewLogGroup(nil)
	}

	cmd := exec.CommandContext(ctx, f.Path, f.Args...)
	cmd.Env = f.Env
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "smt: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "smt: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "smt: start %s", f.Path)
	}
	logger.Tracef("[smt] started %s (pid %d)", f.Path, cmd.Process.Pid)

	s := &Solver{
		cmd:      cmd,
		stdin:    stdin,
		w:        bufio.NewWriter(stdin),
		r:        bufio.NewReader(stdout),
		trace:    f.Trace,
		logger:   logger,
		declared: make(map[string]*glean.FuncDecl),
	}
	if err := s.command("set-option", "(set-option :print-success true)"); err != nil {
		s.kill()
		return nil, err
	} else if err := s.command("set-logic", "(set-logic ALL)"); err != nil {
		s.kill()
		return nil, err
	}
	return s, nil
}

var _ glean.Solver = (*Solver)(nil)

// Solver is a running solver process.
type Solver struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	r      *bufio.Reader
	trace  io.Writer
	logger *config.LogGroup
	closed bool

	// declared user functions by name
	declared map[string]*glean.FuncDecl

	stats Stats
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats { return s.stats }

// Assert declares any function in t not yet declared and asserts t.
func (s *Solver) Assert(t glean.Term) error {
	if s.closed {
		return glean.ErrSolverClosed
	} else if sort := glean.TermSort(t); sort != glean.SortBool {
		return fmt.Errorf("smt: cannot assert term of sort %s", sort)
	}

	if err := s.declare(t); err != nil {
		return err
	}
	return s.command("assert", "(assert "+t.String()+")")
}

// declare sends a declaration for every function in t not declared yet.
func (s *Solver) declare(t glean.Term) error {
	var decls []*glean.FuncDecl
	var err error
	glean.TermFuncs(t, func(f *glean.FuncDecl) {
		if prev, ok := s.declared[f.Name]; ok {
			if err == nil && prev.Declaration() != f.Declaration() {
				err = fmt.Errorf("smt: conflicting declarations of %s", glean.Symbol(f.Name))
			}
			return
		}
		s.declared[f.Name] = f
		decls = append(decls, f)
	})
	if err != nil {
		return err
	}

	for _, f := range decls {
		if err := s.command("declare", f.Declaration()); err != nil {
			return err
		}
	}
	return nil
}

// CheckSatisfiability checks the assertions sent so far. If they are
// satisfiable, fn is invoked with the solver's model.
func (s *Solver) CheckSatisfiability(fn func(glean.Model) error) (glean.Satisfiability, error) {
	if s.closed {
		return glean.SatisfiabilityUnknown, glean.ErrSolverClosed
	}

	t := time.Now()
	defer func() {
		s.stats.CheckN++
		s.stats.CheckTime += time.Since(t)
	}()

	if err := s.send("(check-sat)"); err != nil {
		return glean.SatisfiabilityUnknown, err
	}
	line, err := s.readLine()
	if err != nil {
		return glean.SatisfiabilityUnknown, err
	}

	switch line {
	case "sat":
		if fn != nil {
			if err := fn(&model{solver: s}); err != nil {
				return glean.Satisfiable, err
			}
		}
		return glean.Satisfiable, nil
	case "unsat":
		return glean.Unsatisfiable, nil
	case "unknown":
		return glean.SatisfiabilityUnknown, nil
	default:
		return glean.SatisfiabilityUnknown, responseError("check-sat", line)
	}
}

// Close asks the solver to exit and waits for the process.
func (s *Solver) Close() error {
	if s.closed {
		return glean.ErrSolverClosed
	}
	s.closed = true

	// The solver may already be gone. Its exit status is reported by Wait.
	_ = s.send("(exit)")
	if err := s.stdin.Close(); err != nil {
		s.logger.Debugf("[smt] close stdin: %s", err)
	}

	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Debugf("[smt] solver exited: %s", err)
			return nil
		}
		return errors.Wrap(err, "smt: wait")
	}
	return nil
}

// kill terminates a solver that failed to start up.
func (s *Solver) kill() {
	s.closed = true
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
}

// command sends a command and expects an acknowledgement.
func (s *Solver) command(op, cmd string) error {
	if err := s.send(cmd); err != nil {
		return err
	}
	line, err := s.readLine()
	if err != nil {
		return err
	} else if line != "success" {
		return responseError(op, line)
	}
	return nil
}

// send writes a single command line to the solver.
func (s *Solver) send(cmd string) error {
	s.logger.Tracef("[smt] > %s", cmd)
	if s.trace != nil {
		fmt.Fprintln(s.trace, cmd)
	}

	if _, err := s.w.WriteString(cmd + "\n"); err != nil {
		return errors.Wrap(err, "smt: write")
	} else if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, "smt: write")
	}
	return nil
}

// readLine reads a single non-empty response line.
func (s *Solver) readLine() (string, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return "", errors.Wrap(io.ErrUnexpectedEOF, "smt: read")
			}
			return "", errors.Wrap(err, "smt: read")
		}
		if line = strings.TrimSpace(line); line != "" {
			s.logger.Tracef("[smt] < %s", line)
			return line, nil
		}
	}
}

// readSExpr reads one balanced s-expression, which may span several lines.
func (s *Solver) readSExpr() (string, error) {
	var buf strings.Builder
	var depth int
	var started, quoted, str bool
	for {
		ch, _, err := s.r.ReadRune()
		if err == io.EOF {
			return "", errors.Wrap(io.ErrUnexpectedEOF, "smt: read")
		} else if err != nil {
			return "", errors.Wrap(err, "smt: read")
		}

		if !started {
			if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
				continue
			}
			started = true
		}
		buf.WriteRune(ch)

		switch {
		case quoted:
			quoted = ch != '|'
		case str:
			str = ch != '"'
		case ch == '|':
			quoted = true
		case ch == '"':
			str = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		}

		if depth <= 0 && !quoted && !str {
			if ch == ')' {
				break
			}
			// An atom reply such as an unparenthesized "unsupported" ends at a newline.
			if ch == '\n' {
				break
			}
			continue
		}
	}
	expr := strings.TrimSpace(buf.String())
	s.logger.Tracef("[smt] < %s", expr)
	return expr, nil
}

func responseError(op, line string) error {
	if strings.HasPrefix(line, "(error") {
		if expr, err := parseSExpr(line); err == nil && len(expr.list) == 2 {
			return &Error{Op: op, Message: expr.list[1].atom}
		}
		return &Error{Op: op, Message: line}
	}
	return &Error{Op: op, Message: fmt.Sprintf("unexpected response: %q", line)}
}

// model evaluates terms with get-value.
type model struct {
	solver *Solver
}

// Evaluate returns the value of t. A constant that was never asserted is
// unconstrained and evaluates to zero.
func (m *model) Evaluate(t glean.Term) (*glean.Literal, error) {
	s := m.solver
	if s.closed {
		return nil, glean.ErrSolverClosed
	}
	if lit, ok := t.(*glean.Literal); ok {
		return lit, nil
	}

	sort := glean.TermSort(t)
	if app, ok := t.(*glean.Apply); ok && len(app.Args) == 0 && !app.Func.Builtin {
		if _, ok := s.declared[app.Func.Name]; !ok {
			return &glean.Literal{Sort: sort}, nil
		}
	}
	var undeclared string
	glean.TermFuncs(t, func(f *glean.FuncDecl) {
		if _, ok := s.declared[f.Name]; !ok && undeclared == "" {
			undeclared = f.Name
		}
	})
	if undeclared != "" {
		return nil, fmt.Errorf("smt: cannot evaluate undeclared function %s", glean.Symbol(undeclared))
	}

	if err := s.send("(get-value (" + t.String() + "))"); err != nil {
		return nil, err
	}
	text, err := s.readSExpr()
	if err != nil {
		return nil, err
	}

	expr, err := parseSExpr(text)
	if err != nil {
		return nil, &Error{Op: "get-value", Message: err.Error()}
	} else if expr.isAtom() || (len(expr.list) > 0 && expr.list[0].atom == "error") {
		return nil, responseError("get-value", text)
	} else if len(expr.list) != 1 || len(expr.list[0].list) != 2 {
		return nil, &Error{Op: "get-value", Message: fmt.Sprintf("unexpected response: %q", text)}
	}

	lit, err := decodeLiteral(expr.list[0].list[1], sort)
	if err != nil {
		return nil, &Error{Op: "get-value", Message: err.Error()}
	}
	return lit, nil
}

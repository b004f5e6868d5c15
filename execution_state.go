package glean

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
	"github.com/davecgh/go-spew/spew"
)

// ExecutionState represents a set of paths that arrive at the same block.
// States are immutable; every transition returns a new state sharing its
// version map and condition stack with the previous one.
type ExecutionState struct {
	id    int
	block Block

	// Current version of every variable written on the path, by name.
	versions *immutable.SortedMap

	// Definitions asserted from the entry to this state.
	conditions ConditionStack

	// Path literal that holds iff execution followed this state's path.
	// A nil guard is true.
	guard Term

	// Branch condition taken on the last jump, not yet folded into the
	// condition stack. Nil if none.
	unmerged Term
}

// NewExecutionState returns the initial state of a procedure, located at its entry block.
func NewExecutionState(id int, entry *EntryBlock) *ExecutionState {
	return &ExecutionState{
		id:       id,
		block:    entry,
		versions: immutable.NewSortedMap(&stringComparer{}),
	}
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Block returns the block the state is located at.
func (s *ExecutionState) Block() Block { return s.block }

// Conditions returns the condition stack of the state.
func (s *ExecutionState) Conditions() ConditionStack { return s.conditions }

// Guard returns the path literal of the state.
func (s *ExecutionState) Guard() Term {
	if s.guard == nil {
		return BoolLiteral(true)
	}
	return s.guard
}

// UnmergedCondition returns the pending branch condition, or nil.
func (s *ExecutionState) UnmergedCondition() Term { return s.unmerged }

// pathCondition returns the guard conjoined with the unmerged condition.
func (s *ExecutionState) pathCondition() Term {
	if s.unmerged == nil {
		return s.Guard()
	}
	return And(s.Guard(), s.unmerged)
}

// Version returns the current version of the named variable.
// Zero is returned for variables that were never written.
func (s *ExecutionState) Version(name string) int {
	if v, ok := s.versions.Get(name); ok {
		return v.(int)
	}
	return 0
}

// Versions returns a copy of the version map.
func (s *ExecutionState) Versions() map[string]int {
	m := make(map[string]int, s.versions.Len())
	itr := s.versions.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		m[k.(string)] = v.(int)
	}
	return m
}

// clone returns a shallow copy of the state.
func (s *ExecutionState) clone() *ExecutionState {
	other := *s
	return &other
}

// WithBlock returns a copy of the state moved to b.
func (s *ExecutionState) WithBlock(b Block) *ExecutionState {
	other := s.clone()
	other.block = b
	return other
}

// WithVersion returns a copy of the state with a new version of a variable.
func (s *ExecutionState) WithVersion(name string, version int) *ExecutionState {
	other := s.clone()
	other.versions = s.versions.Set(name, version)
	return other
}

// WithCondition returns a copy of the state with t pushed on its condition stack.
func (s *ExecutionState) WithCondition(t Term) *ExecutionState {
	other := s.clone()
	other.conditions = s.conditions.Push(t)
	return other
}

// WithUnmergedCondition returns a copy of the state with a pending branch condition.
func (s *ExecutionState) WithUnmergedCondition(t Term) *ExecutionState {
	other := s.clone()
	other.unmerged = t
	return other
}

// Dump returns a human readable description of the state.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "block=%s\n", s.block)
	fmt.Fprintf(&buf, "guard=%s\n", s.Guard())
	if s.unmerged != nil {
		fmt.Fprintf(&buf, "unmerged=%s\n", s.unmerged)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== VERSIONS")
	fmt.Fprint(&buf, dumpConfig.Sdump(s.Versions()))
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONDITIONS")
	for i, t := range s.conditions.Slice() {
		fmt.Fprintf(&buf, "%d. %s\n", i, t.String())
	}
	return buf.String()
}

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// ExecutionStatus represents the verdict of an execution.
type ExecutionStatus string

const (
	ExecutionStatusReachable   = ExecutionStatus("reachable")   // a target is reachable
	ExecutionStatusUnreachable = ExecutionStatus("unreachable") // no target is reachable
	ExecutionStatusUnknown     = ExecutionStatus("unknown")     // the solver could not decide
)

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	if i, j := a.(string), b.(string); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

package glean

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrCyclicGraph      = errors.New("glean: cyclic flow graph")
	ErrNoEntry          = errors.New("glean: flow graph has no entry block")
	ErrNoExit           = errors.New("glean: flow graph has no exit block")
	ErrNoTarget         = errors.New("glean: no target blocks")
	ErrUnknownParameter = errors.New("glean: unknown parameter")
	ErrSolverClosed     = errors.New("glean: solver closed")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

// bitmask returns a mask of the lowest width bits.
func bitmask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// signExtend interprets the lowest width bits of v as a two's complement integer.
func signExtend(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	shift := 64 - width
	return int64(v<<shift) >> shift
}

package protocol

import (
	"errors"
	"fmt"
)

// ErrParse is wrapped by every error returned from Parse.
var ErrParse = errors.New("protocol: parse error")

// ErrProgramExhausted is wrapped by ProgramExhaustedError.
var ErrProgramExhausted = errors.New("protocol: program exhausted")

// MalformedStepError reports a step line that is not exactly two numeric fields.
type MalformedStepError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedStepError) Error() string {
	return fmt.Sprintf("line %d: malformed step %q: %s", e.Line, e.Text, e.Reason)
}
func (e *MalformedStepError) Unwrap() error   { return ErrParse }
func (e *MalformedStepError) LineNumber() int { return e.Line }

// MalformedCycleError reports a --CYCLE line with a bad field count or repeat count.
type MalformedCycleError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedCycleError) Error() string {
	return fmt.Sprintf("line %d: malformed cycle marker %q: %s", e.Line, e.Text, e.Reason)
}
func (e *MalformedCycleError) Unwrap() error   { return ErrParse }
func (e *MalformedCycleError) LineNumber() int { return e.Line }

// UnsupportedCycleUnitError reports a --CYCLE unit other than "loops".
type UnsupportedCycleUnitError struct {
	Line int
	Unit string
}

func (e *UnsupportedCycleUnitError) Error() string {
	return fmt.Sprintf("line %d: unsupported cycle unit %q (only %q is supported)", e.Line, e.Unit, unitLoops)
}
func (e *UnsupportedCycleUnitError) Unwrap() error   { return ErrParse }
func (e *UnsupportedCycleUnitError) LineNumber() int { return e.Line }

// NestedCycleError reports a --CYCLE while another block is still open.
type NestedCycleError struct {
	Line     int
	OpenedAt int
}

func (e *NestedCycleError) Error() string {
	return fmt.Sprintf("line %d: cycle blocks cannot nest (block opened at line %d is still open)", e.Line, e.OpenedAt)
}
func (e *NestedCycleError) Unwrap() error   { return ErrParse }
func (e *NestedCycleError) LineNumber() int { return e.Line }

// UnterminatedCycleError reports end of input with a block still open.
type UnterminatedCycleError struct {
	Line int // line of the opening --CYCLE
}

func (e *UnterminatedCycleError) Error() string {
	return fmt.Sprintf("line %d: cycle block is never closed by %s", e.Line, markerEndCycle)
}
func (e *UnterminatedCycleError) Unwrap() error   { return ErrParse }
func (e *UnterminatedCycleError) LineNumber() int { return e.Line }

// UnexpectedEndCycleError reports --ENDCYCLE with no open block.
type UnexpectedEndCycleError struct {
	Line int
}

func (e *UnexpectedEndCycleError) Error() string {
	return fmt.Sprintf("line %d: %s without a matching %s", e.Line, markerEndCycle, markerCycle)
}
func (e *UnexpectedEndCycleError) Unwrap() error   { return ErrParse }
func (e *UnexpectedEndCycleError) LineNumber() int { return e.Line }

// ProgramTooLongError reports a protocol whose expanded program would exceed
// MaxProgramTicks. Line is where the limit was crossed.
type ProgramTooLongError struct {
	Line  int
	Ticks int
}

func (e *ProgramTooLongError) Error() string {
	return fmt.Sprintf("line %d: program exceeds %d ticks", e.Line, MaxProgramTicks)
}
func (e *ProgramTooLongError) Unwrap() error   { return ErrParse }
func (e *ProgramTooLongError) LineNumber() int { return e.Line }

// ProgramExhaustedError is returned by Lookup for ticks outside the program.
type ProgramExhaustedError struct {
	Tick int
	Len  int
}

func (e *ProgramExhaustedError) Error() string {
	return fmt.Sprintf("protocol: tick %d outside program of %d ticks", e.Tick, e.Len)
}
func (e *ProgramExhaustedError) Unwrap() error { return ErrProgramExhausted }

// LineOf extracts the offending line number from a parse error.
func LineOf(err error) (int, bool) {
	var l interface{ LineNumber() int }
	if errors.As(err, &l) {
		return l.LineNumber(), true
	}
	return 0, false
}

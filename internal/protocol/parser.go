// Package protocol compiles the PCR protocol mini-language into a tick-indexed
// setpoint program.
//
// The language is line oriented:
//
//	# comment
//	94, 300
//	--CYCLE, 30, loops
//	94, 30
//	57, 30
//	72, 60
//	--ENDCYCLE
//	4, 500
//
// Step lines are "<temperature>, <duration>". Cycle blocks are flat and are
// expanded in place when they close.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	commentPrefix  = "#"
	markerPrefix   = "--"
	markerCycle    = "--CYCLE"
	markerEndCycle = "--ENDCYCLE"
	unitLoops      = "loops"
)

// Limits on what a protocol may expand to.
const (
	MaxStepSeconds  = 24 * 60 * 60
	MaxCycleRepeat  = 10000
	MaxProgramTicks = 7 * 24 * 60 * 60
)

// Step is one (temperature, duration) pair of a protocol.
type Step struct {
	Temperature     float64 `json:"temperature"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Warning is a non-fatal diagnostic, e.g. an unrecognised "--" marker.
type Warning struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: unrecognised marker %q ignored", w.Line, w.Text)
}

// cycleBlock accumulates steps between --CYCLE and --ENDCYCLE.
type cycleBlock struct {
	repeat int
	steps  []Step
	line   int
}

// Parse reads a protocol and returns its steps with cycle blocks expanded.
func Parse(r io.Reader) ([]Step, []Warning, error) {
	var (
		out      []Step
		warnings []Warning
		block    *cycleBlock
		lineNo   int
		ticks    int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		switch {
		case strings.HasPrefix(line, markerEndCycle):
			if block == nil {
				return nil, warnings, &UnexpectedEndCycleError{Line: lineNo}
			}
			per := 0
			for _, st := range block.steps {
				per += stepTicks(st)
			}
			if block.repeat > 0 && per > (MaxProgramTicks-ticks)/block.repeat {
				return nil, warnings, &ProgramTooLongError{Line: lineNo, Ticks: ticks}
			}
			ticks += per * block.repeat
			for i := 0; i < block.repeat; i++ {
				out = append(out, block.steps...)
			}
			block = nil

		case strings.HasPrefix(line, markerCycle):
			if block != nil {
				return nil, warnings, &NestedCycleError{Line: lineNo, OpenedAt: block.line}
			}
			repeat, err := parseCycle(line, lineNo)
			if err != nil {
				return nil, warnings, err
			}
			block = &cycleBlock{repeat: repeat, line: lineNo}

		case strings.HasPrefix(line, markerPrefix):
			warnings = append(warnings, Warning{Line: lineNo, Text: line})

		default:
			step, err := parseStep(line, lineNo)
			if err != nil {
				return nil, warnings, err
			}
			if block != nil {
				block.steps = append(block.steps, step)
				continue
			}
			if ticks+stepTicks(step) > MaxProgramTicks {
				return nil, warnings, &ProgramTooLongError{Line: lineNo, Ticks: ticks}
			}
			ticks += stepTicks(step)
			out = append(out, step)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("read protocol: %w", err)
	}
	if block != nil {
		return nil, warnings, &UnterminatedCycleError{Line: block.line}
	}
	return out, warnings, nil
}

// ParseString is Parse over an in-memory protocol.
func ParseString(text string) ([]Step, []Warning, error) {
	return Parse(strings.NewReader(text))
}

// ParseFile is Parse over a protocol file.
func ParseFile(path string) ([]Step, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open protocol %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// parseCycle validates "--CYCLE, <n>, loops" and returns n.
func parseCycle(line string, lineNo int) (int, error) {
	fields := splitFields(line)
	if len(fields) != 3 || fields[0] != markerCycle {
		return 0, &MalformedCycleError{Line: lineNo, Text: line, Reason: "want \"--CYCLE, <count>, loops\""}
	}
	repeat, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, &MalformedCycleError{Line: lineNo, Text: line, Reason: "repeat count is not an integer"}
	}
	if repeat < 0 {
		return 0, &MalformedCycleError{Line: lineNo, Text: line, Reason: "repeat count is negative"}
	}
	if repeat > MaxCycleRepeat {
		return 0, &MalformedCycleError{Line: lineNo, Text: line, Reason: fmt.Sprintf("repeat count exceeds %d", MaxCycleRepeat)}
	}
	if fields[2] != unitLoops {
		return 0, &UnsupportedCycleUnitError{Line: lineNo, Unit: fields[2]}
	}
	return repeat, nil
}

func parseStep(line string, lineNo int) (Step, error) {
	fields := splitFields(line)
	if len(fields) != 2 {
		return Step{}, &MalformedStepError{Line: lineNo, Text: line, Reason: fmt.Sprintf("want 2 fields, got %d", len(fields))}
	}
	temp, err := parseNumber(fields[0])
	if err != nil {
		return Step{}, &MalformedStepError{Line: lineNo, Text: line, Reason: "temperature: " + err.Error()}
	}
	dur, err := parseNumber(fields[1])
	if err != nil {
		return Step{}, &MalformedStepError{Line: lineNo, Text: line, Reason: "duration: " + err.Error()}
	}
	if dur < 0 {
		return Step{}, &MalformedStepError{Line: lineNo, Text: line, Reason: "duration is negative"}
	}
	if dur > MaxStepSeconds {
		return Step{}, &MalformedStepError{Line: lineNo, Text: line, Reason: fmt.Sprintf("duration exceeds %d seconds", MaxStepSeconds)}
	}
	return Step{Temperature: temp, DurationSeconds: dur}, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

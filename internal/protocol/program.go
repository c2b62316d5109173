package protocol

import (
	"time"
)

// Program is a flat setpoint sequence, one entry per tick.
type Program struct {
	setpoints []float64
}

// Build expands every step into int(DurationSeconds) identical entries.
// Fractional durations are truncated and the result stops at
// MaxProgramTicks.
func Build(steps []Step) Program {
	n := 0
	for _, s := range steps {
		n = min(n+stepTicks(s), MaxProgramTicks)
	}
	sp := make([]float64, 0, n)
	for _, s := range steps {
		for i := stepTicks(s); i > 0 && len(sp) < n; i-- {
			sp = append(sp, s.Temperature)
		}
	}
	return Program{setpoints: sp}
}

// stepTicks is the whole number of ticks a step lasts, capped at
// MaxProgramTicks.
func stepTicks(s Step) int {
	switch {
	case !(s.DurationSeconds > 0):
		return 0
	case s.DurationSeconds >= MaxProgramTicks:
		return MaxProgramTicks
	}
	return int(s.DurationSeconds)
}

// FromSetpoints wraps an explicit setpoint slice; the slice is copied.
func FromSetpoints(sp []float64) Program {
	return Program{setpoints: append([]float64(nil), sp...)}
}

// Len is the number of ticks in the program.
func (p Program) Len() int { return len(p.setpoints) }

// Lookup returns the setpoint for tick, or a ProgramExhaustedError once the
// program has run out.
func (p Program) Lookup(tick int) (float64, error) {
	if tick < 0 || tick >= len(p.setpoints) {
		return 0, &ProgramExhaustedError{Tick: tick, Len: len(p.setpoints)}
	}
	return p.setpoints[tick], nil
}

// Setpoints returns a copy of the expanded sequence.
func (p Program) Setpoints() []float64 {
	return append([]float64(nil), p.setpoints...)
}

// Duration is the wall time the program lasts at the given tick period.
func (p Program) Duration(period time.Duration) time.Duration {
	return time.Duration(len(p.setpoints)) * period
}

// Calibrated maps every chip-side setpoint to the peltier temperature that
// produces it.
func (p Program) Calibrated(c Calibration) Program {
	if c.IsIdentity() {
		return p
	}
	sp := make([]float64, len(p.setpoints))
	for i, v := range p.setpoints {
		sp[i] = c.ChipToPeltier(v)
	}
	return Program{setpoints: sp}
}

// Compiled bundles the result of compiling a protocol text.
type Compiled struct {
	Steps    []Step
	Warnings []Warning
	Program  Program
}

// Compile parses text and builds its program.
func Compile(text string) (Compiled, error) {
	steps, warnings, err := ParseString(text)
	if err != nil {
		return Compiled{Warnings: warnings}, err
	}
	return Compiled{Steps: steps, Warnings: warnings, Program: Build(steps)}, nil
}

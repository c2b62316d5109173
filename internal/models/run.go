package models

import (
	"fmt"
	"time"
)

// RunPhase is the life-cycle state of one peltier controller.
type RunPhase uint8

const (
	PhaseIdle RunPhase = iota
	PhaseRunning
	PhaseStopped
	PhaseComplete
	PhaseFailed // stopped by a transport error
)

func (p RunPhase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRunning:
		return "RUNNING"
	case PhaseStopped:
		return "STOPPED"
	case PhaseComplete:
		return "COMPLETE"
	case PhaseFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

func (p RunPhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Active reports whether the phase still owns a running control loop.
func (p RunPhase) Active() bool { return p == PhaseRunning }

// RunStatus is the externally visible state of one controller.
type RunStatus struct {
	Channel          ChannelID `json:"channel"`
	RunID            string    `json:"run_id,omitempty"`
	Phase            RunPhase  `json:"phase"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	PlannedSeconds   float64   `json:"planned_seconds,omitempty"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Tick             int       `json:"tick"`
	ProgramLen       int       `json:"program_len"`
	Setpoint         float64   `json:"setpoint,omitempty"`
	RelayOn          bool      `json:"relay_on"`
	LastError        string    `json:"last_error,omitempty"`
}

// RunRecord is the audit entry kept for each started run.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	Channel        ChannelID `json:"channel"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	Outcome        string    `json:"outcome"` // RUNNING | STOPPED | COMPLETE | FAILED
	PlannedSeconds float64   `json:"planned_seconds"`
	Steps          int       `json:"steps"`
	Protocol       string    `json:"protocol,omitempty"`
	StartedBy      int       `json:"started_by,omitempty"` // User.ID of the operator
}

// Sample is one control-tick log row.
type Sample struct {
	RunID    string                `json:"run_id"`
	Channel  ChannelID             `json:"channel"`
	Tick     int                   `json:"tick"`
	At       time.Time             `json:"at"`
	Elapsed  time.Duration         `json:"elapsed"`
	Setpoint float64               `json:"setpoint"`
	Measured float64               `json:"measured"`
	RelayOn  bool                  `json:"relay_on"`
	Readings map[ChannelID]float64 `json:"readings"`
}

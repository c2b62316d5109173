package models

import "time"

// Event types.
const (
	EventStart         = "START"
	EventStop          = "STOP"
	EventComplete      = "COMPLETE"
	EventError         = "ERROR"
	EventBoard         = "BOARD"
	EventTelemetrySkip = "TELEMETRY_SKIP"
)

// RunEvent is a single log entry.
type RunEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`              // START | STOP | COMPLETE | ERROR | BOARD | TELEMETRY_SKIP
	Channel     string    `json:"channel,omitempty"` // FRONT | BACK, empty for board-wide events
	Description string    `json:"description"`       // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

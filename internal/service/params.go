package service

import (
	"time"

	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
)

// StartParams is a request to run a protocol on one or both peltiers.
type StartParams struct {
	Target   string // "front" | "back" | "both"
	Protocol string // protocol text
	UserID   int    // operator who asked for the run, 0 if unknown
}

type StartResult struct {
	RunIDs         map[string]string  `json:"run_ids"` // channel -> run id
	Ticks          int                `json:"ticks"`
	PlannedSeconds float64            `json:"planned_seconds"`
	Warnings       []protocol.Warning `json:"warnings,omitempty"`
}

type CompileResult struct {
	Steps           []protocol.Step    `json:"steps"`
	Warnings        []protocol.Warning `json:"warnings,omitempty"`
	Ticks           int                `json:"ticks"`
	DurationSeconds float64            `json:"duration_seconds"`
	Setpoints       []float64          `json:"setpoints"`
}

// ChannelStatus is a RunStatus with its remaining time filled in for
// display. Remaining is "OFF" while the channel is not running.
type ChannelStatus struct {
	models.RunStatus
	Remaining string `json:"remaining"`
}

// Snapshot is what the monitoring endpoints and the stream report.
type Snapshot struct {
	At         time.Time        `json:"at"`
	Readings   []models.Reading `json:"readings"`
	ParseSkips uint64           `json:"parse_skips"`
	Runs       []ChannelStatus  `json:"runs"`
}

type BoardState struct {
	Backlight bool `json:"backlight"`
	Magnet    bool `json:"magnet"`
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "START", "STOP", "COMPLETE", "ERROR", "BOARD", "TELEMETRY_SKIP"
}

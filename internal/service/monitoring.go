package service

import (
	"context"
	"time"

	"thermocycler/internal/telemetry"
)

type MonitoringService struct {
	table   *telemetry.Table
	skipped func() uint64
	status  func(ctx context.Context) []ChannelStatus
}

func NewMonitoringService(table *telemetry.Table, skipped func() uint64, status func(ctx context.Context) []ChannelStatus) *MonitoringService {
	return &MonitoringService{table: table, skipped: skipped, status: status}
}

// Snapshot returns the latest reading of every channel and each peltier's
// run state. Channels that never reported carry the unknown sentinel.
func (s *MonitoringService) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		At:       time.Now().UTC(),
		Readings: s.table.Snapshot(),
	}
	if s.skipped != nil {
		snap.ParseSkips = s.skipped()
	}
	if s.status != nil {
		snap.Runs = s.status(ctx)
	}
	return snap
}

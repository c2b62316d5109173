package service

import (
	"context"
	"time"

	"thermocycler/internal/control"
	"thermocycler/internal/device"
	"thermocycler/internal/logger"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
	"thermocycler/internal/repository"
	"thermocycler/internal/telemetry"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Runs starts and stops protocol runs on the peltiers.
type Runs interface {
	Compile(text string) (CompileResult, error)
	Start(ctx context.Context, p StartParams) (StartResult, error)
	Stop(ctx context.Context, target string) error
	Status(ctx context.Context) []ChannelStatus
	History(ctx context.Context, limit int) ([]models.RunRecord, error)
	Samples(ctx context.Context, runID string) ([]models.Sample, error)
}

// Monitoring exposes read-only telemetry and run state.
type Monitoring interface {
	Snapshot(ctx context.Context) Snapshot
}

// Board drives the auxiliary outputs and on-device programs.
type Board interface {
	SetBacklight(ctx context.Context, on bool) error
	SetMagnet(ctx context.Context, on bool) error
	RunHeaterProgram(ctx context.Context, f device.HeaterFrame) error
	StopHeaterProgram(ctx context.Context, heater int) error
	State() BoardState
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.RunEvent, error)
}

type Service struct {
	Runs
	Monitoring
	Board
	EventLog
	Authorization
}

// Deps carries the runtime pieces the services drive.
type Deps struct {
	Engine      *control.Engine
	Table       *telemetry.Table
	Router      *telemetry.Router
	Sender      control.Sender
	Clock       control.Clock
	Tick        time.Duration
	Calibration protocol.Calibration
	BoardFrames bool
	Auth        AuthConfig
	Log         *logger.Logger
}

// NewService wires the repository layer and the control engine into the
// concrete services.
func NewService(repos *repository.Repository, d Deps) *Service {
	runs := NewRunService(d.Engine, repos.RunRepo, repos.EventRepo, RunConfig{
		Tick:        d.Tick,
		Calibration: d.Calibration,
		Clock:       d.Clock,
		Skipped:     d.Router.Skipped,
		Samples:     repos.SampleRepo,
		Log:         d.Log,
	})
	return &Service{
		Runs:          runs,
		Monitoring:    NewMonitoringService(d.Table, d.Router.Skipped, runs.Status),
		Board:         NewBoardService(d.Sender, repos.EventRepo, d.BoardFrames, d.Log),
		EventLog:      NewEventLogService(repos.EventRepo),
		Authorization: NewAuthService(repos.Auth, d.Auth),
	}
}

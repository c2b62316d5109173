package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"thermocycler/internal/control"
	"thermocycler/internal/logger"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
	"thermocycler/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidTarget is returned for a start or stop target other than
// front, back or both.
var ErrInvalidTarget = control.ErrUnknownTarget

var errNoSampleStore = errors.New("sample store not configured")

const (
	remainingOff    = "OFF"
	auditTimeout    = 5 * time.Second
	runOutcomeStart = "RUNNING"
)

type RunConfig struct {
	Tick        time.Duration
	Calibration protocol.Calibration
	Clock       control.Clock
	Skipped     func() uint64 // telemetry parse-skip counter
	Samples     repository.SampleRepo
	Log         *logger.Logger
}

// RunService is the run supervisor: it compiles protocols, starts them on
// the engine and keeps the audit trail. Remaining time is derived from
// controller state on every query and never feeds back into control.
type RunService struct {
	engine    *control.Engine
	runRepo   repository.RunRepo
	eventRepo repository.EventRepo
	cfg       RunConfig
	log       *zap.SugaredLogger

	mu        sync.Mutex
	skipsAtGo map[string]uint64        // run id -> parse skips when it started
	recorded  map[string]chan struct{} // run id -> closed once its START is written
}

func NewRunService(engine *control.Engine, runRepo repository.RunRepo, eventRepo repository.EventRepo, cfg RunConfig) *RunService {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = control.SystemClock{}
	}
	if cfg.Calibration == (protocol.Calibration{}) {
		cfg.Calibration = protocol.Identity
	}
	log := cfg.Log.Component("runs")
	s := &RunService{
		engine:    engine,
		runRepo:   runRepo,
		eventRepo: eventRepo,
		cfg:       cfg,
		log:       log,
		skipsAtGo: make(map[string]uint64),
		recorded:  make(map[string]chan struct{}),
	}
	engine.OnTransition(s.onTransition)
	return s
}

// Compile parses text and reports what a run of it would do.
func (s *RunService) Compile(text string) (CompileResult, error) {
	c, err := protocol.Compile(text)
	if err != nil {
		return CompileResult{Warnings: c.Warnings}, err
	}
	return CompileResult{
		Steps:           c.Steps,
		Warnings:        c.Warnings,
		Ticks:           c.Program.Len(),
		DurationSeconds: c.Program.Duration(s.cfg.Tick).Seconds(),
		Setpoints:       c.Program.Setpoints(),
	}, nil
}

// Start compiles p.Protocol and starts it on the target peltiers. A parse
// error is returned as is (it carries the offending line) and nothing is
// started.
func (s *RunService) Start(ctx context.Context, p StartParams) (StartResult, error) {
	target, err := control.ParseTarget(p.Target)
	if err != nil {
		return StartResult{}, err
	}
	c, err := protocol.Compile(p.Protocol)
	if err != nil {
		if line, ok := protocol.LineOf(err); ok {
			s.log.Warnw("protocol_rejected", "line", line, "err", err)
		}
		return StartResult{}, err
	}
	for _, w := range c.Warnings {
		s.log.Warnw("protocol_warning", "line", w.Line, "text", w.Text)
	}
	if c.Program.Len() == 0 {
		return StartResult{}, control.ErrEmptyProgram
	}

	program := c.Program.Calibrated(s.cfg.Calibration)
	var minted []string
	defer func() { s.release(minted) }()
	ids, err := s.engine.Start(ctx, target, program, func(models.ChannelID) string {
		id := s.newRunID()
		minted = append(minted, id)
		return id
	})
	if err != nil {
		return StartResult{}, err
	}

	planned := program.Duration(s.cfg.Tick).Seconds()
	res := StartResult{
		RunIDs:         make(map[string]string, len(ids)),
		Ticks:          program.Len(),
		PlannedSeconds: planned,
		Warnings:       c.Warnings,
	}
	for _, ch := range target.Channels() {
		id, ok := ids[ch]
		if !ok {
			continue
		}
		res.RunIDs[ch.String()] = id

		st := s.engine.Controller(ch).Status()
		rec := models.RunRecord{
			RunID:          id,
			Channel:        ch,
			StartedAt:      st.StartedAt,
			Outcome:        runOutcomeStart,
			PlannedSeconds: planned,
			Steps:          len(c.Steps),
			Protocol:       p.Protocol,
			StartedBy:      p.UserID,
		}
		if err := s.runRepo.Insert(ctx, rec); err != nil {
			s.log.Errorw("run_record_failed", "run_id", id, "err", err)
		}
		s.appendEvent(ctx, models.RunEvent{
			OccurredAt:  st.StartedAt,
			Type:        models.EventStart,
			Channel:     ch.String(),
			Description: fmt.Sprintf("run started: %d ticks, %.0fs planned", program.Len(), planned),
			Metadata: map[string]any{
				"run_id":      id,
				"ticks":       program.Len(),
				"steps":       len(c.Steps),
				"calibration": s.cfg.Calibration,
				"user_id":     p.UserID,
			},
		})
		s.log.Infow("run_started", "run_id", id, "channel", ch.String(), "ticks", program.Len(), "user_id", p.UserID)
	}
	return res, nil
}

// Stop stops the target peltiers. Stopping idle channels is not an error.
func (s *RunService) Stop(ctx context.Context, target string) error {
	t, err := control.ParseTarget(target)
	if err != nil {
		return err
	}
	return s.engine.Stop(t)
}

// Status reports every channel with remaining = max(0, planned - elapsed).
func (s *RunService) Status(ctx context.Context) []ChannelStatus {
	now := s.cfg.Clock.Now()
	sts := s.engine.Statuses()
	out := make([]ChannelStatus, 0, len(sts))
	for _, st := range sts {
		cs := ChannelStatus{RunStatus: st, Remaining: remainingOff}
		if st.Phase == models.PhaseRunning {
			left := st.PlannedSeconds - now.Sub(st.StartedAt).Seconds()
			st.RemainingSeconds = max(0, left)
			cs.RunStatus = st
			cs.Remaining = formatRemaining(st.RemainingSeconds)
		}
		out = append(out, cs)
	}
	return out
}

func (s *RunService) History(ctx context.Context, limit int) ([]models.RunRecord, error) {
	return s.runRepo.List(ctx, limit)
}

// Samples returns the recorded ticks of one run in tick order.
func (s *RunService) Samples(ctx context.Context, runID string) ([]models.Sample, error) {
	if s.cfg.Samples == nil {
		return nil, errNoSampleStore
	}
	return s.cfg.Samples.ListByRun(ctx, runID)
}

// onTransition records the end of a run. It runs on the controller's
// goroutine.
func (s *RunService) onTransition(st models.RunStatus) {
	var ev models.RunEvent
	switch st.Phase {
	case models.PhaseComplete:
		ev = models.RunEvent{Type: models.EventComplete, Description: fmt.Sprintf("program finished after %d ticks", st.Tick)}
	case models.PhaseStopped:
		ev = models.RunEvent{Type: models.EventStop, Description: fmt.Sprintf("stopped at tick %d of %d", st.Tick, st.ProgramLen)}
	case models.PhaseFailed:
		ev = models.RunEvent{Type: models.EventError, Description: "run failed: " + st.LastError}
	default:
		return
	}
	s.awaitRecorded(st.RunID)
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	ev.OccurredAt = st.EndedAt
	ev.Channel = st.Channel.String()
	ev.Metadata = map[string]any{"run_id": st.RunID, "tick": st.Tick, "program_len": st.ProgramLen}
	s.appendEvent(ctx, ev)

	if skips := s.takeSkips(st.RunID); skips > 0 {
		s.appendEvent(ctx, models.RunEvent{
			OccurredAt:  st.EndedAt,
			Type:        models.EventTelemetrySkip,
			Channel:     st.Channel.String(),
			Description: fmt.Sprintf("%d unrecognised telemetry lines during run", skips),
			Metadata:    map[string]any{"run_id": st.RunID, "count": skips},
		})
	}

	if err := s.runRepo.Finish(ctx, st.RunID, st.Phase.String(), st.EndedAt); err != nil && !errors.Is(err, repository.ErrRunNotFound) {
		s.log.Errorw("run_finish_failed", "run_id", st.RunID, "err", err)
	}
	s.log.Infow("run_finished", "run_id", st.RunID, "channel", st.Channel.String(), "outcome", st.Phase.String(), "tick", st.Tick)
}

func (s *RunService) appendEvent(ctx context.Context, ev models.RunEvent) {
	if err := s.eventRepo.Append(ctx, ev); err != nil {
		s.log.Errorw("event_append_failed", "type", ev.Type, "err", err)
	}
}

// newRunID mints an id for a controller about to start. Until release is
// called for it, the run's end is not recorded, so a run that finishes
// quickly never overtakes its own START record.
func (s *RunService) newRunID() string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[id] = make(chan struct{})
	if s.cfg.Skipped != nil {
		s.skipsAtGo[id] = s.cfg.Skipped()
	}
	return id
}

func (s *RunService) release(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if gate, ok := s.recorded[id]; ok {
			close(gate)
			delete(s.recorded, id)
		}
	}
}

func (s *RunService) awaitRecorded(runID string) {
	s.mu.Lock()
	gate, ok := s.recorded[runID]
	s.mu.Unlock()
	if ok {
		<-gate
	}
}

func (s *RunService) takeSkips(runID string) uint64 {
	if s.cfg.Skipped == nil {
		return 0
	}
	s.mu.Lock()
	start, ok := s.skipsAtGo[runID]
	delete(s.skipsAtGo, runID)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return s.cfg.Skipped() - start
}

// formatRemaining renders seconds as H:MM:SS.
func formatRemaining(sec float64) string {
	d := time.Duration(sec) * time.Second
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	ss := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, ss)
}

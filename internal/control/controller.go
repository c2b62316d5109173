// Package control runs the bang-bang loops that drive each peltier toward
// its compiled setpoint program.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"thermocycler/internal/device"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("control: channel already running")
	ErrEmptyProgram   = errors.New("control: program has no ticks")
)

// OnComplete decides what the actuator gets once the program is exhausted.
type OnComplete string

const (
	// HoldOnComplete sends nothing; the relay keeps its last state.
	HoldOnComplete OnComplete = "hold"
	// OffOnComplete sends one final RELAY_OFF.
	OffOnComplete OnComplete = "off"
)

func ParseOnComplete(s string) (OnComplete, error) {
	switch OnComplete(s) {
	case HoldOnComplete, OffOnComplete:
		return OnComplete(s), nil
	}
	return "", fmt.Errorf("control: on_complete must be %q or %q, got %q", HoldOnComplete, OffOnComplete, s)
}

// Sender writes one command token to the device.
type Sender interface {
	Send(token string) error
}

// Readings is the read side of the telemetry table.
type Readings interface {
	Get(ch models.ChannelID) models.Reading
	Values() map[models.ChannelID]float64
}

// ControllerConfig wires one channel's loop.
type ControllerConfig struct {
	Channel  models.ChannelID
	Commands device.CommandSet
	Tick     time.Duration
	// Average, when non-empty, controls on the mean of these channels
	// instead of the channel's own reading.
	Average    []models.ChannelID
	OnComplete OnComplete
	// StaleAfter is the maximum age of a reading the loop will act on.
	// Zero disables the age check; readings from before the run started
	// are never used.
	StaleAfter time.Duration

	Sender   Sender
	Readings Readings
	Sink     Sink
	Clock    Clock
	Log      *zap.SugaredLogger
}

// Controller drives one peltier. It owns its run state and tick counter.
type Controller struct {
	cfg ControllerConfig

	mu      sync.Mutex
	status  models.RunStatus
	program protocol.Program
	cancel  context.CancelFunc
	done    chan struct{}
	hooks   []func(models.RunStatus)

	stepped func() // called after every tick; tests use it to sync
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Commands.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sender == nil || cfg.Readings == nil {
		return nil, errors.New("control: controller needs a sender and readings")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.OnComplete == "" {
		cfg.OnComplete = HoldOnComplete
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &Controller{
		cfg:    cfg,
		status: models.RunStatus{Channel: cfg.Channel, Phase: models.PhaseIdle},
	}, nil
}

func (c *Controller) Channel() models.ChannelID { return c.cfg.Channel }

// OnTransition registers fn to be called after every phase change. Hooks run
// on the goroutine that caused the change and must not call Stop or Start.
func (c *Controller) OnTransition(fn func(models.RunStatus)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Start begins a run. The loop is detached from ctx's cancellation and lives
// until Stop, completion or a write failure.
func (c *Controller) Start(ctx context.Context, runID string, program protocol.Program) error {
	if program.Len() == 0 {
		return ErrEmptyProgram
	}
	c.mu.Lock()
	if c.status.Phase == models.PhaseRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.done != nil {
		// previous loop already returned; reap it
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.program = program
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = models.RunStatus{
		Channel:        c.cfg.Channel,
		RunID:          runID,
		Phase:          models.PhaseRunning,
		StartedAt:      c.cfg.Clock.Now(),
		PlannedSeconds: program.Duration(c.cfg.Tick).Seconds(),
		ProgramLen:     program.Len(),
	}
	st := c.status
	ticker := c.cfg.Clock.NewTicker(c.cfg.Tick)
	go c.loop(loopCtx, ticker, c.done)
	c.mu.Unlock()

	c.cfg.Log.Infow("controller_started", "channel", c.cfg.Channel, "run_id", runID, "ticks", program.Len())
	c.notify(st)
	return nil
}

// Stop cancels a running loop and waits for it to exit, which takes at most
// one tick period. Stopping a channel that is not running is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	c.mu.Lock()
	if c.status.Phase != models.PhaseRunning {
		c.mu.Unlock()
		return nil
	}
	c.status.Phase = models.PhaseStopped
	c.status.EndedAt = c.cfg.Clock.Now()
	st := c.status
	c.mu.Unlock()

	c.cfg.Log.Infow("controller_stopped", "channel", c.cfg.Channel, "run_id", st.RunID, "tick", st.Tick)
	c.notify(st)
	return nil
}

// Fail stops a running loop and marks it FAILED with err.
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.mu.Lock()
	if c.status.Phase != models.PhaseRunning {
		c.mu.Unlock()
		return
	}
	st := c.finishLocked(models.PhaseFailed, err)
	c.mu.Unlock()
	c.cfg.Log.Errorw("controller_failed", "channel", c.cfg.Channel, "run_id", st.RunID, "err", err)
	c.notify(st)
}

// Status returns a copy of the run state. RemainingSeconds is left for the
// caller to derive.
func (c *Controller) Status() models.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) loop(ctx context.Context, t Ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()
	defer c.closeSink()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			more := c.step()
			if c.stepped != nil {
				c.stepped()
			}
			if !more {
				return
			}
		}
	}
}

// step runs one control tick and reports whether the loop should continue.
func (c *Controller) step() bool {
	c.mu.Lock()
	tick, program, runID, started := c.status.Tick, c.program, c.status.RunID, c.status.StartedAt
	c.mu.Unlock()

	measured, ok := c.measure(started)
	if !ok {
		return true
	}

	setpoint, err := program.Lookup(tick)
	if err != nil {
		c.complete()
		return false
	}

	on := !(measured > setpoint)
	if err := c.cfg.Sender.Send(c.cfg.Commands.Token(on)); err != nil {
		c.mu.Lock()
		st := c.finishLocked(models.PhaseFailed, err)
		c.mu.Unlock()
		c.cfg.Log.Errorw("controller_failed", "channel", c.cfg.Channel, "run_id", runID, "tick", tick, "err", err)
		c.notify(st)
		return false
	}

	now := c.cfg.Clock.Now()
	c.mu.Lock()
	c.status.Tick = tick + 1
	c.status.Setpoint = setpoint
	c.status.RelayOn = on
	c.mu.Unlock()

	sample := models.Sample{
		RunID:    runID,
		Channel:  c.cfg.Channel,
		Tick:     tick,
		At:       now,
		Elapsed:  now.Sub(started),
		Setpoint: setpoint,
		Measured: measured,
		RelayOn:  on,
		Readings: c.cfg.Readings.Values(),
	}
	if err := c.cfg.Sink.Append(sample); err != nil {
		c.cfg.Log.Warnw("sample_append_failed", "channel", c.cfg.Channel, "run_id", runID, "err", err)
	}
	return true
}

// measure returns the controlled value: the channel's own reading, or the
// mean of cfg.Average. It reports false if any input is unknown or stale.
func (c *Controller) measure(started time.Time) (float64, bool) {
	chs := c.cfg.Average
	if len(chs) == 0 {
		chs = []models.ChannelID{c.cfg.Channel}
	}
	now := c.cfg.Clock.Now()
	var sum float64
	for _, ch := range chs {
		r := c.cfg.Readings.Get(ch)
		if !c.fresh(r, started, now) {
			return models.Unknown, false
		}
		sum += r.Value
	}
	return sum / float64(len(chs)), true
}

func (c *Controller) fresh(r models.Reading, started, now time.Time) bool {
	if !r.Known() || r.At.Before(started) {
		return false
	}
	return c.cfg.StaleAfter <= 0 || now.Sub(r.At) <= c.cfg.StaleAfter
}

func (c *Controller) complete() {
	if c.cfg.OnComplete == OffOnComplete {
		if err := c.cfg.Sender.Send(c.cfg.Commands.Off); err != nil {
			c.cfg.Log.Warnw("final_off_failed", "channel", c.cfg.Channel, "err", err)
		}
	}
	c.mu.Lock()
	st := c.finishLocked(models.PhaseComplete, nil)
	if c.cfg.OnComplete == OffOnComplete {
		c.status.RelayOn = false
		st.RelayOn = false
	}
	c.mu.Unlock()
	c.cfg.Log.Infow("controller_complete", "channel", c.cfg.Channel, "run_id", st.RunID, "ticks", st.Tick)
	c.notify(st)
}

func (c *Controller) finishLocked(phase models.RunPhase, err error) models.RunStatus {
	c.status.Phase = phase
	c.status.EndedAt = c.cfg.Clock.Now()
	if err != nil {
		c.status.LastError = err.Error()
	}
	return c.status
}

func (c *Controller) closeSink() {
	rc, ok := c.cfg.Sink.(RunCloser)
	if !ok {
		return
	}
	c.mu.Lock()
	runID := c.status.RunID
	c.mu.Unlock()
	if err := rc.CloseRun(runID, c.cfg.Channel); err != nil {
		c.cfg.Log.Warnw("sink_close_failed", "channel", c.cfg.Channel, "run_id", runID, "err", err)
	}
}

func (c *Controller) notify(st models.RunStatus) {
	c.mu.Lock()
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(st)
	}
}

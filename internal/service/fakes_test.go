package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"thermocycler/internal/control"
	"thermocycler/internal/device"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
	"thermocycler/internal/repository"
	"thermocycler/internal/telemetry"
)

type memEventRepo struct {
	mu     sync.Mutex
	events []models.RunEvent
	err    error
}

func (m *memEventRepo) Append(_ context.Context, e models.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memEventRepo) List(context.Context, time.Time, time.Time, string) ([]models.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunEvent(nil), m.events...), nil
}

func (m *memEventRepo) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *memEventRepo) ofType(typ string) []models.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type memRunRepo struct {
	mu      sync.Mutex
	records map[string]models.RunRecord
	order   []string

	beforeInsert func()
}

func newMemRunRepo() *memRunRepo { return &memRunRepo{records: map[string]models.RunRecord{}} }

func (m *memRunRepo) Insert(_ context.Context, r models.RunRecord) error {
	if m.beforeInsert != nil {
		m.beforeInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.RunID] = r
	m.order = append(m.order, r.RunID)
	return nil
}

func (m *memRunRepo) Finish(_ context.Context, runID, outcome string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[runID]
	if !ok {
		return repository.ErrRunNotFound
	}
	r.Outcome = outcome
	r.EndedAt = endedAt
	m.records[runID] = r
	return nil
}

func (m *memRunRepo) List(_ context.Context, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunRecord
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

func (m *memRunRepo) get(id string) models.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

type captureSender struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (c *captureSender) Send(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *captureSender) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func (c *captureSender) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type memSampleRepo struct {
	mu      sync.Mutex
	samples []models.Sample
}

func (m *memSampleRepo) Insert(_ context.Context, s models.Sample) error {
	return m.Append(s)
}
func (m *memSampleRepo) Append(s models.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}
func (m *memSampleRepo) ListByRun(_ context.Context, runID string) ([]models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Sample
	for _, s := range m.samples {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

// offsetClock is the wall clock shifted by a fixed offset.
type offsetClock struct{ offset time.Duration }

func (o offsetClock) Now() time.Time { return time.Now().Add(o.offset) }
func (o offsetClock) NewTicker(d time.Duration) control.Ticker {
	return control.SystemClock{}.NewTicker(d)
}

type runFixture struct {
	svc    *RunService
	engine *control.Engine
	router *telemetry.Router
	sender *captureSender
	events *memEventRepo
	runs   *memRunRepo
}

func newRunFixture(t *testing.T, tick time.Duration, cfg RunConfig) *runFixture {
	t.Helper()
	f := &runFixture{
		sender: &captureSender{},
		events: &memEventRepo{},
		runs:   newMemRunRepo(),
	}
	table := telemetry.NewTable()
	router, err := telemetry.NewRouter(telemetry.SchemeTagged, table)
	if err != nil {
		t.Fatal(err)
	}
	f.router = router

	var sink control.Sink
	if cfg.Samples != nil {
		sink = cfg.Samples
	}
	var ctrls []*control.Controller
	for _, ch := range []models.ChannelID{models.Front, models.Back} {
		c, err := control.NewController(control.ControllerConfig{
			Channel:  ch,
			Commands: device.DefaultCommands()[ch],
			Tick:     tick,
			Sender:   f.sender,
			Readings: table,
			Sink:     sink,
		})
		if err != nil {
			t.Fatal(err)
		}
		ctrls = append(ctrls, c)
	}
	f.engine = control.NewEngine(nil, ctrls...)
	t.Cleanup(f.engine.Shutdown)

	cfg.Tick = tick
	if cfg.Skipped == nil {
		cfg.Skipped = router.Skipped
	}
	f.svc = NewRunService(f.engine, f.runs, f.events, cfg)
	return f
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var halfChip = protocol.Calibration{Slope: 0.5, Intercept: 5}

package control

import (
	"errors"
	"sync"
	"testing"
	"time"

	"thermocycler/internal/device"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
)

// ----- clock -----

type fakeTicker struct{ c chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
	steps  chan struct{} // one value per finished controller step
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		steps: make(chan struct{}, 8),
	}
}

// stepped is installed as the controller's after-step callback.
func (f *fakeClock) stepped() { f.steps <- struct{}{} }


func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticker = &fakeTicker{c: make(chan time.Time)}
	return f.ticker
}

// tick advances the clock by one second, hands the loop a tick and waits
// until the loop has finished acting on it. It reports false if the loop did
// not take the tick.
func (f *fakeClock) tick() bool {
	f.mu.Lock()
	f.now = f.now.Add(time.Second)
	now, t := f.now, f.ticker
	f.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case t.c <- now:
	case <-time.After(100 * time.Millisecond):
		return false
	}
	select {
	case <-f.steps:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func (f *fakeClock) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !f.tick() {
			t.Fatalf("tick %d not consumed", i)
		}
	}
}

// ----- readings -----

// fakeReadings stamps every value with the rig clock's current time.
type fakeReadings struct {
	mu    sync.Mutex
	cells map[models.ChannelID]models.Reading
	now   func() time.Time
}

func newFakeReadings(now func() time.Time) *fakeReadings {
	r := &fakeReadings{cells: map[models.ChannelID]models.Reading{}, now: now}
	for _, ch := range models.Channels {
		r.cells[ch] = models.Reading{Channel: ch, Value: models.Unknown}
	}
	return r
}

func (r *fakeReadings) set(ch models.ChannelID, v float64) {
	r.setAt(ch, v, r.now())
}

func (r *fakeReadings) setAt(ch models.ChannelID, v float64, at time.Time) {
	r.mu.Lock()
	r.cells[ch] = models.Reading{Channel: ch, Value: v, At: at}
	r.mu.Unlock()
}

func (r *fakeReadings) Get(ch models.ChannelID) models.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cells[ch]
}

func (r *fakeReadings) Values() map[models.ChannelID]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.ChannelID]float64, len(r.cells))
	for k, rd := range r.cells {
		out[k] = rd.Value
	}
	return out
}

// ----- sender -----

type recordSender struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (s *recordSender) Send(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *recordSender) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// ----- sink -----

type memSink struct {
	mu      sync.Mutex
	samples []models.Sample
	closed  []string
	err     error
}

func (m *memSink) Append(s models.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memSink) CloseRun(runID string, ch models.ChannelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, runID+"/"+ch.String())
	return nil
}

func (m *memSink) all() []models.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Sample(nil), m.samples...)
}

// ----- harness -----

type rig struct {
	ctrl     *Controller
	clock    *fakeClock
	readings *fakeReadings
	sender   *recordSender
	sink     *memSink
	events   chan models.RunStatus
}

func newRig(t *testing.T, ch models.ChannelID, mutate func(*ControllerConfig)) *rig {
	t.Helper()
	clock := newFakeClock()
	r := &rig{
		clock:    clock,
		readings: newFakeReadings(clock.Now),
		sender:   &recordSender{},
		sink:     &memSink{},
		events:   make(chan models.RunStatus, 16),
	}
	cmds := device.LegacyFront
	if ch == models.Back {
		cmds = device.LegacyBack
	}
	cfg := ControllerConfig{
		Channel:  ch,
		Commands: cmds,
		Tick:     time.Second,
		Sender:   r.sender,
		Readings: r.readings,
		Sink:     r.sink,
		Clock:    r.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.OnTransition(func(st models.RunStatus) { r.events <- st })
	c.stepped = r.clock.stepped
	r.ctrl = c
	t.Cleanup(func() { _ = c.Stop() })
	return r
}

// waitPhase drains transitions until one with phase arrives.
func (r *rig) waitPhase(t *testing.T, phase models.RunPhase) models.RunStatus {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case st := <-r.events:
			if st.Phase == phase {
				return st
			}
		case <-timeout:
			t.Fatalf("no %s transition; status %+v", phase, r.ctrl.Status())
		}
	}
}

func program(sp ...float64) protocol.Program { return protocol.FromSetpoints(sp) }

var errUnplugged = errors.New("unplugged")

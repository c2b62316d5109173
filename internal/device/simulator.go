package device

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"thermocycler/internal/mathx"
	"thermocycler/internal/models"
	"thermocycler/internal/telemetry"

	"go.uber.org/zap"
)

// ----------- Simulation constants -----------
const (
	AmbientC        = 25.0  // ambient temperature °C
	MaxSafeC        = 110.0 // peltier never exceeds this °C
	HeatCPerSec     = 3.0   // °C per second with the relay on
	CoolCPerSec     = 1.5   // °C per second drift toward ambient with the relay off
	MetalLagPerSec  = 0.5   // fraction per second the metal block closes on the peltier mean
	defaultSimScale = 1.0
)

// SimConfig configures the simulated board.
type SimConfig struct {
	Scheme    telemetry.Scheme
	Commands  map[models.ChannelID]CommandSet
	TimeScale float64 // simulated seconds per wall second
	Log       *zap.SugaredLogger
}

type simPeltier struct {
	temp    float64
	relayOn bool
}

// Simulator stands in for the board on the serial link: it reacts to relay
// tokens and emits telemetry lines in the configured scheme.
type Simulator struct {
	mu        sync.Mutex
	peltiers  map[models.ChannelID]*simPeltier
	metal     float64
	backlight bool
	magnet    bool
	lastFrame string
	tokens    map[string]func()
	scheme    telemetry.Scheme
	scale     float64
	log       *zap.SugaredLogger

	pr *io.PipeReader
	pw *io.PipeWriter
}

var _ Port = (*Simulator)(nil)

// NewSimulator returns a board at ambient temperature with both relays off.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Commands == nil {
		cfg.Commands = DefaultCommands()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = telemetry.SchemeTagged
	}
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = defaultSimScale
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	pr, pw := io.Pipe()
	s := &Simulator{
		peltiers: map[models.ChannelID]*simPeltier{
			models.Front: {temp: AmbientC},
			models.Back:  {temp: AmbientC},
		},
		metal:  AmbientC,
		scheme: cfg.Scheme,
		scale:  cfg.TimeScale,
		log:    cfg.Log,
		pr:     pr,
		pw:     pw,
	}
	s.tokens = make(map[string]func())
	for ch, cs := range cfg.Commands {
		p := s.peltiers[ch]
		if p == nil {
			continue
		}
		s.tokens[cs.On] = func() { p.relayOn = true }
		s.tokens[cs.Off] = func() { p.relayOn = false }
	}
	s.tokens[LegacyBacklight.On] = func() { s.backlight = true }
	s.tokens[LegacyBacklight.Off] = func() { s.backlight = false }
	s.tokens[LegacyMagnet.On] = func() { s.magnet = true }
	s.tokens[LegacyMagnet.Off] = func() { s.magnet = false }
	return s
}

// Read returns telemetry lines produced by Run.
func (s *Simulator) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Write accepts relay tokens and <...> frames.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := string(p)
	if fn, ok := s.tokens[msg]; ok {
		fn()
		return len(p), nil
	}
	for len(msg) > 0 {
		if msg[0] == frameStart {
			end := strings.IndexByte(msg, frameEnd)
			if end < 0 {
				break
			}
			s.handleFrame(msg[1:end])
			msg = msg[end+1:]
			continue
		}
		if fn, ok := s.tokens[msg[:1]]; ok {
			fn()
		}
		msg = msg[1:]
	}
	return len(p), nil
}

// Close ends the telemetry stream; pending reads get io.EOF.
func (s *Simulator) Close() error {
	return s.pw.Close()
}

func (s *Simulator) handleFrame(body string) {
	s.lastFrame = body
	fields := strings.Split(body, ",")
	if len(fields) == 3 && fields[0] == "B" {
		if fields[1] == "1" {
			s.magnet = !s.magnet
		}
		if fields[2] == "1" {
			s.backlight = !s.backlight
		}
	}
}

// Run advances the plant every tick and writes one line per sensor until ctx
// is canceled, then closes the stream.
func (s *Simulator) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	defer s.pw.Close()
	// unblocks a pending write when nobody reads anymore
	stop := context.AfterFunc(ctx, func() { _ = s.pw.Close() })
	defer stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			elapsed := now.Sub(last).Seconds() * s.scale
			last = now
			s.step(elapsed)
			if _, err := io.WriteString(s.pw, s.lines()); err != nil {
				s.log.Infow("sim_stream_closed", "err", err)
				return
			}
		}
	}
}

// step integrates the plant over elapsed simulated seconds.
func (s *Simulator) step(elapsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := 0.0
	for _, p := range s.peltiers {
		if p.relayOn {
			p.temp = mathx.Clamp(p.temp+HeatCPerSec*elapsed, AmbientC, MaxSafeC)
		} else {
			p.temp = mathx.Approach(p.temp, AmbientC, CoolCPerSec*elapsed)
		}
		sum += p.temp
	}
	mean := sum / float64(len(s.peltiers))
	lag := mathx.Clamp(MetalLagPerSec*elapsed, 0, 1)
	s.metal += (mean - s.metal) * lag
}

func (s *Simulator) lines() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	front, back := s.peltiers[models.Front].temp, s.peltiers[models.Back].temp
	if s.scheme == telemetry.SchemeLegacy {
		return fmt.Sprintf("TEC_1: %.2f\r\nTEC_2: %.2f\r\nTEC_MET: %.2f\r\n", front, back, s.metal)
	}
	return fmt.Sprintf("T_METAL,%.2f\r\nT_FRONT,%.2f\r\nT_BACK,%.2f\r\n", s.metal, front, back)
}

// SimState is a snapshot of the simulated board.
type SimState struct {
	Temps     map[models.ChannelID]float64
	Relays    map[models.ChannelID]bool
	Backlight bool
	Magnet    bool
	LastFrame string
}

func (s *Simulator) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SimState{
		Temps:     map[models.ChannelID]float64{models.Metal: s.metal},
		Relays:    map[models.ChannelID]bool{},
		Backlight: s.backlight,
		Magnet:    s.magnet,
		LastFrame: s.lastFrame,
	}
	for ch, p := range s.peltiers {
		st.Temps[ch] = p.temp
		st.Relays[ch] = p.relayOn
	}
	return st
}

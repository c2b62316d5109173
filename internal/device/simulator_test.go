package device

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"

	"thermocycler/internal/models"
	"thermocycler/internal/telemetry"
)

func TestSimulatorRelayTokens(t *testing.T) {
	s := NewSimulator(SimConfig{})
	for _, tok := range []string{"2", "4"} {
		if _, err := s.Write([]byte(tok)); err != nil {
			t.Fatal(err)
		}
	}
	st := s.State()
	if !st.Relays[models.Front] || !st.Relays[models.Back] {
		t.Fatalf("relays = %v, want both on", st.Relays)
	}
	_, _ = s.Write([]byte("1"))
	if s.State().Relays[models.Front] {
		t.Fatal("front relay should be off")
	}
}

func TestSimulatorCustomTokens(t *testing.T) {
	s := NewSimulator(SimConfig{Commands: map[models.ChannelID]CommandSet{
		models.Front: {On: "FRONT_ON", Off: "FRONT_OFF"},
		models.Back:  {On: "BACK_ON", Off: "BACK_OFF"},
	}})
	_, _ = s.Write([]byte("BACK_ON"))
	st := s.State()
	if st.Relays[models.Front] || !st.Relays[models.Back] {
		t.Fatalf("relays = %v", st.Relays)
	}
}

func TestSimulatorBoardFrame(t *testing.T) {
	s := NewSimulator(SimConfig{})
	_, _ = s.Write([]byte(EncodeBoardFrame(true, true)))
	st := s.State()
	if !st.Magnet || !st.Backlight {
		t.Fatalf("state = %+v, want magnet and backlight on", st)
	}
	_, _ = s.Write([]byte(EncodeBoardFrame(false, true)))
	if st = s.State(); !st.Magnet || st.Backlight {
		t.Fatalf("state = %+v, want only magnet on", st)
	}
}

func TestSimulatorHeaterFrameRecorded(t *testing.T) {
	s := NewSimulator(SimConfig{})
	frame := EncodeHeaterFrame(HeaterFrame{Heater: 1, Cycles: 2, DenatureTime: 1, DenatureTemp: 95})
	_, _ = s.Write([]byte(frame))
	if got := s.State().LastFrame; got != strings.Trim(frame, "<>") {
		t.Fatalf("LastFrame = %q", got)
	}
}

func TestSimulatorStepHeatsAndCools(t *testing.T) {
	s := NewSimulator(SimConfig{})
	_, _ = s.Write([]byte("2"))
	s.step(10)
	st := s.State()
	if st.Temps[models.Front] != AmbientC+10*HeatCPerSec {
		t.Fatalf("front = %v", st.Temps[models.Front])
	}
	if st.Temps[models.Back] != AmbientC {
		t.Fatalf("back should stay at ambient, got %v", st.Temps[models.Back])
	}
	if st.Temps[models.Metal] <= AmbientC {
		t.Fatalf("metal should warm, got %v", st.Temps[models.Metal])
	}

	s.step(1000)
	if got := s.State().Temps[models.Front]; got != MaxSafeC {
		t.Fatalf("front = %v, want clamp at %v", got, MaxSafeC)
	}

	_, _ = s.Write([]byte("1"))
	s.step(1000)
	if got := s.State().Temps[models.Front]; got != AmbientC {
		t.Fatalf("front = %v, want ambient after long cool", got)
	}
}

func TestSimulatorRunEmitsRoutableLines(t *testing.T) {
	for _, scheme := range []telemetry.Scheme{telemetry.SchemeTagged, telemetry.SchemeLegacy} {
		t.Run(string(scheme), func(t *testing.T) {
			s := NewSimulator(SimConfig{Scheme: scheme})
			router, err := telemetry.NewRouter(scheme, telemetry.NewTable())
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go s.Run(ctx, time.Millisecond)

			sc := bufio.NewScanner(s)
			for i := 0; i < 3; i++ {
				if !sc.Scan() {
					t.Fatalf("stream ended early: %v", sc.Err())
				}
				if res := router.Ingest(sc.Text()); res != telemetry.Classified {
					t.Fatalf("line %q not classified", sc.Text())
				}
			}
			for _, ch := range []models.ChannelID{models.Metal, models.Front, models.Back} {
				if !router.Table().Get(ch).Known() {
					t.Errorf("%s not populated", ch)
				}
			}
		})
	}
}

func TestSimulatorRunStopsOnCancel(t *testing.T) {
	s := NewSimulator(SimConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	buf := make([]byte, 16)
	if _, err := s.Read(buf); err == nil {
		t.Fatal("expected read error after stream closed")
	}
}

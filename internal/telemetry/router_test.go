package telemetry

import (
	"testing"
	"time"

	"thermocycler/internal/models"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, scheme Scheme, opts ...Option) (*Router, *Table) {
	t.Helper()
	table := NewTable()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := NewRouter(scheme, table, opts...)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r, table
}

func TestTable_StartsUnknown(t *testing.T) {
	table := NewTable()
	for _, r := range table.Snapshot() {
		if r.Known() || r.Value != models.Unknown {
			t.Fatalf("cell %s should start unknown, got %v", r.Channel, r.Value)
		}
	}
}

func TestRouter_IngestUpdatesOnlyThatChannel(t *testing.T) {
	r, table := newTestRouter(t, SchemeTagged)

	if res := r.Ingest("T_FRONT,23.4\n"); res != Classified {
		t.Fatalf("expected Classified, got %v", res)
	}
	front := table.Get(models.Front)
	if front.Value != 23.4 || !front.At.Equal(fixedNow) {
		t.Fatalf("front cell = %+v", front)
	}
	for _, ch := range []models.ChannelID{models.Metal, models.Back, models.FrontSet, models.BackSet} {
		if table.Get(ch).Known() {
			t.Fatalf("channel %s should be untouched", ch)
		}
	}
}

func TestRouter_Classify_Tagged(t *testing.T) {
	r, _ := newTestRouter(t, SchemeTagged)
	cases := []struct {
		line string
		ch   models.ChannelID
		v    float64
	}{
		{"T_METAL,25.0", models.Metal, 25},
		{"T_FRONT,23.4\r\n", models.Front, 23.4},
		{"  t_back , 60.5  ", models.Back, 60.5},
		{"T_FRONT_SET,94", models.FrontSet, 94},
		{"T_BACK_SET,57.5", models.BackSet, 57.5},
		{"T_FRONT: 41", models.Front, 41},
		{"T_BACK,extra,-3.5", models.Back, -3.5},
	}
	for _, tc := range cases {
		rd, res := r.Classify(tc.line)
		if res != Classified {
			t.Fatalf("%q: expected Classified", tc.line)
		}
		if rd.Channel != tc.ch || rd.Value != tc.v {
			t.Fatalf("%q: got %s=%v, want %s=%v", tc.line, rd.Channel, rd.Value, tc.ch, tc.v)
		}
	}
}

func TestRouter_Classify_Legacy(t *testing.T) {
	r, table := newTestRouter(t, SchemeLegacy)
	r.Ingest("TEC_1: 37.2")
	r.Ingest("TEC_2: 38.5")
	r.Ingest("TEC_MET: 30")
	if table.Get(models.Front).Value != 37.2 || table.Get(models.Back).Value != 38.5 || table.Get(models.Metal).Value != 30 {
		t.Fatalf("unexpected table %v", table.Values())
	}
	// the tagged vocabulary is not understood by the legacy router
	if _, res := r.Classify("T_FRONT,23.4"); res != ParseSkip {
		t.Fatalf("tagged line must be skipped under legacy scheme")
	}
}

func TestRouter_SkipLeavesTableUnchanged(t *testing.T) {
	var hooked []string
	r, table := newTestRouter(t, SchemeTagged, WithSkipHook(func(l string) { hooked = append(hooked, l) }))
	r.Ingest("T_FRONT,20")

	for _, line := range []string{"", "Updating PCR..", "WRONG SERIAL MSG.", "T_SIDE,12", "T_FRONT,abc", "<32>", ",5"} {
		if res := r.Ingest(line); res != ParseSkip {
			t.Fatalf("%q: expected ParseSkip", line)
		}
	}
	if got := table.Get(models.Front).Value; got != 20 {
		t.Fatalf("front changed to %v", got)
	}
	if table.Get(models.Back).Known() {
		t.Fatalf("back should still be unknown")
	}
	if r.Skipped() != 7 || len(hooked) != 7 {
		t.Fatalf("skipped=%d hooked=%d", r.Skipped(), len(hooked))
	}
}

func TestRouter_NonFiniteValuesSkipped(t *testing.T) {
	r, table := newTestRouter(t, SchemeTagged)
	r.Ingest("T_FRONT,20")

	for _, line := range []string{"T_FRONT,nan", "T_FRONT,NaN", "T_FRONT,inf", "T_FRONT,+Inf", "T_FRONT,-inf"} {
		if _, res := r.Classify(line); res != ParseSkip {
			t.Fatalf("%q: expected ParseSkip", line)
		}
		r.Ingest(line)
	}
	if got := table.Get(models.Front); got.Value != 20 || !got.Known() {
		t.Fatalf("front cell = %+v, want the last finite reading", got)
	}
	if r.Skipped() != 5 {
		t.Fatalf("skipped = %d, want 5", r.Skipped())
	}
}

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme(" Legacy "); err != nil || s != SchemeLegacy {
		t.Fatalf("got %v %v", s, err)
	}
	if _, err := ParseScheme("auto"); err == nil {
		t.Fatalf("auto detection must be rejected")
	}
	if _, err := NewRouter("auto", NewTable()); err == nil {
		t.Fatalf("NewRouter must reject unknown scheme")
	}
}

package telemetry

import (
	"sync/atomic"
	"time"

	"thermocycler/internal/models"
)

// Table holds the latest reading per channel. Each cell is swapped
// atomically, so readers never see a half-written value. The Router is the
// only writer.
type Table struct {
	cells [len(models.Channels)]atomic.Pointer[models.Reading]
}

// NewTable returns a table with every cell set to models.Unknown.
func NewTable() *Table {
	t := &Table{}
	t.Reset()
	return t
}

// Reset puts every cell back to the unknown sentinel.
func (t *Table) Reset() {
	for _, ch := range models.Channels {
		t.cells[ch].Store(&models.Reading{Channel: ch, Value: models.Unknown})
	}
}

func (t *Table) set(ch models.ChannelID, v float64, at time.Time) {
	if int(ch) >= len(t.cells) {
		return
	}
	t.cells[ch].Store(&models.Reading{Channel: ch, Value: v, At: at})
}

// Get returns the latest reading for ch.
func (t *Table) Get(ch models.ChannelID) models.Reading {
	if int(ch) >= len(t.cells) {
		return models.Reading{Channel: ch, Value: models.Unknown}
	}
	return *t.cells[ch].Load()
}

// Snapshot returns the latest reading of every channel in table order.
func (t *Table) Snapshot() []models.Reading {
	out := make([]models.Reading, 0, len(t.cells))
	for _, ch := range models.Channels {
		out = append(out, t.Get(ch))
	}
	return out
}

// Values is Snapshot keyed by channel.
func (t *Table) Values() map[models.ChannelID]float64 {
	out := make(map[models.ChannelID]float64, len(t.cells))
	for _, ch := range models.Channels {
		out[ch] = t.Get(ch).Value
	}
	return out
}

package control

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"thermocycler/internal/models"
)

// Sink receives one Sample per control tick.
type Sink interface {
	Append(s models.Sample) error
}

// RunCloser is implemented by sinks that hold per-run resources. The
// controller calls CloseRun once its loop has exited.
type RunCloser interface {
	CloseRun(runID string, ch models.ChannelID) error
}

// NopSink discards samples.
type NopSink struct{}

func (NopSink) Append(models.Sample) error { return nil }

// MultiSink fans a sample out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(s models.Sample) error {
	var errs []error
	for _, sk := range m {
		if err := sk.Append(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) CloseRun(runID string, ch models.ChannelID) error {
	var errs []error
	for _, sk := range m {
		if c, ok := sk.(RunCloser); ok {
			if err := c.CloseRun(runID, ch); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// CSVHeader is the column layout of a run log file.
var CSVHeader = []string{
	"tick", "elapsed_s", "channel", "setpoint", "relay",
	"metal", "front", "back", "front_set", "back_set",
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

// CSVSink appends samples to <dir>/<run-id>-<channel>.csv, one file per
// controller run. Rows are flushed as they are written.
type CSVSink struct {
	dir   string
	mu    sync.Mutex
	files map[string]*csvFile
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("control: create log dir: %w", err)
	}
	return &CSVSink{dir: dir, files: make(map[string]*csvFile)}, nil
}

// Path returns the file a run's samples are written to.
func (c *CSVSink) Path(runID string, ch models.ChannelID) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.csv", runID, ch.String()))
}

func (c *CSVSink) Append(s models.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Path(s.RunID, s.Channel)
	cf, ok := c.files[key]
	if !ok {
		var err error
		if cf, err = c.open(key); err != nil {
			return err
		}
		c.files[key] = cf
	}
	if err := cf.w.Write(sampleRow(s)); err != nil {
		return fmt.Errorf("control: write %s: %w", key, err)
	}
	cf.w.Flush()
	return cf.w.Error()
}

func (c *CSVSink) open(path string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("control: open %s: %w", path, err)
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if err := cf.w.Write(CSVHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return cf, nil
}

func (c *CSVSink) CloseRun(runID string, ch models.ChannelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Path(runID, ch)
	cf, ok := c.files[key]
	if !ok {
		return nil
	}
	delete(c.files, key)
	cf.w.Flush()
	return errors.Join(cf.w.Error(), cf.f.Close())
}

// Close closes every open file.
func (c *CSVSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, cf := range c.files {
		cf.w.Flush()
		errs = append(errs, cf.w.Error(), cf.f.Close())
		delete(c.files, key)
	}
	return errors.Join(errs...)
}

func sampleRow(s models.Sample) []string {
	row := []string{
		strconv.Itoa(s.Tick),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
		s.Channel.String(),
		formatTemp(s.Setpoint),
		strconv.FormatBool(s.RelayOn),
	}
	for _, ch := range models.Channels {
		v, ok := s.Readings[ch]
		if !ok {
			v = models.Unknown
		}
		row = append(row, formatTemp(v))
	}
	return row
}

func formatTemp(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

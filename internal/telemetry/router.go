// Package telemetry turns the board's serial line stream into a table of the
// latest reading per channel.
package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"thermocycler/internal/models"

	"go.uber.org/zap"
)

// Scheme selects the firmware's tag vocabulary. It is configured, never
// detected from traffic.
type Scheme string

const (
	// SchemeTagged is the current firmware: "T_FRONT,23.4".
	SchemeTagged Scheme = "tagged"
	// SchemeLegacy is the TEC firmware: "TEC_1: 37.2".
	SchemeLegacy Scheme = "legacy"
)

// ParseScheme validates a configured scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeTagged:
		return SchemeTagged, nil
	case SchemeLegacy:
		return SchemeLegacy, nil
	default:
		return "", fmt.Errorf("telemetry: unknown tag scheme %q", s)
	}
}

// Result is the classification of one raw line.
type Result uint8

const (
	Classified Result = iota
	ParseSkip
)

func (r Result) String() string {
	if r == Classified {
		return "classified"
	}
	return "skip"
}

type tagRule struct {
	tag     string // lower case
	channel models.ChannelID
}

var schemeRules = map[Scheme][]tagRule{
	SchemeTagged: {
		{"t_metal", models.Metal},
		{"t_front", models.Front},
		{"t_back", models.Back},
		{"t_front_set", models.FrontSet},
		{"t_back_set", models.BackSet},
	},
	SchemeLegacy: {
		{"tec_met", models.Metal},
		{"tec_1", models.Front},
		{"tec_2", models.Back},
	},
}

const (
	separators = ",:"
	framing    = " \t\r\n\x00"
)

// Router classifies raw lines and writes classified readings to its Table.
type Router struct {
	rules   []tagRule
	table   *Table
	now     func() time.Time
	log     *zap.SugaredLogger
	onSkip  func(line string)
	skipped atomic.Uint64
}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// WithLogger sets the logger for skipped lines.
func WithLogger(l *zap.SugaredLogger) Option { return func(r *Router) { r.log = l } }

// WithSkipHook is called for every line classified as ParseSkip.
func WithSkipHook(fn func(line string)) Option { return func(r *Router) { r.onSkip = fn } }

// NewRouter builds a router for scheme writing into table.
func NewRouter(scheme Scheme, table *Table, opts ...Option) (*Router, error) {
	rules, ok := schemeRules[scheme]
	if !ok {
		return nil, fmt.Errorf("telemetry: unknown tag scheme %q", scheme)
	}
	r := &Router{
		rules: rules,
		table: table,
		now:   time.Now,
		log:   zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Table returns the table the router writes to.
func (r *Router) Table() *Table { return r.table }

// Classify parses one raw line without touching the table.
func (r *Router) Classify(raw string) (models.Reading, Result) {
	line := strings.Trim(raw, framing)
	i := strings.IndexAny(line, separators)
	if i <= 0 {
		return models.Reading{}, ParseSkip
	}
	tag := strings.ToLower(strings.TrimSpace(line[:i]))

	ch, ok := r.match(tag)
	if !ok {
		return models.Reading{}, ParseSkip
	}
	j := strings.LastIndexAny(line, separators)
	v, err := strconv.ParseFloat(strings.TrimSpace(line[j+1:]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return models.Reading{}, ParseSkip
	}
	return models.Reading{Channel: ch, Value: v, At: r.now()}, Classified
}

// Ingest classifies raw and, on success, overwrites the channel's cell.
func (r *Router) Ingest(raw string) Result {
	rd, res := r.Classify(raw)
	if res == ParseSkip {
		r.skipped.Add(1)
		r.log.Debugw("telemetry_skip", "line", strings.Trim(raw, framing))
		if r.onSkip != nil {
			r.onSkip(raw)
		}
		return res
	}
	r.table.set(rd.Channel, rd.Value, rd.At)
	return res
}

// Skipped counts lines classified as ParseSkip so far.
func (r *Router) Skipped() uint64 { return r.skipped.Load() }

func (r *Router) match(tag string) (models.ChannelID, bool) {
	for _, rule := range r.rules {
		if tag == rule.tag {
			return rule.channel, true
		}
	}
	return 0, false
}

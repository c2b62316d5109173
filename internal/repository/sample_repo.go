package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"thermocycler/internal/models"
)

// sampleWriteTimeout bounds one Append from a control loop.
const sampleWriteTimeout = 2 * time.Second

// SampleSQLite stores control-tick samples. It doubles as a control.Sink.
type SampleSQLite struct {
	db *sql.DB
}

func NewSampleSQLite(db *sql.DB) *SampleSQLite { return &SampleSQLite{db: db} }

const (
	insertSampleSQL = `
		INSERT INTO samples (run_id, channel, tick, at, elapsed_ms, setpoint, measured, relay_on, readings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	selectSamplesSQL = `
		SELECT run_id, channel, tick, at, elapsed_ms, setpoint, measured, relay_on, readings
		FROM samples WHERE run_id = ? ORDER BY tick ASC
	`
)

func (r *SampleSQLite) Insert(ctx context.Context, s models.Sample) error {
	readings, err := json.Marshal(s.Readings)
	if err != nil {
		return fmt.Errorf("marshal readings: %w", err)
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = r.db.ExecContext(ctx, insertSampleSQL,
		s.RunID,
		s.Channel.String(),
		s.Tick,
		at.UTC().Format(sqliteTimestamp),
		s.Elapsed.Milliseconds(),
		s.Setpoint,
		s.Measured,
		s.RelayOn,
		string(readings),
	)
	if err != nil {
		return fmt.Errorf("insert sample %s/%d: %w", s.RunID, s.Tick, err)
	}
	return nil
}

// Append implements control.Sink.
func (r *SampleSQLite) Append(s models.Sample) error {
	ctx, cancel := context.WithTimeout(context.Background(), sampleWriteTimeout)
	defer cancel()
	return r.Insert(ctx, s)
}

func (r *SampleSQLite) ListByRun(ctx context.Context, runID string) ([]models.Sample, error) {
	rows, err := r.db.QueryContext(ctx, selectSamplesSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var (
			s         models.Sample
			channel   string
			elapsedMS int64
			readings  sql.NullString
		)
		if err := rows.Scan(&s.RunID, &channel, &s.Tick, &s.At, &elapsedMS,
			&s.Setpoint, &s.Measured, &s.RelayOn, &readings); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if s.Channel, err = models.ParseChannel(channel); err != nil {
			return nil, err
		}
		s.At = s.At.UTC()
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if readings.Valid && readings.String != "" {
			if err := json.Unmarshal([]byte(readings.String), &s.Readings); err != nil {
				return nil, fmt.Errorf("sample %s/%d readings: %w", s.RunID, s.Tick, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

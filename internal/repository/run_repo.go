package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"thermocycler/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// RunSQLite keeps the audit history of started runs. It is never read back
// to resume a run.
type RunSQLite struct {
	db *sql.DB
}

func NewRunSQLite(db *sql.DB) *RunSQLite { return &RunSQLite{db: db} }

const (
	defaultRunListLimit = 50

	insertRunSQL = `
		INSERT INTO runs (id, channel, started_at, ended_at, outcome, planned_s, steps, protocol, started_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	finishRunSQL = `UPDATE runs SET outcome = ?, ended_at = ? WHERE id = ?`

	selectRunsSQL = `
		SELECT id, channel, started_at, ended_at, outcome, planned_s, steps, protocol, started_by
		FROM runs ORDER BY started_at DESC LIMIT ?
	`
)

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimestamp)
}

// nullUser stores runs started without an authenticated operator as NULL.
func nullUser(id int) any {
	if id == 0 {
		return nil
	}
	return id
}

func (r *RunSQLite) Insert(ctx context.Context, rec models.RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		rec.RunID,
		rec.Channel.String(),
		nullTime(rec.StartedAt),
		nullTime(rec.EndedAt),
		rec.Outcome,
		rec.PlannedSeconds,
		rec.Steps,
		rec.Protocol,
		nullUser(rec.StartedBy),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	return nil
}

// Finish records how a run ended.
func (r *RunSQLite) Finish(ctx context.Context, runID, outcome string, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, finishRunSQL, outcome, nullTime(endedAt), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// List returns the most recent runs first.
func (r *RunSQLite) List(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	rows, err := r.db.QueryContext(ctx, selectRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var (
			rec     models.RunRecord
			channel string
			ended   sql.NullTime
			proto   sql.NullString
			by      sql.NullInt64
		)
		if err := rows.Scan(&rec.RunID, &channel, &rec.StartedAt, &ended, &rec.Outcome,
			&rec.PlannedSeconds, &rec.Steps, &proto, &by); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rec.Channel, err = models.ParseChannel(channel); err != nil {
			return nil, fmt.Errorf("run %s: %w", rec.RunID, err)
		}
		rec.StartedAt = rec.StartedAt.UTC()
		if ended.Valid {
			rec.EndedAt = ended.Time.UTC()
		}
		rec.Protocol = proto.String
		rec.StartedBy = int(by.Int64)
		out = append(out, rec)
	}
	return out, rows.Err()
}

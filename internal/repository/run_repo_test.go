package repository_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"thermocycler/internal/models"
	"thermocycler/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
)

type sqlmockArgumentFunc func(v driver.Value) bool

func (f sqlmockArgumentFunc) Match(v driver.Value) bool { return f(v) }

var runCols = []string{"id", "channel", "started_at", "ended_at", "outcome", "planned_s", "steps", "protocol", "started_by"}

func TestRunSQLite_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()
	repo := repository.NewRunSQLite(db)

	started := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	rec := models.RunRecord{
		RunID:          "r-1",
		Channel:        models.Back,
		StartedAt:      started,
		Outcome:        "RUNNING",
		PlannedSeconds: 120,
		Steps:          4,
		Protocol:       "95, 60\n",
		StartedBy:      7,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("r-1", "BACK", "2024-06-01 18:00:00.000", nil, "RUNNING", 120.0, 4, "95, 60\n", 7).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("r-2", "FRONT", sqlmock.AnyArg(), nil, "RUNNING", 1.0, 1, "", nil).
		WillReturnResult(sqlmock.NewResult(2, 1))

	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	anonymous := models.RunRecord{RunID: "r-2", Channel: models.Front, Outcome: "RUNNING", PlannedSeconds: 1, Steps: 1}
	if err := repo.Insert(context.Background(), anonymous); err != nil {
		t.Fatalf("Insert(no operator) error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunSQLite_Finish(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()
	repo := repository.NewRunSQLite(db)

	isTimestamp := sqlmockArgumentFunc(func(v driver.Value) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse("2006-01-02 15:04:05.000", s)
		return err == nil
	})

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET outcome = ?, ended_at = ? WHERE id = ?")).
		WithArgs("COMPLETE", isTimestamp, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WithArgs("STOPPED", isTimestamp, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs")).
		WillReturnError(errors.New("locked"))

	if err := repo.Finish(context.Background(), "r-1", "COMPLETE", time.Time{}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := repo.Finish(context.Background(), "missing", "STOPPED", time.Now()); !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("Finish(missing) error = %v, want ErrRunNotFound", err)
	}
	if err := repo.Finish(context.Background(), "r-2", "FAILED", time.Now()); err == nil {
		t.Fatal("Finish() expected exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunSQLite_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()
	repo := repository.NewRunSQLite(db)

	start := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(runCols).
		AddRow("r-2", "FRONT", start.Add(time.Hour), nil, "RUNNING", 60.0, 2, nil, nil).
		AddRow("r-1", "BACK", start, start.Add(2*time.Minute), "COMPLETE", 120.0, 4, "95, 60", int64(7))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, channel, started_at")).
		WithArgs(50).
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() len = %d", len(got))
	}
	if got[0].Channel != models.Front || !got[0].EndedAt.IsZero() || got[0].Protocol != "" || got[0].StartedBy != 0 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Channel != models.Back || !got[1].EndedAt.Equal(start.Add(2*time.Minute)) || got[1].Outcome != "COMPLETE" || got[1].StartedBy != 7 {
		t.Fatalf("second = %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunSQLite_List_BadChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()
	repo := repository.NewRunSQLite(db)

	mock.ExpectQuery("SELECT id, channel").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(runCols).AddRow("r", "SIDE", time.Now(), nil, "RUNNING", 1.0, 1, nil, nil))

	if _, err := repo.List(context.Background(), 5); err == nil {
		t.Fatal("List() expected error for unknown channel")
	}
}

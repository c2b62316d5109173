package repository

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"thermocycler/internal/models"
	"thermocycler/internal/repository/db"
)

func TestOperatorRoundTripSQLite(t *testing.T) {
	conn, err := db.InitDB(filepath.Join(t.TempDir(), "operators.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer conn.Close()

	users := NewUserRepository(conn)
	id, err := users.Create("  Lab.Tech ", "hash-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	u, err := users.GetByUsername("LAB.TECH")
	if err != nil || u == nil {
		t.Fatalf("GetByUsername = %v, %v", u, err)
	}
	if u.ID != id || u.Username != "lab.tech" || u.PasswordHash != "hash-1" {
		t.Fatalf("user = %+v", u)
	}
	if _, err := users.Create("lab.tech", "hash-2"); err == nil {
		t.Fatal("second operator with the same name was accepted")
	}
	if missing, err := users.GetByUsername("nobody"); missing != nil || err != nil {
		t.Fatalf("unknown operator = %v, %v; want nil, nil", missing, err)
	}

	runs := NewRunSQLite(conn)
	rec := models.RunRecord{
		RunID:          "r-1",
		Channel:        models.Front,
		StartedAt:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Outcome:        "RUNNING",
		PlannedSeconds: 30,
		Steps:          1,
		StartedBy:      id,
	}
	if err := runs.Insert(ctx(t), rec); err != nil {
		t.Fatalf("Insert run: %v", err)
	}
	list, err := runs.List(ctx(t), 1)
	if err != nil || len(list) != 1 || list[0].StartedBy != id {
		t.Fatalf("runs = %+v, %v; want started_by %d", list, err, id)
	}
}

func TestUserRepository_ErrorsNameTheOperator(t *testing.T) {
	conn, mock := newMockDB(t)
	users := NewUserRepository(conn)

	mock.ExpectExec(regexp.QuoteMeta(insertUserSQL)).
		WithArgs("bob", "h").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectQuery(regexp.QuoteMeta(selectUserByUsernameSQL)).
		WithArgs("bob").
		WillReturnError(errors.New("database is locked"))

	if _, err := users.Create(" BOB", "h"); err == nil || !strings.Contains(err.Error(), `"bob"`) {
		t.Fatalf("Create error = %v", err)
	}
	if _, err := users.GetByUsername("Bob"); err == nil || !strings.Contains(err.Error(), `"bob"`) {
		t.Fatalf("GetByUsername error = %v", err)
	}
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"thermocycler/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

type RunRepo interface {
	Insert(ctx context.Context, r models.RunRecord) error
	Finish(ctx context.Context, runID, outcome string, endedAt time.Time) error
	List(ctx context.Context, limit int) ([]models.RunRecord, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.RunEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.RunEvent, error)
}

// SampleRepo keeps per-tick control samples. Append makes it usable as a
// controller sink.
type SampleRepo interface {
	Insert(ctx context.Context, s models.Sample) error
	Append(s models.Sample) error
	ListByRun(ctx context.Context, runID string) ([]models.Sample, error)
}

type Repository struct {
	RunRepo    RunRepo
	EventRepo  EventRepo
	SampleRepo SampleRepo
	Auth       Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		RunRepo:    NewRunSQLite(db),
		EventRepo:  NewEventSQLite(db),
		SampleRepo: NewSampleSQLite(db),
		Auth:       NewUserRepository(db),
	}
}

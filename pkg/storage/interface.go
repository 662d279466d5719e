package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"testbot/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

// RunRecorder receives every finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.RunRecord) error
}

// RunHistory exposes recorded runs to the API.
type RunHistory interface {
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)

	// GetRun retrieves a run with its outcomes.
	GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)
}

// RunStore is a recorder that can also answer history queries.
type RunStore interface {
	RunRecorder
	RunHistory
}

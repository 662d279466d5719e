// Package memory keeps recent run history in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"testbot/pkg/models"
	"testbot/pkg/storage"
)

// Store holds up to capacity runs, dropping the oldest first.
type Store struct {
	mu       sync.RWMutex
	capacity int
	runs     []models.RunRecord // oldest first
}

// NewStore creates a store; capacity below 1 means 1.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{capacity: capacity}
}

func (s *Store) RecordRun(ctx context.Context, run *models.RunRecord) error {
	rec := *run
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Outcomes = append([]models.OutcomeRecord(nil), run.Outcomes...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	if over := len(s.runs) - s.capacity; over > 0 {
		s.runs = append([]models.RunRecord(nil), s.runs[over:]...)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first, without their outcomes.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]models.RunRecord, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.runs[i]
		rec.Outcomes = nil
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.runs {
		if s.runs[i].ID == id {
			rec := s.runs[i]
			rec.Outcomes = append([]models.OutcomeRecord(nil), rec.Outcomes...)
			return &rec, nil
		}
	}
	return nil, storage.ErrNotFound
}

var _ storage.RunStore = (*Store)(nil)

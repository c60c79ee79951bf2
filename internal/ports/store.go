package ports

import (
	"context"

	"cadence/internal/domain"
)

// ScheduleStore persists schedule records.
//
// Update succeeds only when s.Version matches the stored version and
// increments it; otherwise it returns domain.ErrVersionConflict.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	Get(ctx context.Context, id string) (*domain.Schedule, error)
	Find(ctx context.Context, c domain.Criteria) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
}

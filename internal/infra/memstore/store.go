// Package memstore keeps schedule records in process memory. It backs the
// worker when Engine_Store=memory and the engine's tests.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"

	"github.com/google/uuid"
)

var _ ports.ScheduleStore = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	schedules map[string]domain.Schedule
}

func New() *Store {
	return &Store{schedules: make(map[string]domain.Schedule)}
}

func (s *Store) Create(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sch.Version = 1
	sch.CreatedAt, sch.UpdatedAt = now, now
	s.schedules[sch.ID] = sch.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.schedules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := sch.Clone()
	return &c, nil
}

func (s *Store) Find(_ context.Context, c domain.Criteria) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Schedule, 0)
	for _, sch := range s.schedules {
		if c.Status != "" && sch.Status != c.Status {
			continue
		}
		if !c.NextRunBefore.IsZero() && (sch.NextRunDate == nil || !sch.NextRunDate.Before(c.NextRunBefore)) {
			continue
		}
		out = append(out, sch.Clone())
	}

	slices.SortFunc(out, func(a, b domain.Schedule) int {
		if a.NextRunDate == nil || b.NextRunDate == nil {
			return compareNil(a.NextRunDate == nil, b.NextRunDate == nil)
		}
		return a.NextRunDate.Compare(*b.NextRunDate)
	})
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, sch *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.schedules[sch.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != sch.Version {
		return domain.ErrVersionConflict
	}
	sch.Version++
	sch.UpdatedAt = time.Now().UTC()
	s.schedules[sch.ID] = sch.Clone()
	return nil
}

// nil next-run dates sort last
func compareNil(aNil, bNil bool) int {
	switch {
	case aNil && bNil:
		return 0
	case aNil:
		return 1
	}
	return -1
}

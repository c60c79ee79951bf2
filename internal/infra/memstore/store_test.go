package memstore

import (
	"context"
	"testing"
	"time"

	"cadence/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	st := New()

	s := &domain.Schedule{Frequency: domain.FrequencyDaily, Status: domain.StatusActive, WeekDays: []int{1}}
	require.NoError(t, st.Create(ctx, s))
	require.NotEmpty(t, s.ID)
	assert.Equal(t, int64(1), s.Version)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	got.WeekDays[0] = 4

	again, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, again.WeekDays)

	got.Status = domain.StatusPaused
	require.NoError(t, st.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	again.Status = domain.StatusCancelled
	assert.ErrorIs(t, st.Update(ctx, again), domain.ErrVersionConflict)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, st.Update(ctx, &domain.Schedule{ID: "missing"}), domain.ErrNotFound)
}

func TestStore_Find(t *testing.T) {
	ctx := context.Background()
	st := New()
	base := time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)

	at := func(h int) *time.Time {
		v := base.Add(time.Duration(h) * time.Hour)
		return &v
	}
	for _, s := range []*domain.Schedule{
		{ID: "late", Status: domain.StatusActive, NextRunDate: at(20)},
		{ID: "early", Status: domain.StatusActive, NextRunDate: at(2)},
		{ID: "paused", Status: domain.StatusPaused, NextRunDate: at(1)},
		{ID: "tomorrow", Status: domain.StatusActive, NextRunDate: at(40)},
		{ID: "never", Status: domain.StatusActive},
	} {
		require.NoError(t, st.Create(ctx, s))
	}

	got, err := st.Find(ctx, domain.Criteria{Status: domain.StatusActive, NextRunBefore: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "late", got[1].ID)

	all, err := st.Find(ctx, domain.Criteria{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "paused", all[0].ID)
}

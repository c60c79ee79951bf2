package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls int
	err   error
}

func (s *countingSyncer) Run(context.Context) (usecase.SyncReport, error) {
	s.calls++
	return usecase.SyncReport{}, s.err
}

func TestStartMidnightSync_FiresAtLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	c, err := StartMidnightSync(context.Background(), loc, &countingSyncer{})
	require.NoError(t, err)
	defer c.Stop()

	entries := c.Entries()
	require.Len(t, entries, 1)
	// cron hands the schedule times already in its location
	next := entries[0].Schedule.Next(time.Now().In(loc)).In(loc)
	assert.Zero(t, next.Hour())
	assert.Zero(t, next.Minute())
	assert.True(t, next.After(time.Now()))
	assert.LessOrEqual(t, time.Until(next), 24*time.Hour)
}

func TestRunSync(t *testing.T) {
	s := &countingSyncer{}
	runSync(context.Background(), s, "boot")
	assert.Equal(t, 1, s.calls)

	s.err = usecase.ErrSyncInProgress
	runSync(context.Background(), s, "midnight")
	s.err = errors.New("redis down")
	runSync(context.Background(), s, "midnight")
	assert.Equal(t, 3, s.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runSync(ctx, s, "midnight")
	assert.Equal(t, 3, s.calls)
}

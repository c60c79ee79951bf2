package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence/internal/config"
	"cadence/internal/domain"
	"cadence/internal/infra/memstore"
	"cadence/internal/infra/redisq"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSynchronizer(store *memstore.Store, q *fakeQueue, now time.Time) *Synchronizer {
	return &Synchronizer{Store: store, Q: q, Locks: NewLocker(), Now: fixedClock(now)}
}

func TestSynchronizer_EnqueuesEachDueScheduleExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	q := newFakeQueue()
	today9 := time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)

	paused := daily("paused", today9)
	paused.Status = domain.StatusPaused
	repeating := daily("repeating", today9)
	repeating.IntervalValue = ptr(30)
	seed(store,
		daily("due", today9),
		daily("tomorrow", today9.AddDate(0, 0, 1)),
		paused,
		repeating,
	)

	sync := newSynchronizer(store, q, testNow)
	report, err := sync.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 2, report.Enqueued)
	assert.Zero(t, report.Failed)

	for i := 0; i < 2; i++ {
		assert.Len(t, q.jobsFor("due"), 1)
		assert.Len(t, q.jobsFor("repeating"), 1)
		assert.Empty(t, q.jobsFor("tomorrow"))
		assert.Empty(t, q.jobsFor("paused"))

		report, err = sync.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Purged)
	}

	job := q.jobsFor("due")[0]
	opts := q.opts[job.ID]
	assert.Equal(t, today9.Sub(testNow), opts.Delay)
	assert.Equal(t, 1, opts.Attempts)
	assert.Zero(t, opts.RemoveOnFail)
	assert.Nil(t, opts.Repeat)
	assert.Equal(t, "entity-due", job.EntityID())
	assert.Equal(t, "due", job.Payload["note"])
	assert.Equal(t, false, job.Payload[domain.PayloadIsRepeating])

	rep := q.opts[q.jobsFor("repeating")[0].ID].Repeat
	require.NotNil(t, rep)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), rep.EveryMs)
	assert.Equal(t, time.Date(2025, time.March, 4, 23, 59, 0, 0, time.UTC), rep.Until)
}

func TestSynchronizer_UsesScheduleTimezoneForToday(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	q := newFakeQueue()

	// 2025-03-04 00:00:05 UTC is still 2025-03-03 in New York.
	ny := daily("ny", time.Date(2025, time.March, 4, 14, 0, 0, 0, time.UTC))
	ny.Timezone = "America/New_York"
	seed(store, ny)

	report, err := newSynchronizer(store, q, testNow).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Empty(t, q.jobsFor("ny"))

	later := time.Date(2025, time.March, 4, 6, 0, 0, 0, time.UTC)
	report, err = newSynchronizer(store, q, later).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
	assert.Equal(t, 8*time.Hour, q.opts[q.jobsFor("ny")[0].ID].Delay)
}

func TestSynchronizer_RefusesOverlappingRuns(t *testing.T) {
	sync := newSynchronizer(memstore.New(), newFakeQueue(), testNow)
	sync.running.Store(true)

	_, err := sync.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSynchronizer_RollsForwardOverdueSchedules(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	q := newFakeQueue()

	stale := daily("stale", time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	done := daily("done", time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	done.Frequency = domain.FrequencyOnce
	done.ExecutionCount = 1
	missedOnce := daily("missed-once", time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	missedOnce.Frequency = domain.FrequencyOnce
	missedOnce.StartDate = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	seed(store, stale, done, missedOnce)

	report, err := newSynchronizer(store, q, testNow).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RolledForward)
	assert.Equal(t, 1, report.Completed)

	got, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC), *got.NextRunDate)
	assert.Len(t, q.jobsFor("stale"), 1)

	got, err = store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, q.jobsFor("done"))

	got, err = store.Get(ctx, "missed-once")
	require.NoError(t, err)
	assert.Equal(t, testNow, *got.NextRunDate)
	require.Len(t, q.jobsFor("missed-once"), 1)
	assert.Equal(t, 9*time.Hour-5*time.Second, q.opts[q.jobsFor("missed-once")[0].ID].Delay)
}

func TestSynchronizer_IsolatesEnqueueFailures(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	q := newFakeQueue()
	today9 := time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)

	broken := daily("broken", today9)
	broken.Action = "broken.action"
	seed(store, broken, daily("ok", today9))
	q.enqueueErr = func(action string) error {
		if action == "broken.action" {
			return errors.New("queue rejected task")
		}
		return nil
	}

	report, err := newSynchronizer(store, q, testNow).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Enqueued)
	assert.Len(t, q.jobsFor("ok"), 1)
}

func TestSynchronizer_FreshOccurrenceResetsRetries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := daily("s", time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC))
	s.RetryOnFailure = true
	s.MaxRetries = 3
	s.CurrentRetries = 2
	seed(store, s)

	q := newFakeQueue()
	_, err := newSynchronizer(store, q, testNow).Run(ctx)
	require.NoError(t, err)

	got, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, got.CurrentRetries)

	opts := q.opts[q.jobsFor("s")[0].ID]
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, 50, opts.RemoveOnFail)
}

func TestBuildOptions_RepeatWindowRollsToTomorrow(t *testing.T) {
	s := *daily("s", testNow)
	s.TimeOfDay = "08:00"
	s.EndTime = ptr("10:00")
	s.IntervalValue = ptr(2)
	s.IntervalUnit = ptr(domain.UnitHours)

	now := time.Date(2025, time.March, 4, 11, 0, 0, 0, time.UTC)
	opts, err := BuildOptions(s, now)
	require.NoError(t, err)

	assert.Zero(t, opts.Delay)
	require.NotNil(t, opts.Repeat)
	assert.Equal(t, (2 * time.Hour).Milliseconds(), opts.Repeat.EveryMs)
	assert.Equal(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC), opts.Repeat.Until)
}

func TestDueToday_ResumesRepeatingScheduleThatRanToday(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	now := time.Date(2025, time.March, 4, 12, 0, 0, 0, time.UTC)

	s := daily("s", time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC))
	s.IntervalValue = ptr(15)
	s.LastRunAt = ptr(time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC))
	seed(store, s, daily("other", time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)))

	due, err := DueToday(ctx, store, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s", due[0].ID)
}

func newRedisQueue(t *testing.T, now time.Time) *redisq.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redisq.New(config.Redis{
		Addr:          mr.Addr(),
		Namespace:     "sync",
		StreamKey:     "sync:stream",
		Group:         "workers",
		ScheduledZSet: "sync:delayed",
		DLQStreamKey:  "sync:dlq",
		CompletedTTL:  time.Hour,
	})
	cli.Now = fixedClock(now)
	require.NoError(t, cli.Init(context.Background()))
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestSynchronizer_LeavesRunningOccurrenceAlone(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.March, 4, 9, 30, 0, 0, time.UTC)
	store := memstore.New()
	q := newRedisQueue(t, now)

	repeating := daily("repeating", time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC))
	repeating.IntervalValue = ptr(15)
	seed(store, daily("s1", time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)), repeating)
	sync := &Synchronizer{Store: store, Q: q, Locks: NewLocker(), Now: fixedClock(now)}

	report, err := sync.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Enqueued)

	for range 2 {
		task, _, err := q.Claim(ctx, "worker-1", 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, task)
	}

	report, err = sync.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.InFlight)
	assert.Equal(t, 1, report.Enqueued)

	jobs, err := q.ListJobs(ctx)
	require.NoError(t, err)
	bySchedule := map[string][]domain.TaskStatus{}
	for _, j := range jobs {
		bySchedule[j.ScheduleID()] = append(bySchedule[j.ScheduleID()], j.Status)
	}
	assert.Equal(t, []domain.TaskStatus{domain.TaskActive}, bySchedule["s1"])
	// the running repeat was cut off by the purge and is replaced
	assert.ElementsMatch(t, []domain.TaskStatus{domain.TaskActive, domain.TaskWaiting}, bySchedule["repeating"])
}

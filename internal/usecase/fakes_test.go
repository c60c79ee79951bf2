package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"cadence/internal/domain"
	"cadence/internal/infra/memstore"
	"cadence/internal/ports"
)

// fakeQueue is an in-memory ports.Queue recording every call.
type fakeQueue struct {
	mu    sync.Mutex
	seq   int
	jobs  map[string]*domain.Task
	opts  map[string]ports.EnqueueOptions
	calls []string

	enqueueErr func(action string) error
}

var _ ports.Queue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*domain.Task{}, opts: map[string]ports.EnqueueOptions{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, action string, payload map[string]any, opts ports.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		if err := q.enqueueErr(action); err != nil {
			return "", err
		}
	}
	q.seq++
	id := fmt.Sprintf("job-%d", q.seq)
	status := domain.TaskWaiting
	if opts.Delay > 0 {
		status = domain.TaskDelayed
	}
	q.jobs[id] = &domain.Task{ID: id, Action: action, Payload: payload, MaxAttempts: max(opts.Attempts, 1), RemoveOnFail: opts.RemoveOnFail, Repeat: opts.Repeat, Status: status}
	q.opts[id] = opts
	return id, nil
}

func (q *fakeQueue) ListJobs(_ context.Context, states ...domain.TaskStatus) ([]domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Task
	for _, t := range q.jobs {
		if len(states) == 0 || slices.Contains(states, t.Status) {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b domain.Task) int { return compareIDs(a.ID, b.ID) })
	return out, nil
}

func (q *fakeQueue) RemoveJob(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.jobs[id]
	if !ok {
		return nil
	}
	if t.Status == domain.TaskActive {
		return ports.ErrJobActive
	}
	delete(q.jobs, id)
	return nil
}

func (q *fakeQueue) Purge(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, t := range q.jobs {
		if t.Status != domain.TaskActive {
			delete(q.jobs, id)
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) Get(_ context.Context, id string) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (q *fakeQueue) Claim(_ context.Context, _ string, _ time.Duration) (*domain.Task, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.jobs))
	for id, t := range q.jobs {
		if t.Status == domain.TaskWaiting {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		// stands in for the blocking read of a real queue
		time.Sleep(time.Millisecond)
		return nil, "", nil
	}
	slices.SortFunc(ids, compareIDs)
	t := q.jobs[ids[0]]
	t.Status = domain.TaskActive
	c := *t
	return &c, "stream-" + t.ID, nil
}

func (q *fakeQueue) settle(call string, t domain.Task, status domain.TaskStatus, drop bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call+":"+t.ID)
	if drop {
		delete(q.jobs, t.ID)
		return nil
	}
	if cur, ok := q.jobs[t.ID]; ok {
		cur.Status = status
		cur.Attempts = t.Attempts
	}
	return nil
}

func (q *fakeQueue) Complete(_ context.Context, _ string, t domain.Task) error {
	return q.settle("complete", t, domain.TaskCompleted, false)
}

func (q *fakeQueue) Retry(_ context.Context, _ string, t domain.Task, _ error, _ time.Time) error {
	t.Attempts++
	return q.settle("retry", t, domain.TaskDelayed, false)
}

func (q *fakeQueue) Fail(_ context.Context, _ string, t domain.Task, _ string) error {
	t.Attempts++
	return q.settle("fail", t, domain.TaskFailed, false)
}

func (q *fakeQueue) Discard(_ context.Context, _ string, t domain.Task) error {
	return q.settle("discard", t, "", true)
}

func (q *fakeQueue) jobsFor(scheduleID string) []domain.Task {
	all, _ := q.ListJobs(context.Background())
	var out []domain.Task
	for _, t := range all {
		if t.ScheduleID() == scheduleID {
			out = append(out, t)
		}
	}
	return out
}

func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// conflictStore fails the first n updates with a version conflict.
type conflictStore struct {
	*memstore.Store
	n int
}

func (s *conflictStore) Update(ctx context.Context, sch *domain.Schedule) error {
	if s.n > 0 {
		s.n--
		return domain.ErrVersionConflict
	}
	return s.Store.Update(ctx, sch)
}

// testNow is Tuesday 2025-03-04, just after midnight UTC.
var testNow = time.Date(2025, time.March, 4, 0, 0, 5, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func ptr[T any](v T) *T { return &v }

func daily(id string, next time.Time) *domain.Schedule {
	return &domain.Schedule{
		ID:          id,
		Frequency:   domain.FrequencyDaily,
		StartDate:   time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		TimeOfDay:   "09:00",
		Timezone:    "UTC",
		Action:      "log.message",
		EntityID:    "entity-" + id,
		Data:        map[string]any{"note": id},
		Status:      domain.StatusActive,
		NextRunDate: &next,
	}
}

func seed(store *memstore.Store, schedules ...*domain.Schedule) {
	for _, s := range schedules {
		if err := store.Create(context.Background(), s); err != nil {
			panic(err)
		}
	}
}

package ports

import (
	"context"
	"errors"
	"time"

	"cadence/internal/domain"
)

// ErrJobActive is returned when removing a job a worker is running.
var ErrJobActive = errors.New("job is active")

type EnqueueOptions struct {
	Delay        time.Duration
	Attempts     int
	RemoveOnFail int
	Repeat       *domain.Repeat
}

type Queue interface {
	// producer side
	Enqueue(ctx context.Context, action string, payload map[string]any, opts EnqueueOptions) (string, error)
	ListJobs(ctx context.Context, states ...domain.TaskStatus) ([]domain.Task, error)
	RemoveJob(ctx context.Context, id string) error
	// Purge removes every job of this queue that is not active and returns
	// how many were removed.
	Purge(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*domain.Task, error)

	// consumer side
	Claim(ctx context.Context, consumer string, block time.Duration) (*domain.Task, string /*streamID*/, error)
	Complete(ctx context.Context, streamID string, t domain.Task) error
	Retry(ctx context.Context, streamID string, t domain.Task, err error, runAt time.Time) error
	Fail(ctx context.Context, streamID string, t domain.Task, reason string) error
	Discard(ctx context.Context, streamID string, t domain.Task) error
}

type Scheduler interface {
	// moves due tasks from ZSET into the stream
	Run(ctx context.Context) error
}

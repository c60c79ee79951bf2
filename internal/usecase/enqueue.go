package usecase

import (
	"context"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/recurrence"
)

const (
	// failed jobs kept for inspection when a schedule retries
	keepFailedJobs = 50
	defaultEndTime = "23:59"
)

type Enqueuer struct {
	Q ports.Queue
}

// Now enqueues today's occurrence of s.
func (e Enqueuer) Now(ctx context.Context, s domain.Schedule, now time.Time) (string, error) {
	opts, err := BuildOptions(s, now)
	if err != nil {
		return "", err
	}
	return e.Q.Enqueue(ctx, s.Action, Payload(s, false), opts)
}

// Retry enqueues a single retry of s after delay.
func (e Enqueuer) Retry(ctx context.Context, s domain.Schedule, delay time.Duration) (string, error) {
	return e.Q.Enqueue(ctx, s.Action, Payload(s, true), ports.EnqueueOptions{
		Delay:        delay,
		Attempts:     1,
		RemoveOnFail: keepFailedJobs,
	})
}

// Payload is the schedule's data plus the ids the processor needs.
func Payload(s domain.Schedule, retry bool) map[string]any {
	p := make(map[string]any, len(s.Data)+4)
	for k, v := range s.Data {
		p[k] = v
	}
	_, repeating := s.RepeatEvery()
	p[domain.PayloadScheduleID] = s.ID
	p[domain.PayloadEntityID] = s.EntityID
	p[domain.PayloadIsRepeating] = repeating
	if retry {
		p[domain.PayloadIsRetry] = true
	}
	return p
}

// BuildOptions computes the queue options of today's occurrence of s.
func BuildOptions(s domain.Schedule, now time.Time) (ports.EnqueueOptions, error) {
	loc, err := recurrence.Location(s.Timezone)
	if err != nil {
		return ports.EnqueueOptions{}, err
	}
	runAt, err := recurrence.At(now, s.TimeOfDay, loc)
	if err != nil {
		return ports.EnqueueOptions{}, err
	}

	opts := ports.EnqueueOptions{
		Delay:    max(runAt.Sub(now), 0),
		Attempts: 1,
	}
	if s.RetryOnFailure {
		opts.Attempts = max(s.MaxRetries, 1)
		opts.RemoveOnFail = keepFailedJobs
	}

	if every, ok := s.RepeatEvery(); ok {
		endTime := defaultEndTime
		if s.EndTime != nil && *s.EndTime != "" {
			endTime = *s.EndTime
		}
		until, err := recurrence.At(now, endTime, loc)
		if err != nil {
			return ports.EnqueueOptions{}, err
		}
		if !until.After(now) {
			tomorrow := recurrence.DayOf(now, loc).AddDate(0, 0, 1)
			if until, err = recurrence.At(tomorrow, endTime, loc); err != nil {
				return ports.EnqueueOptions{}, err
			}
		}
		opts.Repeat = &domain.Repeat{EveryMs: every.Milliseconds(), Until: until.UTC()}
	}
	return opts, nil
}

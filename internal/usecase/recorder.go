package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/recurrence"

	"github.com/rs/zerolog/log"
)

// ErrDiscarded is returned when an outcome arrives for a schedule that is
// no longer ACTIVE; the record is left untouched.
var ErrDiscarded = errors.New("outcome discarded: schedule is not active")

const maxRecordAttempts = 3

// Recorder writes the bookkeeping of a finished run back to its schedule.
type Recorder struct {
	Store        ports.ScheduleStore
	Enqueuer     Enqueuer
	Locks        *Locker
	Now          func() time.Time
	HistoryLimit int
}

func (r *Recorder) Record(ctx context.Context, scheduleID string, o domain.Outcome) error {
	unlock := r.Locks.Lock(scheduleID)
	defer unlock()

	now := r.now().UTC()
	for attempt := 1; ; attempt++ {
		sch, err := r.Store.Get(ctx, scheduleID)
		if err != nil {
			return fmt.Errorf("record outcome of schedule %s: %w", scheduleID, err)
		}
		if sch.Status != domain.StatusActive {
			return ErrDiscarded
		}

		retry := r.apply(ctx, sch, o, now)

		err = r.Store.Update(ctx, sch)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < maxRecordAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("record outcome of schedule %s: %w", scheduleID, err)
		}

		if retry {
			delay := time.Duration(sch.RetryDelayMinutes) * time.Minute
			if _, err := r.Enqueuer.Retry(ctx, *sch, delay); err != nil {
				return r.abandonRetry(ctx, sch, now, fmt.Errorf("enqueue retry of schedule %s: %w", scheduleID, err))
			}
			log.Ctx(ctx).Info().
				Str("schedule_id", scheduleID).
				Int("retry", sch.CurrentRetries).
				Dur("delay", delay).
				Msg("retry scheduled")
		}
		return nil
	}
}

// abandonRetry records a retry that could not be queued as an exhausted
// failure, so the schedule moves on to its next occurrence.
func (r *Recorder) abandonRetry(ctx context.Context, sch *domain.Schedule, now time.Time, cause error) error {
	log.Ctx(ctx).Error().Err(cause).Str("schedule_id", sch.ID).Msg("retry not queued, advancing schedule")
	sch.CurrentRetries = 0
	r.advance(ctx, sch, now)
	if err := r.Store.Update(ctx, sch); err != nil {
		return errors.Join(cause, fmt.Errorf("advance schedule %s: %w", sch.ID, err))
	}
	return cause
}

// apply mutates sch for outcome o and reports whether a retry is due.
func (r *Recorder) apply(ctx context.Context, sch *domain.Schedule, o domain.Outcome, now time.Time) bool {
	sch.ExecutionCount++
	sch.LastRunAt = &now
	sch.LastExecutionStatus = o.Status
	sch.AppendHistory(domain.ExecutionEntry{ExecutedAt: now, Status: o.Status, ErrorMessage: o.ErrorMessage}, r.HistoryLimit)

	if o.Status == domain.ExecutionSuccess {
		sch.SuccessCount++
		sch.LastErrorMessage = ""
		sch.CurrentRetries = 0
		r.advance(ctx, sch, now)
		return false
	}

	sch.FailureCount++
	sch.LastErrorMessage = o.ErrorMessage
	if sch.RetryOnFailure && sch.CurrentRetries < sch.MaxRetries {
		sch.CurrentRetries++
		return true
	}
	sch.CurrentRetries = 0
	r.advance(ctx, sch, now)
	return false
}

// advance moves nextRunDate to the next regular occurrence, completing the
// schedule when there is none.
func (r *Recorder) advance(ctx context.Context, sch *domain.Schedule, now time.Time) {
	next, err := recurrence.Next(*sch, now)
	switch {
	case errors.Is(err, recurrence.ErrExhausted):
		sch.Status = domain.StatusCompleted
		sch.NextRunDate = nil
	case err != nil:
		log.Ctx(ctx).Warn().Err(err).Str("schedule_id", sch.ID).Msg("cannot compute next run")
	default:
		sch.NextRunDate = &next
	}
}

func (r *Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

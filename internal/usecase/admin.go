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

var ErrInvalidTransition = errors.New("invalid schedule status transition")

// Recurrence is the editable recurrence part of a schedule.
type Recurrence struct {
	Frequency      domain.Frequency     `json:"frequency"`
	StartDate      time.Time            `json:"start_date"`
	EndDate        *time.Time           `json:"end_date,omitempty"`
	TimeOfDay      string               `json:"time_of_day"`
	EndTime        *string              `json:"end_time,omitempty"`
	IntervalValue  *int                 `json:"interval_value,omitempty"`
	IntervalUnit   *domain.IntervalUnit `json:"interval_unit,omitempty"`
	WeekDays       []int                `json:"week_days,omitempty"`
	MonthDays      []int                `json:"month_days,omitempty"`
	Months         []int                `json:"months,omitempty"`
	Timezone       string               `json:"timezone"`
	CronExpression string               `json:"cron_expression,omitempty"`
}

func (r Recurrence) applyTo(s *domain.Schedule) {
	s.Frequency = r.Frequency
	s.StartDate = r.StartDate
	s.EndDate = r.EndDate
	s.TimeOfDay = r.TimeOfDay
	s.EndTime = r.EndTime
	s.IntervalValue = r.IntervalValue
	s.IntervalUnit = r.IntervalUnit
	s.Interval = nil
	s.WeekDays = r.WeekDays
	s.MonthDays = r.MonthDays
	s.Months = r.Months
	s.Timezone = r.Timezone
	s.CronExpression = r.CronExpression
}

// Admin carries out the schedule edits made through the CRUD layer that
// affect when a schedule runs.
type Admin struct {
	Store ports.ScheduleStore
	Q     ports.Queue
	Locks *Locker
	Now   func() time.Time
}

func (a *Admin) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	return a.Store.Get(ctx, id)
}

func (a *Admin) DueToday(ctx context.Context) ([]domain.Schedule, error) {
	return DueToday(ctx, a.Store, a.now())
}

// Create stores a new ACTIVE schedule with its first nextRunDate and
// queues it right away when that falls on today.
func (a *Admin) Create(ctx context.Context, s *domain.Schedule) error {
	now := a.now()
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	s.Status = domain.StatusActive
	s.ExecutionCount, s.SuccessCount, s.FailureCount, s.CurrentRetries = 0, 0, 0, 0
	s.LastRunAt, s.LastExecutionStatus, s.LastErrorMessage, s.ExecutionHistory = nil, "", "", nil

	if err := prepare(s, now); err != nil {
		return err
	}
	if err := a.Store.Create(ctx, s); err != nil {
		return err
	}
	a.enqueueIfDueToday(ctx, *s, now)
	return nil
}

// Reschedule replaces the recurrence of a schedule, recomputes its next
// run and requeues it.
func (a *Admin) Reschedule(ctx context.Context, id string, r Recurrence) (*domain.Schedule, error) {
	unlock := a.Locks.Lock(id)
	defer unlock()

	s, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.StatusCompleted || s.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: schedule is %s", ErrInvalidTransition, s.Status)
	}

	now := a.now()
	r.applyTo(s)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	s.CurrentRetries = 0
	if err := prepare(s, now); err != nil {
		return nil, err
	}
	if err := a.Store.Update(ctx, s); err != nil {
		return nil, err
	}

	a.removeQueued(ctx, id)
	if s.Status == domain.StatusActive {
		a.enqueueIfDueToday(ctx, *s, now)
	}
	return s, nil
}

func (a *Admin) Pause(ctx context.Context, id string) (*domain.Schedule, error) {
	return a.deactivate(ctx, id, domain.StatusPaused)
}

func (a *Admin) Cancel(ctx context.Context, id string) (*domain.Schedule, error) {
	return a.deactivate(ctx, id, domain.StatusCancelled)
}

// deactivate flips the status first so a task that is already running has
// its outcome discarded, then removes whatever is still queued.
func (a *Admin) deactivate(ctx context.Context, id string, to domain.Status) (*domain.Schedule, error) {
	unlock := a.Locks.Lock(id)
	defer unlock()

	s, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Status == domain.StatusActive:
	case s.Status == domain.StatusPaused && to == domain.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.Status, to)
	}

	s.Status = to
	if err := a.Store.Update(ctx, s); err != nil {
		return nil, err
	}
	a.removeQueued(ctx, id)
	return s, nil
}

// Resume reactivates a paused schedule from its next occurrence after now.
func (a *Admin) Resume(ctx context.Context, id string) (*domain.Schedule, error) {
	unlock := a.Locks.Lock(id)
	defer unlock()

	s, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusPaused {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.Status, domain.StatusActive)
	}

	now := a.now()
	s.Status = domain.StatusActive
	s.CurrentRetries = 0
	next, err := recurrence.Next(*s, now)
	switch {
	case errors.Is(err, recurrence.ErrExhausted):
		s.Status = domain.StatusCompleted
		s.NextRunDate = nil
	case err != nil:
		return nil, err
	default:
		s.NextRunDate = &next
	}

	if err := a.Store.Update(ctx, s); err != nil {
		return nil, err
	}
	if s.Status == domain.StatusActive {
		a.enqueueIfDueToday(ctx, *s, now)
	}
	return s, nil
}

// prepare validates s and derives its cron expression and next run.
func prepare(s *domain.Schedule, now time.Time) error {
	if err := recurrence.Validate(*s); err != nil {
		return err
	}
	expr, err := recurrence.CronExpression(*s)
	if err != nil {
		return err
	}
	s.CronExpression = expr

	next, err := recurrence.Next(*s, now)
	if errors.Is(err, recurrence.ErrExhausted) {
		return fmt.Errorf("%w: schedule has no future occurrence", recurrence.ErrInvalidRule)
	}
	if err != nil {
		return err
	}
	if s.Frequency == domain.FrequencyOnce && !next.After(now) {
		return fmt.Errorf("%w: one-off run at %s is in the past", recurrence.ErrInvalidRule, next.Format(time.RFC3339))
	}
	s.NextRunDate = &next
	return nil
}

func (a *Admin) enqueueIfDueToday(ctx context.Context, s domain.Schedule, now time.Time) {
	loc, err := recurrence.Location(s.Timezone)
	if err != nil || s.NextRunDate == nil || !recurrence.SameDay(*s.NextRunDate, now, loc) {
		return
	}
	jobID, err := Enqueuer{Q: a.Q}.Now(ctx, s, now)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("schedule_id", s.ID).Msg("failed to enqueue schedule due today")
		return
	}
	log.Ctx(ctx).Info().Str("schedule_id", s.ID).Str("job_id", jobID).Msg("schedule due today enqueued")
}

// removeQueued drops the schedule's waiting and delayed jobs. Active jobs
// cannot be removed; their outcome is discarded when they finish.
func (a *Admin) removeQueued(ctx context.Context, scheduleID string) {
	jobs, err := a.Q.ListJobs(ctx, domain.TaskWaiting, domain.TaskDelayed, domain.TaskActive)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("schedule_id", scheduleID).Msg("failed to list queued jobs")
		return
	}
	for _, j := range jobs {
		if j.ScheduleID() != scheduleID {
			continue
		}
		err := a.Q.RemoveJob(ctx, j.ID)
		switch {
		case errors.Is(err, ports.ErrJobActive):
			log.Ctx(ctx).Info().Str("schedule_id", scheduleID).Str("job_id", j.ID).Msg("job already running, its outcome will be discarded")
		case err != nil:
			log.Ctx(ctx).Error().Err(err).Str("schedule_id", scheduleID).Str("job_id", j.ID).Msg("failed to remove queued job")
		}
	}
}

func (a *Admin) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/recurrence"

	"github.com/rs/zerolog/log"
)

var ErrSyncInProgress = errors.New("daily sync already running")

type SyncReport struct {
	Purged        int `json:"purged"`
	RolledForward int `json:"rolled_forward"`
	Completed     int `json:"completed"`
	Due           int `json:"due"`
	Enqueued      int `json:"enqueued"`
	InFlight      int `json:"in_flight"`
	Failed        int `json:"failed"`
}

// Synchronizer rebuilds the queue from the schedules due today. It runs at
// boot and at every local midnight; overlapping runs are refused.
type Synchronizer struct {
	Store ports.ScheduleStore
	Q     ports.Queue
	Locks *Locker
	Now   func() time.Time

	running atomic.Bool
}

func (s *Synchronizer) Run(ctx context.Context) (SyncReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SyncReport{}, ErrSyncInProgress
	}
	defer s.running.Store(false)

	var report SyncReport
	now := s.now()
	logger := log.Ctx(ctx)

	purged, err := s.Q.Purge(ctx)
	if err != nil {
		return report, fmt.Errorf("purge queue: %w", err)
	}
	report.Purged = purged

	if err := s.rollForward(ctx, now, &report); err != nil {
		return report, err
	}

	due, err := DueToday(ctx, s.Store, now)
	if err != nil {
		return report, fmt.Errorf("load due schedules: %w", err)
	}
	report.Due = len(due)

	running := s.inFlight(ctx)

	enq := Enqueuer{Q: s.Q}
	for _, sch := range due {
		if runningToday(sch, running[sch.ID], now) {
			report.InFlight++
			logger.Info().Str("schedule_id", sch.ID).Msg("today's run is already in flight, not enqueued again")
			continue
		}
		jobID, err := s.enqueue(ctx, enq, sch.ID, now)
		if err != nil {
			report.Failed++
			logger.Error().Err(err).Str("schedule_id", sch.ID).Msg("failed to enqueue schedule")
			continue
		}
		if jobID != "" {
			report.Enqueued++
			logger.Debug().Str("schedule_id", sch.ID).Str("job_id", jobID).Msg("schedule enqueued")
		}
	}

	logger.Info().
		Int("purged", report.Purged).
		Int("rolled_forward", report.RolledForward).
		Int("completed", report.Completed).
		Int("due", report.Due).
		Int("enqueued", report.Enqueued).
		Int("in_flight", report.InFlight).
		Int("failed", report.Failed).
		Msg("daily sync finished")
	return report, nil
}

// inFlight returns the run times of the active one-shot tasks per schedule.
// Purge leaves those tasks alone, so their occurrence is already being
// served. Active repeating tasks are not listed: purge ended their repeats.
func (s *Synchronizer) inFlight(ctx context.Context) map[string][]time.Time {
	jobs, err := s.Q.ListJobs(ctx, domain.TaskActive)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list active jobs")
		return nil
	}
	running := make(map[string][]time.Time)
	for _, j := range jobs {
		if j.Repeat != nil || j.ScheduleID() == "" {
			continue
		}
		running[j.ScheduleID()] = append(running[j.ScheduleID()], j.NextRunAt)
	}
	return running
}

func runningToday(sch domain.Schedule, runAts []time.Time, now time.Time) bool {
	if len(runAts) == 0 {
		return false
	}
	loc, err := recurrence.Location(sch.Timezone)
	if err != nil {
		return false
	}
	for _, at := range runAts {
		if recurrence.SameDay(at, now, loc) {
			return true
		}
	}
	return false
}

// enqueue starts a fresh occurrence of a schedule: retries of the previous
// occurrence are forgotten before the task is queued.
func (s *Synchronizer) enqueue(ctx context.Context, enq Enqueuer, id string, now time.Time) (string, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	sch, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if sch.Status != domain.StatusActive {
		return "", nil
	}
	if sch.CurrentRetries != 0 {
		sch.CurrentRetries = 0
		if err := s.Store.Update(ctx, sch); err != nil {
			return "", err
		}
	}
	return enq.Now(ctx, *sch, now)
}

// rollForward moves schedules whose next run is missing or lies before
// today onto their first occurrence from today on.
func (s *Synchronizer) rollForward(ctx context.Context, now time.Time, report *SyncReport) error {
	active, err := s.Store.Find(ctx, domain.Criteria{Status: domain.StatusActive})
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	for _, sch := range active {
		loc, err := recurrence.Location(sch.Timezone)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("schedule_id", sch.ID).Msg("skipping schedule with invalid timezone")
			continue
		}
		if sch.NextRunDate != nil && !sch.NextRunDate.Before(recurrence.DayOf(now, loc)) {
			continue
		}

		completed, err := s.roll(ctx, sch.ID, now)
		if err != nil {
			report.Failed++
			log.Ctx(ctx).Error().Err(err).Str("schedule_id", sch.ID).Msg("failed to roll schedule forward")
			continue
		}
		if completed {
			report.Completed++
		} else {
			report.RolledForward++
		}
	}
	return nil
}

func (s *Synchronizer) roll(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	sch, err := s.Store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	loc, err := recurrence.Location(sch.Timezone)
	if err != nil {
		return false, err
	}
	today := recurrence.DayOf(now, loc)

	next, err := recurrence.Next(*sch, today.Add(-time.Nanosecond))
	switch {
	case errors.Is(err, recurrence.ErrExhausted):
		sch.Status = domain.StatusCompleted
		sch.NextRunDate = nil
		return true, s.Store.Update(ctx, sch)
	case err != nil:
		return false, err
	}

	// a one-off that was missed runs today
	if next.Before(today) {
		next = now.UTC()
	}
	sch.NextRunDate = &next
	return false, s.Store.Update(ctx, sch)
}

func (s *Synchronizer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

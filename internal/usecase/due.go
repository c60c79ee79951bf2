package usecase

import (
	"context"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/recurrence"

	"github.com/rs/zerolog/log"
)

// DueToday returns the ACTIVE schedules whose next run falls on today's
// date in their own timezone. A repeating schedule that already ran today
// stays due until its repeat window closes, so a restart resumes it.
func DueToday(ctx context.Context, store ports.ScheduleStore, now time.Time) ([]domain.Schedule, error) {
	candidates, err := store.Find(ctx, domain.Criteria{Status: domain.StatusActive})
	if err != nil {
		return nil, err
	}

	due := make([]domain.Schedule, 0, len(candidates))
	for _, s := range candidates {
		loc, err := recurrence.Location(s.Timezone)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("schedule_id", s.ID).Msg("skipping schedule with invalid timezone")
			continue
		}
		switch {
		case s.NextRunDate != nil && recurrence.SameDay(*s.NextRunDate, now, loc):
			due = append(due, s)
		case repeatingToday(s, now, loc):
			due = append(due, s)
		}
	}
	return due, nil
}

func repeatingToday(s domain.Schedule, now time.Time, loc *time.Location) bool {
	if _, ok := s.RepeatEvery(); !ok || s.LastRunAt == nil || !recurrence.SameDay(*s.LastRunAt, now, loc) {
		return false
	}
	endTime := defaultEndTime
	if s.EndTime != nil && *s.EndTime != "" {
		endTime = *s.EndTime
	}
	until, err := recurrence.At(now, endTime, loc)
	return err == nil && now.Before(until)
}

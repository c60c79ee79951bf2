// Package recurrence computes when a schedule is next due.
//
// All wall-clock fields of a schedule (time of day, weekdays, month days,
// start and end dates) are interpreted in the schedule's IANA timezone and
// the resulting instant is returned in UTC.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/domain"

	"github.com/robfig/cron/v3"
)

var (
	// ErrExhausted means the schedule has no further occurrence.
	ErrExhausted = errors.New("recurrence exhausted")
	// ErrInvalidRule wraps every malformed recurrence field.
	ErrInvalidRule = errors.New("invalid recurrence rule")
)

// searchDays bounds the day-by-day search to two calendar years.
const searchDays = 732

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Next returns the first occurrence of s strictly after ref, or
// ErrExhausted when the schedule is over.
func Next(s domain.Schedule, ref time.Time) (time.Time, error) {
	r, err := newRule(s)
	if err != nil {
		return time.Time{}, err
	}

	switch s.Frequency {
	case domain.FrequencyOnce:
		return r.once(s)
	case domain.FrequencyCustom:
		if expr := strings.TrimSpace(s.CronExpression); expr != "" {
			return r.cron(expr, ref)
		}
		return r.search(ref, everyDay)
	case domain.FrequencyDaily:
		return r.search(ref, everyDay)
	case domain.FrequencyWeekly, domain.FrequencyMonthly, domain.FrequencyYearly:
		return r.search(ref, r.matcher(s))
	}
	return time.Time{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s.Frequency)
}

type rule struct {
	loc   *time.Location
	clock clock
	start time.Time // midnight of the start day, zero when unbounded
	end   time.Time // midnight of the end day, zero when unbounded
}

func newRule(s domain.Schedule) (rule, error) {
	loc, err := Location(s.Timezone)
	if err != nil {
		return rule{}, err
	}
	c, err := parseClock(s.TimeOfDay)
	if err != nil {
		return rule{}, err
	}
	r := rule{loc: loc, clock: c}
	if !s.StartDate.IsZero() {
		r.start = DayOf(s.StartDate, loc)
	}
	if s.EndDate != nil && !s.EndDate.IsZero() {
		r.end = DayOf(*s.EndDate, loc)
	}
	return r, nil
}

func (r rule) at(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, r.clock.hour, r.clock.min, r.clock.sec, 0, r.loc)
}

func (r rule) afterEnd(day time.Time) bool {
	return !r.end.IsZero() && dayKey(day) > dayKey(r.end)
}

func (r rule) once(s domain.Schedule) (time.Time, error) {
	if s.ExecutionCount > 0 || s.LastRunAt != nil || r.start.IsZero() {
		return time.Time{}, ErrExhausted
	}
	if r.afterEnd(r.start) {
		return time.Time{}, ErrExhausted
	}
	return r.at(r.start).UTC(), nil
}

func (r rule) search(ref time.Time, match func(day time.Time) bool) (time.Time, error) {
	from := DayOf(ref, r.loc)
	if !r.start.IsZero() && dayKey(r.start) > dayKey(from) {
		from = r.start
	}

	for i := 0; i <= searchDays; i++ {
		day := time.Date(from.Year(), from.Month(), from.Day()+i, 0, 0, 0, 0, r.loc)
		if r.afterEnd(day) {
			return time.Time{}, ErrExhausted
		}
		if !match(day) {
			continue
		}
		if t := r.at(day); t.After(ref) {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrExhausted
}

func (r rule) cron(expr string, ref time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cron expression %q: %v", ErrInvalidRule, expr, err)
	}

	from := ref.In(r.loc)
	if !r.start.IsZero() {
		if floor := r.start.Add(-time.Second); from.Before(floor) {
			from = floor
		}
	}

	next := sched.Next(from)
	if next.IsZero() || r.afterEnd(DayOf(next, r.loc)) {
		return time.Time{}, ErrExhausted
	}
	return next.UTC(), nil
}

func everyDay(time.Time) bool { return true }

// matcher builds the day filter of a WEEKLY, MONTHLY or YEARLY schedule.
// The frequency's own pattern defaults to the matching part of the start
// date; the remaining non-empty patterns narrow it further.
func (r rule) matcher(s domain.Schedule) func(day time.Time) bool {
	weekDays := weekdaySet(s.WeekDays)
	monthDays := intSet(s.MonthDays)
	months := intSet(s.Months)

	anchor := r.start
	if anchor.IsZero() {
		anchor = DayOf(time.Now(), r.loc)
	}

	// anchorDay matches the start date's day of month, clamped to short months.
	anchorDay := func(day time.Time) bool {
		return day.Day() == min(anchor.Day(), daysIn(day.Year(), day.Month(), r.loc))
	}
	dayOfMonth := anchorDay
	if len(monthDays) > 0 {
		dayOfMonth = func(day time.Time) bool { return monthDays[day.Day()] }
	}

	switch s.Frequency {
	case domain.FrequencyWeekly:
		if len(weekDays) == 0 {
			weekDays = map[int]bool{int(anchor.Weekday()): true}
		}
		return func(day time.Time) bool {
			return weekDays[int(day.Weekday())] &&
				(len(monthDays) == 0 || monthDays[day.Day()]) &&
				(len(months) == 0 || months[int(day.Month())])
		}
	case domain.FrequencyMonthly:
		return func(day time.Time) bool {
			return dayOfMonth(day) &&
				(len(weekDays) == 0 || weekDays[int(day.Weekday())]) &&
				(len(months) == 0 || months[int(day.Month())])
		}
	default:
		if len(months) == 0 {
			months = map[int]bool{int(anchor.Month()): true}
		}
		return func(day time.Time) bool {
			return months[int(day.Month())] &&
				dayOfMonth(day) &&
				(len(weekDays) == 0 || weekDays[int(day.Weekday())])
		}
	}
}

// Location resolves an IANA timezone name, defaulting to UTC.
func Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidRule, tz, err)
	}
	return loc, nil
}

// DayOf truncates t to midnight of its calendar day in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// At returns the instant hh:mm on day's calendar date in loc.
func At(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	c, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.hour, c.min, c.sec, 0, loc), nil
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return dayKey(a.In(loc)) == dayKey(b.In(loc))
}

func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func weekdaySet(days []int) map[int]bool {
	set := make(map[int]bool, len(days))
	for _, d := range days {
		set[d%7] = true
	}
	return set
}

func intSet(values []int) map[int]bool {
	set := make(map[int]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

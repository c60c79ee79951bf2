package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cadence/internal/domain"
)

// Validate reports the first malformed field of s.
func Validate(s domain.Schedule) error {
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s.Frequency)
	}
	if strings.TrimSpace(s.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidRule)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidRule)
	}
	if _, err := parseClock(s.TimeOfDay); err != nil {
		return err
	}
	if s.EndTime != nil {
		if _, err := parseClock(*s.EndTime); err != nil {
			return err
		}
	}
	loc, err := Location(s.Timezone)
	if err != nil {
		return err
	}
	if s.EndDate != nil && dayKey(DayOf(*s.EndDate, loc)) < dayKey(DayOf(s.StartDate, loc)) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidRule)
	}
	if err := inRange("week day", s.WeekDays, 0, 7); err != nil {
		return err
	}
	if err := inRange("month day", s.MonthDays, 1, 31); err != nil {
		return err
	}
	if err := inRange("month", s.Months, 1, 12); err != nil {
		return err
	}
	if s.IntervalValue != nil && *s.IntervalValue <= 0 {
		return fmt.Errorf("%w: interval value must be positive", ErrInvalidRule)
	}
	if s.IntervalUnit != nil && *s.IntervalUnit != domain.UnitMinutes && *s.IntervalUnit != domain.UnitHours {
		return fmt.Errorf("%w: interval unit %q", ErrInvalidRule, *s.IntervalUnit)
	}
	if s.MaxRetries < 0 || s.RetryDelayMinutes < 0 {
		return fmt.Errorf("%w: retry settings must not be negative", ErrInvalidRule)
	}
	if s.Frequency == domain.FrequencyCustom && strings.TrimSpace(s.CronExpression) != "" {
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", ErrInvalidRule, s.CronExpression, err)
		}
	}
	return nil
}

func inRange(field string, values []int, lo, hi int) error {
	for _, v := range values {
		if v < lo || v > hi {
			return fmt.Errorf("%w: %s %d out of range [%d, %d]", ErrInvalidRule, field, v, lo, hi)
		}
	}
	return nil
}

// CronExpression derives the informational cron string of s. The
// expression is descriptive only; Next never evaluates it for non-CUSTOM
// schedules.
func CronExpression(s domain.Schedule) (string, error) {
	if s.Frequency == domain.FrequencyCustom {
		return strings.TrimSpace(s.CronExpression), nil
	}
	c, err := parseClock(s.TimeOfDay)
	if err != nil {
		return "", err
	}
	loc, err := Location(s.Timezone)
	if err != nil {
		return "", err
	}
	start := DayOf(s.StartDate, loc)
	hm := fmt.Sprintf("%d %d", c.min, c.hour)

	switch s.Frequency {
	case domain.FrequencyOnce:
		return fmt.Sprintf("%s %d %d *", hm, start.Day(), int(start.Month())), nil
	case domain.FrequencyDaily:
		return hm + " * * *", nil
	case domain.FrequencyWeekly:
		days := s.WeekDays
		if len(days) == 0 {
			days = []int{int(start.Weekday())}
		}
		return fmt.Sprintf("%s * %s %s", hm, monthsField(s.Months), joinInts(days, 7)), nil
	case domain.FrequencyMonthly:
		days := s.MonthDays
		if len(days) == 0 {
			days = []int{start.Day()}
		}
		return fmt.Sprintf("%s %s %s *", hm, joinInts(days, 0), monthsField(s.Months)), nil
	case domain.FrequencyYearly:
		days := s.MonthDays
		if len(days) == 0 {
			days = []int{start.Day()}
		}
		months := s.Months
		if len(months) == 0 {
			months = []int{int(start.Month())}
		}
		return fmt.Sprintf("%s %s %s *", hm, joinInts(days, 0), joinInts(months, 0)), nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s.Frequency)
}

func monthsField(months []int) string {
	if len(months) == 0 {
		return "*"
	}
	return joinInts(months, 0)
}

// joinInts sorts and deduplicates values, reducing them modulo mod when
// mod > 0.
func joinInts(values []int, mod int) string {
	seen := make([]int, 0, len(values))
	for _, v := range values {
		if mod > 0 {
			v %= mod
		}
		if !slices.Contains(seen, v) {
			seen = append(seen, v)
		}
	}
	slices.Sort(seen)

	parts := make([]string, len(seen))
	for i, v := range seen {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("schedule not found")
	ErrVersionConflict = errors.New("schedule was modified concurrently")
)

// DefaultHistoryLimit caps Schedule.ExecutionHistory.
const DefaultHistoryLimit = 50

type Frequency string

const (
	FrequencyOnce    Frequency = "ONCE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly, FrequencyCustom:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
)

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

type ExecutionEntry struct {
	ExecutedAt   time.Time       `json:"executed_at"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Outcome is the terminal result of one task run.
type Outcome struct {
	Status       ExecutionStatus
	ErrorMessage string
}

func Succeeded() Outcome { return Outcome{Status: ExecutionSuccess} }

func Failed(err error) Outcome {
	o := Outcome{Status: ExecutionFailed}
	if err != nil {
		o.ErrorMessage = err.Error()
	}
	return o
}

type Schedule struct {
	ID string `json:"id"`

	Frequency      Frequency     `json:"frequency"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        *time.Time    `json:"end_date,omitempty"`
	TimeOfDay      string        `json:"time_of_day"`
	EndTime        *string       `json:"end_time,omitempty"`
	IntervalValue  *int          `json:"interval_value,omitempty"`
	IntervalUnit   *IntervalUnit `json:"interval_unit,omitempty"`
	Interval       *int          `json:"interval,omitempty"` // legacy, minutes
	WeekDays       []int         `json:"week_days,omitempty"`
	MonthDays      []int         `json:"month_days,omitempty"`
	Months         []int         `json:"months,omitempty"`
	Timezone       string        `json:"timezone"`
	CronExpression string        `json:"cron_expression,omitempty"`

	Action   string         `json:"action"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`

	Status      Status     `json:"status"`
	NextRunDate *time.Time `json:"next_run_date,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`

	ExecutionCount      int              `json:"execution_count"`
	SuccessCount        int              `json:"success_count"`
	FailureCount        int              `json:"failure_count"`
	LastExecutionStatus ExecutionStatus  `json:"last_execution_status,omitempty"`
	LastErrorMessage    string           `json:"last_error_message,omitempty"`
	ExecutionHistory    []ExecutionEntry `json:"execution_history"`

	RetryOnFailure    bool `json:"retry_on_failure"`
	MaxRetries        int  `json:"max_retries"`
	CurrentRetries    int  `json:"current_retries"`
	RetryDelayMinutes int  `json:"retry_delay_minutes"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepeatEvery returns the intra-day repeat interval, preferring
// IntervalValue/IntervalUnit over the legacy Interval field.
func (s Schedule) RepeatEvery() (time.Duration, bool) {
	if s.IntervalValue != nil && *s.IntervalValue > 0 {
		unit := UnitMinutes
		if s.IntervalUnit != nil {
			unit = *s.IntervalUnit
		}
		if unit == UnitHours {
			return time.Duration(*s.IntervalValue) * time.Hour, true
		}
		return time.Duration(*s.IntervalValue) * time.Minute, true
	}
	if s.Interval != nil && *s.Interval > 0 {
		return time.Duration(*s.Interval) * time.Minute, true
	}
	return 0, false
}

// AppendHistory appends e and evicts the oldest entries beyond limit.
func (s *Schedule) AppendHistory(e ExecutionEntry, limit int) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	s.ExecutionHistory = append(s.ExecutionHistory, e)
	if over := len(s.ExecutionHistory) - limit; over > 0 {
		s.ExecutionHistory = append([]ExecutionEntry(nil), s.ExecutionHistory[over:]...)
	}
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	c := s
	c.EndDate = clonePtr(s.EndDate)
	c.EndTime = clonePtr(s.EndTime)
	c.IntervalValue = clonePtr(s.IntervalValue)
	c.IntervalUnit = clonePtr(s.IntervalUnit)
	c.Interval = clonePtr(s.Interval)
	c.NextRunDate = clonePtr(s.NextRunDate)
	c.LastRunAt = clonePtr(s.LastRunAt)
	c.WeekDays = append([]int(nil), s.WeekDays...)
	c.MonthDays = append([]int(nil), s.MonthDays...)
	c.Months = append([]int(nil), s.Months...)
	c.ExecutionHistory = append([]ExecutionEntry(nil), s.ExecutionHistory...)
	if s.Data != nil {
		c.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			c.Data[k] = v
		}
	}
	return c
}

// Criteria filters ScheduleStore.Find. Zero fields are ignored.
type Criteria struct {
	Status        Status
	NextRunBefore time.Time
	Limit         int
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package domain

import "time"

type TaskStatus string

const (
	TaskWaiting   TaskStatus = "waiting"
	TaskDelayed   TaskStatus = "delayed"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Payload keys the engine embeds next to the schedule's own data.
const (
	PayloadScheduleID  = "scheduleId"
	PayloadEntityID    = "entityId"
	PayloadIsRepeating = "isRepeating"
	PayloadIsRetry     = "isRetry"
)

// Repeat makes a task fire every EveryMs milliseconds until Until.
type Repeat struct {
	EveryMs int64     `json:"every_ms"`
	Until   time.Time `json:"until"`
}

func (r Repeat) Every() time.Duration { return time.Duration(r.EveryMs) * time.Millisecond }

type Task struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	Payload      map[string]any `json:"payload"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	RemoveOnFail int            `json:"remove_on_fail"`
	Repeat       *Repeat        `json:"repeat,omitempty"`
	Status       TaskStatus     `json:"status"`
	Generation   int64          `json:"generation"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	NextRunAt    time.Time      `json:"next_run_at"`
}

func (t Task) ScheduleID() string { return t.payloadString(PayloadScheduleID) }

func (t Task) EntityID() string { return t.payloadString(PayloadEntityID) }

func (t Task) IsRetry() bool {
	v, _ := t.Payload[PayloadIsRetry].(bool)
	return v
}

func (t Task) payloadString(key string) string {
	v, _ := t.Payload[key].(string)
	return v
}

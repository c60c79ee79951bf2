package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cadence/internal/domain"
	"cadence/internal/ports"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ ports.ScheduleStore = (*ScheduleStore)(nil)

// writable columns, in the order of scheduleArgs
var writeColumns = []string{
	"id", "frequency", "start_date", "end_date", "time_of_day", "end_time",
	"interval_value", "interval_unit", "legacy_interval", "week_days", "month_days", "months",
	"timezone", "cron_expression", "action", "entity_id", "data",
	"status", "next_run_date", "last_run_at",
	"execution_count", "success_count", "failure_count", "last_execution_status", "last_error_message", "execution_history",
	"retry_on_failure", "max_retries", "current_retries", "retry_delay_minutes",
}

var selectColumns = strings.Join(append(append([]string{}, writeColumns...), "version", "created_at", "updated_at"), ", ")

var (
	insertQuery = fmt.Sprintf(`
		INSERT INTO schedules (%s, version, created_at, updated_at)
		VALUES (%s, 1, now(), now())
		RETURNING version, created_at, updated_at`,
		strings.Join(writeColumns, ", "), placeholders(1, len(writeColumns)))

	updateQuery = fmt.Sprintf(`
		UPDATE schedules
		SET %s, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $%d
		RETURNING version, updated_at`,
		assignments(writeColumns[1:], 2), len(writeColumns)+1)
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func (r *ScheduleStore) Create(ctx context.Context, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	args, err := scheduleArgs(s)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, insertQuery, args...).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func (r *ScheduleStore) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *ScheduleStore) Find(ctx context.Context, c domain.Criteria) ([]domain.Schedule, error) {
	var args []interface{}
	where := "TRUE"

	argIndex := 1
	if c.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, c.Status)
		argIndex++
	}
	if !c.NextRunBefore.IsZero() {
		where += fmt.Sprintf(" AND next_run_date < $%d", argIndex)
		args = append(args, c.NextRunBefore)
		argIndex++
	}

	query := `SELECT ` + selectColumns + ` FROM schedules WHERE ` + where + ` ORDER BY next_run_date ASC NULLS LAST`
	if c.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, c.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *ScheduleStore) Update(ctx context.Context, s *domain.Schedule) error {
	args, err := scheduleArgs(s)
	if err != nil {
		return err
	}
	args = append(args, s.Version)

	err = r.db.QueryRowContext(ctx, updateQuery, args...).Scan(&s.Version, &s.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to update schedule %s: %w", s.ID, err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", s.ID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrVersionConflict
}

func (r *ScheduleStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var (
		s                          domain.Schedule
		weekDays, monthDays, month pq.Int64Array
		data, history              []byte
	)
	err := row.Scan(
		&s.ID, &s.Frequency, &s.StartDate, &s.EndDate, &s.TimeOfDay, &s.EndTime,
		&s.IntervalValue, &s.IntervalUnit, &s.Interval, &weekDays, &monthDays, &month,
		&s.Timezone, &s.CronExpression, &s.Action, &s.EntityID, &data,
		&s.Status, &s.NextRunDate, &s.LastRunAt,
		&s.ExecutionCount, &s.SuccessCount, &s.FailureCount, &s.LastExecutionStatus, &s.LastErrorMessage, &history,
		&s.RetryOnFailure, &s.MaxRetries, &s.CurrentRetries, &s.RetryDelayMinutes,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.WeekDays, s.MonthDays, s.Months = ints(weekDays), ints(monthDays), ints(month)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return nil, fmt.Errorf("decode data of schedule %s: %w", s.ID, err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.ExecutionHistory); err != nil {
			return nil, fmt.Errorf("decode history of schedule %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func scheduleArgs(s *domain.Schedule) ([]any, error) {
	data := []byte("{}")
	if s.Data != nil {
		b, err := json.Marshal(s.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		data = b
	}
	history := []byte("[]")
	if len(s.ExecutionHistory) > 0 {
		b, err := json.Marshal(s.ExecutionHistory)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		history = b
	}

	return []any{
		s.ID, s.Frequency, s.StartDate, s.EndDate, s.TimeOfDay, s.EndTime,
		s.IntervalValue, s.IntervalUnit, s.Interval, int64s(s.WeekDays), int64s(s.MonthDays), int64s(s.Months),
		s.Timezone, s.CronExpression, s.Action, s.EntityID, data,
		s.Status, s.NextRunDate, s.LastRunAt,
		s.ExecutionCount, s.SuccessCount, s.FailureCount, s.LastExecutionStatus, s.LastErrorMessage, history,
		s.RetryOnFailure, s.MaxRetries, s.CurrentRetries, s.RetryDelayMinutes,
	}, nil
}

func int64s(v []int) pq.Int64Array {
	out := make(pq.Int64Array, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

func ints(v pq.Int64Array) []int {
	if len(v) == 0 {
		return nil
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}

func assignments(cols []string, from int) string {
	p := make([]string, len(cols))
	for i, c := range cols {
		p[i] = fmt.Sprintf("%s = $%d", c, from+i)
	}
	return strings.Join(p, ", ")
}

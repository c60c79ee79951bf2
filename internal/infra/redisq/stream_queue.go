package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Queue = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, action string, payload map[string]any, opts ports.EnqueueOptions) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}

	now := c.now()
	t := domain.Task{
		ID:           uuid.NewString(),
		Action:       action,
		Payload:      payload,
		MaxAttempts:  max(opts.Attempts, 1),
		RemoveOnFail: opts.RemoveOnFail,
		Repeat:       opts.Repeat,
		Generation:   gen,
		CreatedAt:    now,
		NextRunAt:    now.Add(max(opts.Delay, 0)),
	}

	if opts.Delay <= 0 {
		return t.ID, c.push(ctx, t)
	}
	return t.ID, c.delay(ctx, t)
}

// push makes t ready for consumers.
func (c *Client) push(ctx context.Context, t domain.Task) error {
	t.Status = domain.TaskWaiting
	if err := c.SaveState(ctx, t); err != nil {
		return err
	}
	if err := c.Rdb.SAdd(ctx, c.jobsKey(), t.ID).Err(); err != nil {
		return err
	}

	streamID, err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.Cfg.StreamKey,
		Values: map[string]interface{}{"id": t.ID},
	}).Result()
	if err != nil {
		return err
	}
	return c.Rdb.HSet(ctx, c.taskKey(t.ID), "stream_id", streamID).Err()
}

// delay parks t in the scheduled ZSET until t.NextRunAt.
func (c *Client) delay(ctx context.Context, t domain.Task) error {
	t.Status = domain.TaskDelayed
	if err := c.SaveState(ctx, t); err != nil {
		return err
	}
	_, err := c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.jobsKey(), t.ID)
		pipe.HDel(ctx, c.taskKey(t.ID), "stream_id")
		pipe.ZAdd(ctx, c.Cfg.ScheduledZSet, redis.Z{Score: nowMs(t.NextRunAt), Member: t.ID})
		return nil
	})
	return err
}

func (c *Client) Claim(ctx context.Context, consumer string, block time.Duration) (*domain.Task, string, error) {
	if c.Cfg.StalledAfter > 0 {
		msgs, _, err := c.Rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.Cfg.StreamKey,
			Group:    c.Cfg.Group,
			Consumer: consumer,
			MinIdle:  c.Cfg.StalledAfter,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err == nil && len(msgs) > 0 {
			log.Ctx(ctx).Warn().Str("stream_id", msgs[0].ID).Msg("reclaimed stalled job")
			return c.load(ctx, msgs[0])
		}
	}

	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.Cfg.StreamKey, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}

	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, "", nil
	}
	return c.load(ctx, res[0].Messages[0])
}

// load resolves a stream message to its task and marks it active. Entries
// whose task was removed meanwhile are acknowledged and skipped.
func (c *Client) load(ctx context.Context, msg redis.XMessage) (*domain.Task, string, error) {
	id, ok := msg.Values["id"].(string)
	if !ok {
		_ = c.ack(ctx, msg.ID)
		return nil, "", fmt.Errorf("unexpected stream entry %s: %v", msg.ID, msg.Values)
	}

	t, err := c.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if t == nil {
		return nil, "", c.ack(ctx, msg.ID)
	}

	t.Status = domain.TaskActive
	if err := c.SaveState(ctx, *t); err != nil {
		return nil, "", err
	}
	return t, msg.ID, nil
}

func (c *Client) ack(ctx context.Context, streamID string) error {
	_, err := c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.Cfg.StreamKey, c.Cfg.Group, streamID)
		pipe.XDel(ctx, c.Cfg.StreamKey, streamID)
		return nil
	})
	return err
}

func (c *Client) Complete(ctx context.Context, streamID string, t domain.Task) error {
	if err := c.ack(ctx, streamID); err != nil {
		return err
	}
	if ok, err := c.repeat(ctx, t); ok || err != nil {
		return err
	}

	t.Status = domain.TaskCompleted
	if err := c.SaveState(ctx, t); err != nil {
		return err
	}
	if c.Cfg.CompletedTTL <= 0 {
		return nil
	}
	return c.Rdb.Expire(ctx, c.taskKey(t.ID), c.Cfg.CompletedTTL).Err()
}

func (c *Client) Retry(ctx context.Context, streamID string, t domain.Task, err error, runAt time.Time) error {
	if err := c.ack(ctx, streamID); err != nil {
		return err
	}
	t.Attempts++
	if err != nil {
		t.LastError = err.Error()
	}
	t.NextRunAt = runAt
	return c.delay(ctx, t)
}

func (c *Client) Fail(ctx context.Context, streamID string, t domain.Task, reason string) error {
	if err := c.ack(ctx, streamID); err != nil {
		return err
	}
	t.Attempts++
	t.LastError = reason

	b, _ := json.Marshal(t)
	if err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.Cfg.DLQStreamKey,
		Values: map[string]interface{}{"task": b, "reason": reason},
	}).Err(); err != nil {
		return err
	}

	// A failed firing does not end a repeating job.
	if ok, err := c.repeat(ctx, t); ok || err != nil {
		return err
	}

	if t.RemoveOnFail <= 0 {
		return c.remove(ctx, t.ID)
	}

	t.Status = domain.TaskFailed
	if err := c.SaveState(ctx, t); err != nil {
		return err
	}
	if err := c.Rdb.LPush(ctx, c.failedKey(), t.ID).Err(); err != nil {
		return err
	}
	evicted, err := c.Rdb.LRange(ctx, c.failedKey(), int64(t.RemoveOnFail), -1).Result()
	if err != nil {
		return err
	}
	for _, id := range evicted {
		if err := c.remove(ctx, id); err != nil {
			return err
		}
	}
	return c.Rdb.LTrim(ctx, c.failedKey(), 0, int64(t.RemoveOnFail-1)).Err()
}

func (c *Client) Discard(ctx context.Context, streamID string, t domain.Task) error {
	if err := c.ack(ctx, streamID); err != nil {
		return err
	}
	return c.remove(ctx, t.ID)
}

// repeat schedules the next firing of a repeating task on its fixed
// interval grid. It reports false when the task has no further firing.
func (c *Client) repeat(ctx context.Context, t domain.Task) (bool, error) {
	if t.Repeat == nil || t.Repeat.EveryMs <= 0 {
		return false, nil
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return false, err
	}
	if t.Generation != gen {
		return false, nil
	}

	now := c.now()
	next := t.NextRunAt
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.Add(t.Repeat.Every())
	}
	if next.After(t.Repeat.Until) {
		return false, nil
	}

	t.Attempts = 0
	t.LastError = ""
	t.NextRunAt = next
	return true, c.delay(ctx, t)
}

func (c *Client) RemoveJob(ctx context.Context, id string) error {
	status, err := c.Rdb.HGet(ctx, c.taskKey(id), "status").Result()
	if errors.Is(err, redis.Nil) {
		return c.Rdb.SRem(ctx, c.jobsKey(), id).Err()
	}
	if err != nil {
		return err
	}
	if domain.TaskStatus(status) == domain.TaskActive {
		return ports.ErrJobActive
	}
	return c.remove(ctx, id)
}

func (c *Client) remove(ctx context.Context, id string) error {
	streamID, err := c.Rdb.HGet(ctx, c.taskKey(id), "stream_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	_, err = c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if streamID != "" {
			pipe.XDel(ctx, c.Cfg.StreamKey, streamID)
		}
		pipe.ZRem(ctx, c.Cfg.ScheduledZSet, id)
		pipe.Del(ctx, c.taskKey(id))
		pipe.SRem(ctx, c.jobsKey(), id)
		pipe.LRem(ctx, c.failedKey(), 0, id)
		return nil
	})
	return err
}

func (c *Client) ListJobs(ctx context.Context, states ...domain.TaskStatus) ([]domain.Task, error) {
	ids, err := c.Rdb.SMembers(ctx, c.jobsKey()).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			// expired completed job
			_ = c.Rdb.SRem(ctx, c.jobsKey(), id).Err()
			continue
		}
		if len(states) > 0 && !slices.Contains(states, t.Status) {
			continue
		}
		tasks = append(tasks, *t)
	}

	slices.SortFunc(tasks, func(a, b domain.Task) int { return a.NextRunAt.Compare(b.NextRunAt) })
	return tasks, nil
}

// Purge removes waiting, delayed, completed and failed jobs. Active jobs
// are left to finish; bumping the generation stops them from repeating.
func (c *Client) Purge(ctx context.Context) (int, error) {
	if err := c.Rdb.Incr(ctx, c.generationKey()).Err(); err != nil {
		return 0, err
	}

	ids, err := c.Rdb.SMembers(ctx, c.jobsKey()).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := c.RemoveJob(ctx, id); err != nil {
			if !errors.Is(err, ports.ErrJobActive) {
				log.Ctx(ctx).Error().Err(err).Str("job_id", id).Msg("failed to purge job")
			}
			continue
		}
		removed++
	}
	return removed, nil
}

func (c *Client) SaveState(ctx context.Context, t domain.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	m := map[string]any{
		"task":        b,
		"status":      string(t.Status),
		"schedule_id": t.ScheduleID(),
		"next_run_at": t.NextRunAt.UnixMilli(),
	}
	return c.Rdb.HSet(ctx, c.taskKey(t.ID), m).Err()
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Task, error) {
	h, err := c.Rdb.HMGet(ctx, c.taskKey(id), "task", "status").Result()
	if err != nil {
		return nil, err
	}
	raw, ok := h[0].(string)
	if !ok {
		return nil, nil
	}

	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	if status, ok := h[1].(string); ok {
		t.Status = domain.TaskStatus(status)
	}
	return &t, nil
}

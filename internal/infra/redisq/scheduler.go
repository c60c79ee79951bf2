package redisq

import (
	"context"
	"strconv"
	"time"

	"cadence/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Scheduler = (*Scheduler)(nil)

type Scheduler struct {
	C        *Client
	Interval time.Duration
}

func NewScheduler(c *Client, interval time.Duration) *Scheduler {
	return &Scheduler{C: c, Interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.MoveDue(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to move due jobs")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MoveDue pushes every delayed job whose time has come onto the stream and
// returns how many it moved.
func (s *Scheduler) MoveDue(ctx context.Context) (int, error) {
	ids, err := s.C.Rdb.ZRangeByScore(ctx, s.C.Cfg.ScheduledZSet, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmtFloat(nowMs(s.C.now())),
		Offset: 0,
		Count:  128,
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		// ZREM decides which mover owns the job.
		n, err := s.C.Rdb.ZRem(ctx, s.C.Cfg.ScheduledZSet, id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}

		t, err := s.C.Get(ctx, id)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("job_id", id).Msg("failed to load delayed job")
			continue
		}
		if t == nil {
			continue
		}
		if err := s.C.push(ctx, *t); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("job_id", id).Msg("failed to push delayed job")
			continue
		}
		moved++
	}
	return moved, nil
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

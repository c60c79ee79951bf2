package redisq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
	// Now is the queue's clock; tests replace it.
	Now func() time.Time
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c, Now: time.Now}
}

// Connect → used by API only
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// Init → used by Worker, ensures stream + group exist
func (c *Client) Init(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	// Create stream and group if not exists
	err := c.Rdb.XGroupCreateMkStream(ctx, c.Cfg.StreamKey, c.Cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("stream", c.Cfg.StreamKey).
		Str("group", c.Cfg.Group).
		Str("namespace", c.Cfg.Namespace).
		Msg("redis stream and consumer group ready")

	return nil
}

func (c *Client) Close() error { return c.Rdb.Close() }

// Every key the queue owns lives under Cfg.Namespace so a purge never
// touches another feature's data.

func (c *Client) taskKey(id string) string { return c.Cfg.Namespace + ":task:" + id }

func (c *Client) jobsKey() string { return c.Cfg.Namespace + ":jobs" }

func (c *Client) failedKey() string { return c.Cfg.Namespace + ":failed" }

func (c *Client) generationKey() string { return c.Cfg.Namespace + ":generation" }

// generation returns the purge counter. Repeating jobs created before the
// latest purge stop repeating.
func (c *Client) generation(ctx context.Context) (int64, error) {
	g, err := c.Rdb.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return g, err
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func nowMs(t time.Time) float64 { return float64(t.UnixMilli()) }

// Package actions holds the actions the engine ships with. Each is a typed
// value with a fixed name; feature modules add their own through the
// registry builder.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cadence/internal/registry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Name string

const (
	LogMessage    Name = "log.message"
	NotifyPublish Name = "notify.publish"
)

type Action interface {
	registry.Handler
	Name() Name
}

// Register adds every action to b under its own name.
func Register(b *registry.Builder, actions ...Action) *registry.Builder {
	for _, a := range actions {
		b.Register(string(a.Name()), a)
	}
	return b
}

// Log writes the invocation to the engine log.
type Log struct{}

func (Log) Name() Name { return LogMessage }

func (Log) Handle(ctx context.Context, inv registry.Invocation) error {
	msg, _ := inv.Data["message"].(string)
	if msg == "" {
		msg = "scheduled action"
	}
	log.Ctx(ctx).Info().
		Str("schedule_id", inv.ScheduleID).
		Str("entity_id", inv.EntityID).
		Str("actor_id", inv.ActorID).
		Int("attempt", inv.Attempt).
		Msg(msg)
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publish sends the invocation as JSON on a Redis pub/sub channel, taken
// from data["channel"] or Channel.
type Publish struct {
	Rdb     Publisher
	Channel string
}

func (Publish) Name() Name { return NotifyPublish }

type publishedMessage struct {
	ScheduleID string         `json:"schedule_id"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Data       map[string]any `json:"data"`
}

func (p Publish) Handle(ctx context.Context, inv registry.Invocation) error {
	channel, _ := inv.Data["channel"].(string)
	if channel == "" {
		channel = p.Channel
	}
	if channel == "" {
		return errors.New("notify.publish: no channel")
	}

	b, err := json.Marshal(publishedMessage{
		ScheduleID: inv.ScheduleID,
		EntityID:   inv.EntityID,
		ActorID:    inv.ActorID,
		Data:       inv.Data,
	})
	if err != nil {
		return fmt.Errorf("notify.publish: %w", err)
	}
	return p.Rdb.Publish(ctx, channel, b).Err()
}

package worker

import (
	"context"
	"errors"
	"time"

	"cadence/internal/usecase"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type syncer interface {
	Run(ctx context.Context) (usecase.SyncReport, error)
}

// StartMidnightSync runs s at every midnight of loc. Stop the returned
// cron to end it.
func StartMidnightSync(ctx context.Context, loc *time.Location, s syncer) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc("@midnight", func() { runSync(ctx, s, "midnight") }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func runSync(ctx context.Context, s syncer, trigger string) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.Run(ctx)
	switch {
	case errors.Is(err, usecase.ErrSyncInProgress):
		log.Ctx(ctx).Info().Str("trigger", trigger).Msg("sync already running, skipped")
	case err != nil:
		log.Ctx(ctx).Error().Err(err).Str("trigger", trigger).Msg("daily sync failed")
	}
}

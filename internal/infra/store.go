// Package infra picks the schedule store the process runs on.
package infra

import (
	"context"
	"io"

	"cadence/internal/config"
	"cadence/internal/infra/memstore"
	"cadence/internal/infra/postgres"
	"cadence/internal/ports"

	"github.com/rs/zerolog/log"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore returns the store selected by Engine_Store. The postgres store
// is migrated before it is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (ports.ScheduleStore, io.Closer, error) {
	if cfg.Engine.Store == "memory" {
		log.Ctx(ctx).Warn().Msg("using in-memory schedule store, records are lost on exit")
		return memstore.New(), nopCloser{}, nil
	}

	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store := postgres.NewScheduleStore(db)
	return store, store, nil
}

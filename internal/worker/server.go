package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/actions"
	"cadence/internal/config"
	"cadence/internal/infra"
	"cadence/internal/infra/redisq"
	"cadence/internal/registry"
	"cadence/internal/usecase"

	"github.com/rs/zerolog/log"
)

type Config struct {
	ConsumerName string
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Run starts the engine: delayed mover, boot sync, midnight sync and the
// job processor. It returns when the process is signalled.
func Run(cfg Config) error {
	appCfg := config.Load()

	ctx, stop := signal.NotifyContext(log.Logger.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := appCfg.Engine.Location()
	if err != nil {
		return err
	}

	cli := redisq.New(appCfg.Redis)
	if err := cli.Init(ctx); err != nil {
		return err
	}
	defer cli.Close()

	store, closer, err := infra.OpenStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := actions.Register(registry.NewBuilder(),
		actions.Log{},
		actions.Publish{Rdb: cli.Rdb, Channel: appCfg.Engine.NotifyChannel},
	).Build()
	log.Info().Strs("actions", reg.Names()).Msg("action registry built")

	locks := usecase.NewLocker()
	enq := usecase.Enqueuer{Q: cli}
	recorder := &usecase.Recorder{
		Store:        store,
		Enqueuer:     enq,
		Locks:        locks,
		HistoryLimit: appCfg.Engine.HistoryLimit,
	}
	sync := &usecase.Synchronizer{Store: store, Q: cli, Locks: locks}

	// Run scheduler
	sched := redisq.NewScheduler(cli, 1*time.Second)
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	if appCfg.Engine.SyncOnBoot {
		runSync(ctx, sync, "boot")
	}

	c, err := StartMidnightSync(ctx, loc, sync)
	if err != nil {
		return fmt.Errorf("schedule midnight sync: %w", err)
	}
	defer func() { <-c.Stop().Done() }()

	processor := usecase.Processor{
		Q:            cli,
		Store:        store,
		Registry:     reg,
		Recorder:     recorder,
		ConsumerName: cfg.ConsumerName,
		ActorID:      appCfg.Engine.ActorID,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		Concurrency:  appCfg.Engine.Concurrency,
	}

	log.Info().
		Str("consumer", cfg.ConsumerName).
		Str("timezone", loc.String()).
		Int("concurrency", appCfg.Engine.Concurrency).
		Msg("worker started")

	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}

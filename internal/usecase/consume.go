package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/registry"
	"cadence/pkg/backoff"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Processor consumes due tasks and dispatches them to registered actions.
type Processor struct {
	Q            ports.Queue
	Store        ports.ScheduleStore
	Registry     *registry.Registry
	Recorder     *Recorder
	ConsumerName string
	ActorID      string
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Concurrency  int
}

func (p Processor) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(max(p.Concurrency, 1)))
	var wg sync.WaitGroup
	defer wg.Wait()

	claimErrors := 0
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		t, id, err := p.Q.Claim(ctx, p.ConsumerName, 5*time.Second)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			claimErrors++
			log.Ctx(ctx).Error().Err(err).Msg("failed to claim task")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.ExponentialJitter(p.BaseBackoff, p.MaxBackoff, claimErrors)):
			}
			continue
		}
		claimErrors = 0
		if t == nil {
			sem.Release(1)
			continue
		}

		wg.Add(1)
		go func(t domain.Task, id string) {
			defer wg.Done()
			defer sem.Release(1)
			p.Process(ctx, t, id)
		}(*t, id)
	}
}

// Process runs one claimed task to a queue outcome. The recorder is called
// only when the task reaches a terminal state.
func (p Processor) Process(ctx context.Context, t domain.Task, streamID string) {
	logger := log.Ctx(ctx).With().
		Str("job_id", t.ID).
		Str("action", t.Action).
		Str("schedule_id", t.ScheduleID()).
		Int("attempt", t.Attempts+1).
		Logger()
	ctx = logger.WithContext(ctx)

	h, ok := p.Registry.Get(t.Action)
	if !ok {
		logger.Warn().Msg("no handler registered for action, completing as no-op")
		p.settle(ctx, p.Q.Complete(ctx, streamID, t))
		return
	}

	scheduleID := t.ScheduleID()
	if scheduleID == "" {
		logger.Warn().Msg("task carries no schedule id, completing as no-op")
		p.settle(ctx, p.Q.Complete(ctx, streamID, t))
		return
	}

	sch, err := p.Store.Get(ctx, scheduleID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn().Msg("schedule no longer exists, discarding task")
		p.settle(ctx, p.Q.Discard(ctx, streamID, t))
		return
	case err != nil:
		logger.Error().Err(err).Msg("failed to load schedule, dispatching anyway")
	case sch.Status != domain.StatusActive:
		logger.Info().Str("status", string(sch.Status)).Msg("schedule is not active, discarding task")
		p.settle(ctx, p.Q.Discard(ctx, streamID, t))
		return
	}

	runErr := p.invoke(ctx, h, t)
	if runErr == nil {
		p.settle(ctx, p.Q.Complete(ctx, streamID, t))
		p.record(ctx, logger, scheduleID, domain.Succeeded())
		return
	}

	if t.Attempts+1 < t.MaxAttempts {
		delay := backoff.ExponentialJitter(p.BaseBackoff, p.MaxBackoff, t.Attempts+1)
		logger.Warn().Err(runErr).Dur("backoff", delay).Msg("action failed, retrying")
		p.settle(ctx, p.Q.Retry(ctx, streamID, t, runErr, time.Now().Add(delay)))
		return
	}

	logger.Error().Err(runErr).Msg("action failed, attempts exhausted")
	p.settle(ctx, p.Q.Fail(ctx, streamID, t, runErr.Error()))
	p.record(ctx, logger, scheduleID, domain.Failed(runErr))
}

func (p Processor) invoke(ctx context.Context, h registry.Handler, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return h.Handle(ctx, registry.Invocation{
		ScheduleID: t.ScheduleID(),
		EntityID:   t.EntityID(),
		ActorID:    p.ActorID,
		Data:       t.Payload,
		Attempt:    t.Attempts + 1,
	})
}

// record never fails the task: the business action already happened.
func (p Processor) record(ctx context.Context, logger zerolog.Logger, scheduleID string, o domain.Outcome) {
	if p.Recorder == nil {
		return
	}
	err := p.Recorder.Record(ctx, scheduleID, o)
	switch {
	case errors.Is(err, ErrDiscarded):
		logger.Info().Msg("schedule left ACTIVE while running, outcome discarded")
	case err != nil:
		logger.Error().Err(err).Msg("failed to record outcome")
	}
}

func (p Processor) settle(ctx context.Context, err error) {
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update queue state")
	}
}

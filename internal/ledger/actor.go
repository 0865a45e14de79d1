package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultJobQueueSize = 64

// Job mutates or reads actor state. Jobs run one at a time on the pool's
// goroutine; slow I/O (venue calls, oracle calls) must happen before the job
// is submitted, never inside it.
type Job func(ctx context.Context, st *State) error

type submission struct {
	ctx   context.Context
	name  string
	job   Job
	reply chan error
}

// Actor serializes all mutations for a single pool. Each pool gets its own
// actor so independent pools progress fully in parallel.
type Actor struct {
	poolID string
	state  *State
	jobs   chan submission
	quit   chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

// NewActor starts the actor goroutine for a pool
func NewActor(state *State, logger zerolog.Logger) *Actor {
	a := &Actor{
		poolID: state.Pool.ID,
		state:  state,
		jobs:   make(chan submission, defaultJobQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "pool_actor").Str("pool_id", state.Pool.ID).Logger(),
	}
	go a.run()
	return a
}

// PoolID returns the pool this actor serializes
func (a *Actor) PoolID() string {
	return a.poolID
}

// Do submits a job and waits for it to complete. Reads go through Do as
// well so callers always observe a consistent state.
func (a *Actor) Do(ctx context.Context, name string, job Job) error {
	sub := submission{ctx: ctx, name: name, job: job, reply: make(chan error, 1)}
	select {
	case a.jobs <- sub:
	case <-a.quit:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sub.reply:
		return err
	case <-a.quit:
		return ErrActorStopped
	}
}

// Stop drains no further jobs and waits for the running one to finish
func (a *Actor) Stop() {
	select {
	case <-a.quit:
		return
	default:
	}
	close(a.quit)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case sub := <-a.jobs:
			a.execute(sub)
		case <-a.quit:
			// Fail fast on anything still queued
			for {
				select {
				case sub := <-a.jobs:
					sub.reply <- ErrActorStopped
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) execute(sub submission) {
	// The submitter may have given up while the job sat in the queue
	if err := sub.ctx.Err(); err != nil {
		sub.reply <- err
		return
	}

	start := time.Now()
	err := a.runJob(sub)
	if err != nil {
		a.logger.Debug().Str("job", sub.name).Dur("elapsed", time.Since(start)).Err(err).Msg("job failed")
	}
	sub.reply <- err
}

func (a *Actor) runJob(sub submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool %s: job %s panicked: %v", a.poolID, sub.name, r)
			a.logger.Error().Str("job", sub.name).Interface("panic", r).Msg("recovered from job panic")
		}
	}()
	return sub.job(sub.ctx, a.state)
}

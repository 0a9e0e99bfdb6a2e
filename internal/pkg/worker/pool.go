// Package worker provides goroutine pool management.
//
// Coding standard: naked goroutines are forbidden for request-scoped and
// long-running work. All concurrency must go through a Pool with context
// propagation so cancellation and shutdown are never best-effort.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the Worker pool collection. Dispatch handles VM-spawn submission
// from the agent-pull claim loop. Cascade is created alongside it, but no
// code in this module submits to it: dependency re-evaluation after
// verification (verify.Cascade) runs synchronously on the caller's goroutine.
type Pools struct {
	Dispatch *Pool
	Cascade  *Pool

	// serviceCtx is the service lifecycle context for detached tasks.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains Worker Pool configuration.
type PoolConfig struct {
	DispatchPoolSize int
	CascadePoolSize  int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DispatchPoolSize: 100,
		CascadePoolSize:  50,
	}
}

// NewPools creates the Worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	dispatchAnts, err := ants.NewPool(cfg.DispatchPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	cascadeAnts, err := ants.NewPool(cfg.CascadePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		dispatchAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Dispatch:      &Pool{pool: dispatchAnts, name: "dispatch"},
		Cascade:       &Pool{pool: cascadeAnts, name: "cascade"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task. The task receives the caller's
// context and should check ctx.Done() at blocking points. If the context is
// already cancelled, Submit returns ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// SubmitDetached submits a detached background task using the service
// lifecycle context instead of a request context. Use this for background
// work that should survive request cancellation but still respect
// graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	var pool *Pool
	switch poolName {
	case "cascade":
		pool = p.Cascade
	default:
		pool = p.Dispatch
	}

	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown gracefully shuts down all pools with a timeout. Cancels the
// service context first, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Dispatch.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("dispatch pool shutdown timeout", zap.Error(err))
	}
	if err := p.Cascade.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("cascade pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"dispatch": map[string]int{
			"running": p.Dispatch.pool.Running(),
			"free":    p.Dispatch.pool.Free(),
			"cap":     p.Dispatch.pool.Cap(),
		},
		"cascade": map[string]int{
			"running": p.Cascade.pool.Running(),
			"free":    p.Cascade.pool.Free(),
			"cap":     p.Cascade.pool.Cap(),
		},
	}
}

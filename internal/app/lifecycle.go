package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

// Start starts all background services: River workers, the Dispatcher's
// poll loop, and the Lease Monitor's heartbeat/reaper loops (spec.md §4.E,
// §4.F). All three run only on this single coordinator process.
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}

	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
		logger.Info("Dispatcher poll loop started")
	}

	if a.lease != nil {
		a.lease.Start(ctx)
		logger.Info("Lease monitor started")
	}

	return nil
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.lease != nil {
		a.lease.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	if a.bus != nil {
		a.bus.Shutdown()
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

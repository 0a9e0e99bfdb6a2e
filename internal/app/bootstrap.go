// Package app — composition root. ADR-0022: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"swarmcore.io/swarm/internal/adapters/llm"
	"swarmcore.io/swarm/internal/adapters/vcs"
	"swarmcore.io/swarm/internal/adapters/verifier"
	"swarmcore.io/swarm/internal/api/handlers"
	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/config"
	"swarmcore.io/swarm/internal/dispatcher"
	"swarmcore.io/swarm/internal/infrastructure"
	"swarmcore.io/swarm/internal/jobs"
	"swarmcore.io/swarm/internal/leasemonitor"
	"swarmcore.io/swarm/internal/pkg/worker"
	"swarmcore.io/swarm/internal/provider"
	"swarmcore.io/swarm/internal/sessionsm"
	"swarmcore.io/swarm/internal/store"
	"swarmcore.io/swarm/internal/verify"
)

// Application holds composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools

	dispatcher *dispatcher.Dispatcher
	lease      *leasemonitor.Monitor
	bus        *bus.Bus
}

// Bootstrap initializes all dependencies: the shared store, event bus,
// session state machine, dispatcher, lease monitor, verifier, and the
// HTTP surface, wiring River workers for the three off-path job kinds
// (spec.md §4.E, §4.G) before the client starts consuming them.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database clients: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	st := store.New(db.EntClient, db.Pool)
	eventBus := bus.New(bus.DefaultConfig())

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		DispatchPoolSize: cfg.Worker.DispatchPoolSize,
		CascadePoolSize:  cfg.Worker.CascadePoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	backend := buildVMBackend(cfg.VMBackend)
	vcsAdapter := vcs.NewGiteaAdapter(cfg.VCS.BaseURL, cfg.VCS.Token)
	verifierAdapter := verifier.NewScriptVerifier(cfg.VCS.WorkDir)
	llmAdapter := llm.NewMockAdapter() // no grounded HTTP LLM client in this pack; see DESIGN.md.

	sessions := sessionsm.New(st, eventBus, llmAdapter, sessionsm.Config{
		MinDescriptionLength:   cfg.Session.MinDescriptionLength,
		MaxClarificationTurns:  cfg.Session.MaxClarificationTurns,
		CoverageReadyThreshold: cfg.Session.CoverageThreshold,
	})

	verifierSvc := verify.New(st, eventBus, sessions, verifierAdapter, vcsAdapter, verify.Config{
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		RepoOwner:   cfg.VCS.RepoOwner,
		RepoName:    cfg.VCS.RepoName,
		BaseBranch:  "main",
		Phases:      verify.DefaultConfig().Phases,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewVMSpawnWorker(st, eventBus, backend, jobs.VMSpawnConfig{
		Cluster:       cfg.VMBackend.Cluster,
		Namespace:     cfg.VMBackend.Namespace,
		AgentImage:    jobs.DefaultVMSpawnConfig().AgentImage,
		AgentCPU:      jobs.DefaultVMSpawnConfig().AgentCPU,
		AgentMemoryMB: jobs.DefaultVMSpawnConfig().AgentMemoryMB,
		AgentDiskGB:   jobs.DefaultVMSpawnConfig().AgentDiskGB,
		HealthTimeout: jobs.DefaultVMSpawnConfig().HealthTimeout,
		HealthPoll:    jobs.DefaultVMSpawnConfig().HealthPoll,
		MaxAttempts:   cfg.Dispatcher.MaxAttempts,
	}))
	river.AddWorker(workers, jobs.NewTicketVerifyWorker(verifierSvc))
	river.AddWorker(workers, jobs.NewVMTeardownWorker(backend))

	if err := db.InitRiverClient(workers, cfg.River); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}

	disp := dispatcher.New(st, eventBus, db.RiverClient, pools, dispatcher.Config{
		PollInterval:         cfg.Dispatcher.PollInterval,
		BatchSize:            cfg.Dispatcher.BatchSize,
		MaxFleet:             cfg.Dispatcher.MaxFleet,
		TenantConcurrencyCap: cfg.Dispatcher.TenantConcurrencyCap,
		LeaseDuration:        cfg.Dispatcher.LeaseDuration,
	})

	leaseMonitor := leasemonitor.New(st, eventBus, leasemonitor.Config{
		HeartbeatInterval: cfg.LeaseMonitor.HeartbeatInterval,
		ReaperInterval:    cfg.LeaseMonitor.ReaperInterval,
		StaleThreshold:    cfg.LeaseMonitor.StaleThreshold,
		LeaseDuration:     cfg.Dispatcher.LeaseDuration,
		MaxAttempts:       cfg.Dispatcher.MaxAttempts,
	})

	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.SessionSecret),
		Issuer:     "swarm",
		ExpiresIn:  cfg.Auth.Lifetime,
	}

	server := handlers.NewServer(handlers.ServerDeps{
		Store:         st,
		Bus:           eventBus,
		Sessions:      sessions,
		River:         db.RiverClient,
		JWTCfg:        jwtCfg,
		Operators:     cfg.Auth.Operators,
		LeaseDuration: cfg.Dispatcher.LeaseDuration,
		MaxAttempts:   cfg.Dispatcher.MaxAttempts,
	})

	return &Application{
		Config:     cfg,
		Router:     newRouter(cfg, server, jwtCfg),
		DB:         db,
		Pools:      pools,
		dispatcher: disp,
		lease:      leaseMonitor,
		bus:        eventBus,
	}, nil
}

// buildVMBackend selects the KubeVirt-backed provider or the in-memory
// MockBackend per cfg.Mode, so the coordinator can run without a real
// cluster during development (spec.md §4.H never mandates a concrete
// hypervisor).
func buildVMBackend(cfg config.VMBackendConfig) provider.Backend {
	if cfg.Mode != "kubevirt" {
		return provider.NewMockBackend()
	}
	factory := provider.NewClusterClientFactoryFromKubeconfigLoader(provider.FileKubeconfigLoader(cfg.KubeconfigDir))
	return provider.NewKubeVirtBackend(provider.NewKubeVirtProvider(factory, cfg.OperationTimeout))
}

// Package main seeds a demo session and its compiled ticket DAG so a
// fresh coordinator has agent-claimable work without going through the
// HITL clarification flow by hand.
//
// ADR-0018: the application does not auto-seed on startup; this command
// performs idempotent data bootstrap, invoked explicitly.
//
// Import Path (ADR-0016): swarmcore.io/swarm/cmd/seed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"swarmcore.io/swarm/internal/config"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/generator"
	"swarmcore.io/swarm/internal/infrastructure"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/store"
)

const (
	demoTenantID  = "seed-tenant-demo"
	demoSessionID = "seed-session-demo"
)

// sessionFixture is the on-disk shape of a -fixture YAML file: enough to
// build a domain.Session with an already-approved FinalSpec, so seeding
// can exercise StartBuild's ticket-compile path without an LLM adapter.
// The built-in demo fixture below is the zero-value fallback when no
// -fixture flag is given.
type sessionFixture struct {
	SessionID   string                 `yaml:"session_id"`
	TenantID    string                 `yaml:"tenant_id"`
	ProjectName string                 `yaml:"project_name"`
	Description string                 `yaml:"description"`
	FinalSpec   map[string]interface{} `yaml:"final_spec"`
}

func defaultFixture() sessionFixture {
	return sessionFixture{
		SessionID:   demoSessionID,
		TenantID:    demoTenantID,
		ProjectName: "demo-project",
		Description: "Seed fixture: a minimal service with a health endpoint and one persisted resource.",
		FinalSpec: map[string]interface{}{
			"title":   "Demo Project",
			"summary": "A small seeded project exercising the ticket DAG end to end.",
			"goals":   []interface{}{"Stand up a minimal HTTP service"},
			"features": []interface{}{
				"Expose a health endpoint",
				"Persist a single resource type",
			},
			"non_goals":  []interface{}{"Authentication"},
			"risks":      []interface{}{},
			"acceptance": []interface{}{"curl /health returns 200"},
		},
	}
}

// loadFixture reads a -fixture YAML file if path is non-empty, otherwise
// returns the built-in demo fixture.
func loadFixture(path string) (sessionFixture, error) {
	if path == "" {
		return defaultFixture(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionFixture{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	fx := defaultFixture()
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return sessionFixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return fx, nil
}

func main() {
	fixturePath := flag.String("fixture", "", "path to a YAML session fixture (defaults to the built-in demo session)")
	flag.Parse()

	if err := run(*fixturePath); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run(fixturePath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	fx, err := loadFixture(fixturePath)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	st := store.New(db.EntClient, db.Pool)

	logger.Info("Starting data seeding...")

	sess, err := seedDemoSession(ctx, st, fx)
	if err != nil {
		return fmt.Errorf("seed demo session: %w", err)
	}

	if err := seedDemoTickets(ctx, st, sess); err != nil {
		return fmt.Errorf("seed demo tickets: %w", err)
	}

	logger.Info("Data seeding completed successfully", zap.String("session_id", sess.ID))
	return nil
}

// seedDemoSession inserts a single fixed-id Session already carrying an
// approved FinalSpec, skipping clarification/review so StartBuild's
// precondition (spec.md §4.C) is satisfiable without an LLM adapter.
func seedDemoSession(ctx context.Context, st *store.Store, fx sessionFixture) (*domain.Session, error) {
	existing, err := st.GetSession(ctx, fx.SessionID)
	if err == nil {
		logger.Info("demo session already seeded, skipping", zap.String("session_id", existing.ID))
		return existing, nil
	}
	if !apperrors.IsCategory(err, apperrors.CategoryNotFound) {
		return nil, err
	}

	sess := &domain.Session{
		ID:          fx.SessionID,
		TenantID:    fx.TenantID,
		ProjectName: fx.ProjectName,
		Description: fx.Description,
		State:       domain.SessionApproved,
		SourceType:  domain.SourceDirect,
		Gathered:    map[string]interface{}{},
		FinalSpec:   fx.FinalSpec,
	}
	if err := st.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	logger.Info("seeded demo session", zap.String("session_id", sess.ID))
	return sess, nil
}

// seedDemoTickets compiles sess's final spec into its ticket DAG and
// activates every dependency-free ticket to `ready`, mirroring the
// start-build handler's Compile -> InsertTicketsAtomic -> Activate
// sequence (spec.md §4.D).
func seedDemoTickets(ctx context.Context, st *store.Store, sess *domain.Session) error {
	byState, err := st.SessionTicketsByState(ctx, sess.ID)
	if err == nil && len(byState) > 0 {
		logger.Info("demo tickets already seeded, skipping", zap.String("session_id", sess.ID))
		return nil
	}

	tickets, err := generator.Compile(sess)
	if err != nil {
		return err
	}
	if err := st.InsertTicketsAtomic(ctx, tickets); err != nil {
		return err
	}
	ready, err := generator.Activate(ctx, st, sess)
	if err != nil {
		return err
	}
	logger.Info("seeded demo ticket DAG", zap.Int("tickets", len(tickets)), zap.Int("ready", ready))
	return nil
}

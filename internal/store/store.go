// Package store is the sole persistence gateway for the execution core
// (spec.md §4.A). It composes the generated ent client for ordinary CRUD
// with a handful of hand-written atomic SQL statements for the hot paths
// (claim, heartbeat, stale reclaim) that need row-level "skip locked"
// locking ent's query builder cannot express directly.
//
// ADR-0012 (carried from the teacher): ent and the hand-written SQL share
// one pgxpool.Pool so that a claim and a conditional ticket update are
// never split across two connections.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"swarmcore.io/swarm/ent"
)

// Store is the gateway every component (Dispatcher, LeaseMonitor, Verify,
// SessionSM, Generator, API) uses to read and write Tickets, Sessions,
// Messages, Approvals, and AuditEvents.
type Store struct {
	ent  *ent.Client
	pool *pgxpool.Pool
}

// New builds a Store over a shared ent client and connection pool
// (internal/infrastructure wires both from the same pgxpool.Pool).
func New(entClient *ent.Client, pool *pgxpool.Pool) *Store {
	return &Store{ent: entClient, pool: pool}
}

// Ping reports whether the shared pool is reachable, used by the
// readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

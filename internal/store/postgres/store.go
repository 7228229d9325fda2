// Package postgres is the concrete durable store for the event runtime
// orchestrator, backed by PostgreSQL + pgvector. Grounded on the teacher's
// pkg/memory/postgres package: one *pgxpool.Pool shared across narrow
// per-concern sub-stores, pgvector types registered via cfg.AfterConnect,
// and Migrate run at construction.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/weillium/eventrt/internal/checkpoint"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/store"
)

var (
	_ store.EventStore         = (*Store)(nil)
	_ store.AgentSessionStore  = (*Store)(nil)
	_ store.TranscriptStore    = (*Store)(nil)
	_ store.FactStore          = (*Store)(nil)
	_ store.CardStore          = (*Store)(nil)
	_ store.GlossaryStore      = (*Store)(nil)
	_ store.OutputLog          = (*Store)(nil)
	_ store.ContextItemIndex   = (*Store)(nil)
	_ checkpoint.Store         = (*Store)(nil)
)

// Store is the PostgreSQL-backed implementation of every durable store
// interface in internal/store plus internal/checkpoint. A single pool is
// shared by every sub-concern, mirroring the teacher's one-pool-many-
// sub-stores layout.
type Store struct {
	pool                *pgxpool.Pool
	embeddingDimensions int

	subsMu sync.Mutex
	subs   map[int]func(eventID string, chunk eventmodel.TranscriptChunk)
	nextID int
}

// NewStore connects to dsn, registers pgvector types on every new
// connection, runs migrations, and returns a ready Store.
//
// embeddingDimensions must match the embedding provider wired into
// internal/toolsurface.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:                pool,
		embeddingDimensions: embeddingDimensions,
		subs:                make(map[int]func(eventID string, chunk eventmodel.TranscriptChunk)),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity to Postgres, used by the control plane's
// /healthz check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

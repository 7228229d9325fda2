package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the tables/extensions the orchestrator depends on if they
// do not already exist. embeddingDimensions sizes the context_items vector
// column, following pkg/memory/postgres's Migrate(ctx, pool, dims) contract.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			model_set TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			event_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_session_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			connection_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (event_id, agent_type)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_session_history (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			event_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			at_ms BIGINT NOT NULL,
			speaker TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			final BOOLEAN NOT NULL,
			transcript_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (event_id, seq)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS context_items (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			chunk TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, embeddingDimensions),
		`CREATE TABLE IF NOT EXISTS glossary_terms (
			event_id TEXT NOT NULL,
			term TEXT NOT NULL,
			definition TEXT NOT NULL,
			acronym_for TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			usage_examples TEXT[] NOT NULL DEFAULT '{}',
			related_terms TEXT[] NOT NULL DEFAULT '{}',
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (event_id, term)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS glossary_terms_event_lower_term ON glossary_terms (event_id, lower(term))`,
		`CREATE TABLE IF NOT EXISTS facts (
			event_id TEXT NOT NULL,
			fact_key TEXT NOT NULL,
			value JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			last_seen_seq BIGINT NOT NULL,
			sources TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_touched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (event_id, fact_key)
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			card_type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			label TEXT,
			image_url TEXT,
			source_seq BIGINT NOT NULL,
			concept_id TEXT NOT NULL DEFAULT '',
			concept_label TEXT NOT NULL DEFAULT '',
			template_id TEXT NOT NULL DEFAULT '',
			template_label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (event_id, source_seq, concept_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_outputs (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			event_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			last_processed_seq BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (event_id, agent_type)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}

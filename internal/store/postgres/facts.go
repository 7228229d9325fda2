package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Upsert implements store.FactStore, the durable mirror of
// internal/factsstore's confidence-dynamics upsert.
func (s *Store) Upsert(ctx context.Context, eventID string, fact eventmodel.Fact) error {
	value, err := json.Marshal(fact.Value)
	if err != nil {
		return fmt.Errorf("postgres: upsert fact: marshal value: %w", err)
	}

	const q = `
		INSERT INTO facts (event_id, fact_key, value, confidence, last_seen_seq, sources, active, last_touched_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, now())
		ON CONFLICT (event_id, fact_key) DO UPDATE
		SET value = EXCLUDED.value, confidence = EXCLUDED.confidence,
		    last_seen_seq = EXCLUDED.last_seen_seq, sources = EXCLUDED.sources,
		    active = true, last_touched_at = now()`

	if _, err := s.pool.Exec(ctx, q, eventID, fact.Key, value, fact.Confidence, int64(fact.LastSeenSeq), fact.Sources); err != nil {
		return fmt.Errorf("postgres: upsert fact: %w", err)
	}
	return nil
}

// MarkInactiveBulk implements store.FactStore.
func (s *Store) MarkInactiveBulk(ctx context.Context, eventID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `UPDATE facts SET active = false WHERE event_id = $1 AND fact_key = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, eventID, keys); err != nil {
		return fmt.Errorf("postgres: mark facts inactive: %w", err)
	}
	return nil
}

// LoadActive implements store.FactStore, used by RuntimeManager.createRuntime
// to seed FactsStore.
func (s *Store) LoadActive(ctx context.Context, eventID string) ([]eventmodel.Fact, error) {
	const q = `
		SELECT fact_key, value, confidence, last_seen_seq, sources, created_at, last_touched_at
		FROM   facts
		WHERE  event_id = $1 AND active = true`

	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load active facts: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventmodel.Fact, error) {
		var f eventmodel.Fact
		var seq int64
		var rawValue []byte
		if err := row.Scan(&f.Key, &rawValue, &f.Confidence, &seq, &f.Sources, &f.CreatedAt, &f.LastTouchedAt); err != nil {
			return eventmodel.Fact{}, err
		}
		f.LastSeenSeq = uint64(seq)
		if err := json.Unmarshal(rawValue, &f.Value); err != nil {
			return eventmodel.Fact{}, fmt.Errorf("unmarshal fact value: %w", err)
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load active facts: scan: %w", err)
	}
	if facts == nil {
		facts = []eventmodel.Fact{}
	}
	return facts, nil
}

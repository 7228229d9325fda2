package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/weillium/eventrt/internal/store"
)

// Search implements store.ContextItemIndex, backing the retrieve tool with a
// pgvector cosine-distance nearest-neighbour query, grounded on
// pkg/memory/postgres's SemanticIndexImpl.Search.
func (s *Store) Search(ctx context.Context, eventID string, embedding []float32, topK int) ([]store.ContextItemResult, error) {
	const q = `
		SELECT id, chunk, 1 - (embedding <=> $2) AS similarity
		FROM   context_items
		WHERE  event_id = $1
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx, q, eventID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: context item search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ContextItemResult, error) {
		var r store.ContextItemResult
		if err := row.Scan(&r.ID, &r.Chunk, &r.Similarity); err != nil {
			return store.ContextItemResult{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: context item search: scan: %w", err)
	}
	if results == nil {
		results = []store.ContextItemResult{}
	}
	return results, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// LoadForEvent implements store.GlossaryStore, loaded once per runtime
// creation into internal/glossary.Cache.
func (s *Store) LoadForEvent(ctx context.Context, eventID string) ([]eventmodel.GlossaryEntry, error) {
	const q = `
		SELECT term, definition, acronym_for, category, usage_examples, related_terms, confidence_score
		FROM   glossary_terms
		WHERE  event_id = $1`

	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load glossary: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventmodel.GlossaryEntry, error) {
		var e eventmodel.GlossaryEntry
		if err := row.Scan(&e.Term, &e.Definition, &e.AcronymFor, &e.Category, &e.UsageExamples, &e.RelatedTerms, &e.ConfidenceScore); err != nil {
			return eventmodel.GlossaryEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load glossary: scan: %w", err)
	}
	if entries == nil {
		entries = []eventmodel.GlossaryEntry{}
	}
	return entries, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Insert implements store.CardStore. Cards are persisted once per
// (event_id, source_seq, concept_id), per spec §4.7; a duplicate emission is
// silently ignored rather than erroring.
func (s *Store) Insert(ctx context.Context, eventID string, card eventmodel.Card) error {
	const q = `
		INSERT INTO cards (event_id, kind, card_type, title, body, label, image_url,
		                    source_seq, concept_id, concept_label, template_id, template_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id, source_seq, concept_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q,
		eventID, card.Kind, string(card.CardType), card.Title, card.Body, card.Label, card.ImageURL,
		int64(card.SourceSeq), card.ConceptID, card.ConceptLabel, card.TemplateID, card.TemplateLabel,
	); err != nil {
		return fmt.Errorf("postgres: insert card: %w", err)
	}
	return nil
}

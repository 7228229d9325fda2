package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Insert implements store.TranscriptStore. It is the authoritative durable
// write; per SPEC_FULL.md §9, callers insert here before enqueueing
// HandleTranscript on the runtime actor.
func (s *Store) Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error {
	const q = `
		INSERT INTO transcripts (event_id, seq, at_ms, speaker, text, final, transcript_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, seq) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, eventID, int64(chunk.Seq), chunk.AtMs, chunk.Speaker, chunk.Text, chunk.Final, chunk.TranscriptID); err != nil {
		return fmt.Errorf("postgres: insert transcript: %w", err)
	}

	s.notifySubscribers(eventID, chunk)
	return nil
}

// GetRange implements store.TranscriptStore.
func (s *Store) GetRange(ctx context.Context, eventID string, sinceSeqExclusive uint64, limit int) ([]eventmodel.TranscriptChunk, error) {
	const q = `
		SELECT seq, at_ms, speaker, text, final, transcript_id
		FROM   transcripts
		WHERE  event_id = $1 AND seq > $2
		ORDER  BY seq ASC
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, eventID, int64(sinceSeqExclusive), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get transcript range: %w", err)
	}

	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventmodel.TranscriptChunk, error) {
		var c eventmodel.TranscriptChunk
		var seq int64
		if err := row.Scan(&seq, &c.AtMs, &c.Speaker, &c.Text, &c.Final, &c.TranscriptID); err != nil {
			return eventmodel.TranscriptChunk{}, err
		}
		c.Seq = uint64(seq)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: get transcript range: scan: %w", err)
	}
	if chunks == nil {
		chunks = []eventmodel.TranscriptChunk{}
	}
	return chunks, nil
}

// Subscribe implements store.TranscriptStore as an in-process fan-out over
// every Insert call. A production deployment would instead subscribe to a
// LISTEN/NOTIFY channel or logical replication slot; the in-process variant
// keeps this package self-contained while honouring the same contract.
func (s *Store) Subscribe(ctx context.Context, handler func(eventID string, chunk eventmodel.TranscriptChunk)) (func(), error) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = handler
	s.subsMu.Unlock()

	unsubscribe := func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
	return unsubscribe, nil
}

func (s *Store) notifySubscribers(eventID string, chunk eventmodel.TranscriptChunk) {
	s.subsMu.Lock()
	handlers := make([]func(string, eventmodel.TranscriptChunk), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subsMu.Unlock()

	for _, h := range handlers {
		h(eventID, chunk)
	}
}

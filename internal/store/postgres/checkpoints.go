package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, eventID string, agentType eventmodel.AgentType) (eventmodel.Checkpoint, bool, error) {
	const q = `
		SELECT last_processed_seq
		FROM   checkpoints
		WHERE  event_id = $1 AND agent_type = $2`

	var seq int64
	err := s.pool.QueryRow(ctx, q, eventID, string(agentType)).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventmodel.Checkpoint{}, false, nil
	}
	if err != nil {
		return eventmodel.Checkpoint{}, false, fmt.Errorf("postgres: load checkpoint: %w", err)
	}

	return eventmodel.Checkpoint{
		EventID:          eventID,
		AgentType:        agentType,
		LastProcessedSeq: uint64(seq),
	}, true, nil
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp eventmodel.Checkpoint) error {
	const q = `
		INSERT INTO checkpoints (event_id, agent_type, last_processed_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (event_id, agent_type) DO UPDATE
		SET last_processed_seq = EXCLUDED.last_processed_seq, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, cp.EventID, string(cp.AgentType), int64(cp.LastProcessedSeq)); err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

// LoadAll implements checkpoint.Store, used by RuntimeManager.resumeExistingEvents
// to rebuild every agent's resume point for an event in one round trip.
func (s *Store) LoadAll(ctx context.Context, eventID string) (map[eventmodel.AgentType]eventmodel.Checkpoint, error) {
	const q = `
		SELECT agent_type, last_processed_seq
		FROM   checkpoints
		WHERE  event_id = $1`

	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load all checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[eventmodel.AgentType]eventmodel.Checkpoint)
	for rows.Next() {
		var agentType string
		var seq int64
		if err := rows.Scan(&agentType, &seq); err != nil {
			return nil, fmt.Errorf("postgres: load all checkpoints: scan: %w", err)
		}
		at := eventmodel.AgentType(agentType)
		out[at] = eventmodel.Checkpoint{EventID: eventID, AgentType: at, LastProcessedSeq: uint64(seq)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load all checkpoints: %w", err)
	}
	return out, nil
}

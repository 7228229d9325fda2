package postgres

import (
	"context"
	"fmt"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Append implements store.OutputLog, the append-only record of normalised
// card/facts responses (spec §4.7's "one agent output append-log entry").
func (s *Store) Append(ctx context.Context, eventID string, agentType eventmodel.AgentType, payload []byte) error {
	const q = `INSERT INTO agent_outputs (event_id, agent_type, payload) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, eventID, string(agentType), payload); err != nil {
		return fmt.Errorf("postgres: append agent output: %w", err)
	}
	return nil
}

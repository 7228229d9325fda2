package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/store"
)

// DeleteForAgent implements store.AgentSessionStore.
func (s *Store) DeleteForAgent(ctx context.Context, eventID, agentID string) error {
	const q = `DELETE FROM agent_sessions WHERE event_id = $1 AND agent_id = $2`
	if _, err := s.pool.Exec(ctx, q, eventID, agentID); err != nil {
		return fmt.Errorf("postgres: delete agent sessions: %w", err)
	}
	return nil
}

// InsertClosed implements store.AgentSessionStore.
func (s *Store) InsertClosed(ctx context.Context, sess store.AgentSession) error {
	const q = `
		INSERT INTO agent_sessions (event_id, agent_id, agent_type, status, model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, agent_type) DO UPDATE
		SET agent_id = EXCLUDED.agent_id, status = EXCLUDED.status, model = EXCLUDED.model, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, sess.EventID, sess.AgentID, string(sess.AgentType), string(store.AgentSessionClosed), sess.Model); err != nil {
		return fmt.Errorf("postgres: insert closed session: %w", err)
	}
	return nil
}

// UpdateStatus implements store.AgentSessionStore.
func (s *Store) UpdateStatus(ctx context.Context, eventID string, agentType eventmodel.AgentType, status store.AgentSessionStatus, providerSessionID string) error {
	const q = `
		UPDATE agent_sessions
		SET    status = $3,
		       provider_session_id = CASE WHEN $4 <> '' THEN $4 ELSE provider_session_id END,
		       connection_count = CASE WHEN $3 = 'active' THEN connection_count + 1 ELSE connection_count END,
		       updated_at = now()
		WHERE  event_id = $1 AND agent_type = $2`

	if _, err := s.pool.Exec(ctx, q, eventID, string(agentType), string(status), providerSessionID); err != nil {
		return fmt.Errorf("postgres: update session status: %w", err)
	}
	return nil
}

// Get implements store.AgentSessionStore.
func (s *Store) Get(ctx context.Context, eventID string) (map[eventmodel.AgentType]store.AgentSession, error) {
	const q = `
		SELECT event_id, agent_id, agent_type, status, provider_session_id, model,
		       connection_count, created_at, updated_at
		FROM   agent_sessions
		WHERE  event_id = $1`

	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get agent sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.AgentSession, error) {
		var sess store.AgentSession
		var agentType, status string
		if err := row.Scan(&sess.EventID, &sess.AgentID, &agentType, &status, &sess.ProviderSessionID,
			&sess.Model, &sess.ConnectionCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return store.AgentSession{}, err
		}
		sess.AgentType = eventmodel.AgentType(agentType)
		sess.Status = store.AgentSessionStatus(status)
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: get agent sessions: scan: %w", err)
	}

	out := make(map[eventmodel.AgentType]store.AgentSession, len(sessions))
	for _, sess := range sessions {
		out[sess.AgentType] = sess
	}
	return out, nil
}

// LogHistory implements store.AgentSessionStore.
func (s *Store) LogHistory(ctx context.Context, entry store.SessionHistoryEntry) error {
	const q = `
		INSERT INTO agent_session_history (event_id, agent_type, event_type, session_id)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, entry.EventID, string(entry.AgentType), string(entry.EventType), entry.SessionID); err != nil {
		return fmt.Errorf("postgres: log session history: %w", err)
	}
	return nil
}

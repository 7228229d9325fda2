package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// GetAgentForEvent implements store.EventStore.
func (s *Store) GetAgentForEvent(ctx context.Context, eventID string) (eventmodel.Agent, error) {
	const q = `
		SELECT id, event_id, status, stage, model_set, last_error, created_at, updated_at
		FROM   agents
		WHERE  event_id = $1
		ORDER  BY created_at DESC
		LIMIT  1`

	row := s.pool.QueryRow(ctx, q, eventID)

	var a eventmodel.Agent
	var status, stage string
	if err := row.Scan(&a.ID, &a.EventID, &status, &stage, &a.ModelSet, &a.LastError, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return eventmodel.Agent{}, fmt.Errorf("postgres: get agent for event: %w", err)
	}
	a.Status = eventmodel.AgentStatus(status)
	a.Stage = eventmodel.AgentStage(stage)
	return a, nil
}

// UpdateAgentStatus implements store.EventStore.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status eventmodel.AgentStatus, stage eventmodel.AgentStage, lastError string) error {
	const q = `
		UPDATE agents
		SET    status = $2, stage = $3, last_error = $4, updated_at = now()
		WHERE  id = $1`

	if _, err := s.pool.Exec(ctx, q, agentID, string(status), string(stage), lastError); err != nil {
		return fmt.Errorf("postgres: update agent status: %w", err)
	}
	return nil
}

// ListRunningAgents implements store.EventStore, used by RuntimeManager's
// resumeExistingEvents on process start.
func (s *Store) ListRunningAgents(ctx context.Context, limit int) ([]eventmodel.Agent, error) {
	const q = `
		SELECT id, event_id, status, stage, model_set, last_error, created_at, updated_at
		FROM   agents
		WHERE  status = 'active' AND stage IN ('running', 'testing')
		ORDER  BY updated_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list running agents: %w", err)
	}

	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventmodel.Agent, error) {
		var a eventmodel.Agent
		var status, stage string
		if err := row.Scan(&a.ID, &a.EventID, &status, &stage, &a.ModelSet, &a.LastError, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return eventmodel.Agent{}, err
		}
		a.Status = eventmodel.AgentStatus(status)
		a.Stage = eventmodel.AgentStage(stage)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list running agents: scan: %w", err)
	}
	if agents == nil {
		agents = []eventmodel.Agent{}
	}
	return agents, nil
}

// ListAgentsByStage implements store.EventStore.
func (s *Store) ListAgentsByStage(ctx context.Context, stage eventmodel.AgentStage, limit int) ([]eventmodel.Agent, error) {
	const q = `
		SELECT id, event_id, status, stage, model_set, last_error, created_at, updated_at
		FROM   agents
		WHERE  stage = $1
		ORDER  BY updated_at ASC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, string(stage), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents by stage: %w", err)
	}
	return scanAgents(rows)
}

// ListAgentsByStatus implements store.EventStore.
func (s *Store) ListAgentsByStatus(ctx context.Context, status eventmodel.AgentStatus, limit int) ([]eventmodel.Agent, error) {
	const q = `
		SELECT id, event_id, status, stage, model_set, last_error, created_at, updated_at
		FROM   agents
		WHERE  status = $1
		ORDER  BY updated_at ASC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents by status: %w", err)
	}
	return scanAgents(rows)
}

func scanAgents(rows pgx.Rows) ([]eventmodel.Agent, error) {
	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventmodel.Agent, error) {
		var a eventmodel.Agent
		var status, stage string
		if err := row.Scan(&a.ID, &a.EventID, &status, &stage, &a.ModelSet, &a.LastError, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return eventmodel.Agent{}, err
		}
		a.Status = eventmodel.AgentStatus(status)
		a.Stage = eventmodel.AgentStage(stage)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan agents: %w", err)
	}
	if agents == nil {
		agents = []eventmodel.Agent{}
	}
	return agents, nil
}

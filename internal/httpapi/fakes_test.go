package httpapi

import (
	"context"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
)

type fakeEventStore struct{}

func (s *fakeEventStore) GetAgentForEvent(ctx context.Context, eventID string) (eventmodel.Agent, error) {
	return eventmodel.Agent{}, apperr.ErrNotFound
}
func (s *fakeEventStore) UpdateAgentStatus(ctx context.Context, agentID string, status eventmodel.AgentStatus, stage eventmodel.AgentStage, lastError string) error {
	return nil
}
func (s *fakeEventStore) ListRunningAgents(ctx context.Context, limit int) ([]eventmodel.Agent, error) {
	return nil, nil
}
func (s *fakeEventStore) ListAgentsByStage(ctx context.Context, stage eventmodel.AgentStage, limit int) ([]eventmodel.Agent, error) {
	return nil, nil
}
func (s *fakeEventStore) ListAgentsByStatus(ctx context.Context, status eventmodel.AgentStatus, limit int) ([]eventmodel.Agent, error) {
	return nil, nil
}

type fakeTranscriptStore struct{}

func (s *fakeTranscriptStore) Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error {
	return nil
}
func (s *fakeTranscriptStore) GetRange(ctx context.Context, eventID string, sinceSeqExclusive uint64, limit int) ([]eventmodel.TranscriptChunk, error) {
	return nil, nil
}
func (s *fakeTranscriptStore) Subscribe(ctx context.Context, handler func(eventID string, chunk eventmodel.TranscriptChunk)) (func(), error) {
	return func() {}, nil
}

type fakeFactStore struct{}

func (s *fakeFactStore) Upsert(ctx context.Context, eventID string, fact eventmodel.Fact) error {
	return nil
}
func (s *fakeFactStore) MarkInactiveBulk(ctx context.Context, eventID string, keys []string) error {
	return nil
}
func (s *fakeFactStore) LoadActive(ctx context.Context, eventID string) ([]eventmodel.Fact, error) {
	return nil, nil
}

type fakeGlossaryStore struct{}

func (s *fakeGlossaryStore) LoadForEvent(ctx context.Context, eventID string) ([]eventmodel.GlossaryEntry, error) {
	return nil, nil
}

type fakeCheckpointStore struct{}

func (s *fakeCheckpointStore) Load(ctx context.Context, eventID string, agentType eventmodel.AgentType) (eventmodel.Checkpoint, bool, error) {
	return eventmodel.Checkpoint{}, false, nil
}
func (s *fakeCheckpointStore) Save(ctx context.Context, cp eventmodel.Checkpoint) error {
	return nil
}
func (s *fakeCheckpointStore) LoadAll(ctx context.Context, eventID string) (map[eventmodel.AgentType]eventmodel.Checkpoint, error) {
	return nil, nil
}

// fakeConn is a no-op modelsession.Conn used to avoid dialing a real
// websocket when exercising the control plane's status endpoint.
type fakeConn struct{}

func (c *fakeConn) WriteJSON(ctx context.Context, v any) error { return nil }
func (c *fakeConn) ReadJSON(ctx context.Context, v any) error  { <-ctx.Done(); return ctx.Err() }
func (c *fakeConn) Ping(ctx context.Context) error             { return nil }
func (c *fakeConn) Close() error                               { return nil }

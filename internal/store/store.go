// Package store defines the durable store contract (spec.md §6): the
// abstract tables/entities the orchestrator depends on (events, agents,
// agent_sessions, agent_session_history, transcripts, context_items,
// glossary_terms, facts, cards, agent_outputs) expressed as Go interfaces.
// The only concrete implementation lives in internal/store/postgres,
// grounded on the teacher's pkg/memory/postgres package.
package store

import (
	"context"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// AgentSessionStatus mirrors the durable agent_sessions.status column.
type AgentSessionStatus string

const (
	AgentSessionClosed       AgentSessionStatus = "closed"
	AgentSessionActive       AgentSessionStatus = "active"
	AgentSessionPaused       AgentSessionStatus = "paused"
	AgentSessionError        AgentSessionStatus = "error"
	AgentSessionDisconnected AgentSessionStatus = "disconnected"
)

// AgentSession is one durable (event, agent type) session row.
type AgentSession struct {
	EventID           string
	AgentID           string
	AgentType         eventmodel.AgentType
	Status            AgentSessionStatus
	ProviderSessionID string
	Model             string
	ConnectionCount   int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SessionHistoryEventType mirrors agent_session_history.event_type.
type SessionHistoryEventType string

const (
	HistoryConnected    SessionHistoryEventType = "connected"
	HistoryResumed      SessionHistoryEventType = "resumed"
	HistoryPaused       SessionHistoryEventType = "paused"
	HistoryError        SessionHistoryEventType = "error"
	HistoryClosed       SessionHistoryEventType = "closed"
	HistoryDisconnected SessionHistoryEventType = "disconnected"
)

// SessionHistoryEntry is one row in the session history append log.
type SessionHistoryEntry struct {
	EventID   string
	AgentType eventmodel.AgentType
	EventType SessionHistoryEventType
	SessionID string
	At        time.Time
}

// EventStore resolves the Agent associated with an event and updates its
// status/stage.
type EventStore interface {
	GetAgentForEvent(ctx context.Context, eventID string) (eventmodel.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status eventmodel.AgentStatus, stage eventmodel.AgentStage, lastError string) error
	ListRunningAgents(ctx context.Context, limit int) ([]eventmodel.Agent, error)

	// ListAgentsByStage returns agents currently parked at stage, bounded to
	// limit, used by the pollers (spec §4.12) that watch for agents moved
	// into a given pipeline stage by the upstream context-generation system.
	ListAgentsByStage(ctx context.Context, stage eventmodel.AgentStage, limit int) ([]eventmodel.Agent, error)

	// ListAgentsByStatus returns agents currently at status, bounded to
	// limit, used by PauseResumePoller to reconcile durable pause/resume
	// intents recorded outside the HTTP control plane.
	ListAgentsByStatus(ctx context.Context, status eventmodel.AgentStatus, limit int) ([]eventmodel.Agent, error)
}

// AgentSessionStore persists the three durable per-event session rows.
type AgentSessionStore interface {
	DeleteForAgent(ctx context.Context, eventID, agentID string) error
	InsertClosed(ctx context.Context, sess AgentSession) error
	UpdateStatus(ctx context.Context, eventID string, agentType eventmodel.AgentType, status AgentSessionStatus, providerSessionID string) error
	Get(ctx context.Context, eventID string) (map[eventmodel.AgentType]AgentSession, error)
	LogHistory(ctx context.Context, entry SessionHistoryEntry) error
}

// TranscriptStore is the append-only transcript log, unique per
// (event_id, seq), and the change-feed subscription used on process start.
type TranscriptStore interface {
	Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error
	GetRange(ctx context.Context, eventID string, sinceSeqExclusive uint64, limit int) ([]eventmodel.TranscriptChunk, error)

	// Subscribe registers handler to be called for every newly inserted
	// transcript chunk across all events. Returns an unsubscribe function.
	Subscribe(ctx context.Context, handler func(eventID string, chunk eventmodel.TranscriptChunk)) (unsubscribe func(), err error)
}

// FactStore is the durable mirror of internal/factsstore, unique per
// (event_id, fact_key).
type FactStore interface {
	Upsert(ctx context.Context, eventID string, fact eventmodel.Fact) error
	MarkInactiveBulk(ctx context.Context, eventID string, keys []string) error
	LoadActive(ctx context.Context, eventID string) ([]eventmodel.Fact, error)
}

// CardStore persists emitted cards.
type CardStore interface {
	Insert(ctx context.Context, eventID string, card eventmodel.Card) error
}

// GlossaryStore loads the preloaded glossary for an event, unique per
// (event_id, lower(term)).
type GlossaryStore interface {
	LoadForEvent(ctx context.Context, eventID string) ([]eventmodel.GlossaryEntry, error)
}

// OutputLog is the append-only agent_outputs log used to persist
// normalised card/facts responses once per turn.
type OutputLog interface {
	Append(ctx context.Context, eventID string, agentType eventmodel.AgentType, payload []byte) error
}

// ContextItemIndex is the vector similarity search target backing the
// retrieve tool (toolsurface.ContextIndex is satisfied via an adapter over
// this interface).
type ContextItemIndex interface {
	Search(ctx context.Context, eventID string, embedding []float32, topK int) ([]ContextItemResult, error)
}

// ContextItemResult is one vector-similarity match.
type ContextItemResult struct {
	ID         string
	Chunk      string
	Similarity float64
}

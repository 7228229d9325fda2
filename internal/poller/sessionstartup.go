package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// SessionStartupCaller is the narrow slice of Orchestrator that
// SessionStartupPoller drives. Implemented by *orchestrator.Orchestrator.
type SessionStartupCaller interface {
	CreateAgentSessionsForEvent(ctx context.Context, eventID string) error
	StartEvent(ctx context.Context, eventID, agentID string) error
}

const defaultSessionStartupListLimit = 100

// SessionStartupPoller watches for agents moved to stage context_complete
// by the upstream pipeline and drives them through
// CreateAgentSessionsForEvent followed by StartEvent, per spec §4.12.
type SessionStartupPoller struct {
	lister StageLister
	orch   SessionStartupCaller
	guard  *processingAgents
}

// NewSessionStartupPoller constructs a SessionStartupPoller.
func NewSessionStartupPoller(lister StageLister, orch SessionStartupCaller, guard *processingAgents) *SessionStartupPoller {
	return &SessionStartupPoller{lister: lister, orch: orch, guard: guard}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (p *SessionStartupPoller) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, "session_startup", interval, p.tick, nil)
}

func (p *SessionStartupPoller) tick(ctx context.Context) {
	agents, err := p.lister.ListAgentsByStage(ctx, eventmodel.StageContextComplete, defaultSessionStartupListLimit)
	if err != nil {
		slog.Error("poller: list agents by stage failed", "poller", "session_startup", "error", err)
		return
	}

	for _, agent := range agents {
		if !p.guard.tryAcquire(agent.ID) {
			continue
		}
		p.start(ctx, agent)
		p.guard.release(agent.ID)
	}
}

func (p *SessionStartupPoller) start(ctx context.Context, agent eventmodel.Agent) {
	if err := p.orch.CreateAgentSessionsForEvent(ctx, agent.EventID); err != nil {
		slog.Error("poller: create agent sessions failed", "event_id", agent.EventID, "error", err)
		return
	}
	if err := p.orch.StartEvent(ctx, agent.EventID, agent.ID); err != nil {
		slog.Error("poller: start event failed", "event_id", agent.EventID, "error", err)
	}
}

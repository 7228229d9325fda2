package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/runtime"
)

// StatusLister lists agents currently at a given durable status.
// Implemented by store.EventStore.
type StatusLister interface {
	ListAgentsByStatus(ctx context.Context, status eventmodel.AgentStatus, limit int) ([]eventmodel.Agent, error)
}

// PauseResumeCaller is the narrow slice of Orchestrator that
// PauseResumePoller drives. Implemented by *orchestrator.Orchestrator.
type PauseResumeCaller interface {
	PauseEvent(ctx context.Context, eventID string) error
	ResumeEvent(ctx context.Context, eventID, agentID string) error
}

const defaultPauseResumeListLimit = 100

// PauseResumePoller watches for durable pause/resume intents that have not
// yet been reflected in the live runtime (e.g. a paused agent whose runtime
// is still running, or vice versa) and reconciles them by calling
// PauseEvent/ResumeEvent, per spec §4.12.
type PauseResumePoller struct {
	lister    StatusLister
	runtimes  *runtime.Manager
	orch      PauseResumeCaller
	guard     *processingAgents
}

// NewPauseResumePoller constructs a PauseResumePoller.
func NewPauseResumePoller(lister StatusLister, runtimes *runtime.Manager, orch PauseResumeCaller, guard *processingAgents) *PauseResumePoller {
	return &PauseResumePoller{lister: lister, runtimes: runtimes, orch: orch, guard: guard}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (p *PauseResumePoller) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, "pause_resume", interval, p.tick, nil)
}

func (p *PauseResumePoller) tick(ctx context.Context) {
	p.reconcile(ctx, eventmodel.AgentStatusPaused, func(eventID, agentID string) error {
		return p.orch.PauseEvent(ctx, eventID)
	}, eventmodel.RuntimeRunning)

	p.reconcile(ctx, eventmodel.AgentStatusActive, func(eventID, agentID string) error {
		return p.orch.ResumeEvent(ctx, eventID, agentID)
	}, eventmodel.RuntimePaused)
}

// reconcile lists agents at status and, for every one whose live runtime is
// still in staleRuntimeStatus (i.e. has not caught up to the durable
// intent), invokes action.
func (p *PauseResumePoller) reconcile(ctx context.Context, status eventmodel.AgentStatus, action func(eventID, agentID string) error, staleRuntimeStatus eventmodel.RuntimeStatus) {
	agents, err := p.lister.ListAgentsByStatus(ctx, status, defaultPauseResumeListLimit)
	if err != nil {
		slog.Error("poller: list agents by status failed", "poller", "pause_resume", "status", status, "error", err)
		return
	}

	for _, agent := range agents {
		r, ok := p.runtimes.Get(agent.EventID)
		if !ok || r.Status() != staleRuntimeStatus {
			continue
		}
		if !p.guard.tryAcquire(agent.ID) {
			continue
		}

		if err := action(agent.EventID, agent.ID); err != nil {
			slog.Error("poller: reconcile action failed", "poller", "pause_resume", "event_id", agent.EventID, "status", status, "error", err)
		}
		p.guard.release(agent.ID)
	}
}

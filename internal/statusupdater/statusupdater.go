// Package statusupdater implements StatusUpdater (spec §4's component
// table): it publishes a status_update push-bus message for one runtime
// whenever SessionLifecycle reconciles a status transition ("always call
// statusUpdater.updateAndPushStatus(runtime) after updating", spec §4.10),
// and separately sweeps every live runtime on its own interval so a
// subscriber that misses an event-driven update still converges. Grounded
// on internal/pushbus's nil-safe, non-blocking Bus and the teacher's
// internal/session.Consolidator ticker-loop shape for the periodic sweep.
package statusupdater

import (
	"context"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/runtime"
	"github.com/weillium/eventrt/internal/store"
)

const defaultStoreTimeout = 5 * time.Second

// RuntimeLister is the narrow read StatusUpdater needs from
// runtime.Manager to drive its periodic sweep.
type RuntimeLister interface {
	All() []*runtime.EventRuntime
}

// StatusUpdater publishes status_update messages to the push bus.
type StatusUpdater struct {
	bus      pushbus.Bus
	sessions store.AgentSessionStore
	runtimes RuntimeLister
	interval time.Duration
}

// New constructs a StatusUpdater. interval governs the periodic sweep;
// event-driven pushes via UpdateAndPushStatus are unaffected by it.
func New(bus pushbus.Bus, sessions store.AgentSessionStore, runtimes RuntimeLister, interval time.Duration) *StatusUpdater {
	return &StatusUpdater{bus: bus, sessions: sessions, runtimes: runtimes, interval: interval}
}

// UpdateAndPushStatus builds a status_update envelope for r from its
// current durable session rows and publishes it.
func (u *StatusUpdater) UpdateAndPushStatus(ctx context.Context, r *runtime.EventRuntime) error {
	sessions, err := u.sessions.Get(ctx, r.EventID())
	if err != nil {
		return err
	}

	enabled := r.EnabledAgents()
	agents := make([]pushbus.StatusSnapshot, 0, len(enabled))
	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		if !enabled[agentType] {
			continue
		}
		sess, ok := sessions[agentType]
		snap := pushbus.StatusSnapshot{AgentType: agentType}
		if ok {
			snap.Status = durableStatusToAgentStatus(sess.Status)
			snap.SessionID = sess.ProviderSessionID
		}
		agents = append(agents, snap)
	}

	u.bus.Publish(pushbus.Message{
		Type:      pushbus.MessageStatusUpdate,
		EventID:   r.EventID(),
		Timestamp: time.Now(),
		Data: map[string]any{
			"runtime_status": r.Status().String(),
			"agents":         agents,
		},
	})
	return nil
}

// Run sweeps every live runtime on the configured interval, publishing its
// current status, until ctx is cancelled.
func (u *StatusUpdater) Run(ctx context.Context) {
	if u.interval <= 0 {
		return
	}
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.sweep(ctx)
		}
	}
}

func (u *StatusUpdater) sweep(ctx context.Context) {
	for _, r := range u.runtimes.All() {
		sweepCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
		err := u.UpdateAndPushStatus(sweepCtx, r)
		cancel()
		if err != nil {
			slog.Error("statusupdater: periodic sweep failed", "event_id", r.EventID(), "error", err)
		}
	}
}

func durableStatusToAgentStatus(s store.AgentSessionStatus) eventmodel.AgentStatus {
	switch s {
	case store.AgentSessionActive:
		return eventmodel.AgentStatusActive
	case store.AgentSessionPaused:
		return eventmodel.AgentStatusPaused
	case store.AgentSessionError:
		return eventmodel.AgentStatusError
	default:
		return eventmodel.AgentStatusIdle
	}
}

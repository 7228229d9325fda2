// Package orchestrator implements Orchestrator (spec §4.11): the public
// facade tying RuntimeManager, SessionLifecycle, EventProcessor, and the
// durable store together. Grounded on the teacher's internal/app package,
// which plays the identical facade role over providers/NPCs/sessions.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/checkpoint"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/lifecycle"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/processor"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/runtime"
	"github.com/weillium/eventrt/internal/store"
)

const (
	storeIOTimeout      = 5 * time.Second
	testingSessionWindow = 60 * time.Second
)

// Orchestrator is the public facade of spec §4.11.
type Orchestrator struct {
	manager   *runtime.Manager
	lifecycle *lifecycle.SessionLifecycle

	events      store.EventStore
	sessions    store.AgentSessionStore
	transcripts store.TranscriptStore
	cards       store.CardStore
	facts       store.FactStore
	outputs     store.OutputLog
	checkpoints checkpoint.Store

	bus pushbus.Bus

	unsubscribe func()

	sessionsCreatedAt sync.Map // eventID -> time.Time, for startSessionsForTesting's 60s window
}

// New constructs an Orchestrator over its collaborators.
func New(manager *runtime.Manager, lc *lifecycle.SessionLifecycle, events store.EventStore, sessions store.AgentSessionStore, transcripts store.TranscriptStore, cards store.CardStore, facts store.FactStore, outputs store.OutputLog, checkpoints checkpoint.Store, bus pushbus.Bus) *Orchestrator {
	return &Orchestrator{
		manager: manager, lifecycle: lc,
		events: events, sessions: sessions, transcripts: transcripts,
		cards: cards, facts: facts, outputs: outputs, checkpoints: checkpoints,
		bus: bus,
	}
}

// Initialize subscribes to the transcript-insert change feed and resumes
// every event whose durable agent is still running, per spec §4.11.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	unsub, err := o.transcripts.Subscribe(ctx, o.onDurableTranscriptInsert)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe to transcripts: %w", err)
	}
	o.unsubscribe = unsub

	runtimes, err := o.manager.ResumeExistingEvents(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: resume existing events: %w", err)
	}
	for _, r := range runtimes {
		if err := o.StartEvent(ctx, r.EventID(), r.AgentID()); err != nil {
			slog.Error("orchestrator: startEvent during initialize failed", "event_id", r.EventID(), "error", err)
		}
	}
	return nil
}

// onDurableTranscriptInsert is the change-feed handler: it only needs to
// observe inserts that did not originate from appendTranscriptAudio (e.g.
// a restored durable writer), so it enqueues directly onto the runtime's
// mailbox if one is live.
func (o *Orchestrator) onDurableTranscriptInsert(eventID string, chunk eventmodel.TranscriptChunk) {
	r, ok := o.manager.Get(eventID)
	if !ok {
		return
	}
	if err := r.EnqueueTranscript(chunk); err != nil {
		slog.Warn("orchestrator: transcript enqueue dropped", "event_id", eventID, "seq", chunk.Seq, "error", err)
	}
}

// AppendTranscriptAudio requires a live runtime and an existing transcript
// driver (ErrNotFound otherwise) and forwards the audio chunk to the
// provider. It does not create a missing transcript session and records no
// pending-chunk metadata.
func (o *Orchestrator) AppendTranscriptAudio(eventID string, chunk modelsession.AudioChunk) error {
	r, ok := o.manager.Get(eventID)
	if !ok {
		return apperr.ErrNotFound
	}
	d := r.Driver(eventmodel.AgentTranscript)
	if d == nil {
		return fmt.Errorf("orchestrator: no transcript session for event %s: %w", eventID, apperr.ErrNotFound)
	}
	return d.AppendAudioChunk(chunk)
}

// CreateAgentSessionsForEvent implements spec §4.11: the agent must be in
// stage context_complete; replaces any existing session rows with three
// fresh status=closed rows, then transitions the agent to active/testing.
func (o *Orchestrator) CreateAgentSessionsForEvent(ctx context.Context, eventID string) error {
	agent, err := o.events.GetAgentForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("orchestrator: get agent for event: %w", err)
	}
	if agent.Stage != eventmodel.StageContextComplete {
		return fmt.Errorf("orchestrator: agent %s not in context_complete stage: %w", agent.ID, apperr.ErrValidation)
	}

	if err := o.sessions.DeleteForAgent(ctx, eventID, agent.ID); err != nil {
		return fmt.Errorf("orchestrator: delete existing sessions: %w", err)
	}

	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		sess := store.AgentSession{
			EventID: eventID, AgentID: agent.ID, AgentType: agentType,
			Status: store.AgentSessionClosed, Model: agent.ModelSet,
		}
		if err := o.sessions.InsertClosed(ctx, sess); err != nil {
			return fmt.Errorf("orchestrator: insert session row for %s: %w", agentType, err)
		}
	}

	if err := o.events.UpdateAgentStatus(ctx, agent.ID, eventmodel.AgentStatusActive, eventmodel.StageTesting, ""); err != nil {
		return fmt.Errorf("orchestrator: update agent status: %w", err)
	}

	o.sessionsCreatedAt.Store(eventID, time.Now())
	return nil
}

// StartEvent implements spec §4.11's idempotent state-machine over current
// runtime/session state.
func (o *Orchestrator) StartEvent(ctx context.Context, eventID, agentID string) error {
	r, exists := o.manager.Get(eventID)
	if !exists {
		var err error
		r, err = o.createRuntimeFor(ctx, eventID, agentID)
		if err != nil {
			return err
		}
	}

	sessions, err := o.sessions.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("orchestrator: get session rows: %w", err)
	}

	if r.Status() == eventmodel.RuntimeRunning && allConnected(r, sessions) {
		return nil
	}

	anyPaused := false
	for _, s := range sessions {
		if s.Status == store.AgentSessionPaused {
			anyPaused = true
		}
	}

	agent, err := o.events.GetAgentForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("orchestrator: get agent for event: %w", err)
	}

	switch {
	case anyPaused:
		if r.Driver(eventmodel.AgentTranscript) == nil && r.Driver(eventmodel.AgentCards) == nil && r.Driver(eventmodel.AgentFacts) == nil {
			if err := o.buildSessions(ctx, r, eventID, agent); err != nil {
				return err
			}
		}
		if err := o.lifecycleResume(ctx, r); err != nil {
			return err
		}
		if err := o.events.UpdateAgentStatus(ctx, agentID, eventmodel.AgentStatusActive, eventmodel.StageRunning, ""); err != nil {
			slog.Error("orchestrator: update agent status on resume failed", "event_id", eventID, "error", err)
		}
		if err := r.Do(func() { r.SetStatus(eventmodel.RuntimeRunning) }); err != nil {
			return fmt.Errorf("orchestrator: set runtime status: %w", err)
		}

	case len(sessions) > 0 && allConnected(r, sessions):
		if err := r.Do(func() { r.SetStatus(eventmodel.RuntimeRunning) }); err != nil {
			return fmt.Errorf("orchestrator: set runtime status: %w", err)
		}
		if agent.Stage != eventmodel.StageTesting {
			if err := o.events.UpdateAgentStatus(ctx, agentID, eventmodel.AgentStatusActive, eventmodel.StageRunning, ""); err != nil {
				slog.Error("orchestrator: update agent status failed", "event_id", eventID, "error", err)
			}
		}

	default:
		if err := o.buildSessions(ctx, r, eventID, agent); err != nil {
			return err
		}
		if _, err := o.lifecycle.connectSessions(ctx, r, eventID); err != nil {
			return fmt.Errorf("orchestrator: connect sessions: %w", err)
		}
		if err := r.Do(func() { r.SetStatus(eventmodel.RuntimeRunning) }); err != nil {
			return fmt.Errorf("orchestrator: set runtime status: %w", err)
		}
		stage := eventmodel.StageRunning
		if agent.Stage == eventmodel.StageTesting {
			stage = eventmodel.StageTesting
		}
		if err := o.events.UpdateAgentStatus(ctx, agentID, eventmodel.AgentStatusActive, stage, ""); err != nil {
			slog.Error("orchestrator: update agent status failed", "event_id", eventID, "error", err)
		}
	}

	return nil
}

// StartSessionsForTesting behaves like startEvent, but only proceeds when
// durable session rows exist and were created within the last 60s,
// preserving the agent's testing stage, per spec §4.11.
func (o *Orchestrator) StartSessionsForTesting(ctx context.Context, eventID, agentID string) error {
	createdAt, ok := o.sessionsCreatedAt.Load(eventID)
	if !ok {
		return fmt.Errorf("orchestrator: no recent session creation for event %s: %w", eventID, apperr.ErrValidation)
	}
	if time.Since(createdAt.(time.Time)) > testingSessionWindow {
		return fmt.Errorf("orchestrator: session creation window expired for event %s: %w", eventID, apperr.ErrValidation)
	}

	sessions, err := o.sessions.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("orchestrator: get session rows: %w", err)
	}
	if len(sessions) == 0 {
		return fmt.Errorf("orchestrator: no session rows for event %s: %w", eventID, apperr.ErrNotFound)
	}

	return o.StartEvent(ctx, eventID, agentID)
}

// PauseEvent saves a checkpoint per agent type, pauses every session for an
// event's runtime and marks the runtime paused. It records no close metrics.
func (o *Orchestrator) PauseEvent(ctx context.Context, eventID string) error {
	r, ok := o.manager.Get(eventID)
	if !ok {
		return apperr.ErrNotFound
	}
	o.saveCheckpoints(ctx, r)
	if err := o.lifecycle.pauseSessions(r); err != nil {
		return fmt.Errorf("orchestrator: pause sessions: %w", err)
	}
	if err := r.Do(func() { r.SetStatus(eventmodel.RuntimePaused) }); err != nil {
		return fmt.Errorf("orchestrator: set runtime status: %w", err)
	}
	return nil
}

// ResumeEvent delegates to StartEvent, per spec §4.11.
func (o *Orchestrator) ResumeEvent(ctx context.Context, eventID, agentID string) error {
	return o.StartEvent(ctx, eventID, agentID)
}

// Shutdown implements spec §4.11's graceful-shutdown sequence: checkpoint
// every runtime, close its sessions, then unsubscribe from transcripts.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, r := range o.manager.All() {
		o.saveCheckpoints(ctx, r)
		if err := o.lifecycle.closeSessions(r); err != nil {
			slog.Error("orchestrator: close sessions failed", "event_id", r.EventID(), "error", err)
		}
		if err := r.Do(func() { r.SetStatus(eventmodel.RuntimeEnded) }); err != nil {
			slog.Error("orchestrator: set runtime status failed", "event_id", r.EventID(), "error", err)
		}
		o.manager.RemoveRuntime(r.EventID())
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Orchestrator) saveCheckpoints(ctx context.Context, r *runtime.EventRuntime) {
	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		cp := eventmodel.Checkpoint{EventID: r.EventID(), AgentType: agentType, LastProcessedSeq: r.TranscriptLastSeq()}
		saveCtx, cancel := context.WithTimeout(ctx, storeIOTimeout)
		err := o.checkpoints.Save(saveCtx, cp)
		cancel()
		if err != nil {
			slog.Error("orchestrator: save checkpoint failed", "event_id", r.EventID(), "agent_type", agentType, "error", err)
		}
	}
}

func (o *Orchestrator) lifecycleResume(ctx context.Context, r *runtime.EventRuntime) error {
	return o.lifecycle.resumeSessions(ctx, r)
}

func allConnected(r *runtime.EventRuntime, sessions map[eventmodel.AgentType]store.AgentSession) bool {
	enabled := r.EnabledAgents()
	for agentType, on := range enabled {
		if !on {
			continue
		}
		sess, ok := sessions[agentType]
		if !ok || sess.Status != store.AgentSessionActive {
			return false
		}
	}
	return true
}

// buildSessions wires up a fresh processor + handler set and creates the
// three drivers for r, used by every startEvent branch that lacks live
// sessions.
func (o *Orchestrator) buildSessions(ctx context.Context, r *runtime.EventRuntime, eventID string, agent eventmodel.Agent) error {
	proc := processor.New(r, o.cards, o.facts, o.outputs, processor.WithTranscriptWriter(o.transcripts))
	r.AttachProcessor(proc)

	seqSource := r
	transcriptHandler := agenthandler.NewTranscriptHandler(eventID, seqSource, o.transcripts, proc)
	cardsHandler := agenthandler.NewCardsHandler(proc.HandleCardOutput)
	factsHandler := agenthandler.NewFactsHandler(r.FactsStore(), proc.HandleFactsUpdate)

	handlers := lifecycle.Handlers{
		Transcript: transcriptHandler,
		Cards:      cardsHandler,
		Facts:      factsHandler,
		FactsSourceSeq: func() (uint64, string) {
			return r.TranscriptLastSeq(), eventID
		},
	}

	enabled := map[eventmodel.AgentType]bool{
		eventmodel.AgentTranscript: true,
		eventmodel.AgentCards:      true,
		eventmodel.AgentFacts:      true,
	}

	opts := lifecycle.Options{EnabledAgents: enabled, ModelSetOverride: agent.ModelSet}
	if err := o.lifecycle.createRealtimeSessions(r, eventID, agent.ModelSet, opts, handlers); err != nil {
		return fmt.Errorf("orchestrator: create realtime sessions: %w", err)
	}
	return nil
}

func (o *Orchestrator) createRuntimeFor(ctx context.Context, eventID, agentID string) (*runtime.EventRuntime, error) {
	r, err := o.manager.CreateRuntime(ctx, eventID, agentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create runtime: %w", err)
	}
	if err := o.manager.ReplayTranscripts(ctx, r); err != nil {
		slog.Warn("orchestrator: replay transcripts failed", "event_id", eventID, "error", err)
	}
	r.Start()
	return r, nil
}

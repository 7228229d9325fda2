// Package lifecycle implements SessionLifecycle (spec §4.10): the mapping
// from an EventRuntime and its enabledAgents set to concrete SessionDrivers,
// and the chokepoint that reconciles session status transitions against the
// durable store. Grounded on the teacher's pkg/engine/s2s construction
// pattern (one Driver per upstream connection, built from a Config) and its
// internal/session/reconnect.go status-transition bookkeeping, fanned out
// in parallel via golang.org/x/sync/errgroup per SPEC_FULL.md §5.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/runtime"
	"github.com/weillium/eventrt/internal/store"
	"github.com/weillium/eventrt/internal/toolsurface"
)

const (
	sessionIOTimeout = 5 * time.Second
	toolCallTimeout  = 10 * time.Second
)

// SessionFactory builds a SessionDriver Config for one agent type, keyed by
// a per-model-set model name and API key, per spec §4.10.
type SessionFactory interface {
	BuildConfig(agentType eventmodel.AgentType, eventID, modelSet, apiKeyOverride string) (modelsession.Config, error)
}

// Handlers bundles the three per-agent-type handlers a runtime's drivers are
// wired to. Constructed by the orchestrator, bound to the runtime's own
// RingBuffer/FactsStore/seq allocator.
type Handlers struct {
	Transcript *agenthandler.TranscriptHandler
	Cards      *agenthandler.CardsHandler
	Facts      *agenthandler.FactsHandler

	// FactsSourceSeq supplies the (seq, transcriptID) provenance attributed
	// to the facts agent's next completed turn, since modelsession's
	// TextDoneHandler carries no extra arguments (spec §4.6).
	FactsSourceSeq func() (seq uint64, sourceID string)
}

// Options bundles the per-call overrides spec §4.10's createRealtimeSessions
// accepts.
type Options struct {
	EnabledAgents    map[eventmodel.AgentType]bool
	ModelSetOverride string
	APIKeyOverride   string
}

// SessionLifecycle owns driver construction and the durable session-status
// chokepoint.
type SessionLifecycle struct {
	factory  SessionFactory
	sessions store.AgentSessionStore
	tools    *toolsurface.Surface
	onStatus func(r *runtime.EventRuntime, eventID, agentID string, agentType eventmodel.AgentType, status eventmodel.RuntimeStatus)
}

// New constructs a SessionLifecycle.
func New(factory SessionFactory, sessions store.AgentSessionStore, tools *toolsurface.Surface) *SessionLifecycle {
	return &SessionLifecycle{factory: factory, sessions: sessions, tools: tools}
}

// OnStatusUpdated registers a callback invoked after every durable status
// reconciliation, used to wire internal/statusupdater.
func (l *SessionLifecycle) OnStatusUpdated(fn func(r *runtime.EventRuntime, eventID, agentID string, agentType eventmodel.AgentType, status eventmodel.RuntimeStatus)) {
	l.onStatus = fn
}

// createRealtimeSessions builds (or tears down) the three per-agent-type
// drivers for one runtime, per spec §4.10. For each enabled agent the
// driver's callbacks are wired directly to h at construction time, since
// modelsession.Config's handlers are fixed for the driver's lifetime; the
// caller (orchestrator) is responsible for only invoking this when no
// session currently exists, which is what makes the overall attach step
// idempotent in practice.
func (l *SessionLifecycle) createRealtimeSessions(r *runtime.EventRuntime, eventID, modelSet string, opts Options, h Handlers) error {
	r.SetEnabledAgents(opts.EnabledAgents)

	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		if !opts.EnabledAgents[agentType] {
			r.SetDriver(agentType, nil, "")
			r.ClearHandlerAttached(agentType)
			continue
		}

		cfg, err := l.factory.BuildConfig(agentType, eventID, modelSet, opts.APIKeyOverride)
		if err != nil {
			return fmt.Errorf("lifecycle: build config for %s: %w", agentType, err)
		}
		cfg.AgentType = agentType
		cfg.OnStatusChange = func(at eventmodel.AgentType, status modelsession.Status, sessionID string) {
			l.handleSessionStatusChange(r, eventID, r.AgentID(), at, status, sessionID)
		}

		switch agentType {
		case eventmodel.AgentTranscript:
			// OnTranscriptDelta/OnTranscriptDone are invoked synchronously
			// from the transcript driver's own receive-loop goroutine; route
			// both onto r's mailbox actor so the resulting HandleTranscript
			// call (RingBuffer/seq/card-trigger mutation) is serialized with
			// every other runtime mutation, per spec §5.
			if h.Transcript != nil {
				transcriptHandlerResult := h.Transcript
				cfg.OnTranscriptDelta = func(delta string) {
					if err := r.Enqueue(func() { transcriptHandlerResult.OnDelta(delta) }); err != nil {
						slog.Warn("lifecycle: transcript delta dropped, mailbox busy", "event_id", eventID, "error", err)
					}
				}
				cfg.OnTranscriptDone = func(text string) {
					if err := r.Enqueue(func() { transcriptHandlerResult.OnCompleted(text) }); err != nil {
						slog.Warn("lifecycle: transcript completion dropped, mailbox busy", "event_id", eventID, "error", err)
					}
				}
			}
		case eventmodel.AgentCards:
			if l.tools != nil {
				cfg.Tools = l.tools.Definitions()
				cfg.OnToolCall = l.dispatchTool(eventID)
			}
			if h.Cards != nil {
				r.AttachCardsHandler(h.Cards)
				cardsHandlerResult := h.Cards
				baseToolCall := cfg.OnToolCall
				// produce_card mutates CardsStore/outputLog via
				// HandleCardOutput, so it is routed through r.Do to
				// serialize it against the mailbox actor; other tool calls
				// (retrieve/embed) are read-only context lookups and stay
				// off the mailbox.
				cfg.OnToolCall = func(name, argsJSON string) (string, error) {
					if name == "produce_card" {
						var result string
						var callErr error
						if err := r.Do(func() {
							result, callErr = cardsHandlerResult.OnToolCall(name, argsJSON)
						}); err != nil {
							return "", fmt.Errorf("lifecycle: produce_card mailbox busy: %w", err)
						}
						return result, callErr
					}
					if baseToolCall != nil {
						return baseToolCall(name, argsJSON)
					}
					return cardsHandlerResult.OnToolCall(name, argsJSON)
				}
			}
		case eventmodel.AgentFacts:
			if l.tools != nil {
				cfg.Tools = l.tools.Definitions()
				cfg.OnToolCall = l.dispatchTool(eventID)
			}
			if h.Facts != nil && h.FactsSourceSeq != nil {
				r.AttachFactsHandler(h.Facts)
				factsHandlerResult := h.Facts
				getSeq := h.FactsSourceSeq
				// HandleFactsUpdate mutates FactsStore and the durable fact
				// store together; enqueue it onto the mailbox actor rather
				// than running it on the facts driver's own goroutine.
				cfg.OnResponseDone = func(full string) {
					if err := r.Enqueue(func() {
						seq, sourceID := getSeq()
						factsHandlerResult.Process(full, seq, sourceID)
					}); err != nil {
						slog.Warn("lifecycle: facts response dropped, mailbox busy", "event_id", eventID, "error", err)
					}
				}
			}
		}

		driver := modelsession.New(cfg)
		r.SetDriver(agentType, driver, "")
		r.MarkHandlerAttached(agentType)
	}
	return nil
}

// dispatchTool returns a modelsession.ToolCallHandler bound to one event,
// applying spec §5's 10s embedding/retrieve deadline.
func (l *SessionLifecycle) dispatchTool(eventID string) modelsession.ToolCallHandler {
	return func(name, argsJSON string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
		defer cancel()
		return l.tools.Dispatch(ctx, eventID, name, argsJSON)
	}
}

// connectSessions connects every enabled agent's driver in parallel and
// resets the durable record of every disabled agent to closed, per spec
// §4.10.
func (l *SessionLifecycle) connectSessions(ctx context.Context, r *runtime.EventRuntime, eventID string) (map[eventmodel.AgentType]string, error) {
	enabled := r.EnabledAgents()
	results := make(map[eventmodel.AgentType]string)

	var disabled []eventmodel.AgentType
	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		if !enabled[agentType] {
			disabled = append(disabled, agentType)
		}
	}
	if len(disabled) > 0 {
		if err := l.resetDisabledSessions(ctx, eventID, disabled); err != nil {
			slog.Warn("lifecycle: reset disabled sessions failed", "event_id", eventID, "error", err)
		}
	}

	type connected struct {
		agentType eventmodel.AgentType
		sessID    string
	}
	resultsCh := make(chan connected, 3)

	g, gctx := errgroup.WithContext(ctx)
	for agentType, ok := range enabled {
		if !ok {
			continue
		}
		agentType := agentType
		d := r.Driver(agentType)
		if d == nil {
			continue
		}
		g.Go(func() error {
			sessID, err := d.Connect(gctx)
			if err != nil {
				return fmt.Errorf("connect %s: %w", agentType, err)
			}
			resultsCh <- connected{agentType, sessID}
			return nil
		})
	}

	err := g.Wait()
	close(resultsCh)
	for res := range resultsCh {
		results[res.agentType] = res.sessID
		r.SetDriver(res.agentType, r.Driver(res.agentType), res.sessID)
	}
	return results, err
}

// resetDisabledSessions writes status=closed durably for every agent type
// not enabled for this runtime.
func (l *SessionLifecycle) resetDisabledSessions(ctx context.Context, eventID string, agentTypes []eventmodel.AgentType) error {
	var firstErr error
	for _, at := range agentTypes {
		if err := l.sessions.UpdateStatus(ctx, eventID, at, store.AgentSessionClosed, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resumeSessions, pauseSessions, closeSessions are straightforward parallel
// fan-outs over the enabled drivers, per spec §4.10.
func (l *SessionLifecycle) resumeSessions(ctx context.Context, r *runtime.EventRuntime) error {
	return l.forEachDriver(r, func(d *modelsession.Driver) error {
		_, err := d.Resume(ctx)
		return err
	})
}

func (l *SessionLifecycle) pauseSessions(r *runtime.EventRuntime) error {
	return l.forEachDriver(r, func(d *modelsession.Driver) error { return d.Pause() })
}

func (l *SessionLifecycle) closeSessions(r *runtime.EventRuntime) error {
	return l.forEachDriver(r, func(d *modelsession.Driver) error { return d.Close() })
}

func (l *SessionLifecycle) forEachDriver(r *runtime.EventRuntime, fn func(d *modelsession.Driver) error) error {
	var g errgroup.Group
	for _, agentType := range []eventmodel.AgentType{eventmodel.AgentTranscript, eventmodel.AgentCards, eventmodel.AgentFacts} {
		d := r.Driver(agentType)
		if d == nil {
			continue
		}
		g.Go(func() error { return fn(d) })
	}
	return g.Wait()
}

// handleSessionStatusChange is the single chokepoint of spec §4.10 that
// reconciles a SessionDriver status transition against the durable session
// record and history log, then notifies the status updater. It is invoked
// synchronously from a driver's own receive-loop goroutine (one of three per
// runtime), so the reconciliation itself is routed through r.Do to
// serialize it against every other mutation of r, per spec §5.
func (l *SessionLifecycle) handleSessionStatusChange(r *runtime.EventRuntime, eventID, agentID string, agentType eventmodel.AgentType, status modelsession.Status, sessionID string) {
	if err := r.Do(func() {
		l.reconcileSessionStatus(r, eventID, agentID, agentType, status, sessionID)
	}); err != nil {
		slog.Warn("lifecycle: session status change dropped, mailbox busy", "event_id", eventID, "agent_type", agentType, "error", err)
	}
}

func (l *SessionLifecycle) reconcileSessionStatus(r *runtime.EventRuntime, eventID, agentID string, agentType eventmodel.AgentType, status modelsession.Status, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionIOTimeout)
	defer cancel()

	prior, _ := l.sessions.Get(ctx, eventID)
	var dbStatus store.AgentSessionStatus
	var historyEvent store.SessionHistoryEventType

	switch {
	case status == modelsession.StatusActive && sessionID != "":
		dbStatus = store.AgentSessionActive
		if prevSess, ok := prior[agentType]; ok && prevSess.Status == store.AgentSessionPaused {
			historyEvent = store.HistoryResumed
		} else {
			historyEvent = store.HistoryConnected
		}
	case status == modelsession.StatusPaused:
		dbStatus = store.AgentSessionPaused
		historyEvent = store.HistoryPaused
	case status == modelsession.StatusError:
		dbStatus = store.AgentSessionError
		historyEvent = store.HistoryError
	case status == modelsession.StatusClosed || status == modelsession.StatusClosing:
		dbStatus = store.AgentSessionClosed
		historyEvent = store.HistoryClosed
	default:
		dbStatus = store.AgentSessionDisconnected
		historyEvent = store.HistoryDisconnected
	}

	if err := l.sessions.UpdateStatus(ctx, eventID, agentType, dbStatus, sessionID); err != nil {
		slog.Error("lifecycle: update session status failed", "event_id", eventID, "agent_type", agentType, "error", err)
	}
	if err := l.sessions.LogHistory(ctx, store.SessionHistoryEntry{
		EventID: eventID, AgentType: agentType, EventType: historyEvent, SessionID: sessionID, At: time.Now(),
	}); err != nil {
		slog.Error("lifecycle: log session history failed", "event_id", eventID, "agent_type", agentType, "error", err)
	}

	if l.onStatus != nil {
		l.onStatus(r, eventID, agentID, agentType, runtimeStatusFor(status))
	}
}

func runtimeStatusFor(status modelsession.Status) eventmodel.RuntimeStatus {
	switch status {
	case modelsession.StatusActive:
		return eventmodel.RuntimeRunning
	case modelsession.StatusPaused:
		return eventmodel.RuntimePaused
	case modelsession.StatusError:
		return eventmodel.RuntimeError
	case modelsession.StatusClosed, modelsession.StatusClosing:
		return eventmodel.RuntimeEnded
	default:
		return eventmodel.RuntimeReady
	}
}

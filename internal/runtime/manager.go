package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/checkpoint"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
	"github.com/weillium/eventrt/internal/store"
)

const (
	defaultRingMaxItems    = 1000
	defaultRingMaxAge      = 5 * time.Minute
	defaultFactsMaxItems   = 50
	defaultCardsMaxRecent  = 50
	defaultReplayLimit     = 1000
	defaultResumeLimit     = 50
)

// Manager is RuntimeManager (spec §4.9): the map of eventID to EventRuntime,
// owning construction, durable-state replay, and process-restart recovery.
// Grounded on the teacher's internal/entity registry shape (a mutex-guarded
// map plus bulk "load everything for this owner" helpers).
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*EventRuntime

	events      store.EventStore
	transcripts store.TranscriptStore
	facts       store.FactStore
	glossaries  store.GlossaryStore
	checkpoints checkpoint.Store

	cardFreshnessWindow time.Duration
}

// NewManager constructs an empty RuntimeManager.
func NewManager(events store.EventStore, transcripts store.TranscriptStore, facts store.FactStore, glossaries store.GlossaryStore, checkpoints checkpoint.Store) *Manager {
	return &Manager{
		runtimes:            make(map[string]*EventRuntime),
		events:              events,
		transcripts:         transcripts,
		facts:               facts,
		glossaries:          glossaries,
		checkpoints:         checkpoints,
		cardFreshnessWindow: defaultFreshnessWindowFor(),
	}
}

func defaultFreshnessWindowFor() time.Duration {
	return 5 * time.Minute
}

// Get returns the runtime for eventID, if one is currently live.
func (m *Manager) Get(eventID string) (*EventRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runtimes[eventID]
	return r, ok
}

// All returns every currently live runtime.
func (m *Manager) All() []*EventRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*EventRuntime, 0, len(m.runtimes))
	for _, r := range m.runtimes {
		out = append(out, r)
	}
	return out
}

// CreateRuntime constructs and registers a new EventRuntime for eventID,
// per spec §4.9: preload the glossary, hydrate facts from the durable
// store, and seed the reorder/seq state from the checkpoint row if one
// exists. Returns apperr.ErrAlreadyExists if a runtime is already live for
// this event.
func (m *Manager) CreateRuntime(ctx context.Context, eventID, agentID string) (*EventRuntime, error) {
	m.mu.Lock()
	if _, exists := m.runtimes[eventID]; exists {
		m.mu.Unlock()
		return nil, apperr.ErrAlreadyExists
	}
	m.mu.Unlock()

	glossaryEntries, err := m.glossaries.LoadForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("runtime: load glossary: %w", err)
	}

	activeFacts, err := m.facts.LoadActive(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("runtime: load active facts: %w", err)
	}
	snapshot := make([]factsstore.Snapshot, 0, len(activeFacts))
	for _, f := range activeFacts {
		snapshot = append(snapshot, factsstore.Snapshot{Key: f.Key, Fact: f})
	}

	ring := ringbuffer.New(defaultRingMaxItems, defaultRingMaxAge)
	facts := factsstore.New(defaultFactsMaxItems)
	facts.LoadFacts(snapshot)
	cards := cardsstore.New(defaultCardsMaxRecent)
	glossaryCache := glossary.New(glossaryEntries)

	r := New(eventID, agentID, ring, facts, cards, glossaryCache, m.checkpoints, m.cardFreshnessWindow)

	if checkpoints, err := m.checkpoints.LoadAll(ctx, eventID); err != nil {
		slog.Warn("runtime: load checkpoints failed", "event_id", eventID, "error", err)
	} else {
		var maxSeq uint64
		for _, cp := range checkpoints {
			if cp.LastProcessedSeq > maxSeq {
				maxSeq = cp.LastProcessedSeq
			}
		}
		if maxSeq > 0 {
			r.SeedSeqs(maxSeq)
		}
	}

	m.mu.Lock()
	m.runtimes[eventID] = r
	m.mu.Unlock()

	return r, nil
}

// ReplayTranscripts replays every transcript chunk persisted after the
// runtime's current seq watermark into its ring buffer, per spec §4.9:
// "Sets the three *LastSeq to max(existing, maxSeqSeen)". Used both right
// after CreateRuntime and when ResumeExistingEvents rehydrates a runtime
// after a process restart.
func (m *Manager) ReplayTranscripts(ctx context.Context, r *EventRuntime) error {
	since := r.TranscriptLastSeq()
	chunks, err := m.transcripts.GetRange(ctx, r.EventID(), since, defaultReplayLimit)
	if err != nil {
		return fmt.Errorf("runtime: replay transcripts: %w", err)
	}

	var maxSeq uint64
	for _, c := range chunks {
		r.RingBuffer().Add(c)
		if c.Seq > maxSeq {
			maxSeq = c.Seq
		}
	}
	if maxSeq > 0 {
		r.SeedSeqs(maxSeq)
	}
	return nil
}

// ResumeExistingEvents rehydrates a runtime (and replays its transcript
// backlog) for every agent the durable store reports as still running,
// bounded to defaultResumeLimit, per spec §4.9's process-restart recovery
// path. Returns the rehydrated runtimes; the caller (Orchestrator) decides
// whether to start each.
func (m *Manager) ResumeExistingEvents(ctx context.Context) ([]*EventRuntime, error) {
	agents, err := m.events.ListRunningAgents(ctx, defaultResumeLimit)
	if err != nil {
		return nil, fmt.Errorf("runtime: list running agents: %w", err)
	}

	out := make([]*EventRuntime, 0, len(agents))
	for _, agent := range agents {
		r, err := m.CreateRuntime(ctx, agent.EventID, agent.ID)
		if err != nil {
			slog.Error("runtime: resume CreateRuntime failed", "event_id", agent.EventID, "error", err)
			continue
		}
		if err := m.ReplayTranscripts(ctx, r); err != nil {
			slog.Error("runtime: resume ReplayTranscripts failed", "event_id", agent.EventID, "error", err)
		}
		r.SetStatus(eventmodel.RuntimePaused)
		r.Start()
		out = append(out, r)
	}
	return out, nil
}

// RemoveRuntime unregisters and stops a runtime, per spec §4.9's Close/
// Shutdown handling. Safe to call even if the runtime has already begun
// closing on its own.
func (m *Manager) RemoveRuntime(eventID string) {
	m.mu.Lock()
	r, ok := m.runtimes[eventID]
	if ok {
		delete(m.runtimes, eventID)
	}
	m.mu.Unlock()
	if ok {
		r.Close()
	}
}


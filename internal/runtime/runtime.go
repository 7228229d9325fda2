// Package runtime implements EventRuntime and RuntimeManager (spec §4.8,
// §4.9): the per-event owned struct, its single-consumer mailbox actor with
// seq reordering (spec §5), and the map of eventId→EventRuntime.
package runtime

import (
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/checkpoint"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/processor"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

const (
	defaultMailboxSize  = 1024
	defaultReorderWindow = 32
	defaultReorderDelay = 250 * time.Millisecond
)

// pendingConcept is one entry of spec §3's pendingCardConcepts map, swept by
// a secondary TTL per spec §9's design notes (10x CARD_FRESHNESS_MS) to
// avoid leaks from dropped model responses.
type pendingConcept struct {
	conceptID    string
	conceptLabel string
	triggeredAt  time.Time
}

// agentSlot is one of the three per-agent-type session handles an
// EventRuntime owns (spec §3's "per-agent sessions: transcript/cards/facts
// — each holding a SessionDriver handle, a provider-assigned session id,
// and a handler attached marker").
type agentSlot struct {
	driver            *modelsession.Driver
	providerSessionID string
	handlerAttached   bool
}

var _ processor.Runtime = (*EventRuntime)(nil)

// EventRuntime is the plain owned struct of spec §3: one per live event,
// created exclusively by RuntimeManager.createRuntime and mutated only from
// its own mailbox actor goroutine.
type EventRuntime struct {
	eventID string
	agentID string

	ring          *ringbuffer.RingBuffer
	facts         *factsstore.FactsStore
	cards         *cardsstore.CardsStore
	glossaryCache *glossary.Cache

	checkpoints checkpoint.Store

	mu                  sync.Mutex
	status              eventmodel.RuntimeStatus
	enabledAgents       map[eventmodel.AgentType]bool
	transcriptLastSeq   uint64
	cardsLastSeq        uint64
	factsLastSeq        uint64
	pendingCardConcepts map[uint64]pendingConcept
	slots               map[eventmodel.AgentType]*agentSlot
	createdAt           time.Time
	updatedAt           time.Time

	cardFreshnessWindow time.Duration

	processor    *processor.EventProcessor
	cardsHandler *agenthandler.CardsHandler
	factsHandler *agenthandler.FactsHandler

	mailbox chan command
	done    chan struct{}
	once    sync.Once

	reorder reorderState
}

// New constructs an EventRuntime in the context_complete status, per spec
// §4.9's createRuntime contract. AttachProcessor must be called before
// Start.
func New(eventID, agentID string, ring *ringbuffer.RingBuffer, facts *factsstore.FactsStore, cards *cardsstore.CardsStore, glossaryCache *glossary.Cache, checkpoints checkpoint.Store, cardFreshnessWindow time.Duration) *EventRuntime {
	now := time.Now()
	return &EventRuntime{
		eventID:             eventID,
		agentID:             agentID,
		ring:                ring,
		facts:               facts,
		cards:               cards,
		glossaryCache:       glossaryCache,
		checkpoints:         checkpoints,
		status:              eventmodel.RuntimeContextComplete,
		enabledAgents:       make(map[eventmodel.AgentType]bool),
		pendingCardConcepts: make(map[uint64]pendingConcept),
		slots: map[eventmodel.AgentType]*agentSlot{
			eventmodel.AgentTranscript: {},
			eventmodel.AgentCards:      {},
			eventmodel.AgentFacts:      {},
		},
		createdAt:           now,
		updatedAt:           now,
		cardFreshnessWindow: cardFreshnessWindow,
		mailbox:             make(chan command, defaultMailboxSize),
		done:                make(chan struct{}),
		reorder: reorderState{
			buf:        make(map[uint64]eventmodel.TranscriptChunk),
			windowSize: defaultReorderWindow,
			delay:      defaultReorderDelay,
		},
	}
}

// AttachProcessor wires the EventProcessor that will handle dispatched
// transcript chunks. Must be called once, before Start.
func (r *EventRuntime) AttachProcessor(p *processor.EventProcessor) {
	r.processor = p
}

// AttachCardsHandler wires the CardsHandler instance bound to this
// runtime's cards SessionDriver, so CardsSession().BeginTurn() can reset
// its per-turn guard.
func (r *EventRuntime) AttachCardsHandler(h *agenthandler.CardsHandler) {
	r.mu.Lock()
	r.cardsHandler = h
	r.mu.Unlock()
}

// AttachFactsHandler wires the FactsHandler instance bound to this
// runtime's facts SessionDriver.
func (r *EventRuntime) AttachFactsHandler(h *agenthandler.FactsHandler) {
	r.mu.Lock()
	r.factsHandler = h
	r.mu.Unlock()
}

// Start launches the runtime's mailbox actor goroutine.
func (r *EventRuntime) Start() {
	go r.run()
}

// Close stops the mailbox actor. Idempotent.
func (r *EventRuntime) Close() {
	r.once.Do(func() { close(r.done) })
}

// EventID implements processor.Runtime.
func (r *EventRuntime) EventID() string { return r.eventID }

// AgentID returns the durable agent id this runtime is bound to.
func (r *EventRuntime) AgentID() string { return r.agentID }

// RingBuffer implements processor.Runtime.
func (r *EventRuntime) RingBuffer() *ringbuffer.RingBuffer { return r.ring }

// FactsStore implements processor.Runtime.
func (r *EventRuntime) FactsStore() *factsstore.FactsStore { return r.facts }

// CardsStore implements processor.Runtime.
func (r *EventRuntime) CardsStore() *cardsstore.CardsStore { return r.cards }

// Glossary implements processor.Runtime.
func (r *EventRuntime) Glossary() *glossary.Cache { return r.glossaryCache }

// TranscriptLastSeq implements processor.Runtime.
func (r *EventRuntime) TranscriptLastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptLastSeq
}

// CardsLastSeq implements processor.Runtime.
func (r *EventRuntime) CardsLastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cardsLastSeq
}

// FactsLastSeq implements processor.Runtime.
func (r *EventRuntime) FactsLastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.factsLastSeq
}

// AdvanceSeqs implements processor.Runtime: all three *LastSeq counters are
// advanced to max(current, seq), per spec §3's monotonicity invariant.
func (r *EventRuntime) AdvanceSeqs(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.transcriptLastSeq {
		r.transcriptLastSeq = seq
	}
	if seq > r.cardsLastSeq {
		r.cardsLastSeq = seq
	}
	if seq > r.factsLastSeq {
		r.factsLastSeq = seq
	}
	r.updatedAt = time.Now()
}

// SeedSeqs sets the three *LastSeq counters during replay, per spec §4.9's
// replayTranscripts contract ("Sets the three *LastSeq to
// max(existing, maxSeqSeen)").
func (r *EventRuntime) SeedSeqs(maxSeqSeen uint64) {
	r.AdvanceSeqs(maxSeqSeen)
}

// NextTranscriptSeq implements agenthandler.SeqAllocator.
func (r *EventRuntime) NextTranscriptSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriptLastSeq++
	r.updatedAt = time.Now()
	return r.transcriptLastSeq
}

// RecordPendingCardConcept implements processor.Runtime.
func (r *EventRuntime) RecordPendingCardConcept(sourceSeq uint64, conceptID, conceptLabel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingCardConcepts[sourceSeq] = pendingConcept{
		conceptID:    conceptID,
		conceptLabel: conceptLabel,
		triggeredAt:  time.Now(),
	}
}

// TakePendingCardConcept implements processor.Runtime.
func (r *EventRuntime) TakePendingCardConcept(sourceSeq uint64) (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pendingCardConcepts[sourceSeq]
	if !ok {
		return "", "", false
	}
	delete(r.pendingCardConcepts, sourceSeq)
	return p.conceptID, p.conceptLabel, true
}

// sweepPendingCardConcepts removes entries older than 10x the card
// freshness window, per spec §9's secondary TTL sweep design note.
func (r *EventRuntime) sweepPendingCardConcepts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxAge := 10 * r.cardFreshnessWindow
	now := time.Now()
	for seq, p := range r.pendingCardConcepts {
		if now.Sub(p.triggeredAt) > maxAge {
			delete(r.pendingCardConcepts, seq)
		}
	}
}

// Status returns the runtime's current lifecycle status.
func (r *EventRuntime) Status() eventmodel.RuntimeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus updates the runtime's lifecycle status.
func (r *EventRuntime) SetStatus(status eventmodel.RuntimeStatus) {
	r.mu.Lock()
	r.status = status
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// EnabledAgents returns a copy of the current enabled-agent set.
func (r *EventRuntime) EnabledAgents() map[eventmodel.AgentType]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[eventmodel.AgentType]bool, len(r.enabledAgents))
	for k, v := range r.enabledAgents {
		out[k] = v
	}
	return out
}

// SetEnabledAgents replaces the enabled-agent set.
func (r *EventRuntime) SetEnabledAgents(enabled map[eventmodel.AgentType]bool) {
	r.mu.Lock()
	r.enabledAgents = make(map[eventmodel.AgentType]bool, len(enabled))
	for k, v := range enabled {
		r.enabledAgents[k] = v
	}
	r.mu.Unlock()
}

// SetDriver attaches a connected SessionDriver to the given agent type's
// slot.
func (r *EventRuntime) SetDriver(agentType eventmodel.AgentType, driver *modelsession.Driver, providerSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[agentType]
	slot.driver = driver
	slot.providerSessionID = providerSessionID
}

// Driver returns the current driver for an agent type, or nil if absent.
func (r *EventRuntime) Driver(agentType eventmodel.AgentType) *modelsession.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[agentType].driver
}

// ProviderSessionID returns the current provider-assigned session id for an
// agent type.
func (r *EventRuntime) ProviderSessionID(agentType eventmodel.AgentType) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[agentType].providerSessionID
}

// MarkHandlerAttached implements the idempotent attach marker used by
// SessionLifecycle.createRealtimeSessions (spec §4.10): reports whether
// the handler was newly attached (false means it was already attached to
// the current driver generation and the caller should skip re-attaching).
func (r *EventRuntime) MarkHandlerAttached(agentType eventmodel.AgentType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[agentType]
	if slot.handlerAttached {
		return false
	}
	slot.handlerAttached = true
	return true
}

// ClearHandlerAttached resets the attach marker, called whenever a slot's
// driver is replaced (reconnect, resume after a dropped socket).
func (r *EventRuntime) ClearHandlerAttached(agentType eventmodel.AgentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[agentType].handlerAttached = false
}

// CardsSession implements processor.Runtime by wrapping the cards driver
// with the CardsHandler's per-turn guard.
func (r *EventRuntime) CardsSession() processor.CardsSession {
	return cardsSession{runtime: r}
}

// FactsSession implements processor.Runtime.
func (r *EventRuntime) FactsSession() processor.FactsSession {
	return factsSession{runtime: r}
}

type cardsSession struct{ runtime *EventRuntime }

func (s cardsSession) BeginTurn() {
	s.runtime.mu.Lock()
	h := s.runtime.cardsHandler
	s.runtime.mu.Unlock()
	if h != nil {
		h.BeginTurn()
	}
}

func (s cardsSession) SendPromptTurn(text string) error {
	d := s.runtime.Driver(eventmodel.AgentCards)
	if d == nil {
		return apperr.ErrNotFound
	}
	return d.SendPromptTurn(text)
}

type factsSession struct{ runtime *EventRuntime }

func (s factsSession) SendPromptTurn(text string) error {
	d := s.runtime.Driver(eventmodel.AgentFacts)
	if d == nil {
		return apperr.ErrNotFound
	}
	return d.SendPromptTurn(text)
}

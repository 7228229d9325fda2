// Package processor implements EventProcessor (spec §4.7): the transcript
// ingress path, the deterministic card trigger evaluation, facts update
// scheduling, and output normalization for cards/facts model responses.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
	"github.com/weillium/eventrt/internal/store"
)

const (
	defaultCardWindowChunks    = 3
	defaultCardMinChunks       = 2
	defaultCardContextLimit    = 5
	defaultCardContextMaxChars = 2000
	defaultCardFreshnessWindow = 5 * time.Minute
	defaultCardFactLimit       = 5
	defaultCardRecentLimit     = 3

	defaultFactsBulletN    = 10
	defaultFactsMaxChars   = 4000
	defaultStoreIOTimeout  = 5 * time.Second
)

// Runtime is the surface EventProcessor needs from an owning EventRuntime.
// Implemented by internal/runtime's EventRuntime; kept as an interface here
// so this package does not import internal/runtime (which itself depends on
// this package).
type Runtime interface {
	EventID() string
	RingBuffer() *ringbuffer.RingBuffer
	FactsStore() *factsstore.FactsStore
	CardsStore() *cardsstore.CardsStore
	Glossary() *glossary.Cache

	TranscriptLastSeq() uint64
	CardsLastSeq() uint64
	FactsLastSeq() uint64
	AdvanceSeqs(seq uint64)

	RecordPendingCardConcept(sourceSeq uint64, conceptID, conceptLabel string)
	TakePendingCardConcept(sourceSeq uint64) (conceptID, conceptLabel string, ok bool)

	CardsSession() CardsSession
	FactsSession() FactsSession
}

// CardsSession is the minimum surface needed to trigger a cards prompt turn.
// Satisfied by a small wrapper combining a *modelsession.Driver and an
// *agenthandler.CardsHandler.
type CardsSession interface {
	BeginTurn()
	SendPromptTurn(text string) error
}

// FactsSession is the minimum surface needed to trigger a facts prompt turn.
type FactsSession interface {
	SendPromptTurn(text string) error
}

// Option configures an EventProcessor at construction time.
type Option func(*EventProcessor)

// WithCardTuning overrides the card trigger evaluation's window/limit
// constants (spec §4.7's CARD_* defaults).
func WithCardTuning(windowChunks, minChunks, contextLimit, contextMaxChars, factLimit, recentLimit int, freshnessWindow time.Duration) Option {
	return func(p *EventProcessor) {
		p.cardWindowChunks = windowChunks
		p.cardMinChunks = minChunks
		p.cardContextLimit = contextLimit
		p.cardContextMaxChars = contextMaxChars
		p.cardFactLimit = factLimit
		p.cardRecentLimit = recentLimit
		p.cardFreshnessWindow = freshnessWindow
	}
}

// WithFactsPromptTuning overrides how much transcript context is rendered
// into each facts prompt turn.
func WithFactsPromptTuning(bulletN, maxChars int) Option {
	return func(p *EventProcessor) {
		p.factsBulletN = bulletN
		p.factsMaxChars = maxChars
	}
}

// WithTranscriptWriter enables the back-fill write-through path used when
// handleTranscript must assign a missing seq itself (spec §4.7).
func WithTranscriptWriter(w store.TranscriptStore) Option {
	return func(p *EventProcessor) { p.transcriptWriter = w }
}

// WithOnCardPublished registers a callback invoked after a card is durably
// persisted, used by internal/statusupdater / internal/pushbus wiring.
func WithOnCardPublished(fn func(eventmodel.Card)) Option {
	return func(p *EventProcessor) { p.onCardPublished = fn }
}

// WithOnFactsPublished registers a callback invoked after a facts turn is
// durably reconciled.
func WithOnFactsPublished(fn func(agenthandler.FactsUpdate)) Option {
	return func(p *EventProcessor) { p.onFactsPublished = fn }
}

// EventProcessor implements spec §4.7.
type EventProcessor struct {
	runtime Runtime

	cardStore store.CardStore
	factStore store.FactStore
	outputLog store.OutputLog

	transcriptWriter store.TranscriptStore

	cardWindowChunks    int
	cardMinChunks       int
	cardContextLimit    int
	cardContextMaxChars int
	cardFactLimit       int
	cardRecentLimit     int
	cardFreshnessWindow time.Duration

	factsBulletN  int
	factsMaxChars int

	onCardPublished   func(eventmodel.Card)
	onFactsPublished  func(agenthandler.FactsUpdate)
}

// New constructs an EventProcessor bound to one EventRuntime.
func New(runtime Runtime, cardStore store.CardStore, factStore store.FactStore, outputLog store.OutputLog, opts ...Option) *EventProcessor {
	p := &EventProcessor{
		runtime:   runtime,
		cardStore: cardStore,
		factStore: factStore,
		outputLog: outputLog,

		cardWindowChunks:    defaultCardWindowChunks,
		cardMinChunks:       defaultCardMinChunks,
		cardContextLimit:    defaultCardContextLimit,
		cardContextMaxChars: defaultCardContextMaxChars,
		cardFactLimit:       defaultCardFactLimit,
		cardRecentLimit:     defaultCardRecentLimit,
		cardFreshnessWindow: defaultCardFreshnessWindow,

		factsBulletN:  defaultFactsBulletN,
		factsMaxChars: defaultFactsMaxChars,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ agenthandler.TranscriptSink = (*EventProcessor)(nil)

// HandleTranscript implements agenthandler.TranscriptSink and spec §4.7's
// canonical ingress path.
func (p *EventProcessor) HandleTranscript(chunk eventmodel.TranscriptChunk) {
	if chunk.Text == "" {
		return
	}

	if chunk.Seq == 0 {
		chunk.Seq = p.runtime.CardsLastSeq() + 1
		p.backfillTranscript(chunk)
	}

	p.runtime.RingBuffer().Add(chunk)
	p.runtime.AdvanceSeqs(chunk.Seq)

	if !chunk.Final {
		return
	}

	p.evaluateCardTrigger(chunk)
	p.scheduleFactsUpdate()
}

// backfillTranscript persists a chunk whose seq was assigned here rather
// than by the transcript agent handler (spec §4.7: "persists a back-fill").
func (p *EventProcessor) backfillTranscript(chunk eventmodel.TranscriptChunk) {
	if p.transcriptWriter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreIOTimeout)
	defer cancel()
	if err := p.transcriptWriter.Insert(ctx, p.runtime.EventID(), chunk); err != nil {
		slog.Error("processor: back-fill transcript insert failed", "event_id", p.runtime.EventID(), "seq", chunk.Seq, "error", err)
	}
}

// HandleCardOutput implements the card-response output normalization of
// spec §4.7: attach pending concept metadata, persist the card, then append
// an agent-output log entry as a separate call (a failed append is logged and
// the persisted card is kept), and record the emission for freshness
// suppression.
func (p *EventProcessor) HandleCardOutput(card eventmodel.Card) {
	if conceptID, conceptLabel, ok := p.runtime.TakePendingCardConcept(card.SourceSeq); ok {
		card.ConceptID = conceptID
		card.ConceptLabel = conceptLabel
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreIOTimeout)
	defer cancel()

	if err := p.cardStore.Insert(ctx, p.runtime.EventID(), card); err != nil {
		slog.Error("processor: persist card failed", "event_id", p.runtime.EventID(), "error", err)
		return
	}

	if payload, err := json.Marshal(card); err != nil {
		slog.Error("processor: marshal card output failed", "error", err)
	} else if err := p.outputLog.Append(ctx, p.runtime.EventID(), eventmodel.AgentCards, payload); err != nil {
		slog.Error("processor: append card output failed", "event_id", p.runtime.EventID(), "error", err)
	}

	p.runtime.CardsStore().RecordEmission(card)

	if p.onCardPublished != nil {
		p.onCardPublished(card)
	}
}

// HandleFactsUpdate implements the facts-response output normalization of
// spec §4.7: reconcile every touched fact with the durable store, append-log
// each entry, and mark the aggregated evicted keys inactive in one batch.
func (p *EventProcessor) HandleFactsUpdate(update agenthandler.FactsUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreIOTimeout)
	defer cancel()

	for _, key := range update.TouchedKeys {
		fact, ok := p.runtime.FactsStore().Get(key)
		if !ok {
			continue
		}
		if err := p.factStore.Upsert(ctx, p.runtime.EventID(), fact); err != nil {
			slog.Error("processor: persist fact failed", "event_id", p.runtime.EventID(), "key", key, "error", err)
			continue
		}
		if payload, err := json.Marshal(fact); err != nil {
			slog.Error("processor: marshal fact output failed", "key", key, "error", err)
		} else if err := p.outputLog.Append(ctx, p.runtime.EventID(), eventmodel.AgentFacts, payload); err != nil {
			slog.Error("processor: append fact output failed", "event_id", p.runtime.EventID(), "key", key, "error", err)
		}
	}

	if len(update.EvictedKeys) > 0 {
		if err := p.factStore.MarkInactiveBulk(ctx, p.runtime.EventID(), update.EvictedKeys); err != nil {
			slog.Error("processor: mark facts inactive failed", "event_id", p.runtime.EventID(), "error", err)
		}
	}

	if p.onFactsPublished != nil {
		p.onFactsPublished(update)
	}
}

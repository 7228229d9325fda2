package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

// fakeRuntime is a minimal in-memory stand-in for internal/runtime's
// EventRuntime, implementing just the Runtime surface EventProcessor needs.
type fakeRuntime struct {
	mu sync.Mutex

	eventID string
	rb      *ringbuffer.RingBuffer
	facts   *factsstore.FactsStore
	cards   *cardsstore.CardsStore
	gloss   *glossary.Cache

	transcriptSeq, cardsSeq, factsSeq uint64
	pendingConcepts                   map[uint64][2]string

	cardsSession *fakeCardsSession
	factsSession *fakeFactsSession
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		eventID:         "evt-1",
		rb:              ringbuffer.New(100, 0),
		facts:           factsstore.New(100),
		cards:           cardsstore.New(10),
		gloss:           glossary.New(nil),
		pendingConcepts: make(map[uint64][2]string),
		cardsSession:    &fakeCardsSession{},
		factsSession:    &fakeFactsSession{},
	}
}

func (f *fakeRuntime) EventID() string                      { return f.eventID }
func (f *fakeRuntime) RingBuffer() *ringbuffer.RingBuffer    { return f.rb }
func (f *fakeRuntime) FactsStore() *factsstore.FactsStore    { return f.facts }
func (f *fakeRuntime) CardsStore() *cardsstore.CardsStore    { return f.cards }
func (f *fakeRuntime) Glossary() *glossary.Cache             { return f.gloss }

func (f *fakeRuntime) TranscriptLastSeq() uint64 { return f.transcriptSeq }
func (f *fakeRuntime) CardsLastSeq() uint64       { return f.cardsSeq }
func (f *fakeRuntime) FactsLastSeq() uint64       { return f.factsSeq }
func (f *fakeRuntime) AdvanceSeqs(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq > f.transcriptSeq {
		f.transcriptSeq = seq
	}
	if seq > f.cardsSeq {
		f.cardsSeq = seq
	}
	if seq > f.factsSeq {
		f.factsSeq = seq
	}
}

func (f *fakeRuntime) RecordPendingCardConcept(sourceSeq uint64, conceptID, conceptLabel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingConcepts[sourceSeq] = [2]string{conceptID, conceptLabel}
}

func (f *fakeRuntime) TakePendingCardConcept(sourceSeq uint64) (string, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.pendingConcepts[sourceSeq]
	if !ok {
		return "", "", false
	}
	delete(f.pendingConcepts, sourceSeq)
	return v[0], v[1], true
}

func (f *fakeRuntime) CardsSession() CardsSession { return f.cardsSession }
func (f *fakeRuntime) FactsSession() FactsSession { return f.factsSession }

type fakeCardsSession struct {
	mu         sync.Mutex
	turnsBegun int
	prompts    []string
	sendErr    error
}

func (s *fakeCardsSession) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnsBegun++
}

func (s *fakeCardsSession) SendPromptTurn(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, text)
	return s.sendErr
}

type fakeFactsSession struct {
	mu      sync.Mutex
	prompts []string
	sendErr error
}

func (s *fakeFactsSession) SendPromptTurn(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, text)
	return s.sendErr
}

type fakeCardStore struct {
	mu      sync.Mutex
	inserts []eventmodel.Card
	err     error
}

func (s *fakeCardStore) Insert(ctx context.Context, eventID string, card eventmodel.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, card)
	return s.err
}

type fakeFactStore struct {
	mu       sync.Mutex
	upserts  []eventmodel.Fact
	inactive [][]string
}

func (s *fakeFactStore) Upsert(ctx context.Context, eventID string, fact eventmodel.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, fact)
	return nil
}

func (s *fakeFactStore) MarkInactiveBulk(ctx context.Context, eventID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactive = append(s.inactive, keys)
	return nil
}

func (s *fakeFactStore) LoadActive(ctx context.Context, eventID string) ([]eventmodel.Fact, error) {
	return nil, nil
}

type fakeOutputLog struct {
	mu      sync.Mutex
	entries []eventmodel.AgentType
}

func (s *fakeOutputLog) Append(ctx context.Context, eventID string, agentType eventmodel.AgentType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, agentType)
	return nil
}

func TestHandleTranscript_IgnoresEmptyText(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	p := New(rt, &fakeCardStore{}, &fakeFactStore{}, &fakeOutputLog{})

	p.HandleTranscript(eventmodel.TranscriptChunk{Seq: 1, Text: ""})

	if got := rt.rb.GetStats().Total; got != 0 {
		t.Errorf("expected empty-text chunk to be dropped, ring buffer total = %d", got)
	}
}

func TestHandleTranscript_AssignsSeqAndBackfills(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.cardsSeq = 5
	writer := &fakeTranscriptWriter{}
	p := New(rt, &fakeCardStore{}, &fakeFactStore{}, &fakeOutputLog{}, WithTranscriptWriter(writer))

	p.HandleTranscript(eventmodel.TranscriptChunk{Text: "hello", Final: true})

	if len(writer.inserted) != 1 || writer.inserted[0].Seq != 6 {
		t.Fatalf("expected back-fill insert with seq 6, got %+v", writer.inserted)
	}
	if rt.transcriptSeq != 6 {
		t.Errorf("TranscriptLastSeq = %d; want 6", rt.transcriptSeq)
	}
}

func TestHandleTranscript_InterimChunkSkipsTriggerEvaluation(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	p := New(rt, &fakeCardStore{}, &fakeFactStore{}, &fakeOutputLog{})

	p.HandleTranscript(eventmodel.TranscriptChunk{Seq: 1, Text: "partial", Final: false})

	if len(rt.factsSession.prompts) != 0 {
		t.Error("expected no facts prompt turn for a non-final chunk")
	}
	if rt.cardsSession.turnsBegun != 0 {
		t.Error("expected no cards turn for a non-final chunk")
	}
}

func TestHandleTranscript_FinalChunkSchedulesFactsUpdate(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	p := New(rt, &fakeCardStore{}, &fakeFactStore{}, &fakeOutputLog{})

	p.HandleTranscript(eventmodel.TranscriptChunk{Seq: 1, Text: "the quarterly roadmap review", Final: true})

	if len(rt.factsSession.prompts) != 1 {
		t.Fatalf("expected one facts prompt turn, got %d", len(rt.factsSession.prompts))
	}
}

type fakeTranscriptWriter struct {
	mu       sync.Mutex
	inserted []eventmodel.TranscriptChunk
}

func (w *fakeTranscriptWriter) Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inserted = append(w.inserted, chunk)
	return nil
}

func (w *fakeTranscriptWriter) GetRange(ctx context.Context, eventID string, sinceSeqExclusive uint64, limit int) ([]eventmodel.TranscriptChunk, error) {
	return nil, nil
}

func (w *fakeTranscriptWriter) Subscribe(ctx context.Context, handler func(eventID string, chunk eventmodel.TranscriptChunk)) (func(), error) {
	return func() {}, nil
}

func TestHandleCardOutput_AttachesPendingConceptAndPersists(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.RecordPendingCardConcept(7, "pricing", "Pricing")
	cardStore := &fakeCardStore{}
	outputLog := &fakeOutputLog{}

	published := make(chan eventmodel.Card, 1)
	p := New(rt, cardStore, &fakeFactStore{}, outputLog, WithOnCardPublished(func(c eventmodel.Card) { published <- c }))

	p.HandleCardOutput(eventmodel.Card{SourceSeq: 7, Title: "Pricing update"})

	if len(cardStore.inserts) != 1 {
		t.Fatalf("expected one card insert, got %d", len(cardStore.inserts))
	}
	if cardStore.inserts[0].ConceptID != "pricing" || cardStore.inserts[0].ConceptLabel != "Pricing" {
		t.Errorf("card = %+v; want concept metadata attached", cardStore.inserts[0])
	}
	if len(outputLog.entries) != 1 || outputLog.entries[0] != eventmodel.AgentCards {
		t.Errorf("outputLog entries = %v; want one AgentCards entry", outputLog.entries)
	}

	select {
	case c := <-published:
		if c.Title != "Pricing update" {
			t.Errorf("published card title = %q", c.Title)
		}
	case <-time.After(time.Second):
		t.Fatal("onCardPublished callback not invoked")
	}
}

func TestHandleFactsUpdate_PersistsTouchedAndMarksEvicted(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	rt.facts.Upsert("topic", "pricing", 0.5, 1, "")
	factStore := &fakeFactStore{}
	p := New(rt, &fakeCardStore{}, factStore, &fakeOutputLog{})

	p.HandleFactsUpdate(agenthandler.FactsUpdate{
		TouchedKeys: []string{"topic"},
		EvictedKeys: []string{"stale_key"},
	})

	if len(factStore.upserts) != 1 || factStore.upserts[0].Key != "topic" {
		t.Fatalf("upserts = %+v; want one upsert for topic", factStore.upserts)
	}
	if len(factStore.inactive) != 1 || factStore.inactive[0][0] != "stale_key" {
		t.Fatalf("inactive = %+v; want [[stale_key]]", factStore.inactive)
	}
}

func TestHandleFactsUpdate_SkipsMissingTouchedKey(t *testing.T) {
	t.Parallel()
	rt := newFakeRuntime()
	factStore := &fakeFactStore{}
	p := New(rt, &fakeCardStore{}, factStore, &fakeOutputLog{})

	p.HandleFactsUpdate(agenthandler.FactsUpdate{TouchedKeys: []string{"missing"}})

	if len(factStore.upserts) != 0 {
		t.Errorf("expected no upsert for a key absent from the live FactsStore, got %d", len(factStore.upserts))
	}
}

package runtime

import (
	"testing"
	"time"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

func newTestRuntime() *EventRuntime {
	return New(
		"evt-1", "agent-1",
		ringbuffer.New(100, 0),
		factsstore.New(50),
		cardsstore.New(10),
		glossary.New(nil),
		nil,
		5*time.Minute,
	)
}

func TestNew_InitialStatusIsContextComplete(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	if r.Status() != eventmodel.RuntimeContextComplete {
		t.Errorf("Status() = %v; want RuntimeContextComplete", r.Status())
	}
}

func TestAdvanceSeqs_MonotonicAcrossAllThree(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.AdvanceSeqs(5)
	if r.TranscriptLastSeq() != 5 || r.CardsLastSeq() != 5 || r.FactsLastSeq() != 5 {
		t.Fatalf("expected all three seqs at 5, got t=%d c=%d f=%d", r.TranscriptLastSeq(), r.CardsLastSeq(), r.FactsLastSeq())
	}
	r.AdvanceSeqs(2)
	if r.TranscriptLastSeq() != 5 {
		t.Errorf("AdvanceSeqs(2) after 5 should not regress, got %d", r.TranscriptLastSeq())
	}
	r.AdvanceSeqs(9)
	if r.TranscriptLastSeq() != 9 || r.CardsLastSeq() != 9 || r.FactsLastSeq() != 9 {
		t.Errorf("expected all three seqs at 9 after advance")
	}
}

func TestSeedSeqs_SeedsAllThreeLikeAdvance(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.SeedSeqs(42)
	if r.TranscriptLastSeq() != 42 || r.CardsLastSeq() != 42 || r.FactsLastSeq() != 42 {
		t.Error("SeedSeqs should behave like AdvanceSeqs")
	}
}

func TestNextTranscriptSeq_IncrementsFromCurrentWatermark(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.AdvanceSeqs(3)
	if got := r.NextTranscriptSeq(); got != 4 {
		t.Errorf("NextTranscriptSeq() = %d; want 4", got)
	}
	if got := r.NextTranscriptSeq(); got != 5 {
		t.Errorf("NextTranscriptSeq() = %d; want 5", got)
	}
}

func TestRecordAndTakePendingCardConcept(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.RecordPendingCardConcept(7, "pricing", "Pricing")

	id, label, ok := r.TakePendingCardConcept(7)
	if !ok || id != "pricing" || label != "Pricing" {
		t.Fatalf("TakePendingCardConcept = %q, %q, %v; want pricing, Pricing, true", id, label, ok)
	}

	if _, _, ok := r.TakePendingCardConcept(7); ok {
		t.Error("expected second Take for same seq to report false (consumed once)")
	}
}

func TestTakePendingCardConcept_MissingReturnsFalse(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	if _, _, ok := r.TakePendingCardConcept(999); ok {
		t.Error("expected Take for unknown seq to report false")
	}
}

func TestMarkHandlerAttached_IdempotentUntilCleared(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()

	if !r.MarkHandlerAttached(eventmodel.AgentTranscript) {
		t.Fatal("expected first MarkHandlerAttached to report true")
	}
	if r.MarkHandlerAttached(eventmodel.AgentTranscript) {
		t.Error("expected second MarkHandlerAttached to report false while still attached")
	}

	r.ClearHandlerAttached(eventmodel.AgentTranscript)
	if !r.MarkHandlerAttached(eventmodel.AgentTranscript) {
		t.Error("expected MarkHandlerAttached to report true again after Clear")
	}
}

func TestSetDriver_AndDriverAccessor(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	if r.Driver(eventmodel.AgentCards) != nil {
		t.Fatal("expected nil driver before SetDriver")
	}
	r.SetDriver(eventmodel.AgentCards, nil, "sess-123")
	if r.ProviderSessionID(eventmodel.AgentCards) != "sess-123" {
		t.Errorf("ProviderSessionID = %q; want sess-123", r.ProviderSessionID(eventmodel.AgentCards))
	}
}

func TestCardsSession_SendPromptTurn_NoDriverReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	err := r.CardsSession().SendPromptTurn("hello")
	if err != apperr.ErrNotFound {
		t.Errorf("err = %v; want apperr.ErrNotFound", err)
	}
}

func TestFactsSession_SendPromptTurn_NoDriverReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	err := r.FactsSession().SendPromptTurn("hello")
	if err != apperr.ErrNotFound {
		t.Errorf("err = %v; want apperr.ErrNotFound", err)
	}
}

func TestCardsSession_BeginTurn_NoopWithoutHandler(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.CardsSession().BeginTurn() // must not panic with no CardsHandler attached
}

func TestEnabledAgents_ReturnsDefensiveCopy(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.SetEnabledAgents(map[eventmodel.AgentType]bool{eventmodel.AgentCards: true})

	got := r.EnabledAgents()
	got[eventmodel.AgentFacts] = true

	again := r.EnabledAgents()
	if again[eventmodel.AgentFacts] {
		t.Error("mutating a returned EnabledAgents map must not affect runtime state")
	}
	if !again[eventmodel.AgentCards] {
		t.Error("expected AgentCards to remain enabled")
	}
}

func TestSetStatus_UpdatesStatus(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.SetStatus(eventmodel.RuntimeRunning)
	if r.Status() != eventmodel.RuntimeRunning {
		t.Errorf("Status() = %v; want RuntimeRunning", r.Status())
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	r := newTestRuntime()
	r.Start()
	r.Close()
	r.Close() // must not panic on double Close
}

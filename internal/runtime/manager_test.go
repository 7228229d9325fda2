package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
)

type fakeEventStore struct {
	running []eventmodel.Agent
}

func (s *fakeEventStore) GetAgentForEvent(ctx context.Context, eventID string) (eventmodel.Agent, error) {
	return eventmodel.Agent{}, apperr.ErrNotFound
}
func (s *fakeEventStore) UpdateAgentStatus(ctx context.Context, agentID string, status eventmodel.AgentStatus, stage eventmodel.AgentStage, lastError string) error {
	return nil
}
func (s *fakeEventStore) ListRunningAgents(ctx context.Context, limit int) ([]eventmodel.Agent, error) {
	if limit > 0 && len(s.running) > limit {
		return s.running[:limit], nil
	}
	return s.running, nil
}
func (s *fakeEventStore) ListAgentsByStage(ctx context.Context, stage eventmodel.AgentStage, limit int) ([]eventmodel.Agent, error) {
	return nil, nil
}
func (s *fakeEventStore) ListAgentsByStatus(ctx context.Context, status eventmodel.AgentStatus, limit int) ([]eventmodel.Agent, error) {
	return nil, nil
}

type fakeManagerTranscriptStore struct {
	mu     sync.Mutex
	ranges map[string][]eventmodel.TranscriptChunk
}

func (s *fakeManagerTranscriptStore) Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error {
	return nil
}
func (s *fakeManagerTranscriptStore) GetRange(ctx context.Context, eventID string, sinceSeqExclusive uint64, limit int) ([]eventmodel.TranscriptChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventmodel.TranscriptChunk
	for _, c := range s.ranges[eventID] {
		if c.Seq > sinceSeqExclusive {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *fakeManagerTranscriptStore) Subscribe(ctx context.Context, handler func(eventID string, chunk eventmodel.TranscriptChunk)) (func(), error) {
	return func() {}, nil
}

type fakeManagerFactStore struct {
	active map[string][]eventmodel.Fact
}

func (s *fakeManagerFactStore) Upsert(ctx context.Context, eventID string, fact eventmodel.Fact) error {
	return nil
}
func (s *fakeManagerFactStore) MarkInactiveBulk(ctx context.Context, eventID string, keys []string) error {
	return nil
}
func (s *fakeManagerFactStore) LoadActive(ctx context.Context, eventID string) ([]eventmodel.Fact, error) {
	return s.active[eventID], nil
}

type fakeManagerGlossaryStore struct {
	entries map[string][]eventmodel.GlossaryEntry
}

func (s *fakeManagerGlossaryStore) LoadForEvent(ctx context.Context, eventID string) ([]eventmodel.GlossaryEntry, error) {
	return s.entries[eventID], nil
}

type fakeManagerCheckpointStore struct {
	all map[string]map[eventmodel.AgentType]eventmodel.Checkpoint
}

func (s *fakeManagerCheckpointStore) Load(ctx context.Context, eventID string, agentType eventmodel.AgentType) (eventmodel.Checkpoint, bool, error) {
	cp, ok := s.all[eventID][agentType]
	return cp, ok, nil
}
func (s *fakeManagerCheckpointStore) Save(ctx context.Context, cp eventmodel.Checkpoint) error {
	return nil
}
func (s *fakeManagerCheckpointStore) LoadAll(ctx context.Context, eventID string) (map[eventmodel.AgentType]eventmodel.Checkpoint, error) {
	return s.all[eventID], nil
}

func newTestManager() (*Manager, *fakeEventStore, *fakeManagerTranscriptStore, *fakeManagerFactStore, *fakeManagerGlossaryStore, *fakeManagerCheckpointStore) {
	events := &fakeEventStore{}
	transcripts := &fakeManagerTranscriptStore{ranges: make(map[string][]eventmodel.TranscriptChunk)}
	facts := &fakeManagerFactStore{active: make(map[string][]eventmodel.Fact)}
	glossaries := &fakeManagerGlossaryStore{entries: make(map[string][]eventmodel.GlossaryEntry)}
	checkpoints := &fakeManagerCheckpointStore{all: make(map[string]map[eventmodel.AgentType]eventmodel.Checkpoint)}
	m := NewManager(events, transcripts, facts, glossaries, checkpoints)
	return m, events, transcripts, facts, glossaries, checkpoints
}

func TestCreateRuntime_RegistersAndHydratesFromStores(t *testing.T) {
	t.Parallel()
	m, _, _, facts, glossaries, checkpoints := newTestManager()
	glossaries.entries["evt-1"] = []eventmodel.GlossaryEntry{{Term: "ARR", Definition: "annual recurring revenue"}}
	facts.active["evt-1"] = []eventmodel.Fact{{Key: "topic", Value: "pricing", Confidence: 0.5}}
	checkpoints.all["evt-1"] = map[eventmodel.AgentType]eventmodel.Checkpoint{
		eventmodel.AgentTranscript: {EventID: "evt-1", AgentType: eventmodel.AgentTranscript, LastProcessedSeq: 12},
	}

	r, err := m.CreateRuntime(context.Background(), "evt-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateRuntime failed: %v", err)
	}
	if r.EventID() != "evt-1" {
		t.Errorf("EventID() = %q; want evt-1", r.EventID())
	}
	if _, ok := r.Glossary().Get("arr"); !ok {
		t.Error("expected glossary preloaded from store")
	}
	if _, ok := r.FactsStore().Get("topic"); !ok {
		t.Error("expected facts hydrated from store")
	}
	if r.TranscriptLastSeq() != 12 {
		t.Errorf("TranscriptLastSeq() = %d; want 12 seeded from checkpoint", r.TranscriptLastSeq())
	}

	got, ok := m.Get("evt-1")
	if !ok || got != r {
		t.Error("expected Get to return the registered runtime")
	}
}

func TestCreateRuntime_DuplicateReturnsErrAlreadyExists(t *testing.T) {
	t.Parallel()
	m, _, _, _, _, _ := newTestManager()
	if _, err := m.CreateRuntime(context.Background(), "evt-1", "agent-1"); err != nil {
		t.Fatalf("first CreateRuntime failed: %v", err)
	}
	if _, err := m.CreateRuntime(context.Background(), "evt-1", "agent-2"); err != apperr.ErrAlreadyExists {
		t.Errorf("err = %v; want apperr.ErrAlreadyExists", err)
	}
}

func TestReplayTranscripts_SeedsSeqFromMaxReplayed(t *testing.T) {
	t.Parallel()
	m, _, transcripts, _, _, _ := newTestManager()
	r, err := m.CreateRuntime(context.Background(), "evt-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateRuntime failed: %v", err)
	}
	transcripts.ranges["evt-1"] = []eventmodel.TranscriptChunk{
		{Seq: 1, Text: "a", Final: true},
		{Seq: 2, Text: "b", Final: true},
	}

	if err := m.ReplayTranscripts(context.Background(), r); err != nil {
		t.Fatalf("ReplayTranscripts failed: %v", err)
	}
	if r.TranscriptLastSeq() != 2 {
		t.Errorf("TranscriptLastSeq() = %d; want 2", r.TranscriptLastSeq())
	}
	if got := r.RingBuffer().GetStats().Total; got != 2 {
		t.Errorf("ring buffer total = %d; want 2", got)
	}
}

func TestResumeExistingEvents_CreatesPausedRuntimesForRunningAgents(t *testing.T) {
	t.Parallel()
	m, events, _, _, _, _ := newTestManager()
	events.running = []eventmodel.Agent{
		{ID: "agent-1", EventID: "evt-1"},
		{ID: "agent-2", EventID: "evt-2"},
	}

	runtimes, err := m.ResumeExistingEvents(context.Background())
	if err != nil {
		t.Fatalf("ResumeExistingEvents failed: %v", err)
	}
	if len(runtimes) != 2 {
		t.Fatalf("len(runtimes) = %d; want 2", len(runtimes))
	}
	for _, r := range runtimes {
		if r.Status() != eventmodel.RuntimePaused {
			t.Errorf("runtime %s status = %v; want RuntimePaused", r.EventID(), r.Status())
		}
		r.Close()
	}
}

func TestRemoveRuntime_UnregistersAndCloses(t *testing.T) {
	t.Parallel()
	m, _, _, _, _, _ := newTestManager()
	r, err := m.CreateRuntime(context.Background(), "evt-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateRuntime failed: %v", err)
	}
	r.Start()

	m.RemoveRuntime("evt-1")

	if _, ok := m.Get("evt-1"); ok {
		t.Error("expected runtime unregistered after RemoveRuntime")
	}
	select {
	case <-r.done:
	default:
		t.Error("expected runtime done channel closed after RemoveRuntime")
	}
}

func TestRemoveRuntime_UnknownEventIDIsNoop(t *testing.T) {
	t.Parallel()
	m, _, _, _, _, _ := newTestManager()
	m.RemoveRuntime("does-not-exist") // must not panic
}

func TestAll_ReturnsEveryLiveRuntime(t *testing.T) {
	t.Parallel()
	m, _, _, _, _, _ := newTestManager()
	if _, err := m.CreateRuntime(context.Background(), "evt-1", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateRuntime(context.Background(), "evt-2", "agent-2"); err != nil {
		t.Fatal(err)
	}
	if len(m.All()) != 2 {
		t.Errorf("len(All()) = %d; want 2", len(m.All()))
	}
}

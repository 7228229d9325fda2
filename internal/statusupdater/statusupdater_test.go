package statusupdater

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weillium/eventrt/internal/cardsstore"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/ringbuffer"
	"github.com/weillium/eventrt/internal/runtime"
	"github.com/weillium/eventrt/internal/store"
)

type fakeBus struct {
	mu        sync.Mutex
	published []pushbus.Message
}

func (b *fakeBus) Publish(msg pushbus.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}
func (b *fakeBus) Subscribe(bufSize int) <-chan pushbus.Message { return nil }
func (b *fakeBus) Unsubscribe(ch <-chan pushbus.Message)        {}
func (b *fakeBus) SubscriberCount() int                         { return 0 }

type fakeAgentSessionStore struct {
	sessions map[eventmodel.AgentType]store.AgentSession
	err      error
}

func (s *fakeAgentSessionStore) DeleteForAgent(ctx context.Context, eventID, agentID string) error {
	return nil
}
func (s *fakeAgentSessionStore) InsertClosed(ctx context.Context, sess store.AgentSession) error {
	return nil
}
func (s *fakeAgentSessionStore) UpdateStatus(ctx context.Context, eventID string, agentType eventmodel.AgentType, status store.AgentSessionStatus, providerSessionID string) error {
	return nil
}
func (s *fakeAgentSessionStore) Get(ctx context.Context, eventID string) (map[eventmodel.AgentType]store.AgentSession, error) {
	return s.sessions, s.err
}
func (s *fakeAgentSessionStore) LogHistory(ctx context.Context, entry store.SessionHistoryEntry) error {
	return nil
}

func newTestRuntime(eventID string) *runtime.EventRuntime {
	return runtime.New(eventID, "agent-1", ringbuffer.New(100, 0), factsstore.New(50), cardsstore.New(10), glossary.New(nil), nil, 5*time.Minute)
}

type fakeRuntimeLister struct {
	runtimes []*runtime.EventRuntime
}

func (f *fakeRuntimeLister) All() []*runtime.EventRuntime { return f.runtimes }

func TestUpdateAndPushStatus_PublishesOnlyEnabledAgents(t *testing.T) {
	t.Parallel()
	r := newTestRuntime("evt-1")
	r.SetEnabledAgents(map[eventmodel.AgentType]bool{eventmodel.AgentTranscript: true, eventmodel.AgentCards: true})

	sessions := &fakeAgentSessionStore{sessions: map[eventmodel.AgentType]store.AgentSession{
		eventmodel.AgentTranscript: {Status: store.AgentSessionActive, ProviderSessionID: "sess-t"},
	}}
	bus := &fakeBus{}
	u := New(bus, sessions, &fakeRuntimeLister{}, 0)

	if err := u.UpdateAndPushStatus(context.Background(), r); err != nil {
		t.Fatalf("UpdateAndPushStatus: %v", err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.published) != 1 {
		t.Fatalf("published = %d; want 1", len(bus.published))
	}
	msg := bus.published[0]
	if msg.Type != pushbus.MessageStatusUpdate || msg.EventID != "evt-1" {
		t.Errorf("msg = %+v", msg)
	}
	agents, ok := msg.Data["agents"].([]pushbus.StatusSnapshot)
	if !ok {
		t.Fatalf("Data[\"agents\"] type = %T", msg.Data["agents"])
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %+v; want 2 entries (transcript + cards, facts excluded)", agents)
	}
	for _, snap := range agents {
		if snap.AgentType == eventmodel.AgentTranscript {
			if snap.Status != eventmodel.AgentStatusActive || snap.SessionID != "sess-t" {
				t.Errorf("transcript snapshot = %+v", snap)
			}
		}
		if snap.AgentType == eventmodel.AgentFacts {
			t.Error("facts should be excluded, not enabled")
		}
	}
}

func TestUpdateAndPushStatus_MissingSessionRowGetsZeroValueSnapshot(t *testing.T) {
	t.Parallel()
	r := newTestRuntime("evt-1")
	r.SetEnabledAgents(map[eventmodel.AgentType]bool{eventmodel.AgentCards: true})

	sessions := &fakeAgentSessionStore{sessions: map[eventmodel.AgentType]store.AgentSession{}}
	bus := &fakeBus{}
	u := New(bus, sessions, &fakeRuntimeLister{}, 0)

	if err := u.UpdateAndPushStatus(context.Background(), r); err != nil {
		t.Fatalf("UpdateAndPushStatus: %v", err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	agents := bus.published[0].Data["agents"].([]pushbus.StatusSnapshot)
	if len(agents) != 1 || agents[0].Status != "" || agents[0].SessionID != "" {
		t.Errorf("agents = %+v; want one zero-value snapshot", agents)
	}
}

func TestUpdateAndPushStatus_PropagatesSessionStoreError(t *testing.T) {
	t.Parallel()
	r := newTestRuntime("evt-1")
	sessions := &fakeAgentSessionStore{err: context.DeadlineExceeded}
	u := New(&fakeBus{}, sessions, &fakeRuntimeLister{}, 0)

	if err := u.UpdateAndPushStatus(context.Background(), r); err == nil {
		t.Fatal("expected error propagated from session store")
	}
}

func TestDurableStatusToAgentStatus_MapsEveryStatus(t *testing.T) {
	t.Parallel()
	cases := map[store.AgentSessionStatus]eventmodel.AgentStatus{
		store.AgentSessionActive:       eventmodel.AgentStatusActive,
		store.AgentSessionPaused:       eventmodel.AgentStatusPaused,
		store.AgentSessionError:        eventmodel.AgentStatusError,
		store.AgentSessionClosed:       eventmodel.AgentStatusIdle,
		store.AgentSessionDisconnected: eventmodel.AgentStatusIdle,
	}
	for in, want := range cases {
		if got := durableStatusToAgentStatus(in); got != want {
			t.Errorf("durableStatusToAgentStatus(%v) = %v; want %v", in, got, want)
		}
	}
}

func TestSweep_PublishesStatusForEveryLiveRuntime(t *testing.T) {
	t.Parallel()
	r1 := newTestRuntime("evt-1")
	r2 := newTestRuntime("evt-2")
	sessions := &fakeAgentSessionStore{sessions: map[eventmodel.AgentType]store.AgentSession{}}
	bus := &fakeBus{}
	u := New(bus, sessions, &fakeRuntimeLister{runtimes: []*runtime.EventRuntime{r1, r2}}, 0)

	u.sweep(context.Background())

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.published) != 2 {
		t.Errorf("published = %d; want 2", len(bus.published))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	bus := &fakeBus{}
	u := New(bus, &fakeAgentSessionStore{sessions: map[eventmodel.AgentType]store.AgentSession{}}, &fakeRuntimeLister{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRun_ZeroIntervalReturnsImmediately(t *testing.T) {
	t.Parallel()
	u := New(&fakeBus{}, &fakeAgentSessionStore{}, &fakeRuntimeLister{}, 0)
	done := make(chan struct{})
	go func() {
		u.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run with zero interval should return immediately")
	}
}

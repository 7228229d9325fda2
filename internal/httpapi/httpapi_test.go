package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/runtime"
)

type fakeOrchestrator struct {
	mu sync.Mutex

	appendErr, createErr, startErr, pauseErr, resumeErr error

	lastEventID, lastAgentID string
	lastAudio                modelsession.AudioChunk
}

func (o *fakeOrchestrator) AppendTranscriptAudio(eventID string, chunk modelsession.AudioChunk) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventID = eventID
	o.lastAudio = chunk
	return o.appendErr
}

func (o *fakeOrchestrator) CreateAgentSessionsForEvent(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventID = eventID
	return o.createErr
}

func (o *fakeOrchestrator) StartEvent(ctx context.Context, eventID, agentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventID, o.lastAgentID = eventID, agentID
	return o.startErr
}

func (o *fakeOrchestrator) PauseEvent(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventID = eventID
	return o.pauseErr
}

func (o *fakeOrchestrator) ResumeEvent(ctx context.Context, eventID, agentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastEventID, o.lastAgentID = eventID, agentID
	return o.resumeErr
}

var _ Orchestrator = (*fakeOrchestrator)(nil)

func newTestHandler(t *testing.T, orch *fakeOrchestrator, checkers ...Checker) (*Handler, *runtime.Manager) {
	t.Helper()
	events := &fakeEventStore{}
	transcripts := &fakeTranscriptStore{}
	facts := &fakeFactStore{}
	glossaries := &fakeGlossaryStore{}
	checkpoints := &fakeCheckpointStore{}
	manager := runtime.NewManager(events, transcripts, facts, glossaries, checkpoints)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(orch, manager, pushbus.New(), logger, checkers...), manager
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestAppendTranscriptAudio_Success(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	body, _ := json.Marshal(appendAudioRequest{EventID: "evt-1", AudioBase64: "abc"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/transcript/audio", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body=%s", rec.Code, rec.Body.String())
	}
	if orch.lastEventID != "evt-1" || orch.lastAudio.AudioBase64 != "abc" {
		t.Errorf("orchestrator not called with expected args: %+v", orch.lastAudio)
	}
}

func TestAppendTranscriptAudio_MissingFieldsReturns400(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	body, _ := json.Marshal(appendAudioRequest{EventID: "evt-1"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/transcript/audio", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestAppendTranscriptAudio_MalformedJSONReturns400(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/sessions/transcript/audio", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestAppendTranscriptAudio_OrchestratorErrorMapsToStatus(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{appendErr: apperr.ErrNotFound}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	body, _ := json.Marshal(appendAudioRequest{EventID: "missing", AudioBase64: "abc"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/transcript/audio", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}

func TestCreateAgentSessions_Success(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if orch.lastEventID != "evt-1" {
		t.Errorf("lastEventID = %q; want evt-1", orch.lastEventID)
	}
}

func TestStartEvent_MissingAgentIDReturns400(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/start", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestStartEvent_Success(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	body, _ := json.Marshal(startEventRequest{AgentID: "agent-1"})
	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if orch.lastEventID != "evt-1" || orch.lastAgentID != "agent-1" {
		t.Errorf("orchestrator not called with expected args: event=%q agent=%q", orch.lastEventID, orch.lastAgentID)
	}
}

func TestPauseEvent_Success(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/pause", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || orch.lastEventID != "evt-1" {
		t.Fatalf("status = %d, lastEventID = %q", rec.Code, orch.lastEventID)
	}
}

func TestResumeEvent_MissingAgentIDReturns400(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/resume", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestStopEvent_DelegatesToPause(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{}
	h, _ := newTestHandler(t, orch)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodPost, "/events/evt-1/stop", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || orch.lastEventID != "evt-1" {
		t.Fatalf("status = %d, lastEventID = %q; want stop to call PauseEvent", rec.Code, orch.lastEventID)
	}
}

func TestEventStatus_NoRuntimeReturnsAllNull(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/events/unknown/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp eventStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Transcript != nil || resp.Cards != nil || resp.Facts != nil {
		t.Errorf("resp = %+v; want all nil for an unknown event", resp)
	}
}

func TestEventStatus_WithDriverReturnsStatus(t *testing.T) {
	t.Parallel()
	h, manager := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	rt, err := manager.CreateRuntime(context.Background(), "evt-1", "agent-1")
	if err != nil {
		t.Fatalf("CreateRuntime: %v", err)
	}

	conn := &fakeConn{}
	driver := modelsession.New(modelsession.Config{
		AgentType: eventmodel.AgentCards,
		Dial: func(ctx context.Context, cfg modelsession.Config) (modelsession.Conn, error) {
			return conn, nil
		},
	})
	sessionID, err := driver.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rt.SetDriver(eventmodel.AgentCards, driver, sessionID)

	req := httptest.NewRequest(http.MethodGet, "/events/evt-1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp eventStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cards == nil || resp.Cards.Status != "active" || resp.Cards.SessionID != sessionID {
		t.Fatalf("resp.Cards = %+v; want active status with session id %q", resp.Cards, sessionID)
	}
	if resp.Transcript != nil || resp.Facts != nil {
		t.Errorf("expected transcript/facts to remain nil, got %+v / %+v", resp.Transcript, resp.Facts)
	}
}

func TestHealthz_NoCheckersReturnsOK(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rec.Code)
	}
}

func TestHealthz_FailingCheckerReturns503(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{}, Checker{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return errors.New("down") },
	})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want 503", rec.Code)
	}
}

func TestHealthz_PassingCheckerReturnsOK(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeOrchestrator{}, Checker{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return nil },
	})
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rec.Code)
	}
}

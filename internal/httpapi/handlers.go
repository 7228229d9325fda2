package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/pushbus"
)

// appendAudioRequest is the body of POST /sessions/transcript/audio, per
// spec §6.
type appendAudioRequest struct {
	EventID     string `json:"event_id"`
	AudioBase64 string `json:"audio_base64"`
	IsFinal     bool   `json:"is_final,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	DurationMs  int    `json:"duration_ms,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
}

// appendTranscriptAudio handles POST /sessions/transcript/audio.
func (h *Handler) appendTranscriptAudio(w http.ResponseWriter, r *http.Request) {
	var req appendAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed json body"})
		return
	}
	if req.EventID == "" || req.AudioBase64 == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "event_id and audio_base64 are required"})
		return
	}

	chunk := modelsession.AudioChunk{
		AudioBase64: req.AudioBase64,
		IsFinal:     req.IsFinal,
		SampleRate:  req.SampleRate,
		Encoding:    req.Encoding,
		DurationMs:  req.DurationMs,
		Speaker:     req.Speaker,
	}
	if err := h.orch.AppendTranscriptAudio(req.EventID, chunk); err != nil {
		h.writeError(w, "append_transcript_audio", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// createAgentSessions handles POST /events/{id}/sessions.
func (h *Handler) createAgentSessions(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if err := h.orch.CreateAgentSessionsForEvent(r.Context(), eventID); err != nil {
		h.writeError(w, "create_agent_sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// startEventRequest is the body of POST /events/{id}/start and
// /events/{id}/resume: the agent id isn't in the path, per spec §6's route
// shape, so it travels in the body.
type startEventRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) startEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	var req startEventRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "agent_id is required"})
		return
	}
	if err := h.orch.StartEvent(r.Context(), eventID, req.AgentID); err != nil {
		h.writeError(w, "start_event", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) pauseEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if err := h.orch.PauseEvent(r.Context(), eventID); err != nil {
		h.writeError(w, "pause_event", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) resumeEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	var req startEventRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "agent_id is required"})
		return
	}
	if err := h.orch.ResumeEvent(r.Context(), eventID, req.AgentID); err != nil {
		h.writeError(w, "resume_event", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// stopEvent handles POST /events/{id}/stop. Spec §6 only names the route;
// it is implemented as pause plus runtime removal isn't exposed here since
// shutdown/removal is process-lifecycle scoped (spec §4.11's shutdown), so
// stop is treated as an alias for pause: sessions are paused and the
// runtime stays resident for a later resume.
func (h *Handler) stopEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if err := h.orch.PauseEvent(r.Context(), eventID); err != nil {
		h.writeError(w, "stop_event", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// sessionStatus is one agent type's status snapshot within eventStatusResponse.
type sessionStatus struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// eventStatusResponse is the body of GET /events/{id}/status, per spec §6:
// each field is null if the runtime is absent.
type eventStatusResponse struct {
	Transcript *sessionStatus `json:"transcript"`
	Cards      *sessionStatus `json:"cards"`
	Facts      *sessionStatus `json:"facts"`
}

func (h *Handler) eventStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	rt, ok := h.runtimes.Get(eventID)
	if !ok {
		writeJSON(w, http.StatusOK, eventStatusResponse{})
		return
	}

	resp := eventStatusResponse{
		Transcript: snapshotFor(rt, eventmodel.AgentTranscript),
		Cards:      snapshotFor(rt, eventmodel.AgentCards),
		Facts:      snapshotFor(rt, eventmodel.AgentFacts),
	}
	writeJSON(w, http.StatusOK, resp)
}

func snapshotFor(rt interface {
	Driver(agentType eventmodel.AgentType) *modelsession.Driver
}, agentType eventmodel.AgentType) *sessionStatus {
	d := rt.Driver(agentType)
	if d == nil {
		return nil
	}
	return &sessionStatus{Status: d.Status().String(), SessionID: d.SessionID()}
}

// eventStream handles GET /events/{id}/stream: an SSE feed of push-bus
// messages filtered to this event id.
func (h *Handler) eventStream(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if err := pushbus.ServeSSE(h.bus, h.logger, w, r, eventID); err != nil {
		h.logger.Warn("httpapi: sse stream ended", "event_id", eventID, "error", err)
	}
}

type healthzResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthz handles GET /healthz, in the teacher's internal/health idiom:
// evaluate every registered Checker, 200 only if all pass.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if len(h.checkers) == 0 {
		writeJSON(w, http.StatusOK, healthzResponse{Status: "ok"})
		return
	}

	checks := make(map[string]string, len(h.checkers))
	allOK := true
	for _, c := range h.checkers {
		if err := c.Check(r.Context()); err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
			continue
		}
		checks[c.Name] = "ok"
	}

	status := http.StatusOK
	resp := healthzResponse{Status: "ok", Checks: checks}
	if !allOK {
		status = http.StatusServiceUnavailable
		resp.Status = "fail"
	}
	writeJSON(w, status, resp)
}

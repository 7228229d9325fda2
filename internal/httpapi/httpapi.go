// Package httpapi implements the control-plane HTTP API of spec §6: a
// small JSON API for transcript audio ingestion, session/runtime
// lifecycle control, status inspection, and an SSE push-bus stream.
// Grounded on the teacher's internal/health handler-struct-with-Register
// idiom: a dependency-holding Handler type whose methods are
// http.HandlerFuncs, registered onto a caller-owned *http.ServeMux via
// Go 1.22 method-pattern routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/pushbus"
	"github.com/weillium/eventrt/internal/runtime"
)

// Orchestrator is the slice of Orchestrator operations the control plane
// drives. Implemented by *orchestrator.Orchestrator.
type Orchestrator interface {
	AppendTranscriptAudio(eventID string, chunk modelsession.AudioChunk) error
	CreateAgentSessionsForEvent(ctx context.Context, eventID string) error
	StartEvent(ctx context.Context, eventID, agentID string) error
	PauseEvent(ctx context.Context, eventID string) error
	ResumeEvent(ctx context.Context, eventID, agentID string) error
}

// Checker is a named liveness check, in the teacher's internal/health
// shape.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the control-plane routes. Its dependency set is fixed at
// construction time; it is safe for concurrent use.
type Handler struct {
	orch     Orchestrator
	runtimes *runtime.Manager
	bus      pushbus.Bus
	logger   *slog.Logger
	checkers []Checker
}

// New constructs a Handler. logger defaults to slog.Default() if nil.
func New(orch Orchestrator, runtimes *runtime.Manager, bus pushbus.Bus, logger *slog.Logger, checkers ...Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, runtimes: runtimes, bus: bus, logger: logger, checkers: checkers}
}

// Register adds every control-plane route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/transcript/audio", h.appendTranscriptAudio)
	mux.HandleFunc("POST /events/{id}/sessions", h.createAgentSessions)
	mux.HandleFunc("POST /events/{id}/start", h.startEvent)
	mux.HandleFunc("POST /events/{id}/pause", h.pauseEvent)
	mux.HandleFunc("POST /events/{id}/resume", h.resumeEvent)
	mux.HandleFunc("POST /events/{id}/stop", h.stopEvent)
	mux.HandleFunc("GET /events/{id}/status", h.eventStatus)
	mux.HandleFunc("GET /events/{id}/stream", h.eventStream)
	mux.HandleFunc("GET /healthz", h.healthz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failure"}`, http.StatusInternalServerError)
	}
}

type apiError struct {
	Error string `json:"error"`
}

// statusForError maps the package's sentinel errors to the HTTP status
// codes named in spec §6.
func statusForError(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("httpapi: request failed", "op", op, "error", err)
	writeJSON(w, statusForError(err), apiError{Error: err.Error()})
}

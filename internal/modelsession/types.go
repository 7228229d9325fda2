// Package modelsession implements SessionDriver (spec §4.5): one long-lived
// duplex connection to an upstream model session, with heartbeat, reconnect,
// an at-most-one-in-flight message queue, and an inbound event router.
//
// The wire protocol is a generic JSON event stream keyed by a "type" field,
// modelled directly on the teacher's hand-rolled OpenAI Realtime API client
// (pkg/provider/s2s/openai) rather than any chat-completions SDK, per
// SPEC_FULL.md §2.2 (the upstream model provider is out of scope beyond the
// Model Session event contract in spec.md §6).
package modelsession

import (
	"context"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Status is the SessionDriver lifecycle state (spec §4.5).
type Status int

const (
	StatusCreated Status = iota
	StatusConnecting
	StatusActive
	StatusPaused
	StatusClosing
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolDefinition describes a tool the model may invoke, wire-encoded as part
// of the session configuration payload.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
	CacheableSeconds    int
}

// AudioChunk is opaque audio data appended to a transcript driver. Bytes are
// passed through without codec interpretation, per spec.md §1's Non-goals.
type AudioChunk struct {
	AudioBase64 string
	IsFinal     bool
	SampleRate  int
	Encoding    string
	DurationMs  int
	Speaker     string
}

// ToolCallHandler is invoked synchronously from the receive loop whenever the
// model requests a tool call. Implementations must not call blocking Driver
// methods from within the handler.
type ToolCallHandler func(name, argsJSON string) (result string, err error)

// StatusCallback receives one call per status transition, as described in
// spec §4.5's "status machine emits to a single user-supplied callback".
type StatusCallback func(agentType eventmodel.AgentType, status Status, sessionID string)

// TextDeltaHandler receives incremental response text (used by the
// transcript driver's transcription stream and the facts/cards drivers'
// response text stream).
type TextDeltaHandler func(delta string)

// TextDoneHandler receives the final accumulated text for a turn.
type TextDoneHandler func(full string)

// TranscriptionHandler receives a completed transcription event; only
// meaningful on the transcript driver.
type TranscriptionHandler func(text string)

// ErrorHandler receives non-fatal provider error events.
type ErrorHandler func(err error)

// Config configures a Driver at construction time.
type Config struct {
	AgentType eventmodel.AgentType

	// URL is the websocket endpoint, e.g. "wss://.../v1/realtime?model=...".
	URL string
	// APIKey is sent as a bearer token in the dial handshake.
	APIKey string

	// Instructions is the initial policy prompt sent in the session
	// configuration payload.
	Instructions string
	Tools        []ToolDefinition

	OnStatusChange    StatusCallback
	OnToolCall        ToolCallHandler
	OnResponseDelta   TextDeltaHandler
	OnResponseDone    TextDoneHandler
	OnTranscriptDelta TranscriptionHandler
	OnTranscriptDone  TranscriptionHandler
	OnError           ErrorHandler

	// MaxRetries, Backoff, MaxBackoff configure the reconnect policy. Zero
	// values fall back to spec §4.5's defaults (10, 1s, 30s).
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// HeartbeatInterval and HeartbeatTimeout configure the ping/pong
	// liveness check. Zero values fall back to 25s/10s.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// SendTimeout bounds every response-expecting send's wait for
	// response.done before the queue cancels and proceeds. Zero falls back
	// to 30s, per spec §5's default model-send deadline.
	SendTimeout time.Duration

	// Dial is overridable for tests; defaults to a real websocket dial.
	Dial DialFunc
}

// DialFunc establishes the transport connection used by a Driver. The
// default implementation dials a real websocket; tests may substitute a
// fake transport.
type DialFunc func(ctx context.Context, cfg Config) (Conn, error)

// Conn is the minimal transport surface Driver depends on, satisfied by
// *websocket.Conn via the wsConn adapter and by fakes in tests.
type Conn interface {
	WriteJSON(ctx context.Context, v any) error
	ReadJSON(ctx context.Context, v any) error
	Ping(ctx context.Context) error
	Close() error
}

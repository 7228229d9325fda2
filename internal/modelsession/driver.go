package modelsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/resilience"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second

	defaultSendTimeout = 30 * time.Second
)

type sendRequest struct {
	envelope         any
	responseExpected bool
}

// Driver implements spec §4.5's SessionDriver: one long-lived duplex
// connection to an upstream model, with heartbeat, reconnect, an
// at-most-one-in-flight message queue, and an inbound event router.
//
// Safe for concurrent use.
type Driver struct {
	cfg       Config
	agentType eventmodel.AgentType

	maxRetries        int
	backoff           time.Duration
	maxBackoff        time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	sendTimeout       time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	status      Status
	sessionID   string
	conn        Conn
	generation  int
	resumeGate  chan struct{} // non-nil while paused; closed on resume
	pendingDone chan struct{} // non-nil while a response-expecting send is in flight

	currentText string

	sendCh chan sendRequest

	closeOnce sync.Once

	// breaker short-circuits repeated dial attempts against a provider that
	// is down, rather than hammering it once per reconnect backoff step.
	breaker *resilience.CircuitBreaker
}

// New constructs a Driver in the created state. Call Connect to dial.
func New(cfg Config) *Driver {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Driver{
		cfg:               cfg,
		agentType:         cfg.AgentType,
		maxRetries:        orDefaultInt(cfg.MaxRetries, defaultMaxRetries),
		backoff:           orDefaultDuration(cfg.Backoff, defaultBackoff),
		maxBackoff:        orDefaultDuration(cfg.MaxBackoff, defaultMaxBackoff),
		heartbeatInterval: orDefaultDuration(cfg.HeartbeatInterval, defaultHeartbeatInterval),
		heartbeatTimeout:  orDefaultDuration(cfg.HeartbeatTimeout, defaultHeartbeatTimeout),
		sendTimeout:       orDefaultDuration(cfg.SendTimeout, defaultSendTimeout),
		ctx:               ctx,
		cancel:            cancel,
		status:            StatusCreated,
		sendCh:            make(chan sendRequest, 64),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "modelsession." + string(cfg.AgentType),
			MaxFailures: orDefaultInt(cfg.MaxRetries, defaultMaxRetries),
		}),
	}
	return d
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Status returns the driver's current lifecycle status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// SessionID returns the current provider-assigned (or locally generated)
// session id.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// Connect establishes the connection, sends the initial configuration, and
// transitions to active. Idempotent: calling Connect on an already-active
// driver returns the existing session id.
func (d *Driver) Connect(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.status == StatusActive {
		id := d.sessionID
		d.mu.Unlock()
		return id, nil
	}
	d.status = StatusConnecting
	d.mu.Unlock()

	sessionID, err := d.dialAndConfigure(ctx)
	if err != nil {
		d.setStatus(StatusError, "")
		return "", &apperr.FatalError{Op: "modelsession.Connect", Message: "dial failed", Cause: err}
	}

	go d.queueLoop()

	d.setStatus(StatusActive, sessionID)
	return sessionID, nil
}

// dialAndConfigure dials the transport, sends the session configuration
// payload, and starts the receive and heartbeat loops for the new
// connection generation.
func (d *Driver) dialAndConfigure(ctx context.Context) (string, error) {
	dial := d.cfg.Dial
	if dial == nil {
		dial = dialWebsocket
	}

	var conn Conn
	breakerErr := d.breaker.Execute(func() error {
		var dialErr error
		conn, dialErr = dial(ctx, d.cfg)
		return dialErr
	})
	if breakerErr != nil {
		if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
			return "", fmt.Errorf("modelsession: %w", breakerErr)
		}
		return "", fmt.Errorf("modelsession: dial: %w", breakerErr)
	}

	update := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Instructions: d.cfg.Instructions,
			Tools:        toWireTools(d.cfg.Tools),
		},
	}
	if err := conn.WriteJSON(ctx, update); err != nil {
		conn.Close()
		return "", fmt.Errorf("modelsession: session update: %w", err)
	}

	sessionID := uuid.NewString()

	d.mu.Lock()
	d.conn = conn
	d.sessionID = sessionID
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	go d.receiveLoop(gen, conn)
	go d.heartbeatLoop(gen, conn)

	return sessionID, nil
}

// Pause suppresses outbound sends while keeping the inbound receive loop
// draining. The socket is left open.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != StatusActive {
		return nil
	}
	d.status = StatusPaused
	d.resumeGate = make(chan struct{})
	d.notifyStatusLocked("")
	return nil
}

// Resume returns the driver to active. If the underlying connection was
// dropped while paused, it reconnects.
func (d *Driver) Resume(ctx context.Context) (string, error) {
	d.mu.Lock()
	wasPaused := d.status == StatusPaused
	gate := d.resumeGate
	connNil := d.conn == nil
	d.mu.Unlock()

	if !wasPaused {
		return d.SessionID(), nil
	}

	if connNil {
		sessionID, err := d.dialAndConfigure(ctx)
		if err != nil {
			d.setStatus(StatusError, "")
			return "", &apperr.FatalError{Op: "modelsession.Resume", Message: "reconnect failed", Cause: err}
		}
		d.mu.Lock()
		d.status = StatusActive
		if gate != nil {
			close(gate)
		}
		d.resumeGate = nil
		d.notifyStatusLocked(sessionID)
		d.mu.Unlock()
		return sessionID, nil
	}

	d.mu.Lock()
	d.status = StatusActive
	if gate != nil {
		close(gate)
	}
	d.resumeGate = nil
	id := d.sessionID
	d.notifyStatusLocked(id)
	d.mu.Unlock()
	return id, nil
}

// Close transitions to closed, cancels the heartbeat and receive loops, and
// discards any pending queue. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.status = StatusClosing
		conn := d.conn
		gate := d.resumeGate
		d.resumeGate = nil
		d.mu.Unlock()

		if gate != nil {
			close(gate)
		}
		d.cancel()
		if conn != nil {
			conn.Close()
		}

		d.setStatus(StatusClosed, "")
	})
	return nil
}

// Send enqueues message for delivery. When responseExpected is true, the
// queue guarantees no other response-expecting send is delivered until the
// prior one's response.done arrives or its timeout fires.
func (d *Driver) Send(envelope any, responseExpected bool) error {
	d.mu.Lock()
	status := d.status
	d.mu.Unlock()

	if status == StatusClosed || status == StatusClosing {
		return fmt.Errorf("modelsession: send on %s driver: %w", status, apperr.ErrValidation)
	}

	select {
	case d.sendCh <- sendRequest{envelope: envelope, responseExpected: responseExpected}:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// AppendAudioChunk streams an opaque audio chunk to the provider. Valid only
// for transcript-agent drivers.
func (d *Driver) AppendAudioChunk(chunk AudioChunk) error {
	if d.agentType != eventmodel.AgentTranscript {
		return fmt.Errorf("modelsession: append audio on non-transcript driver: %w", apperr.ErrValidation)
	}
	msg := appendAudioMessage{
		Type:       "input_audio_buffer.append",
		Audio:      chunk.AudioBase64,
		Final:      chunk.IsFinal,
		SampleRate: chunk.SampleRate,
		Encoding:   chunk.Encoding,
		DurationMs: chunk.DurationMs,
		Speaker:    chunk.Speaker,
	}
	return d.Send(msg, false)
}

// SendPromptTurn enqueues a user-role conversation item carrying text and
// triggers a response. The triggering response.create participates in the
// driver's at-most-one-response-expecting-in-flight guarantee, so callers
// may invoke this once per turn without their own queueing.
func (d *Driver) SendPromptTurn(text string) error {
	if err := d.Send(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "text", Text: text}},
		},
	}, false); err != nil {
		return err
	}
	return d.Send(responseCreateMessage{Type: "response.create"}, true)
}

// CancelResponse requests cancellation of the in-flight response, used by
// callers enforcing their own send timeout ahead of the queue's own
// sendTimeout fallback.
func (d *Driver) CancelResponse() error {
	return d.Send(responseCancelMessage{Type: "response.cancel"}, false)
}

// queueLoop drains sendCh, enforcing the at-most-one-response-expecting-
// in-flight guarantee and the pause gate.
func (d *Driver) queueLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case req := <-d.sendCh:
			d.mu.Lock()
			gate := d.resumeGate
			d.mu.Unlock()
			if gate != nil {
				select {
				case <-gate:
				case <-d.ctx.Done():
					return
				}
			}

			if req.responseExpected {
				d.mu.Lock()
				prev := d.pendingDone
				d.mu.Unlock()
				if prev != nil {
					select {
					case <-prev:
					case <-time.After(d.sendTimeout):
						slog.Warn("modelsession: response timeout, proceeding", "agent_type", d.agentType)
						_ = d.writeJSON(responseCancelMessage{Type: "response.cancel"})
					case <-d.ctx.Done():
						return
					}
				}
				done := make(chan struct{})
				d.mu.Lock()
				d.pendingDone = done
				d.mu.Unlock()
			}

			if err := d.writeJSON(req.envelope); err != nil {
				slog.Warn("modelsession: send failed", "agent_type", d.agentType, "error", err)
			}
		}
	}
}

// writeJSON writes v on the current connection, if any.
func (d *Driver) writeJSON(v any) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("modelsession: no active connection")
	}
	return conn.WriteJSON(d.ctx, v)
}

// receiveLoop reads and dispatches inbound events for one connection
// generation. It exits (without reconnecting itself) on read error or
// context cancellation; a stale generation's events are ignored.
func (d *Driver) receiveLoop(gen int, conn Conn) {
	for {
		var evt serverEvent
		if err := conn.ReadJSON(d.ctx, &evt); err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.handleTransientDisconnect(gen, err)
			return
		}
		d.dispatch(gen, &evt)
	}
}

func (d *Driver) dispatch(gen int, evt *serverEvent) {
	if !d.isCurrentGeneration(gen) {
		return
	}

	switch evt.Type {
	case "tool_call":
		d.handleToolCall(evt)

	case "response.text.delta":
		if evt.Delta == "" {
			return
		}
		d.mu.Lock()
		d.currentText += evt.Delta
		d.mu.Unlock()
		if d.cfg.OnResponseDelta != nil {
			d.cfg.OnResponseDelta(evt.Delta)
		}

	case "response.text.done":
		d.mu.Lock()
		full := d.currentText
		d.currentText = ""
		d.mu.Unlock()
		if d.cfg.OnResponseDone != nil {
			d.cfg.OnResponseDone(full)
		}

	case "response.done":
		d.mu.Lock()
		done := d.pendingDone
		d.pendingDone = nil
		d.mu.Unlock()
		if done != nil {
			close(done)
		}

	case "transcription.delta":
		if d.cfg.OnTranscriptDelta != nil {
			d.cfg.OnTranscriptDelta(evt.Delta)
		}

	case "transcription.completed":
		if d.cfg.OnTranscriptDone != nil {
			d.cfg.OnTranscriptDone(evt.Transcript)
		}

	case "session.created", "session.updated":
		if evt.SessionID != "" {
			d.mu.Lock()
			d.sessionID = evt.SessionID
			d.mu.Unlock()
		}

	case "error":
		if d.cfg.OnError != nil {
			msg := "unknown error"
			if evt.Error != nil && evt.Error.Message != "" {
				msg = evt.Error.Message
			}
			d.cfg.OnError(fmt.Errorf("modelsession: %s", msg))
		}

	case "pong":
		// transport-level liveness is tracked via Conn.Ping; an app-level
		// pong is accepted but requires no action.
	}
}

func (d *Driver) handleToolCall(evt *serverEvent) {
	if d.cfg.OnToolCall == nil {
		return
	}
	result, err := d.cfg.OnToolCall(evt.Name, evt.Arguments)
	if err != nil {
		data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
		if marshalErr == nil {
			result = string(data)
		}
	}
	_ = d.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	})
	_ = d.writeJSON(responseCreateMessage{Type: "response.create"})
}

// heartbeatLoop pings the connection every heartbeatInterval and triggers a
// reconnect after two consecutive missed pongs.
func (d *Driver) heartbeatLoop(gen int, conn Conn) {
	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.isCurrentGeneration(gen) {
				return
			}
			pingCtx, cancel := context.WithTimeout(d.ctx, d.heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				missed++
				slog.Warn("modelsession: missed heartbeat pong", "agent_type", d.agentType, "missed", missed)
				if missed >= 2 {
					d.handleTransientDisconnect(gen, fmt.Errorf("heartbeat: %w", err))
					return
				}
				continue
			}
			missed = 0
		}
	}
}

func (d *Driver) isCurrentGeneration(gen int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation == gen
}

// handleTransientDisconnect is invoked once per dropped connection; it
// starts the reconnect attempt loop with exponential backoff and full
// jitter, surfacing a fatal error after maxRetries attempts.
func (d *Driver) handleTransientDisconnect(gen int, cause error) {
	if !d.isCurrentGeneration(gen) {
		return
	}
	d.mu.Lock()
	if d.status == StatusClosing || d.status == StatusClosed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.setStatus(StatusError, "")
	slog.Warn("modelsession: connection dropped, reconnecting", "agent_type", d.agentType, "error", cause)

	go d.reconnectLoop(gen)
}

func (d *Driver) reconnectLoop(staleGen int) {
	currentBackoff := d.backoff

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		sessionID, err := d.dialAndConfigure(d.ctx)
		if err == nil {
			slog.Info("modelsession: reconnected", "agent_type", d.agentType, "attempt", attempt)
			d.setStatus(StatusActive, sessionID)
			return
		}

		slog.Warn("modelsession: reconnect attempt failed", "agent_type", d.agentType, "attempt", attempt, "error", err)

		jittered := fullJitter(currentBackoff)
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(jittered):
		}

		currentBackoff *= 2
		if currentBackoff > d.maxBackoff {
			currentBackoff = d.maxBackoff
		}
	}

	slog.Error("modelsession: reconnect exhausted, surfacing fatal", "agent_type", d.agentType, "max_retries", d.maxRetries)
	d.setStatus(StatusError, "")
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func (d *Driver) setStatus(status Status, sessionID string) {
	d.mu.Lock()
	d.status = status
	if sessionID != "" {
		d.sessionID = sessionID
	}
	id := d.sessionID
	d.notifyStatusLocked(id)
	d.mu.Unlock()
}

// notifyStatusLocked invokes the status callback. Must hold d.mu.
func (d *Driver) notifyStatusLocked(sessionID string) {
	if d.cfg.OnStatusChange == nil {
		return
	}
	status := d.status
	if sessionID == "" {
		sessionID = d.sessionID
	}
	go d.cfg.OnStatusChange(d.agentType, status, sessionID)
}

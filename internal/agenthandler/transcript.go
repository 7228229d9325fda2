package agenthandler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// SeqAllocator hands out the next dense transcript sequence number for an
// event. Implemented by internal/runtime's EventRuntime.
type SeqAllocator interface {
	NextTranscriptSeq() uint64
}

// TranscriptWriter is the write-through durable log target.
type TranscriptWriter interface {
	Insert(ctx context.Context, eventID string, chunk eventmodel.TranscriptChunk) error
}

// TranscriptSink receives a finalized chunk for processing (card trigger
// evaluation, facts scheduling). Implemented by internal/processor's
// EventProcessor.
type TranscriptSink interface {
	HandleTranscript(chunk eventmodel.TranscriptChunk)
}

// TranscriptHandler implements the transcript agent's handler described in
// spec §4.6: it consumes inbound transcription events, assigns the chunk its
// dense sequence number, writes through to the durable log, and hands the
// chunk to the EventProcessor. Interim (transcription.delta) text is
// accumulated but never advances sequences.
type TranscriptHandler struct {
	eventID string
	seq     SeqAllocator
	writer  TranscriptWriter
	sink    TranscriptSink

	mu     sync.Mutex
	interim string
}

// NewTranscriptHandler constructs a TranscriptHandler for one event.
func NewTranscriptHandler(eventID string, seq SeqAllocator, writer TranscriptWriter, sink TranscriptSink) *TranscriptHandler {
	return &TranscriptHandler{eventID: eventID, seq: seq, writer: writer, sink: sink}
}

// OnDelta handles transcription.delta events. It accumulates interim text
// without advancing any sequence counter.
func (h *TranscriptHandler) OnDelta(delta string) {
	h.mu.Lock()
	h.interim += delta
	h.mu.Unlock()
}

// OnCompleted handles transcription.completed events: it builds a finalized
// TranscriptChunk at the next dense sequence, writes it through to the
// durable log, and forwards it to the EventProcessor.
func (h *TranscriptHandler) OnCompleted(text string) {
	h.mu.Lock()
	h.interim = ""
	h.mu.Unlock()

	if text == "" {
		return
	}

	chunk := eventmodel.TranscriptChunk{
		Seq:   h.seq.NextTranscriptSeq(),
		AtMs:  time.Now().UnixMilli(),
		Text:  text,
		Final: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.writer.Insert(ctx, h.eventID, chunk); err != nil {
		slog.Error("agenthandler: write-through transcript insert failed", "event_id", h.eventID, "seq", chunk.Seq, "error", err)
	}

	h.sink.HandleTranscript(chunk)
}

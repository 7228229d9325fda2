package runtime

import (
	"log/slog"
	"sort"
	"time"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
)

// command is the mailbox's single envelope type. A transcript chunk goes
// through the reorder buffer before dispatch; every other mutation (spec
// §4.8's AppendAudio/HandleCardResponse/HandleFactsResponse/
// SessionStatusChange/Pause/Resume/Close/Shutdown/Checkpoint) is a plain
// closure, following the single-consumer-goroutine idiom already used by
// modelsession.Driver's sendCh/queueLoop for serializing mutation of one
// owned resource onto one goroutine.
type command struct {
	transcript *eventmodel.TranscriptChunk
	fn         func()
}

// reorderState buffers out-of-order HandleTranscript chunks for up to
// REORDER_MS before releasing them in seq order, per spec §5. It is only
// ever touched from the mailbox actor goroutine, so it needs no locking of
// its own.
type reorderState struct {
	buf        map[uint64]eventmodel.TranscriptChunk
	next       uint64
	started    bool
	windowSize int
	delay      time.Duration
}

// Enqueue submits a generic mailbox command. Non-blocking: a full mailbox
// (spec §4.8's bounded channel, default 1024) returns apperr.ErrBusy rather
// than blocking the caller.
func (r *EventRuntime) Enqueue(fn func()) error {
	select {
	case r.mailbox <- command{fn: fn}:
		return nil
	default:
		return apperr.ErrBusy
	}
}

// EnqueueTranscript submits a transcript chunk for seq-ordered dispatch.
func (r *EventRuntime) EnqueueTranscript(chunk eventmodel.TranscriptChunk) error {
	c := chunk
	select {
	case r.mailbox <- command{transcript: &c}:
		return nil
	default:
		return apperr.ErrBusy
	}
}

// Do is the synchronous counterpart to Enqueue: it submits fn to the
// mailbox actor and blocks the caller until fn has run, so that the caller
// observes fn's effects (or any state fn left behind) before proceeding.
// Per spec §5, this is the serialization point for every runtime mutation
// that originates off the actor goroutine — status transitions, pause/
// resume/close, and driver-goroutine callbacks (session status changes,
// tool calls) — so that exactly one task executes a runtime's mutations at
// a time. Like Enqueue, a full mailbox returns apperr.ErrBusy immediately
// without running fn. Must never be called from within fn itself or from
// the actor goroutine (run()), which would deadlock.
func (r *EventRuntime) Do(fn func()) error {
	done := make(chan struct{})
	err := r.Enqueue(func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (r *EventRuntime) run() {
	sweepTicker := time.NewTicker(10 * r.cardFreshnessWindow / 2)
	defer sweepTicker.Stop()

	var reorderTimer *time.Timer
	var reorderTimerC <-chan time.Time

	armReorderTimer := func() {
		if reorderTimerC != nil {
			return
		}
		reorderTimer = time.NewTimer(r.reorder.delay)
		reorderTimerC = reorderTimer.C
	}
	disarmReorderTimer := func() {
		if reorderTimer != nil {
			reorderTimer.Stop()
		}
		reorderTimerC = nil
	}

	for {
		select {
		case <-r.done:
			disarmReorderTimer()
			return

		case <-sweepTicker.C:
			r.sweepPendingCardConcepts()

		case <-reorderTimerC:
			reorderTimerC = nil
			r.flushReorderBuffer()

		case cmd := <-r.mailbox:
			if cmd.transcript != nil {
				released := r.admitTranscript(*cmd.transcript)
				for _, c := range released {
					r.dispatchTranscript(c)
				}
				if len(r.reorder.buf) > 0 {
					armReorderTimer()
				} else {
					disarmReorderTimer()
				}
				continue
			}
			if cmd.fn != nil {
				cmd.fn()
			}
		}
	}
}

// admitTranscript implements spec §5's reorder-buffer admission: chunks at
// or ahead of the expected seq are released immediately (draining any run
// of now-contiguous buffered chunks); a chunk behind the expected seq is a
// stale duplicate and is logged and dropped; once the buffer exceeds
// REORDER_WINDOW, the oldest run is force-flushed rather than waiting out
// REORDER_MS, bounding memory.
func (r *EventRuntime) admitTranscript(chunk eventmodel.TranscriptChunk) []eventmodel.TranscriptChunk {
	if !r.reorder.started {
		r.reorder.next = chunk.Seq
		r.reorder.started = true
	}

	if chunk.Seq < r.reorder.next {
		slog.Warn("runtime: dropping stale transcript chunk", "event_id", r.eventID, "seq", chunk.Seq, "expected", r.reorder.next)
		return nil
	}

	r.reorder.buf[chunk.Seq] = chunk

	var released []eventmodel.TranscriptChunk
	for {
		c, ok := r.reorder.buf[r.reorder.next]
		if !ok {
			break
		}
		released = append(released, c)
		delete(r.reorder.buf, r.reorder.next)
		r.reorder.next++
	}

	if len(r.reorder.buf) > r.reorder.windowSize {
		released = append(released, r.forceFlushOldest()...)
	}

	return released
}

// forceFlushOldest releases the buffer's full contents in seq order,
// advancing reorder.next past any gap, used when REORDER_WINDOW is
// exceeded before REORDER_MS elapses.
func (r *EventRuntime) forceFlushOldest() []eventmodel.TranscriptChunk {
	seqs := make([]uint64, 0, len(r.reorder.buf))
	for s := range r.reorder.buf {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	out := make([]eventmodel.TranscriptChunk, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, r.reorder.buf[s])
		delete(r.reorder.buf, s)
	}
	if len(seqs) > 0 {
		r.reorder.next = seqs[len(seqs)-1] + 1
	}
	return out
}

// flushReorderBuffer is the REORDER_MS timeout path: whatever remains
// buffered is released in seq order, and the gap is treated as permanently
// skipped (reorder.next jumps past it).
func (r *EventRuntime) flushReorderBuffer() {
	if len(r.reorder.buf) == 0 {
		return
	}
	for _, c := range r.forceFlushOldest() {
		r.dispatchTranscript(c)
	}
}

func (r *EventRuntime) dispatchTranscript(chunk eventmodel.TranscriptChunk) {
	if r.processor == nil {
		return
	}
	r.processor.HandleTranscript(chunk)
}

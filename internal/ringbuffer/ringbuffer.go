// Package ringbuffer provides a bounded, time-and-count-windowed sequence of
// transcript chunks with recency and summary views.
//
// Chunks live in a plain slice: append is O(1) amortized and eviction drops
// entries from the front. There is no fixed-capacity arena or head index;
// every read copies the contents and sorts them by seq.
//
// RingBuffer is safe for concurrent use.
package ringbuffer

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Stats summarises the current contents of a RingBuffer.
type Stats struct {
	Finalized int
	Total     int
}

// RingBuffer is a bounded FIFO of eventmodel.TranscriptChunk values with two
// simultaneous caps: MaxItems and MaxAge. Insertion out of seq order keeps
// total order by seq — entries are sorted on read, not on write, so add
// remains O(1) amortized.
type RingBuffer struct {
	maxItems int
	maxAge   time.Duration

	mu             sync.Mutex
	items          []eventmodel.TranscriptChunk
	finalizedCount int
	now            func() time.Time
}

// New creates a RingBuffer bounded by maxItems entries and maxAge age.
func New(maxItems int, maxAge time.Duration) *RingBuffer {
	return &RingBuffer{
		maxItems: maxItems,
		maxAge:   maxAge,
		items:    make([]eventmodel.TranscriptChunk, 0, maxItems),
		now:      time.Now,
	}
}

// Add appends chunk, evicting from the head while either cap is exceeded.
// Total order by seq is preserved for reads regardless of arrival order.
func (r *RingBuffer) Add(chunk eventmodel.TranscriptChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, chunk)
	if chunk.Final {
		r.finalizedCount++
	}
	r.evictLocked()
}

// evictLocked drops from the head while over either cap. Must hold r.mu.
func (r *RingBuffer) evictLocked() {
	cutoff := r.now().Add(-r.maxAge).UnixMilli()

	for len(r.items) > 0 {
		over := len(r.items) > r.maxItems
		stale := r.maxAge > 0 && r.items[0].AtMs < cutoff
		if !over && !stale {
			break
		}
		if r.items[0].Final {
			r.finalizedCount--
		}
		r.items = r.items[1:]
	}
}

// sortedLocked returns a copy of the buffer's contents ordered by ascending
// seq. Must hold r.mu.
func (r *RingBuffer) sortedLocked() []eventmodel.TranscriptChunk {
	out := make([]eventmodel.TranscriptChunk, len(r.items))
	copy(out, r.items)
	// items arrive nearly in order in the common case; insertion sort keeps
	// this cheap and avoids importing sort for what is usually a no-op.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Seq > out[j].Seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// GetLastN returns the most recent n finalized chunks, oldest first.
func (r *RingBuffer) GetLastN(n int) []eventmodel.TranscriptChunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := r.sortedLocked()
	finalized := make([]eventmodel.TranscriptChunk, 0, len(sorted))
	for _, c := range sorted {
		if c.Final {
			finalized = append(finalized, c)
		}
	}
	if n <= 0 || n >= len(finalized) {
		return finalized
	}
	return finalized[len(finalized)-n:]
}

// GetRecentText concatenates the text fields of GetLastN(n), truncated from
// the left to maxChars.
func (r *RingBuffer) GetRecentText(n, maxChars int) string {
	chunks := r.GetLastN(n)
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Text)
	}
	text := strings.Join(parts, " ")
	return truncateLeft(text, maxChars)
}

// GetContextBullets renders the last n finalized chunks as "[speaker] text"
// lines, with an overall character cap.
func (r *RingBuffer) GetContextBullets(n, maxChars int) string {
	chunks := r.GetLastN(n)
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		speaker := c.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		lines = append(lines, "["+speaker+"] "+c.Text)
	}
	text := strings.Join(lines, "\n")
	return truncateLeft(text, maxChars)
}

// GetStats returns the current finalized/total counts.
func (r *RingBuffer) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Finalized: r.finalizedCount, Total: len(r.items)}
}

// truncateLeft trims s from the left so that at most maxChars runes remain.
// maxChars <= 0 disables truncation.
func truncateLeft(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}
	return string(runes[len(runes)-maxChars:])
}

// CountConceptOccurrences counts case-insensitive substring occurrences of
// label across chunks' Text fields. Exposed here (rather than in the card
// trigger package) because it operates purely over chunk slices.
func CountConceptOccurrences(chunks []eventmodel.TranscriptChunk, label string) int {
	if label == "" {
		return 0
	}
	lowered := strings.ToLower(label)
	count := 0
	for _, c := range chunks {
		if strings.Contains(strings.ToLower(c.Text), lowered) {
			count++
		}
	}
	return count
}

// FormatSeq renders seq as a base-10 string.
func FormatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

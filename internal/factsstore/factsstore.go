// Package factsstore implements the bounded key→Fact map with confidence
// dynamics, dormancy, pruning, and capacity eviction described in spec §4.2.
package factsstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

const (
	// defaultHysteresisDelta is the minimum confidence gain required for
	// reviveFromSelection to bring a dormant fact back into default view.
	defaultHysteresisDelta = 0.05

	minConfidence = 0.1
	maxConfidence = 1.0

	upsertSameValueDelta = 0.1
	upsertDiffValueDelta = 0.2
)

// Snapshot is a point-in-time, read-only view of a Fact plus its key.
type Snapshot struct {
	Key  string
	Fact eventmodel.Fact
}

// Stats summarises the current store.
type Stats struct {
	Active  int
	Dormant int
}

// FactsStore is a thread-safe, capacity-bounded map of fact key to Fact.
// The zero value is not ready to use; construct with New.
type FactsStore struct {
	maxItems int

	mu     sync.Mutex
	facts  map[string]eventmodel.Fact
	drain  []string
	logFn  func(msg string, args ...any)
}

// Option configures a FactsStore at construction time.
type Option func(*FactsStore)

// WithLogFunc overrides the function used to report rejected, non-fatal
// inputs (invalid confidence, empty key). Defaults to a no-op.
func WithLogFunc(fn func(msg string, args ...any)) Option {
	return func(s *FactsStore) { s.logFn = fn }
}

// New creates a FactsStore bounded at maxItems distinct keys.
func New(maxItems int, opts ...Option) *FactsStore {
	s := &FactsStore{
		maxItems: maxItems,
		facts:    make(map[string]eventmodel.Fact, maxItems),
		logFn:    func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert applies the confidence dynamics of spec §3 and returns the keys
// evicted by capacity enforcement as a side effect of this call.
func (s *FactsStore) Upsert(key string, value any, confidence float64, sourceSeq uint64, sourceID string) []string {
	if key == "" {
		s.logFn("factsstore: reject empty key")
		return nil
	}
	if confidence != confidence { // NaN check without importing math
		s.logFn("factsstore: reject NaN confidence", "key", key)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, had := s.facts[key]

	f := existing
	if !had {
		f = eventmodel.Fact{
			Key:        key,
			Value:      value,
			Confidence: clamp(confidence),
			CreatedAt:  now,
		}
	} else {
		if sameValue(f.Value, value) {
			f.Confidence = clamp(f.Confidence + upsertSameValueDelta)
		} else {
			f.Confidence = clamp(f.Confidence - upsertDiffValueDelta)
			f.Value = value
		}
	}

	f.LastSeenSeq = sourceSeq
	f.LastTouchedAt = now
	if sourceID != "" {
		f.Sources = appendBoundedSource(f.Sources, sourceID, 10)
	}

	s.facts[key] = f
	return s.evictLocked()
}

// evictLocked drops the lowest-ranked facts while over capacity. Ranking is
// ascending by (confidence, lastSeenSeq); lowest dropped first. Must hold
// s.mu.
func (s *FactsStore) evictLocked() []string {
	if s.maxItems <= 0 || len(s.facts) <= s.maxItems {
		return nil
	}

	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.facts[keys[i]], s.facts[keys[j]]
		if a.Confidence != b.Confidence {
			return a.Confidence < b.Confidence
		}
		return a.LastSeenSeq < b.LastSeenSeq
	})

	overBy := len(s.facts) - s.maxItems
	evicted := make([]string, 0, overBy)
	for i := 0; i < overBy; i++ {
		evicted = append(evicted, keys[i])
		delete(s.facts, keys[i])
	}
	return evicted
}

// LoadFacts bulk-inserts a snapshot, possibly evicting, and returns the
// evicted keys.
func (s *FactsStore) LoadFacts(snapshot []Snapshot) []string {
	var evicted []string
	for _, item := range snapshot {
		s.mu.Lock()
		s.facts[item.Key] = item.Fact
		ev := s.evictLocked()
		s.mu.Unlock()
		evicted = append(evicted, ev...)
	}
	return evicted
}

// MarkDormant sets dormantAt and subtracts delta from confidence, clamped to
// the floor. Dormant facts are excluded from default (non-includeDormant)
// snapshots.
func (s *FactsStore) MarkDormant(key string, now time.Time, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[key]
	if !ok {
		return
	}
	f.DormantAt = &now
	f.Confidence = clamp(f.Confidence - delta)
	s.facts[key] = f
}

// ReviveFromSelection clears dormancy if the confidence gain since dormancy
// meets the hysteresis threshold. previousConf is the confidence recorded at
// the time the fact went dormant.
func (s *FactsStore) ReviveFromSelection(key string, previousConf float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facts[key]
	if !ok || f.DormantAt == nil {
		return false
	}
	if f.Confidence-previousConf < defaultHysteresisDelta {
		return false
	}
	f.DormantAt = nil
	s.facts[key] = f
	return true
}

// Prune removes a fact from the live view and enqueues its key on the drain
// queue for callers to reconcile with the durable store.
func (s *FactsStore) Prune(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facts[key]; !ok {
		return
	}
	now := time.Now()
	f := s.facts[key]
	f.PrunedAt = &now
	delete(s.facts, key)
	s.drain = append(s.drain, key)
}

// DrainPruned returns and clears the pending-prune key queue.
func (s *FactsStore) DrainPruned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.drain
	s.drain = nil
	return out
}

// GetSnapshot returns all facts, optionally including dormant ones.
func (s *FactsStore) GetSnapshot(includeDormant bool) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.facts))
	for k, f := range s.facts {
		if !includeDormant && f.DormantAt != nil {
			continue
		}
		out = append(out, Snapshot{Key: k, Fact: f})
	}
	return out
}

// GetAll returns every live fact key, including dormant ones.
func (s *FactsStore) GetAll() []Snapshot {
	return s.GetSnapshot(true)
}

// GetContextFormat renders active facts as "key: value" lines, sorted by
// key, for prompt assembly.
func (s *FactsStore) GetContextFormat() string {
	snaps := s.GetSnapshot(false)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })

	lines := make([]string, 0, len(snaps))
	for _, sn := range snaps {
		lines = append(lines, sn.Key+": "+stringifyValue(sn.Fact.Value))
	}
	return strings.Join(lines, "\n")
}

// GetBullets renders active facts as "- key: value" bullet lines.
func (s *FactsStore) GetBullets() []string {
	snaps := s.GetSnapshot(false)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })

	out := make([]string, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, "- "+sn.Key+": "+stringifyValue(sn.Fact.Value))
	}
	return out
}

// GetStats returns active/dormant counts.
func (s *FactsStore) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, f := range s.facts {
		if f.DormantAt != nil {
			st.Dormant++
		} else {
			st.Active++
		}
	}
	return st
}

// Get returns a single fact snapshot by key.
func (s *FactsStore) Get(key string) (eventmodel.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[key]
	return f, ok
}

func clamp(c float64) float64 {
	if c < minConfidence {
		return minConfidence
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

func sameValue(a, b any) bool {
	return stringifyValue(a) == stringifyValue(b)
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func appendBoundedSource(sources []string, id string, limit int) []string {
	for _, s := range sources {
		if s == id {
			return sources
		}
	}
	sources = append(sources, id)
	if len(sources) > limit {
		sources = sources[len(sources)-limit:]
	}
	return sources
}

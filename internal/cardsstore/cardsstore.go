// Package cardsstore implements the recent-card and concept-recency cache
// used to suppress duplicate card emissions (spec §4.2's CardsStore, §9's
// "arena+index" preference).
package cardsstore

import (
	"strings"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// recentCard is one entry in the bounded recent-card ring.
type recentCard struct {
	card eventmodel.Card
	at   time.Time
}

// CardsStore tracks recently emitted cards and the last-seen time per
// normalized concept id, so EventProcessor can suppress duplicate card
// emissions within a freshness window.
type CardsStore struct {
	maxRecent int

	mu          sync.Mutex
	recent      []recentCard
	conceptSeen map[string]time.Time
	now         func() time.Time
}

// New creates a CardsStore retaining up to maxRecent cards.
func New(maxRecent int) *CardsStore {
	return &CardsStore{
		maxRecent:   maxRecent,
		recent:      make([]recentCard, 0, maxRecent),
		conceptSeen: make(map[string]time.Time),
		now:         time.Now,
	}
}

// RecordEmission registers that card was just emitted, updating both the
// recent-card ring and the concept-recency map.
func (s *CardsStore) RecordEmission(card eventmodel.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.recent = append(s.recent, recentCard{card: card, at: now})
	if len(s.recent) > s.maxRecent {
		s.recent = s.recent[len(s.recent)-s.maxRecent:]
	}
	if card.ConceptID != "" {
		s.conceptSeen[normalizeConcept(card.ConceptID)] = now
	}
}

// HasRecentConcept reports whether conceptID was emitted within
// freshnessWindow of now.
func (s *CardsStore) HasRecentConcept(conceptID string, freshnessWindow time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seenAt, ok := s.conceptSeen[normalizeConcept(conceptID)]
	if !ok {
		return false
	}
	return s.now().Sub(seenAt) < freshnessWindow
}

// ConceptCache returns the set of concept ids with a recorded last-seen
// time, for trigger-evaluation candidate filtering.
func (s *CardsStore) ConceptCache() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.conceptSeen))
	for k, v := range s.conceptSeen {
		out[k] = v
	}
	return out
}

// RecentCards returns up to n most recently emitted cards, newest last.
func (s *CardsStore) RecentCards(n int) []eventmodel.Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n >= len(s.recent) {
		n = len(s.recent)
	}
	start := len(s.recent) - n
	out := make([]eventmodel.Card, 0, n)
	for _, rc := range s.recent[start:] {
		out = append(out, rc.card)
	}
	return out
}

func normalizeConcept(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

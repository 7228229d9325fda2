package processor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
)

// concept is one card-trigger candidate, ranked by signal strength per
// spec §4.7 step 3: glossary match (3) > fact key/value match (2) >
// capitalised phrase (1) > noun-phrase fallback (0).
type concept struct {
	ConceptID    string
	ConceptLabel string
	Signal       int
}

type extractInput struct {
	Chunks             []eventmodel.TranscriptChunk
	Glossary           *glossary.Cache
	Facts              *factsstore.FactsStore
	ContextBullets     string
	ExistingConceptIDs map[string]time.Time
}

// capitalizedPhrase matches runs of Capitalized words, a cheap proxy for
// proper nouns when no glossary or fact match exists.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*){0,3}\b`)

// significantWord is the noun-phrase fallback's lowercase-token filter: long
// enough to plausibly be a topic word, and not one of a small stopword set.
var significantWord = regexp.MustCompile(`\b[a-z]{7,}\b`)

var stopwords = map[string]struct{}{
	"because": {}, "through": {}, "without": {}, "another": {}, "between": {},
	"something": {}, "everyone": {}, "therefore": {}, "however": {},
}

// extractConcepts runs the four signal passes over the window of recent
// chunks and returns candidates ordered by descending signal strength,
// stable within a signal tier. Candidates are pure derivations of the
// runtime's current state; this function has no side effects.
func extractConcepts(in extractInput) []concept {
	text := joinChunkText(in.Chunks)
	lowerText := strings.ToLower(text)
	seen := make(map[string]struct{})
	var out []concept

	for _, g := range in.Glossary.Lookup(text) {
		id := normalizeConceptID(g.Term)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, concept{ConceptID: id, ConceptLabel: g.Term, Signal: 3})
	}

	for _, snap := range in.Facts.GetSnapshot(false) {
		label := humanizeFactKey(snap.Key)
		id := normalizeConceptID(label)
		if _, dup := seen[id]; dup {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(label)) || strings.Contains(lowerText, strings.ToLower(stringifyFactValue(snap.Fact.Value))) {
			seen[id] = struct{}{}
			out = append(out, concept{ConceptID: id, ConceptLabel: label, Signal: 2})
		}
	}

	for _, phrase := range capitalizedPhrase.FindAllString(text, -1) {
		id := normalizeConceptID(phrase)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, concept{ConceptID: id, ConceptLabel: phrase, Signal: 1})
	}

	for _, word := range significantWord.FindAllString(lowerText, -1) {
		if _, stop := stopwords[word]; stop {
			continue
		}
		id := normalizeConceptID(word)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, concept{ConceptID: id, ConceptLabel: word, Signal: 0})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Signal > out[j].Signal })
	return out
}

func joinChunkText(chunks []eventmodel.TranscriptChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

func normalizeConceptID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func humanizeFactKey(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

func stringifyFactValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

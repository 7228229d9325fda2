// Package glossary implements the per-runtime preloaded term cache and
// phrase lookup described in spec §4.3.
package glossary

import (
	"regexp"
	"sort"
	"strings"

	"github.com/weillium/eventrt/internal/eventmodel"
)

const maxLookupResults = 15

// wordSplit matches runs of non-word characters, used to tokenize lookup
// text the same way the source's phrase lookup does.
var wordSplit = regexp.MustCompile(`[^\w]+`)

// Cache is a read-only, per-runtime term→entry map loaded once at runtime
// creation.
type Cache struct {
	entries map[string]eventmodel.GlossaryEntry
}

// New builds a Cache from a flat list of entries, keyed by lowercased term.
// Later duplicates overwrite earlier ones.
func New(entries []eventmodel.GlossaryEntry) *Cache {
	c := &Cache{entries: make(map[string]eventmodel.GlossaryEntry, len(entries))}
	for _, e := range entries {
		c.entries[strings.ToLower(e.Term)] = e
	}
	return c
}

// Lookup walks successive windows of 1-4 normalized words in text and
// returns up to 15 matching entries, sorted by descending confidence_score.
func (c *Cache) Lookup(text string) []eventmodel.GlossaryEntry {
	words := wordSplit.Split(strings.ToLower(text), -1)
	var filtered []string
	for _, w := range words {
		if w != "" {
			filtered = append(filtered, w)
		}
	}

	seen := make(map[string]struct{})
	var matches []eventmodel.GlossaryEntry

	for i := range filtered {
		for windowLen := 1; windowLen <= 4 && i+windowLen <= len(filtered); windowLen++ {
			phrase := strings.Join(filtered[i:i+windowLen], " ")
			if _, dup := seen[phrase]; dup {
				continue
			}
			if entry, ok := c.entries[phrase]; ok {
				seen[phrase] = struct{}{}
				matches = append(matches, entry)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ConfidenceScore > matches[j].ConfidenceScore
	})
	if len(matches) > maxLookupResults {
		matches = matches[:maxLookupResults]
	}
	return matches
}

// Get returns a single entry by exact (case-insensitive) term match.
func (c *Cache) Get(term string) (eventmodel.GlossaryEntry, bool) {
	e, ok := c.entries[strings.ToLower(term)]
	return e, ok
}

// Len returns the number of loaded entries.
func (c *Cache) Len() int { return len(c.entries) }

// Format renders entries as "- term: definition (Stands for: X) [category]"
// lines, omitting the parenthetical and bracket segments when empty.
func Format(entries []eventmodel.GlossaryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := "- " + e.Term + ": " + e.Definition
		if e.AcronymFor != "" {
			line += " (Stands for: " + e.AcronymFor + ")"
		}
		if e.Category != "" {
			line += " [" + e.Category + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

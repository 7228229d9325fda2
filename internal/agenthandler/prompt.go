// Package agenthandler implements the per-agent-type prompt assembly, tool
// callback handling, and output parsing described in spec §4.6. Grounded on
// the teacher's s2s.Engine, which plays the analogous role of turning a
// generic VoiceEngine turn into provider-specific session calls
// (pkg/engine/s2s/engine.go's InjectContext/Process split).
package agenthandler

import (
	"fmt"
	"strings"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

// CardsPromptInputs bundles the supporting-context block EventProcessor's
// card trigger evaluation assembles (spec §4.7 step 6).
type CardsPromptInputs struct {
	ConceptLabel     string
	ContextBullets   string
	MatchingFacts    []factsstore.Snapshot
	RecentCards      []eventmodel.Card
	MatchingGlossary []eventmodel.GlossaryEntry
}

// BuildCardsPrompt renders the per-turn user message sent to the cards
// SessionDriver.
func BuildCardsPrompt(in CardsPromptInputs) string {
	var b strings.Builder
	b.WriteString("A candidate topic has emerged: ")
	b.WriteString(in.ConceptLabel)
	b.WriteString("\n\nRecent transcript:\n")
	b.WriteString(in.ContextBullets)

	if len(in.MatchingFacts) > 0 {
		b.WriteString("\n\nRelevant facts:\n")
		for _, f := range in.MatchingFacts {
			b.WriteString("- " + f.Key + ": " + stringifyValue(f.Fact.Value) + "\n")
		}
	}
	if len(in.MatchingGlossary) > 0 {
		b.WriteString("\nGlossary:\n")
		b.WriteString(glossary.Format(in.MatchingGlossary))
		b.WriteString("\n")
	}
	if len(in.RecentCards) > 0 {
		b.WriteString("\nRecently emitted cards (avoid duplicating):\n")
		for _, c := range in.RecentCards {
			b.WriteString("- " + c.Title + "\n")
		}
	}
	b.WriteString("\nCall produce_card exactly once to emit a card for this topic, or omit the call if none is warranted.")
	return b.String()
}

// BuildFactsPrompt renders the per-turn user message sent to the facts
// SessionDriver: the active facts snapshot plus recent transcript context.
func BuildFactsPrompt(facts *factsstore.FactsStore, recent *ringbuffer.RingBuffer, glossaryCache *glossary.Cache, bulletN, maxChars int) string {
	var b strings.Builder
	b.WriteString("Recent transcript:\n")
	bullets := recent.GetContextBullets(bulletN, maxChars)
	b.WriteString(bullets)

	if entries := glossaryCache.Lookup(bullets); len(entries) > 0 {
		b.WriteString("\n\nGlossary:\n")
		b.WriteString(glossary.Format(entries))
	}

	if current := facts.GetContextFormat(); current != "" {
		b.WriteString("\n\nCurrent facts:\n")
		b.WriteString(current)
	}

	b.WriteString("\n\nReturn a JSON array of {key, value, confidence, status?} describing every fact that should be added, updated, or retired based on the transcript above. status is one of \"active\" (default), \"dormant\", or \"inactive\".")
	return b.String()
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

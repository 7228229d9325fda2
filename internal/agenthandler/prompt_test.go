package agenthandler

import (
	"strings"
	"testing"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

func TestBuildCardsPrompt_IncludesAllSections(t *testing.T) {
	t.Parallel()
	body := "enterprise"
	out := BuildCardsPrompt(CardsPromptInputs{
		ConceptLabel:   "Pricing",
		ContextBullets: "[00:00] Speaker: we discussed pricing",
		MatchingFacts: []factsstore.Snapshot{
			{Key: "pricing_tier", Fact: eventmodel.Fact{Value: body}},
		},
		RecentCards:      []eventmodel.Card{{Title: "Previous card"}},
		MatchingGlossary: []eventmodel.GlossaryEntry{{Term: "ARR", Definition: "annual recurring revenue"}},
	})

	for _, want := range []string{
		"Pricing",
		"we discussed pricing",
		"pricing_tier: enterprise",
		"ARR: annual recurring revenue",
		"Previous card",
		"produce_card",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q\nfull prompt:\n%s", want, out)
		}
	}
}

func TestBuildCardsPrompt_OmitsEmptySections(t *testing.T) {
	t.Parallel()
	out := BuildCardsPrompt(CardsPromptInputs{ConceptLabel: "Topic", ContextBullets: "bullets"})
	if strings.Contains(out, "Relevant facts:") {
		t.Error("expected no facts section when MatchingFacts is empty")
	}
	if strings.Contains(out, "Glossary:") {
		t.Error("expected no glossary section when MatchingGlossary is empty")
	}
	if strings.Contains(out, "Recently emitted cards") {
		t.Error("expected no recent-cards section when RecentCards is empty")
	}
}

func TestBuildFactsPrompt_IncludesTranscriptGlossaryAndFacts(t *testing.T) {
	t.Parallel()
	rb := ringbuffer.New(10, 0)
	rb.Add(eventmodel.TranscriptChunk{Seq: 1, Speaker: "Rep", Text: "our ARR grew", Final: true})

	facts := factsstore.New(10)
	facts.Upsert("topic", "pricing", 0.8, 1, "")

	gloss := glossary.New([]eventmodel.GlossaryEntry{{Term: "ARR", Definition: "annual recurring revenue"}})

	out := BuildFactsPrompt(facts, rb, gloss, 10, 4000)

	for _, want := range []string{"our ARR grew", "ARR: annual recurring revenue", "topic", "JSON array"} {
		if !strings.Contains(out, want) {
			t.Errorf("facts prompt missing %q\nfull prompt:\n%s", want, out)
		}
	}
}

func TestBuildFactsPrompt_OmitsCurrentFactsWhenEmpty(t *testing.T) {
	t.Parallel()
	rb := ringbuffer.New(10, 0)
	facts := factsstore.New(10)
	gloss := glossary.New(nil)

	out := BuildFactsPrompt(facts, rb, gloss, 10, 4000)
	if strings.Contains(out, "Current facts:") {
		t.Error("expected no current-facts section when the store is empty")
	}
}

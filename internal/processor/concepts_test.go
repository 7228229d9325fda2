package processor

import (
	"testing"

	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/glossary"
)

func chunks(texts ...string) []eventmodel.TranscriptChunk {
	out := make([]eventmodel.TranscriptChunk, 0, len(texts))
	for i, text := range texts {
		out = append(out, eventmodel.TranscriptChunk{Seq: uint64(i + 1), Text: text, Final: true})
	}
	return out
}

func TestExtractConcepts_GlossaryOutranksOtherSignals(t *testing.T) {
	t.Parallel()
	g := glossary.New([]eventmodel.GlossaryEntry{{Term: "ARR", Definition: "annual recurring revenue"}})
	facts := factsstore.New(10)

	out := extractConcepts(extractInput{
		Chunks:   chunks("Our ARR grew this quarter at Acme Corp"),
		Glossary: g,
		Facts:    facts,
	})

	if len(out) == 0 {
		t.Fatal("expected at least one concept candidate")
	}
	if out[0].Signal != 3 {
		t.Errorf("top candidate signal = %d; want 3 (glossary match)", out[0].Signal)
	}
}

func TestExtractConcepts_FactMatchOutranksCapitalizedPhrase(t *testing.T) {
	t.Parallel()
	g := glossary.New(nil)
	facts := factsstore.New(10)
	facts.Upsert("pricing_tier", "enterprise", 0.8, 1, "")

	out := extractConcepts(extractInput{
		Chunks:   chunks("The Pricing Tier discussion happened at Acme Corp"),
		Glossary: g,
		Facts:    facts,
	})

	var sawFactSignal, sawCapSignal bool
	for _, c := range out {
		if c.Signal == 2 {
			sawFactSignal = true
		}
		if c.Signal == 1 {
			sawCapSignal = true
		}
	}
	if !sawFactSignal {
		t.Error("expected a fact-matching candidate with signal 2")
	}
	if !sawCapSignal {
		t.Error("expected a capitalized-phrase candidate with signal 1")
	}
	if out[0].Signal < out[len(out)-1].Signal {
		t.Error("expected candidates sorted by descending signal")
	}
}

func TestExtractConcepts_NoiseFallbackOnPlainText(t *testing.T) {
	t.Parallel()
	g := glossary.New(nil)
	facts := factsstore.New(10)

	out := extractConcepts(extractInput{
		Chunks:   chunks("we discussed something important without proper nouns"),
		Glossary: g,
		Facts:    facts,
	})

	for _, c := range out {
		if c.Signal != 0 {
			t.Errorf("expected only noun-phrase fallback candidates (signal 0), got signal %d for %q", c.Signal, c.ConceptLabel)
		}
	}
}

func TestExtractConcepts_StopwordsExcludedFromFallback(t *testing.T) {
	t.Parallel()
	g := glossary.New(nil)
	facts := factsstore.New(10)

	out := extractConcepts(extractInput{
		Chunks:   chunks("therefore because however something"),
		Glossary: g,
		Facts:    facts,
	})

	for _, c := range out {
		if _, stop := stopwords[c.ConceptLabel]; stop {
			t.Errorf("expected stopword %q excluded from candidates", c.ConceptLabel)
		}
	}
}

func TestExtractConcepts_DedupesAcrossSignalTiers(t *testing.T) {
	t.Parallel()
	g := glossary.New([]eventmodel.GlossaryEntry{{Term: "acme corp", Definition: "the customer"}})
	facts := factsstore.New(10)

	out := extractConcepts(extractInput{
		Chunks:   chunks("Acme Corp signed the deal"),
		Glossary: g,
		Facts:    facts,
	})

	seen := make(map[string]int)
	for _, c := range out {
		seen[c.ConceptID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("concept id %q appeared %d times; want at most once", id, n)
		}
	}
}

func TestNormalizeConceptID(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Acme Corp":   "acme_corp",
		"  spaced  ":  "spaced",
		"ARR":         "arr",
		"multi   gap": "multi_gap",
	}
	for in, want := range cases {
		if got := normalizeConceptID(in); got != want {
			t.Errorf("normalizeConceptID(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestHumanizeFactKey(t *testing.T) {
	t.Parallel()
	if got := humanizeFactKey("pricing_tier"); got != "pricing tier" {
		t.Errorf("humanizeFactKey = %q; want %q", got, "pricing tier")
	}
}

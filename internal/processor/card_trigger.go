package processor

import (
	"log/slog"
	"strings"

	"github.com/weillium/eventrt/internal/agenthandler"
	"github.com/weillium/eventrt/internal/eventmodel"
	"github.com/weillium/eventrt/internal/factsstore"
	"github.com/weillium/eventrt/internal/ringbuffer"
)

// evaluateCardTrigger implements spec §4.7's seven-step, deterministic card
// trigger evaluation over the runtime's current state.
func (p *EventProcessor) evaluateCardTrigger(chunk eventmodel.TranscriptChunk) {
	rb := p.runtime.RingBuffer()

	recent := rb.GetLastN(p.cardWindowChunks)
	if len(recent) < p.cardMinChunks {
		return
	}

	existingConceptIDs := p.runtime.CardsStore().ConceptCache()
	contextBullets := rb.GetContextBullets(p.cardContextLimit, p.cardContextMaxChars)

	candidates := extractConcepts(extractInput{
		Chunks:             recent,
		Glossary:           p.runtime.Glossary(),
		Facts:              p.runtime.FactsStore(),
		ContextBullets:     contextBullets,
		ExistingConceptIDs: existingConceptIDs,
	})

	var chosen *concept
	for i := range candidates {
		c := candidates[i]
		if p.runtime.CardsStore().HasRecentConcept(c.ConceptID, p.cardFreshnessWindow) {
			continue
		}
		if ringbuffer.CountConceptOccurrences(recent, c.ConceptLabel) < p.cardMinChunks {
			continue
		}
		chosen = &c
		break
	}
	if chosen == nil {
		return
	}

	facts, glossaryEntries := p.matchingFactsAndGlossary(chosen.ConceptLabel)
	recentCards := p.runtime.CardsStore().RecentCards(p.cardRecentLimit)

	p.runtime.RecordPendingCardConcept(chunk.Seq, chosen.ConceptID, chosen.ConceptLabel)

	session := p.runtime.CardsSession()
	session.BeginTurn()

	prompt := agenthandler.BuildCardsPrompt(agenthandler.CardsPromptInputs{
		ConceptLabel:     chosen.ConceptLabel,
		ContextBullets:   contextBullets,
		MatchingFacts:    facts,
		RecentCards:      recentCards,
		MatchingGlossary: glossaryEntries,
	})

	if err := session.SendPromptTurn(prompt); err != nil {
		slog.Warn("processor: cards prompt turn send failed", "event_id", p.runtime.EventID(), "error", err)
	}
}

// matchingFactsAndGlossary builds the supporting context of spec §4.7 step
// 6: up to cardFactLimit facts whose key or stringified value contains the
// normalized label (else the top-confidence facts), and up to cardFactLimit
// matching glossary entries.
func (p *EventProcessor) matchingFactsAndGlossary(label string) ([]factsstore.Snapshot, []eventmodel.GlossaryEntry) {
	lowered := strings.ToLower(label)
	all := p.runtime.FactsStore().GetSnapshot(false)

	var matching, rest []factsstore.Snapshot
	for _, snap := range all {
		if strings.Contains(strings.ToLower(snap.Key), lowered) || strings.Contains(strings.ToLower(stringifyFactValue(snap.Fact.Value)), lowered) {
			matching = append(matching, snap)
		} else {
			rest = append(rest, snap)
		}
	}

	facts := matching
	if len(facts) < p.cardFactLimit {
		sortByConfidenceDesc(rest)
		for _, snap := range rest {
			if len(facts) >= p.cardFactLimit {
				break
			}
			facts = append(facts, snap)
		}
	}
	if len(facts) > p.cardFactLimit {
		facts = facts[:p.cardFactLimit]
	}

	glossaryEntries := p.runtime.Glossary().Lookup(label)
	if len(glossaryEntries) > p.cardFactLimit {
		glossaryEntries = glossaryEntries[:p.cardFactLimit]
	}

	return facts, glossaryEntries
}

func sortByConfidenceDesc(snaps []factsstore.Snapshot) {
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j-1].Fact.Confidence < snaps[j].Fact.Confidence; j-- {
			snaps[j-1], snaps[j] = snaps[j], snaps[j-1]
		}
	}
}

// scheduleFactsUpdate implements the facts update scheduling decided in
// DESIGN.md's Open Question resolutions: call the facts processor directly
// on every finalized chunk, relying on modelsession.Driver's at-most-one-
// in-flight send queue for the "no more than one facts request in flight"
// guarantee.
func (p *EventProcessor) scheduleFactsUpdate() {
	session := p.runtime.FactsSession()
	prompt := agenthandler.BuildFactsPrompt(p.runtime.FactsStore(), p.runtime.RingBuffer(), p.runtime.Glossary(), p.factsBulletN, p.factsMaxChars)
	if err := session.SendPromptTurn(prompt); err != nil {
		slog.Warn("processor: facts prompt turn send failed", "event_id", p.runtime.EventID(), "error", err)
	}
}

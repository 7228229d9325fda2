// Package eventmodel defines the core data types shared across the event
// runtime orchestrator: agents, transcript chunks, facts, cards, glossary
// entries, and checkpoints.
package eventmodel

import "time"

// AgentType identifies one of the three model roles driven per event.
type AgentType string

const (
	AgentTranscript AgentType = "transcript"
	AgentCards      AgentType = "cards"
	AgentFacts      AgentType = "facts"
)

// IsValid reports whether t is a recognised agent type.
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTranscript, AgentCards, AgentFacts:
		return true
	default:
		return false
	}
}

// AgentStatus is the external lifecycle status of an Agent record.
type AgentStatus string

const (
	AgentStatusIdle   AgentStatus = "idle"
	AgentStatusActive AgentStatus = "active"
	AgentStatusPaused AgentStatus = "paused"
	AgentStatusEnded  AgentStatus = "ended"
	AgentStatusError  AgentStatus = "error"
)

// AgentStage is the external pipeline stage of an Agent record.
type AgentStage string

const (
	StageBlueprint      AgentStage = "blueprint"
	StageResearching    AgentStage = "researching"
	StageBuilding       AgentStage = "building"
	StageContextComplete AgentStage = "context_complete"
	StageRunning        AgentStage = "running"
	StageTesting        AgentStage = "testing"
)

// Agent is the per-event orchestration subject, owned externally and driven
// here via explicit status transitions.
type Agent struct {
	ID        string
	EventID   string
	Status    AgentStatus
	Stage     AgentStage
	ModelSet  string
	CreatedAt time.Time
	UpdatedAt time.Time

	// LastError holds the last fatal error message when Status is
	// AgentStatusError. Sticky until an explicit recovery command.
	LastError string
}

// RuntimeStatus is the in-memory lifecycle status of an EventRuntime.
type RuntimeStatus int

const (
	RuntimeContextComplete RuntimeStatus = iota
	RuntimeReady
	RuntimeRunning
	RuntimePaused
	RuntimeEnded
	RuntimeError
)

func (s RuntimeStatus) String() string {
	switch s {
	case RuntimeContextComplete:
		return "context_complete"
	case RuntimeReady:
		return "ready"
	case RuntimeRunning:
		return "running"
	case RuntimePaused:
		return "paused"
	case RuntimeEnded:
		return "ended"
	case RuntimeError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptChunk is a single, append-only unit of transcript content.
// Seq is dense per event, starting at 1.
type TranscriptChunk struct {
	Seq          uint64
	AtMs         int64
	Speaker      string
	Text         string
	Final        bool
	TranscriptID string
}

// Fact is a compact key/value claim tracked with a confidence score and
// provenance. See spec §3 for the full confidence-dynamics contract.
type Fact struct {
	Key           string
	Value         any
	Confidence    float64
	LastSeenSeq   uint64
	Sources       []string // bounded list of transcript ids, insertion-ordered, len <= 10
	MergedFrom    []string
	MergedAt      time.Time
	MissStreak    int
	CreatedAt     time.Time
	LastTouchedAt time.Time
	DormantAt     *time.Time
	PrunedAt      *time.Time
}

// CardType enumerates the shape of a Card's payload.
type CardType string

const (
	CardText       CardType = "text"
	CardTextVisual CardType = "text_visual"
	CardVisual     CardType = "visual"
)

// IsValid reports whether t is a recognised card type.
func (t CardType) IsValid() bool {
	switch t {
	case CardText, CardTextVisual, CardVisual:
		return true
	default:
		return false
	}
}

// VisualRequest describes how a card's visual asset should be produced.
type VisualRequest struct {
	Strategy     string // "fetch" | "generate"
	Instructions string
	SourceURL    string
}

// Card is an emitted explainer artifact tied to a transcript sequence and
// an optional concept.
type Card struct {
	Kind          string
	CardType      CardType
	Title         string
	Body          *string
	Label         *string
	ImageURL      *string
	SourceSeq     uint64
	ConceptID     string
	ConceptLabel  string
	TemplateID    string
	TemplateLabel string
	VisualRequest *VisualRequest
}

// GlossaryEntry is a read-only, preloaded term definition for an event.
type GlossaryEntry struct {
	Term             string
	Definition       string
	AcronymFor       string
	Category         string
	UsageExamples    []string
	RelatedTerms     []string
	ConfidenceScore  float64
}

// Checkpoint is the last-processed sequence for one (event, agent type) pair.
type Checkpoint struct {
	EventID          string
	AgentType        AgentType
	LastProcessedSeq uint64
}

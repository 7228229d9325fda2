package agenthandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weillium/eventrt/internal/apperr"
	"github.com/weillium/eventrt/internal/eventmodel"
)

// produceCardArgs mirrors the produce_card tool's JSON argument schema.
type produceCardArgs struct {
	Kind          string                 `json:"kind"`
	CardType      string                 `json:"card_type"`
	Title         string                 `json:"title"`
	Body          *string                `json:"body,omitempty"`
	Label         *string                `json:"label,omitempty"`
	ImageURL      *string                `json:"image_url,omitempty"`
	SourceSeq     uint64                 `json:"source_seq"`
	ConceptID     string                 `json:"concept_id,omitempty"`
	ConceptLabel  string                 `json:"concept_label,omitempty"`
	TemplateID    string                 `json:"template_id,omitempty"`
	TemplateLabel string                 `json:"template_label,omitempty"`
	VisualRequest *visualRequestArgs     `json:"visual_request,omitempty"`
}

type visualRequestArgs struct {
	Strategy     string `json:"strategy"`
	Instructions string `json:"instructions,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`
}

// CardsHandler implements the cards agent's handler described in spec §4.6:
// it accepts exactly one produce_card tool invocation per turn, validates
// and defaults its fields by card_type, and forwards the normalised card.
type CardsHandler struct {
	onCard func(card eventmodel.Card)

	mu               sync.Mutex
	producedThisTurn bool
}

// NewCardsHandler constructs a CardsHandler. onCard is invoked once per
// accepted produce_card call with the normalised card.
func NewCardsHandler(onCard func(card eventmodel.Card)) *CardsHandler {
	return &CardsHandler{onCard: onCard}
}

// BeginTurn resets the per-turn produce_card guard. Callers invoke this
// immediately before sending a new prompt turn to the cards SessionDriver.
func (h *CardsHandler) BeginTurn() {
	h.mu.Lock()
	h.producedThisTurn = false
	h.mu.Unlock()
}

// OnToolCall implements modelsession.ToolCallHandler.
func (h *CardsHandler) OnToolCall(name, argsJSON string) (string, error) {
	if name != "produce_card" {
		return "", fmt.Errorf("agenthandler: unknown cards tool %q: %w", name, apperr.ErrValidation)
	}

	h.mu.Lock()
	if h.producedThisTurn {
		h.mu.Unlock()
		slog.Warn("agenthandler: discarding extra produce_card invocation in same turn")
		return `{"status":"discarded","reason":"one card per turn"}`, nil
	}
	h.producedThisTurn = true
	h.mu.Unlock()

	var args produceCardArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("agenthandler: parse produce_card args: %w", err)
	}

	card, err := normalizeCard(args)
	if err != nil {
		return "", err
	}

	if h.onCard != nil {
		h.onCard(card)
	}
	return `{"status":"accepted"}`, nil
}

// normalizeCard validates required fields and applies the card_type default
// rules from spec §4.6.
func normalizeCard(args produceCardArgs) (eventmodel.Card, error) {
	cardType := eventmodel.CardType(args.CardType)
	if !cardType.IsValid() {
		return eventmodel.Card{}, fmt.Errorf("agenthandler: invalid card_type %q: %w", args.CardType, apperr.ErrValidation)
	}
	if args.Title == "" {
		return eventmodel.Card{}, fmt.Errorf("agenthandler: produce_card missing title: %w", apperr.ErrValidation)
	}

	card := eventmodel.Card{
		Kind:          args.Kind,
		CardType:      cardType,
		Title:         args.Title,
		SourceSeq:     args.SourceSeq,
		ConceptID:     args.ConceptID,
		ConceptLabel:  args.ConceptLabel,
		TemplateID:    args.TemplateID,
		TemplateLabel: args.TemplateLabel,
	}
	if args.VisualRequest != nil {
		card.VisualRequest = &eventmodel.VisualRequest{
			Strategy:     args.VisualRequest.Strategy,
			Instructions: args.VisualRequest.Instructions,
			SourceURL:    args.VisualRequest.SourceURL,
		}
	}

	hasVisual := args.ImageURL != nil || card.VisualRequest != nil

	switch cardType {
	case eventmodel.CardText:
		if args.Body == nil {
			return eventmodel.Card{}, fmt.Errorf("agenthandler: card_type text requires body: %w", apperr.ErrValidation)
		}
		card.Body = args.Body
		card.ImageURL = nil
		card.Label = nil

	case eventmodel.CardTextVisual:
		if args.Body == nil {
			return eventmodel.Card{}, fmt.Errorf("agenthandler: card_type text_visual requires body: %w", apperr.ErrValidation)
		}
		if !hasVisual {
			return eventmodel.Card{}, fmt.Errorf("agenthandler: card_type text_visual requires image_url or visual_request: %w", apperr.ErrValidation)
		}
		card.Body = args.Body
		card.ImageURL = args.ImageURL
		card.Label = nil

	case eventmodel.CardVisual:
		if args.Label == nil {
			return eventmodel.Card{}, fmt.Errorf("agenthandler: card_type visual requires label: %w", apperr.ErrValidation)
		}
		if !hasVisual {
			return eventmodel.Card{}, fmt.Errorf("agenthandler: card_type visual requires image_url or visual_request: %w", apperr.ErrValidation)
		}
		card.Label = args.Label
		card.ImageURL = args.ImageURL
		card.Body = nil
	}

	return card, nil
}

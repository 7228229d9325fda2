package agenthandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/factsstore"
)

const dormantConfidenceDelta = 0.15

// factItem mirrors the facts agent's expected JSON array element, per
// spec §4.6.
type factItem struct {
	Key        string  `json:"key"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status,omitempty"`
}

// FactsUpdate summarises the net effect of one facts turn: keys touched and
// keys evicted or retired (both propagated as "mark inactive" durably).
type FactsUpdate struct {
	TouchedKeys []string
	EvictedKeys []string
}

// FactsHandler implements the facts agent's handler described in spec §4.6:
// it parses a JSON array response and applies each item to the FactsStore.
type FactsHandler struct {
	store    *factsstore.FactsStore
	onUpdate func(FactsUpdate)
}

// NewFactsHandler constructs a FactsHandler over store. onUpdate is invoked
// once per processed turn with the net set of touched/evicted keys.
func NewFactsHandler(store *factsstore.FactsStore, onUpdate func(FactsUpdate)) *FactsHandler {
	return &FactsHandler{store: store, onUpdate: onUpdate}
}

// Process parses full as a JSON array of {key, value, confidence, status?}
// and applies each item to the FactsStore. sourceSeq/sourceID are recorded
// as provenance on every upsert.
//
// status ∈ {"", "active", "dormant", "inactive"}: "" and "active" upsert
// normally; "dormant" marks the fact dormant without removing it;
// "inactive" prunes the fact, queuing it for durable retirement.
func (h *FactsHandler) Process(full string, sourceSeq uint64, sourceID string) {
	items, err := parseFactsResponse(full)
	if err != nil {
		slog.Warn("agenthandler: facts response parse failed", "error", err)
		return
	}

	var update FactsUpdate
	for _, it := range items {
		if it.Key == "" {
			continue
		}
		switch it.Status {
		case "inactive":
			h.store.Prune(it.Key)
			update.EvictedKeys = append(update.EvictedKeys, it.Key)
		case "dormant":
			h.store.MarkDormant(it.Key, time.Now(), dormantConfidenceDelta)
			update.TouchedKeys = append(update.TouchedKeys, it.Key)
		default:
			confidence := it.Confidence
			if confidence == 0 {
				confidence = 0.7
			}
			evicted := h.store.Upsert(it.Key, it.Value, confidence, sourceSeq, sourceID)
			update.EvictedKeys = append(update.EvictedKeys, evicted...)
			update.TouchedKeys = append(update.TouchedKeys, it.Key)
		}
	}

	if h.onUpdate != nil && (len(update.TouchedKeys) > 0 || len(update.EvictedKeys) > 0) {
		h.onUpdate(update)
	}
}

func parseFactsResponse(full string) ([]factItem, error) {
	var items []factItem
	if err := json.Unmarshal([]byte(full), &items); err != nil {
		return nil, fmt.Errorf("agenthandler: decode facts array: %w", err)
	}
	return items, nil
}

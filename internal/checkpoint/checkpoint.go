// Package checkpoint defines the per-(event, agent type) last-processed
// sequence persistence contract (spec §4.4). Concrete storage lives in
// internal/store/postgres; this package only holds the interface consumed
// by internal/runtime.
package checkpoint

import (
	"context"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// Store persists and loads per-(event, agent type) checkpoints.
type Store interface {
	// Load returns the checkpoint for eventID/agentType, or
	// eventmodel.Checkpoint{} with found=false if none exists.
	Load(ctx context.Context, eventID string, agentType eventmodel.AgentType) (cp eventmodel.Checkpoint, found bool, err error)

	// Save writes or updates the checkpoint. Callers invoke this on pause,
	// on close, and opportunistically during normal operation.
	Save(ctx context.Context, cp eventmodel.Checkpoint) error

	// LoadAll returns every checkpoint for an event, keyed by agent type.
	LoadAll(ctx context.Context, eventID string) (map[eventmodel.AgentType]eventmodel.Checkpoint, error)
}

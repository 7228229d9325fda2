package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

// StageLister is the narrow read used by BlueprintPoller, ContextPoller and
// RegenerationPoller. Implemented by store.EventStore.
type StageLister interface {
	ListAgentsByStage(ctx context.Context, stage eventmodel.AgentStage, limit int) ([]eventmodel.Agent, error)
}

// PendingStageRecorder observes how many agents are parked at a given stage
// on each tick. Implemented by internal/observe's Metrics.
type PendingStageRecorder interface {
	RecordPendingStage(stage eventmodel.AgentStage, count int)
}

const defaultStageListLimit = 100

// stageWatcher is the shared shape behind BlueprintPoller, ContextPoller and
// RegenerationPoller: all three only observe agents sitting at a stage
// owned by the upstream context-generation pipeline (spec.md's explicit
// Non-goal), so they never mutate agent state themselves. They exist to
// surface how much work the upstream pipeline has pending, via an optional
// metrics hook, and to give a natural extension point for a future
// downstream trigger.
type stageWatcher struct {
	name    string
	stage   eventmodel.AgentStage
	lister  StageLister
	metrics PendingStageRecorder
	guard   *processingAgents
}

func (w *stageWatcher) tick(ctx context.Context) {
	agents, err := w.lister.ListAgentsByStage(ctx, w.stage, defaultStageListLimit)
	if err != nil {
		slog.Error("poller: list agents by stage failed", "poller", w.name, "stage", w.stage, "error", err)
		return
	}

	pending := 0
	for _, agent := range agents {
		if !w.guard.tryAcquire(agent.ID) {
			continue
		}
		pending++
		w.guard.release(agent.ID)
	}

	if w.metrics != nil {
		w.metrics.RecordPendingStage(w.stage, pending)
	}
}

// BlueprintPoller detects agents whose upstream blueprint generation has
// not yet completed, per spec §4.12.
type BlueprintPoller struct {
	w *stageWatcher
}

// NewBlueprintPoller constructs a BlueprintPoller. metrics may be nil.
func NewBlueprintPoller(lister StageLister, guard *processingAgents, metrics PendingStageRecorder) *BlueprintPoller {
	return &BlueprintPoller{w: &stageWatcher{name: "blueprint", stage: eventmodel.StageBlueprint, lister: lister, metrics: metrics, guard: guard}}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (p *BlueprintPoller) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, p.w.name, interval, p.w.tick, nil)
}

// ContextPoller detects agents mid-way through the post-blueprint context
// build phase, per spec §4.12.
type ContextPoller struct {
	w *stageWatcher
}

// NewContextPoller constructs a ContextPoller. metrics may be nil.
func NewContextPoller(lister StageLister, guard *processingAgents, metrics PendingStageRecorder) *ContextPoller {
	return &ContextPoller{w: &stageWatcher{name: "context", stage: eventmodel.StageResearching, lister: lister, metrics: metrics, guard: guard}}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (p *ContextPoller) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, p.w.name, interval, p.w.tick, nil)
}

// RegenerationPoller detects agents whose context corpus is being rebuilt,
// per spec §4.12.
type RegenerationPoller struct {
	w *stageWatcher
}

// NewRegenerationPoller constructs a RegenerationPoller. metrics may be nil.
func NewRegenerationPoller(lister StageLister, guard *processingAgents, metrics PendingStageRecorder) *RegenerationPoller {
	return &RegenerationPoller{w: &stageWatcher{name: "regeneration", stage: eventmodel.StageBuilding, lister: lister, metrics: metrics, guard: guard}}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (p *RegenerationPoller) Run(ctx context.Context, interval time.Duration) {
	loop(ctx, p.w.name, interval, p.w.tick, nil)
}

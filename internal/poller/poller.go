// Package poller implements the five independent tick loops of spec §4.12:
// BlueprintPoller, ContextPoller, RegenerationPoller, PauseResumePoller, and
// SessionStartupPoller. Each owns its own interval and pushes results back
// into the Orchestrator as plain calls; they share a per-process
// processingAgents guard so no two pollers (or overlapping ticks of the
// same poller) work the same agent id concurrently.
//
// Grounded on the teacher's internal/session.Consolidator ticker loop, with
// the consolidator's "hold the lock across the tick" overlap prevention
// replaced by a non-blocking skip-if-busy guard, per spec §4.12's "a tick's
// runtime MUST never overlap with itself; if the previous run has not
// returned, the next tick is skipped."
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weillium/eventrt/internal/runtime"
)

// processingAgents is the shared per-process guard preventing concurrent
// work on the same agent id across pollers.
type processingAgents struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newProcessingAgents() *processingAgents {
	return &processingAgents{set: make(map[string]struct{})}
}

// tryAcquire reports whether id was not already being processed, claiming
// it if so.
func (p *processingAgents) tryAcquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.set[id]; busy {
		return false
	}
	p.set[id] = struct{}{}
	return true
}

func (p *processingAgents) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.set, id)
}

// loop runs fn on every tick of interval until ctx is cancelled, skipping a
// tick if the previous invocation of fn has not yet returned. drain, if
// non-nil, is incremented before a tick starts and decremented once it
// returns, letting a caller wait out any in-flight tick on shutdown.
func loop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context), drain *sync.WaitGroup) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var running sync.Mutex
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.TryLock() {
				slog.Debug("poller: tick skipped, previous run still in flight", "poller", name)
				continue
			}
			if drain != nil {
				drain.Add(1)
			}
			go func() {
				defer running.Unlock()
				if drain != nil {
					defer drain.Done()
				}
				fn(ctx)
			}()
		}
	}
}

// Group owns all five pollers plus the shared processingAgents guard and
// interval configuration. Intervals are independent per poller, per spec
// §4.12.
type Group struct {
	Intervals Intervals

	guard *processingAgents
	drain sync.WaitGroup
	stop  context.CancelFunc

	blueprint    *BlueprintPoller
	context      *ContextPoller
	regeneration *RegenerationPoller
	pauseResume  *PauseResumePoller
	startup      *SessionStartupPoller
}

// Intervals configures every poller's tick period.
type Intervals struct {
	Blueprint    time.Duration
	Context      time.Duration
	Regeneration time.Duration
	PauseResume  time.Duration
	Startup      time.Duration
}

// DefaultIntervals returns a reasonable tick cadence for every poller.
func DefaultIntervals() Intervals {
	return Intervals{
		Blueprint:    10 * time.Second,
		Context:      10 * time.Second,
		Regeneration: 15 * time.Second,
		PauseResume:  2 * time.Second,
		Startup:      2 * time.Second,
	}
}

// NewGroup wires all five pollers over the given collaborators. metrics may
// be nil.
func NewGroup(stages StageLister, statuses StatusLister, runtimes *runtime.Manager, orch interface {
	PauseResumeCaller
	SessionStartupCaller
}, metrics PendingStageRecorder, intervals Intervals) *Group {
	guard := newProcessingAgents()
	return &Group{
		Intervals:    intervals,
		guard:        guard,
		blueprint:    NewBlueprintPoller(stages, guard, metrics),
		context:      NewContextPoller(stages, guard, metrics),
		regeneration: NewRegenerationPoller(stages, guard, metrics),
		pauseResume:  NewPauseResumePoller(statuses, runtimes, orch, guard),
		startup:      NewSessionStartupPoller(stages, orch, guard),
	}
}

// Start launches every poller's tick loop in its own goroutine.
func (g *Group) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.stop = cancel

	go loop(ctx, "blueprint", g.Intervals.Blueprint, g.blueprint.w.tick, &g.drain)
	go loop(ctx, "context", g.Intervals.Context, g.context.w.tick, &g.drain)
	go loop(ctx, "regeneration", g.Intervals.Regeneration, g.regeneration.w.tick, &g.drain)
	go loop(ctx, "pause_resume", g.Intervals.PauseResume, g.pauseResume.tick, &g.drain)
	go loop(ctx, "session_startup", g.Intervals.Startup, g.startup.tick, &g.drain)
}

// Shutdown stops every poller from starting a new tick and waits for any
// in-flight tick to complete, per spec §4.12's "pending ticks complete, no
// new ticks start."
func (g *Group) Shutdown() {
	if g.stop != nil {
		g.stop()
	}
	g.drain.Wait()
}

// Package observe provides OpenTelemetry metrics for the event runtime
// orchestrator, exported through a Prometheus bridge so the control plane
// can serve a /metrics endpoint. Grounded on the teacher's internal/observe
// package: a Metrics struct of named instruments built once via NewMetrics,
// plus a package-level DefaultMetrics for callers that don't construct their
// own MeterProvider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/weillium/eventrt/internal/eventmodel"
)

const meterName = "github.com/weillium/eventrt"

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds every OpenTelemetry instrument the event runtime records.
// All fields are safe for concurrent use — the underlying OTel instruments
// handle their own synchronisation.
type Metrics struct {
	// SessionConnectDuration tracks model-session WebSocket handshake
	// latency, labelled by attribute.String("agent_type", ...).
	SessionConnectDuration metric.Float64Histogram

	// CardTriggerDuration tracks the latency of one processor card-trigger
	// evaluation pass.
	CardTriggerDuration metric.Float64Histogram

	// FactsUpdateDuration tracks the latency of one facts-update pass.
	FactsUpdateDuration metric.Float64Histogram

	// ModelSessionEvents counts inbound realtime-session events, labelled by
	// attribute.String("agent_type", ...), attribute.String("event_type", ...).
	ModelSessionEvents metric.Int64Counter

	// ModelSessionErrors counts session errors, labelled by
	// attribute.String("agent_type", ...).
	ModelSessionErrors metric.Int64Counter

	// TranscriptChunksIngested counts transcript audio chunks accepted via
	// the control plane.
	TranscriptChunksIngested metric.Int64Counter

	// CardsEmitted counts cards written by the processor.
	CardsEmitted metric.Int64Counter

	// FactsUpserted counts fact rows inserted or updated.
	FactsUpserted metric.Int64Counter

	// ActiveRuntimes tracks the number of event runtimes currently resident
	// in the process.
	ActiveRuntimes metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live model sessions across all
	// runtimes and agent types.
	ActiveSessions metric.Int64UpDownCounter

	// PushBusSubscribers tracks the number of live SSE subscribers.
	PushBusSubscribers metric.Int64UpDownCounter

	// PendingPipelineStage tracks the number of agents currently parked at
	// each upstream pipeline stage, labelled by attribute.String("stage",
	// ...). Populated by the stage-watching pollers (spec §4.12); this is
	// an observe-only gauge since the upstream context-generation pipeline
	// itself is out of scope for this module.
	PendingPipelineStage metric.Int64Gauge

	// HTTPRequestDuration tracks control-plane HTTP request latency,
	// labelled by attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised Metrics struct using mp. Returns an
// error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionConnectDuration, err = m.Float64Histogram("eventrt.session.connect.duration",
		metric.WithDescription("Latency of model-session connection establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CardTriggerDuration, err = m.Float64Histogram("eventrt.card_trigger.duration",
		metric.WithDescription("Latency of one card-trigger evaluation pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FactsUpdateDuration, err = m.Float64Histogram("eventrt.facts_update.duration",
		metric.WithDescription("Latency of one facts-update pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ModelSessionEvents, err = m.Int64Counter("eventrt.model_session.events",
		metric.WithDescription("Total inbound realtime-session events by agent type and event type."),
	); err != nil {
		return nil, err
	}
	if met.ModelSessionErrors, err = m.Int64Counter("eventrt.model_session.errors",
		metric.WithDescription("Total model-session errors by agent type."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptChunksIngested, err = m.Int64Counter("eventrt.transcript.chunks_ingested",
		metric.WithDescription("Total transcript audio chunks accepted."),
	); err != nil {
		return nil, err
	}
	if met.CardsEmitted, err = m.Int64Counter("eventrt.cards.emitted",
		metric.WithDescription("Total cards written by the processor."),
	); err != nil {
		return nil, err
	}
	if met.FactsUpserted, err = m.Int64Counter("eventrt.facts.upserted",
		metric.WithDescription("Total fact rows inserted or updated."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuntimes, err = m.Int64UpDownCounter("eventrt.active_runtimes",
		metric.WithDescription("Number of event runtimes currently resident in the process."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("eventrt.active_sessions",
		metric.WithDescription("Number of live model sessions across all runtimes and agent types."),
	); err != nil {
		return nil, err
	}
	if met.PushBusSubscribers, err = m.Int64UpDownCounter("eventrt.push_bus.subscribers",
		metric.WithDescription("Number of live SSE subscribers."),
	); err != nil {
		return nil, err
	}

	if met.PendingPipelineStage, err = m.Int64Gauge("eventrt.pending_pipeline_stage",
		metric.WithDescription("Number of agents currently parked at each upstream pipeline stage."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("eventrt.http.request.duration",
		metric.WithDescription("Control-plane HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance, creating it on
// first call using otel.GetMeterProvider. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen against
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// RecordPendingStage implements poller.PendingStageRecorder: it records the
// number of agents observed at stage by the stage-watching pollers.
func (m *Metrics) RecordPendingStage(stage eventmodel.AgentStage, count int) {
	if m == nil || m.PendingPipelineStage == nil {
		return
	}
	m.PendingPipelineStage.Record(context.Background(), int64(count), metric.WithAttributes(
		attribute.String("stage", string(stage)),
	))
}

package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds OTel metric instruments for the session package. Instruments
// are registered against the global delegating provider at construction
// time, so they forward to whatever MeterProvider the host process installs
// (spec.md SPEC_FULL §3 domain stack: "meter obtained once, instruments
// created at construction, recorded at suspension points").
type metrics struct {
	flushDuration     metric.Float64Histogram
	commitDuration    metric.Float64Histogram
	collectionBatches metric.Int64Counter
	instancesLoaded   metric.Int64Counter
}

func newMetrics() *metrics {
	m := otel.Meter("github.com/cormdev/corm/session")
	flushDuration, _ := m.Float64Histogram("corm.session.flush_ms",
		metric.WithDescription("Time spent planning and emitting a flush"),
		metric.WithUnit("ms"),
	)
	commitDuration, _ := m.Float64Histogram("corm.session.commit_ms",
		metric.WithDescription("Time spent in Commit, including flush"),
		metric.WithUnit("ms"),
	)
	collectionBatches, _ := m.Int64Counter("corm.session.collection_batches",
		metric.WithDescription("Collection batch-load queries issued"),
		metric.WithUnit("{query}"),
	)
	instancesLoaded, _ := m.Int64Counter("corm.session.instances_loaded",
		metric.WithDescription("Instances hydrated from the database"),
		metric.WithUnit("{instance}"),
	)
	return &metrics{
		flushDuration:     flushDuration,
		commitDuration:    commitDuration,
		collectionBatches: collectionBatches,
		instancesLoaded:   instancesLoaded,
	}
}

func (m *metrics) recordFlush(ctx context.Context, ms float64) {
	if m == nil {
		return
	}
	m.flushDuration.Record(ctx, ms)
}

func (m *metrics) recordCommit(ctx context.Context, ms float64) {
	if m == nil {
		return
	}
	m.commitDuration.Record(ctx, ms)
}

func (m *metrics) addCollectionBatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.collectionBatches.Add(ctx, 1)
}

func (m *metrics) addInstancesLoaded(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.instancesLoaded.Add(ctx, n)
}

package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache lookup outcomes reported through RecordLookup.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupBypass = "bypass"
)

// Metrics records dispatch, cache and single-flight metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordDispatch records one dispatcher invocation.
	RecordDispatch(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordLookup records a cache lookup with one of the Lookup outcomes.
	RecordLookup(ctx context.Context, tool, outcome string)

	// RecordJoin records a call joining the in-flight registry as leader or follower.
	RecordJoin(ctx context.Context, tool, role string)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	lookups      metric.Int64Counter
	joins        metric.Int64Counter
}

// NewMetrics creates Metrics backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"toolflight.dispatch.total",
		metric.WithDescription("Total number of dispatcher invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"toolflight.dispatch.errors",
		metric.WithDescription("Total number of failed dispatcher invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"toolflight.dispatch.duration_ms",
		metric.WithDescription("Dispatcher invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lookups, err := meter.Int64Counter(
		"toolflight.cache.lookups",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	joins, err := meter.Int64Counter(
		"toolflight.inflight.joins",
		metric.WithDescription("In-flight registry joins by role"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		lookups:      lookups,
		joins:        joins,
	}, nil
}

func (m *metricsImpl) RecordDispatch(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("tool.name", meta.Tool))

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, tool, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("outcome", outcome),
	))
}

func (m *metricsImpl) RecordJoin(ctx context.Context, tool, role string) {
	m.joins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("role", role),
	))
}

// NopMetrics returns Metrics that record nothing.
func NopMetrics() Metrics { return nopMetrics{} }

type nopMetrics struct{}

func (nopMetrics) RecordDispatch(context.Context, CallMeta, time.Duration, error) {}
func (nopMetrics) RecordLookup(context.Context, string, string)                   {}
func (nopMetrics) RecordJoin(context.Context, string, string)                     {}

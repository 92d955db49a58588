package observe

import (
	"context"
	"encoding/json"
	"time"
)

// DispatchFunc is the signature Middleware wraps: one dispatcher invocation.
type DispatchFunc func(ctx context.Context, meta CallMeta, args json.RawMessage) ([]byte, error)

// Middleware wraps dispatcher invocations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe DispatchFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: Arguments and payloads are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware. Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Tracer returns the middleware's tracer.
func (m *Middleware) Tracer() Tracer { return m.tracer }

// Metrics returns the middleware's metrics recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap wraps fn with a span, dispatch metrics and one log line per invocation.
func (m *Middleware) Wrap(fn DispatchFunc) DispatchFunc {
	return func(ctx context.Context, meta CallMeta, args json.RawMessage) ([]byte, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		payload, err := fn(ctx, meta, args)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordDispatch(ctx, meta, duration, err)

		log := m.logger.With(
			F("tool", meta.Tool),
			F("session", meta.Session),
			F("turn", meta.Turn),
			F("call_id", meta.CallID),
		)
		fields := []Field{F("duration_ms", float64(duration.Microseconds())/1000)}
		if err != nil {
			fields = append(fields, F("error", err.Error()))
			log.Error(ctx, "tool dispatch failed", fields...)
		} else {
			fields = append(fields, F("payload_bytes", len(payload)))
			log.Debug(ctx, "tool dispatch completed", fields...)
		}

		return payload, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// NopMiddleware returns a Middleware whose components all discard.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

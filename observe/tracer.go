package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Roles a call can take when it reaches the runtime.
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
	RoleCache    = "cache"
	RoleBypass   = "bypass"
)

// CallMeta describes one tool call for telemetry purposes.
type CallMeta struct {
	Tool    string // Tool name (required)
	Session string // Session identifier
	Turn    string // Turn identifier (may be empty for session-wide calls)
	CallID  string // Caller-assigned call identifier
	Role    string // One of the Role constants
}

// SpanName returns the deterministic span name for this call.
// Format: toolflight.dispatch.<tool>
func (m CallMeta) SpanName() string {
	return "toolflight.dispatch." + m.Tool
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("tool.name", m.Tool),
		attribute.String("session.id", m.Session),
	}
	if m.Turn != "" {
		attrs = append(attrs, attribute.String("turn.id", m.Turn))
	}
	if m.CallID != "" {
		attrs = append(attrs, attribute.String("call.id", m.CallID))
	}
	if m.Role != "" {
		attrs = append(attrs, attribute.String("call.role", m.Role))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with dispatch span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a tool dispatch.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("tool.error", false))
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("tool.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a tracer whose spans are never recorded.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}

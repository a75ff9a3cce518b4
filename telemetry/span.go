package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type spanKey struct{}

// SpanRecorder starts spans on the provider's tracer.
type SpanRecorder struct {
	tracer trace.Tracer
	logger *logrus.Logger
}

// Span is a span owned by the code that started it. The status is kept
// locally and applied when the span ends, so ERROR cannot be overwritten.
type Span struct {
	span   trace.Span
	name   string
	logger *logrus.Logger
	ended  atomic.Bool

	mu          sync.Mutex
	status      codes.Code
	description string
}

// Start creates a span named name. Its parent is the span active in ctx,
// local or remote; with none it is a root span with a fresh trace id.
// The returned context carries the span until the caller's scope ends.
//
// Usage:
//
//	ctx, span := p.Spans().Start(ctx, "compute_operation")
//	defer span.End()
func (r *SpanRecorder) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	ctx, otelSpan := r.tracer.Start(ctx, name, opts...)
	s := &Span{
		span:   otelSpan,
		name:   name,
		logger: r.logger,
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// WithSpan runs fn within a new span and ends it when fn returns.
// An error returned by fn marks the span ERROR and is returned unchanged.
func (r *SpanRecorder) WithSpan(ctx context.Context, name string, fn func(context.Context, *Span) error, opts ...trace.SpanStartOption) error {
	ctx, span := r.Start(ctx, name, opts...)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ActiveSpan returns the innermost span of ctx if it was started by a
// SpanRecorder, or nil.
func ActiveSpan(ctx context.Context) *Span {
	s, ok := ctx.Value(spanKey{}).(*Span)
	if !ok {
		return nil
	}
	if !s.span.SpanContext().Equal(trace.SpanContextFromContext(ctx)) {
		return nil
	}
	return s
}

// Name returns the span name.
func (s *Span) Name() string {
	return s.name
}

// SetAttribute sets one attribute. Scalars map to their attribute type;
// durations are recorded in seconds; anything else is formatted.
func (s *Span) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

// SetAttributes sets typed attributes.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// SetStatus sets the span status. Once ERROR, later calls are ignored.
// It never stops the work the span describes.
func (s *Span) SetStatus(code codes.Code, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == codes.Error {
		return
	}
	if code == codes.Unset {
		return
	}
	s.status = code
	s.description = ""
	if code == codes.Error {
		s.description = description
	}
}

// Status returns the current status and, for ERROR, its message.
func (s *Span) Status() (codes.Code, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.description
}

// RecordError records err as an exception event and marks the span ERROR.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to the span.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End finalizes the span and hands it to the exporter. Only the first call
// has an effect; later calls are reported and return false.
func (s *Span) End() bool {
	if !s.ended.CompareAndSwap(false, true) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"span":     s.name,
				"trace_id": s.span.SpanContext().TraceID().String(),
				"span_id":  s.span.SpanContext().SpanID().String(),
			}).Warn("span already ended")
		}
		return false
	}

	code, description := s.Status()
	if code != codes.Unset {
		s.span.SetStatus(code, description)
	}
	s.span.End()
	return true
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	return s.ended.Load()
}

// Context returns the propagated identity of the span.
func (s *Span) Context() TraceContext {
	return traceContextOf(s.span.SpanContext())
}

// SpanContext returns the underlying OpenTelemetry span context.
func (s *Span) SpanContext() trace.SpanContext {
	return s.span.SpanContext()
}

// TraceIDFromContext extracts the trace ID from the context.
// Returns an empty string if no trace is active.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanIDFromContext extracts the span ID from the context.
// Returns an empty string if no span is active.
func SpanIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.Float64(key, v.Seconds())
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

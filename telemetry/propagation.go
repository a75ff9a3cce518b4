package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceparentHeader is the W3C trace context header name.
const TraceparentHeader = "traceparent"

var traceContextPropagator = propagation.TraceContext{}

// TraceContext is the propagated identity of a span. It is a value type;
// a child span keeps TraceID and gets a fresh SpanID.
type TraceContext struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Sampled bool
}

// IsValid reports whether both ids are non-zero.
func (tc TraceContext) IsValid() bool {
	return tc.TraceID.IsValid() && tc.SpanID.IsValid()
}

// String renders the context in traceparent form.
func (tc TraceContext) String() string {
	flags := "00"
	if tc.Sampled {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", tc.TraceID, tc.SpanID, flags)
}

// SpanContext converts tc into a remote OpenTelemetry span context.
func (tc TraceContext) SpanContext() trace.SpanContext {
	var flags trace.TraceFlags
	if tc.Sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tc.TraceID,
		SpanID:     tc.SpanID,
		TraceFlags: flags,
		Remote:     true,
	})
}

func traceContextOf(sc trace.SpanContext) TraceContext {
	return TraceContext{
		TraceID: sc.TraceID(),
		SpanID:  sc.SpanID(),
		Sampled: sc.IsSampled(),
	}
}

// errNoTraceparent marks a carrier without a trace context header.
var errNoTraceparent = errors.New("no traceparent")

// Extract reads a traceparent from carrier. Keys are matched without
// regard to case. Missing or malformed values yield false; the caller then
// starts a root span. It never fails.
func Extract(carrier map[string]string) (TraceContext, bool) {
	tc, err := ParseMap(carrier)
	return tc, err == nil
}

// ExtractHTTP is Extract over request headers.
func ExtractHTTP(h http.Header) (TraceContext, bool) {
	tc, err := ParseHTTP(h)
	return tc, err == nil
}

// ParseMap is Extract reporting why no context was found. A header that
// is present but unusable yields an ErrPropagationParse error.
func ParseMap(carrier map[string]string) (TraceContext, error) {
	if _, ok := carrier[TraceparentHeader]; !ok {
		for k, v := range carrier {
			if strings.EqualFold(k, TraceparentHeader) {
				carrier = map[string]string{TraceparentHeader: v}
				break
			}
		}
	}
	return parse(propagation.MapCarrier(carrier))
}

// ParseHTTP is ParseMap over request headers.
func ParseHTTP(h http.Header) (TraceContext, error) {
	return parse(propagation.HeaderCarrier(h))
}

func parse(carrier propagation.TextMapCarrier) (TraceContext, error) {
	value := carrier.Get(TraceparentHeader)
	if value == "" {
		return TraceContext{}, errNoTraceparent
	}
	ctx := traceContextPropagator.Extract(context.Background(), carrier)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return TraceContext{}, NewError("telemetry.Extract", fmt.Sprintf("malformed traceparent %q", value), ErrPropagationParse)
	}
	return traceContextOf(sc), nil
}

// Inject writes tc to carrier as a traceparent, replacing any existing value.
// An invalid tc removes the header so no stale trace is continued.
func Inject(tc TraceContext, carrier map[string]string) {
	if !tc.IsValid() {
		for k := range carrier {
			if strings.EqualFold(k, TraceparentHeader) {
				delete(carrier, k)
			}
		}
		return
	}
	inject(tc, propagation.MapCarrier(carrier))
}

// InjectHTTP is Inject over request headers.
func InjectHTTP(tc TraceContext, h http.Header) {
	if !tc.IsValid() {
		h.Del(TraceparentHeader)
		return
	}
	inject(tc, propagation.HeaderCarrier(h))
}

func inject(tc TraceContext, carrier propagation.TextMapCarrier) {
	ctx := trace.ContextWithSpanContext(context.Background(), tc.SpanContext())
	traceContextPropagator.Inject(ctx, carrier)
}

// ContextWithParent returns ctx carrying tc as the remote parent of the
// next span started from it.
func ContextWithParent(ctx context.Context, tc TraceContext) context.Context {
	if !tc.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, tc.SpanContext())
}

// TraceContextFromContext returns the context of the span active in ctx.
func TraceContextFromContext(ctx context.Context) (TraceContext, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return TraceContext{}, false
	}
	return traceContextOf(sc), true
}

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader is set on every instrumented response.
const TraceIDHeader = "X-Trace-ID"

// StatusClientClosedRequest is recorded when the client went away before
// the handler wrote a status.
const StatusClientClosedRequest = 499

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int64
	headerWritten bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default to 200
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.headerWritten {
		rw.statusCode = code
		rw.headerWritten = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter for compatibility with
// http.ResponseController and other wrappers.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns the per-request pipeline. For every request it
// continues or starts a trace, runs the handler inside a server span,
// records one duration observation, ends the span and logs the outcome.
// The bookkeeping also runs when the handler panics or the client
// disconnects; a panic is re-raised unchanged afterwards.
func (p *Provider) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !p.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			// Extract trace context from incoming request
			ctx := r.Context()
			parent, err := ParseHTTP(r.Header)
			switch {
			case err == nil:
				ctx = ContextWithParent(ctx, parent)
			case IsCode(err, ErrPropagationParse):
				p.diagnostics.WithError(err).Debug("ignoring incoming trace context")
			}

			route := r.URL.Path
			ctx, span := p.spans.Start(ctx, fmt.Sprintf("%s %s", r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					AttrHTTPMethod.String(r.Method),
					AttrHTTPRoute.String(route),
					InstanceIDKey.String(p.identity.InstanceID),
				),
			)

			rw := newResponseWriter(w)

			// Add trace ID to response headers for debugging
			if sc := span.SpanContext(); sc.HasTraceID() {
				rw.Header().Set(TraceIDHeader, sc.TraceID().String())
			}

			start := time.Now()
			defer func() {
				recovered := recover()
				p.finishRequest(ctx, span, rw, r.Method, route, time.Since(start), recovered)
				if recovered != nil {
					panic(recovered)
				}
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// finishRequest records the metric, closes the span and logs the
// completion line, in that order.
func (p *Provider) finishRequest(ctx context.Context, span *Span, rw *responseWriter, method, route string, elapsed time.Duration, recovered any) {
	cancelled := ctx.Err() != nil
	// The request context may be cancelled; telemetry must still go out.
	ctx = context.WithoutCancel(ctx)

	status := rw.statusCode
	switch {
	case recovered != nil:
		status = http.StatusInternalServerError
		span.RecordError(WrapError("telemetry.Middleware", fmt.Errorf("panic: %v", recovered), ErrHandler))
	case cancelled && !rw.headerWritten:
		status = StatusClientClosedRequest
	}

	switch {
	case status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(status))
	case status < http.StatusBadRequest:
		span.SetStatus(codes.Ok, "")
	}

	seconds := elapsed.Seconds()
	p.metrics.Record(ctx, seconds, RequestAttributes{
		Route:      route,
		Method:     method,
		StatusCode: status,
		InstanceID: p.identity.InstanceID,
	})

	span.SetAttributes(
		AttrHTTPStatusCode.Int(status),
		AttrHTTPDuration.Float64(seconds),
		attribute.Int64("http.response.size", rw.bytesWritten),
	)
	if cancelled {
		span.SetAttribute("http.request.cancelled", true)
	}

	p.logger.WithContext(ctx).Infof("%s %s -> %d (%.3fs)", method, route, status, seconds)
	span.End()
}

package telemetry

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transport is an http.RoundTripper that wraps every outbound request in
// a client span and propagates it with a traceparent header.
type Transport struct {
	base  http.RoundTripper
	spans *SpanRecorder
}

// Transport returns a RoundTripper recording client spans on p. A nil
// base uses http.DefaultTransport.
func (p *Provider) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, spans: p.spans}
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// mutated; the traceparent goes on a clone.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.spans.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrHTTPMethod.String(req.Method),
			attribute.String("http.url", sanitizeURL(req)),
			attribute.String("net.peer.name", req.URL.Hostname()),
		),
	)
	defer span.End()

	outbound := req.Clone(ctx)
	InjectHTTP(span.Context(), outbound.Header)

	resp, err := t.base.RoundTrip(outbound)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(AttrHTTPStatusCode.Int(resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// sanitizeURL returns a URL string safe for logging (no sensitive query params).
func sanitizeURL(r *http.Request) string {
	u := *r.URL
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestTransport_PropagatesActiveSpan(t *testing.T) {
	h := newTestHarness(t)

	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: h.provider.Transport(nil)}

	ctx, parent := h.provider.Spans().Start(context.Background(), "external_call")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/work?token=secret", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	parent.End()

	// The caller's request is not mutated
	assert.Empty(t, req.Header.Get("traceparent"))

	tc, ok := Extract(map[string]string{TraceparentHeader: received})
	require.True(t, ok)

	clientSpan := h.endedSpan(t, "HTTP GET")
	assert.Equal(t, trace.SpanKindClient, clientSpan.SpanKind())
	assert.Equal(t, parent.Context().TraceID, tc.TraceID)
	assert.Equal(t, clientSpan.SpanContext().SpanID(), tc.SpanID)
	assert.Equal(t, parent.Context().SpanID, clientSpan.Parent().SpanID())

	v, _ := attrValue(clientSpan.Attributes(), AttrHTTPStatusCode)
	assert.Equal(t, int64(200), v.AsInt64())
	v, _ = attrValue(clientSpan.Attributes(), "http.url")
	assert.NotContains(t, v.AsString(), "secret")
}

func TestTransport_ServerErrorMarksSpan(t *testing.T) {
	h := newTestHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Work took too long", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &http.Client{Transport: h.provider.Transport(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, codes.Error, h.endedSpan(t, "HTTP GET").Status().Code)
}

func TestTransport_ConnectionError(t *testing.T) {
	h := newTestHarness(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := &http.Client{Transport: h.provider.Transport(nil)}
	_, err := client.Get(url)
	require.Error(t, err)

	span := h.endedSpan(t, "HTTP GET")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.NotEmpty(t, span.Events())
}

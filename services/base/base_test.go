package base

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/services/worker"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/jimmitjoo/tracechain/telemetry/telemetrytest"
	"github.com/jimmitjoo/tracechain/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var testWorkload = config.WorkloadConfig{
	ComputeDelayMin:   0,
	ComputeDelayMax:   0,
	WorkDurationMin:   10 * time.Millisecond,
	WorkDurationMax:   10 * time.Millisecond,
	WorkSlowThreshold: 150 * time.Millisecond,
}

func newBase(t *testing.T, h *telemetrytest.Harness, workerURL string, transport http.RoundTripper) http.Handler {
	t.Helper()
	if transport == nil {
		transport = h.Provider.Transport(nil)
	}
	client := NewWorkerClient(config.WorkerConfig{
		URL:      workerURL,
		Timeout:  time.Second,
		RetryMax: 2,
	}, transport, h.Provider.Logger())

	r := chi.NewRouter()
	r.Use(h.Provider.Middleware())
	New(h.Provider, client, workload.Fixed{Int: 42}, testWorkload).Routes(r)
	return r
}

func newWorker(t *testing.T, h *telemetrytest.Harness, d time.Duration) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(h.Provider.Middleware())
	worker.New(h.Provider, workload.Fixed{Duration: d}, testWorkload).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHome(t *testing.T) {
	h := telemetrytest.New(t, "base", "base-1")
	srv := newBase(t, h, "http://127.0.0.1:1", nil)

	rr := get(t, srv, "/")

	require.Equal(t, http.StatusOK, rr.Code)
	var got HomeResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, HomeResult{Service: "A", Status: "ok", Host: "base-1"}, got)

	home := h.EndedSpan(t, "home_handler")
	server := h.EndedSpan(t, "GET /")
	assert.Equal(t, server.SpanContext().SpanID(), home.Parent().SpanID())
	assert.Contains(t, h.Output.String(), "Service A Root endpoint hit")
}

func TestCompute(t *testing.T) {
	h := telemetrytest.New(t, "base", "base-1")
	srv := newBase(t, h, "http://127.0.0.1:1", nil)

	rr := get(t, srv, "/compute")

	require.Equal(t, http.StatusOK, rr.Code)
	var got ComputeResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, ComputeResult{Value: 42, Delay: 0}, got)

	span := h.EndedSpan(t, "compute_operation")
	v, ok := telemetrytest.Attr(span.Attributes(), "compute.value")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.AsInt64())
}

// A request to /external produces one trace across both services: the
// worker's server span is a child of the base client span.
func TestExternal_PropagatesTrace(t *testing.T) {
	hw := telemetrytest.New(t, "worker", "worker-1")
	hb := telemetrytest.New(t, "base", "base-1")
	workerSrv := newWorker(t, hw, 10*time.Millisecond)
	srv := newBase(t, hb, workerSrv.URL, nil)

	rr := get(t, srv, "/external")

	require.Equal(t, http.StatusOK, rr.Code)
	var got ExternalResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, ExternalResult{ExternalStatus: http.StatusOK}, got)

	baseServer := hb.EndedSpan(t, "GET /external")
	client := hb.EndedSpan(t, "HTTP GET")
	external := hb.EndedSpan(t, "external_call")
	workerServer := hw.EndedSpan(t, "GET /work")

	traceID := baseServer.SpanContext().TraceID()
	assert.Equal(t, traceID.String(), rr.Header().Get(telemetry.TraceIDHeader))
	for _, s := range []interface{ SpanContext() trace.SpanContext }{client, external, workerServer} {
		assert.Equal(t, traceID, s.SpanContext().TraceID())
	}
	assert.Equal(t, external.SpanContext().SpanID(), client.Parent().SpanID())
	assert.Equal(t, client.SpanContext().SpanID(), workerServer.Parent().SpanID())
	assert.True(t, workerServer.Parent().IsRemote())
	assert.Equal(t, trace.SpanKindClient, client.SpanKind())

	assert.Len(t, hb.Histogram(t).DataPoints, 1)
	assert.Len(t, hw.Histogram(t).DataPoints, 1)
}

func TestExternal_WorkerErrorIsReported(t *testing.T) {
	hw := telemetrytest.New(t, "worker", "worker-1")
	hb := telemetrytest.New(t, "base", "base-1")
	workerSrv := newWorker(t, hw, 200*time.Millisecond)
	srv := newBase(t, hb, workerSrv.URL, nil)

	rr := get(t, srv, "/external")

	require.Equal(t, http.StatusOK, rr.Code)
	var got ExternalResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, http.StatusInternalServerError, got.ExternalStatus)

	assert.Equal(t, codes.Error, hb.EndedSpan(t, "HTTP GET").Status().Code)
	assert.Equal(t, codes.Ok, hb.EndedSpan(t, "GET /external").Status().Code)
	assert.Equal(t, codes.Error, hw.EndedSpan(t, "GET /work").Status().Code)
}

func TestExternal_WorkerUnreachable(t *testing.T) {
	h := telemetrytest.New(t, "base", "base-1")
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	srv := newBase(t, h, url, nil)
	rr := get(t, srv, "/external")

	require.Equal(t, http.StatusBadGateway, rr.Code)
	var got ExternalResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "worker unreachable", got.Error)

	external := h.EndedSpan(t, "external_call")
	assert.Equal(t, codes.Error, external.Status().Code)
	assert.Equal(t, codes.Error, h.EndedSpan(t, "GET /external").Status().Code)
	assert.Contains(t, h.Output.String(), "retrying worker request")

	var retries []int64
	for _, ev := range external.Events() {
		if ev.Name != "worker.retry" {
			continue
		}
		attempt, ok := telemetrytest.Attr(ev.Attributes, "attempt")
		require.True(t, ok)
		retries = append(retries, attempt.AsInt64())
	}
	assert.Equal(t, []int64{1, 2}, retries)
}

type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func TestWorkerClient_RetriesTransportErrors(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	rt := &flakyTransport{failures: 1, next: http.DefaultTransport}
	c := NewWorkerClient(config.WorkerConfig{URL: up.URL, Timeout: time.Second, RetryMax: 2}, rt, nil)

	status, err := c.Work(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(2), rt.calls.Load())
	assert.Equal(t, int32(1), hits.Load())
}

func TestWorkerClient_DoesNotRetryResponses(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer up.Close()

	c := NewWorkerClient(config.WorkerConfig{URL: up.URL + "/", Timeout: time.Second, RetryMax: 2}, nil, nil)

	status, err := c.Work(t.Context())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, int32(1), hits.Load())
}

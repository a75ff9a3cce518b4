package tracechain

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/monitoring"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/jimmitjoo/tracechain/telemetry/telemetrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:        "base",
			InstanceID:  "base-1",
			Environment: "test",
		},
		Server: config.ServerConfig{
			Port:            8000,
			ShutdownTimeout: time.Second,
		},
		Telemetry: config.TelemetryConfig{
			Exporter:       string(telemetry.ExporterNone),
			ExportInterval: time.Second,
		},
		Logging: config.LoggingConfig{Level: "debug", Format: "text"},
	}
}

func newTestApp(t *testing.T) (*App, *telemetrytest.Harness) {
	t.Helper()
	h := telemetrytest.NewCapture()
	app, err := New(testConfig(), WithoutGlobals(), WithTelemetryOptions(h.Options()...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, h
}

func TestNew_Identity(t *testing.T) {
	app, _ := newTestApp(t)

	id := app.Telemetry.Identity()
	assert.Equal(t, "base", id.ServiceName)
	assert.Equal(t, "base-1", id.InstanceID)
	assert.Equal(t, version, app.Telemetry.Config().ServiceVersion)
}

func TestApp_MonitoringRoutesAreNotTraced(t *testing.T) {
	app, h := newTestApp(t)

	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health monitoring.HealthStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	assert.Equal(t, "base-1", health.Instance)

	rr = httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tracechain_telemetry_export_failures_total")

	assert.Empty(t, h.Spans.Ended())
	assert.Empty(t, rr.Header().Get(telemetry.TraceIDHeader))
}

func TestApp_APIRoutesAreTraced(t *testing.T) {
	app, h := newTestApp(t)
	app.API.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(telemetry.TraceIDHeader))
	span := h.EndedSpan(t, "GET /ping")
	assert.Equal(t, rr.Header().Get(telemetry.TraceIDHeader), span.SpanContext().TraceID().String())
	assert.Len(t, h.Histogram(t).DataPoints, 1)
}

func TestApp_PanicIsRecordedAndAnswered(t *testing.T) {
	app, h := newTestApp(t)
	app.API.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	h.EndedSpan(t, "GET /boom")
	hist := h.Histogram(t)
	require.Len(t, hist.DataPoints, 1)
	status, _ := hist.DataPoints[0].Attributes.Value(telemetry.AttrHTTPStatusCode)
	assert.Equal(t, int64(500), status.AsInt64())
}

func TestApp_ServeUntilCancelled(t *testing.T) {
	app, h := newTestApp(t)
	app.API.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Contains(t, h.Output.String(), "Server shutdown gracefully")
	assert.False(t, app.Telemetry.IsEnabled())
}

func TestOutboundTransport_CountsDownstreamRequests(t *testing.T) {
	app, h := newTestApp(t)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(telemetry.TraceparentHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()

	client := &http.Client{Transport: app.OutboundTransport()}
	resp, err := client.Get(up.URL)
	require.NoError(t, err)
	resp.Body.Close()

	h.EndedSpan(t, "HTTP GET")

	rr := httptest.NewRecorder()
	app.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `tracechain_downstream_requests_total{code="204",method="get"} 1`)
}

// Package telemetrytest provides an in-memory telemetry provider for
// tests of instrumented handlers.
package telemetrytest

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Harness captures every span, metric and log record of its provider.
type Harness struct {
	Provider *telemetry.Provider
	Spans    *tracetest.SpanRecorder
	Reader   *sdkmetric.ManualReader
	Logs     *LogExporter
	Output   *Buffer
}

// New returns a harness for service. The provider exports nothing and is
// shut down when the test ends.
func New(t testing.TB, service, instance string, opts ...telemetry.Option) *Harness {
	t.Helper()

	h := NewCapture()
	opts = append(h.Options(), opts...)

	p, err := telemetry.New(telemetry.Config{
		ServiceName: service,
		InstanceID:  instance,
		Exporter:    telemetry.ExporterNone,
		LogLevel:    "debug",
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	h.Provider = p
	return h
}

// Options returns the capture options so a harness can back a provider
// built elsewhere, e.g. by an application constructor.
func (h *Harness) Options() []telemetry.Option {
	return []telemetry.Option{
		telemetry.WithSpanProcessor(h.Spans),
		telemetry.WithMetricReader(h.Reader),
		telemetry.WithLogProcessor(sdklog.NewSimpleProcessor(h.Logs)),
		telemetry.WithLogOutput(h.Output),
	}
}

// NewCapture returns a harness without a provider; pass Options to the
// code under test.
func NewCapture() *Harness {
	return &Harness{
		Spans:  tracetest.NewSpanRecorder(),
		Reader: sdkmetric.NewManualReader(),
		Logs:   &LogExporter{},
		Output: &Buffer{},
	}
}

// EndedSpan returns the first ended span named name.
func (h *Harness) EndedSpan(t testing.TB, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.Spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	require.Failf(t, "span not found", "no ended span named %q", name)
	return nil
}

// Histogram collects the request duration histogram.
func (h *Harness) Histogram(t testing.TB) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.Reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != telemetry.RequestDurationMetric {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			return hist
		}
	}
	return metricdata.Histogram[float64]{}
}

// Attr returns the value of key in attrs.
func Attr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// LogExporter keeps exported log records in memory.
type LogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

// Export implements sdklog.Exporter.
func (e *LogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

// Shutdown implements sdklog.Exporter.
func (e *LogExporter) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdklog.Exporter.
func (e *LogExporter) ForceFlush(context.Context) error { return nil }

// Records returns a copy of the exported records.
func (e *LogExporter) Records() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

// Buffer is a bytes.Buffer safe for concurrent writers.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

package telemetry

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	testTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	testTraceID     = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID      = "00f067aa0ba902b7"
)

// syncBuffer is shared by the process and diagnostic loggers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) Records() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

type testHarness struct {
	provider *Provider
	spans    *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
	logs     *memoryLogExporter
	output   *syncBuffer
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()

	h := &testHarness{
		spans:  tracetest.NewSpanRecorder(),
		reader: sdkmetric.NewManualReader(),
		logs:   &memoryLogExporter{},
		output: &syncBuffer{},
	}

	opts = append([]Option{
		WithSpanProcessor(h.spans),
		WithMetricReader(h.reader),
		WithLogProcessor(sdklog.NewSimpleProcessor(h.logs)),
		WithLogOutput(h.output),
	}, opts...)

	p, err := New(Config{
		ServiceName: "test-service",
		InstanceID:  "test-instance",
		Exporter:    ExporterNone,
		LogLevel:    "debug",
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	h.provider = p
	return h
}

func (h *testHarness) endedSpan(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	require.Failf(t, "span not found", "no ended span named %q", name)
	return nil
}

func (h *testHarness) histogram(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != RequestDurationMetric {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			return hist
		}
	}
	return metricdata.Histogram[float64]{}
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func resetGlobal(t *testing.T) {
	t.Helper()
	globalMu.Lock()
	p := globalProvider
	globalProvider = nil
	globalMu.Unlock()
	if p != nil {
		_ = p.Shutdown(context.Background())
	}
}

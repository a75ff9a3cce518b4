package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RequestDurationMetric is the request duration histogram name.
	RequestDurationMetric = "http.server.request.duration"

	// Attribute keys shared by spans and metric observations.
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPDuration   = attribute.Key("http.duration")
)

// requestDurationBuckets are the histogram boundaries in seconds.
var requestDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1, 2.5, 5, 10,
}

// RequestAttributes is the fixed dimension set of a request observation.
type RequestAttributes struct {
	Route      string
	Method     string
	StatusCode int
	InstanceID string
}

func (a RequestAttributes) keyValues() []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHTTPRoute.String(a.Route),
		AttrHTTPStatusCode.Int(a.StatusCode),
		AttrHTTPMethod.String(a.Method),
		InstanceIDKey.String(a.InstanceID),
	}
}

// MetricsRecorder records request durations on the shared histogram.
// It is safe for concurrent use.
type MetricsRecorder struct {
	duration metric.Float64Histogram
	logger   *logrus.Logger
}

func newMetricsRecorder(meter metric.Meter, logger *logrus.Logger) (*MetricsRecorder, error) {
	duration, err := meter.Float64Histogram(
		RequestDurationMetric,
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", RequestDurationMetric, err)
	}
	return &MetricsRecorder{duration: duration, logger: logger}, nil
}

// Record adds one observation of seconds with attrs. It never fails the
// caller: a recorder fault is logged locally and the observation dropped.
func (m *MetricsRecorder) Record(ctx context.Context, seconds float64, attrs RequestAttributes) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.WithFields(logrus.Fields{
				"metric": RequestDurationMetric,
				"panic":  fmt.Sprint(r),
			}).Error("dropping request observation")
		}
	}()

	if seconds < 0 {
		seconds = 0
	}
	m.duration.Record(ctx, seconds, metric.WithAttributes(attrs.keyValues()...))
}

// Package monitoring exposes local process diagnostics: the health check
// and a Prometheus registry for the pipeline's own failure counters and
// downstream client instrumentation.
package monitoring

import (
	"net/http"

	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace           = "tracechain"
	telemetrySubsystem  = "telemetry"
	downstreamSubsystem = "downstream"

	exportFailuresMetricName             = "export_failures_total"
	sdkErrorsMetricName                  = "sdk_errors_total"
	httpInFlightRequestsMetricName       = "in_flight_requests"
	httpRequestsTotalMetricName          = "requests_total"
	httpRequestDurationSecondsMetricName = "request_duration_seconds"
)

// Metrics owns a private registry so several instances can live in one
// process, e.g. both services in a test.
type Metrics struct {
	registry *prometheus.Registry

	ExportFailures prometheus.Counter
	SDKErrors      prometheus.Counter

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewMetrics registers the diagnostic collectors, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ExportFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: telemetrySubsystem,
				Name:      exportFailuresMetricName,
				Help:      "The number of telemetry export batches that failed and were dropped.",
			},
		),

		SDKErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: telemetrySubsystem,
				Name:      sdkErrorsMetricName,
				Help:      "The number of telemetry SDK errors that were not export failures.",
			},
		),

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: downstreamSubsystem,
				Name:      httpRequestsTotalMetricName,
				Help:      "A counter for downstream http requests.",
			},
			[]string{"code", "method"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: downstreamSubsystem,
				Name:      httpRequestDurationSecondsMetricName,
				Help:      "A histogram of latencies for downstream http requests.",
				Buckets: []float64{
					0.005, /* 5ms */
					0.025, /* 25ms */
					0.1,   /* 100ms */
					0.5,   /* 500ms */
					1.0,   /* 1s */
					10.0,  /* 10s */
					30.0,  /* 30s */
				},
			},
			[]string{"code", "method"},
		),

		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: downstreamSubsystem,
				Name:      httpInFlightRequestsMetricName,
				Help:      "A gauge of downstream requests currently being performed.",
			},
		),
	}
}

// ObserveTelemetryError counts one error reported by the telemetry SDK,
// as an export failure or as another SDK error by its code.
func (m *Metrics) ObserveTelemetryError(err error) {
	if telemetry.IsCode(err, telemetry.ErrExport) {
		m.ExportFailures.Inc()
		return
	}
	m.SDKErrors.Inc()
}

// RoundTripper instruments next with the downstream request metrics.
func (m *Metrics) RoundTripper(next http.RoundTripper) promhttp.RoundTripperFunc {
	if next == nil {
		next = http.DefaultTransport
	}
	rt := next

	rt = promhttp.InstrumentRoundTripperCounter(m.requestsTotal, rt)
	rt = promhttp.InstrumentRoundTripperDuration(m.requestDuration, rt)
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight, rt)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

package telemetry

import (
	"io"
	"net/url"
	"strings"
	"time"
)

// ExporterType selects the push transport used for all three signals.
type ExporterType string

const (
	// ExporterOTLPHTTP pushes OTLP/protobuf over HTTP (default).
	ExporterOTLPHTTP ExporterType = "otlphttp"
	// ExporterOTLPGRPC pushes OTLP over gRPC to the endpoint host.
	ExporterOTLPGRPC ExporterType = "otlpgrpc"
	// ExporterZipkin exports spans to a Zipkin endpoint. Metrics and logs
	// are recorded but not exported.
	ExporterZipkin ExporterType = "zipkin"
	// ExporterNone disables exporting (useful for testing).
	ExporterNone ExporterType = "none"
)

// LogFormat selects the human-readable log sink encoding.
type LogFormat string

const (
	// LogFormatText writes "timestamp [level] trace_id=... span_id=... message".
	LogFormatText LogFormat = "text"
	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

const (
	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
	logsPath    = "/v1/logs"

	defaultExportInterval = 10 * time.Second
)

// Config holds telemetry configuration for one service instance.
type Config struct {
	// ServiceName identifies this service in every exported signal. Required.
	ServiceName string

	// ServiceVersion is the version of this service (optional).
	ServiceVersion string

	// Environment identifies the deployment environment (e.g., "production", "staging").
	Environment string

	// InstanceID identifies this process. Defaults to "unknown".
	InstanceID string

	// Endpoint is the base collector address, e.g. "http://otel-collector:4318".
	// The signal paths are appended to it. Required unless Exporter is ExporterNone.
	Endpoint string

	// Exporter selects the export transport. Defaults to ExporterOTLPHTTP.
	Exporter ExporterType

	// Headers are additional headers to send with exports (e.g., authentication).
	Headers map[string]string

	// ResourceAttributes are additional attributes to add to the resource.
	ResourceAttributes map[string]string

	// ExportInterval is the metric push cadence. Defaults to 10s.
	ExportInterval time.Duration

	// LogLevel is a logrus level name. Defaults to "info".
	LogLevel string

	// LogFormat selects the local log encoding. Defaults to text.
	LogFormat LogFormat

	// LogOutput receives local log lines. Defaults to stdout.
	LogOutput io.Writer
}

// Validate checks the configuration and fills in defaults.
// Every failure is an ErrConfiguration.
func (c *Config) Validate() error {
	const op = "telemetry.Config.Validate"

	if c.ServiceName == "" {
		return NewError(op, "ServiceName is required", ErrConfiguration)
	}

	if c.InstanceID == "" {
		c.InstanceID = "unknown"
	}

	if c.Exporter == "" {
		c.Exporter = ExporterOTLPHTTP
	}

	switch c.Exporter {
	case ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterZipkin, ExporterNone:
	default:
		return NewError(op, "invalid Exporter type: "+string(c.Exporter), ErrConfiguration)
	}

	if c.Exporter != ExporterNone {
		if c.Endpoint == "" {
			return NewError(op, "Endpoint is required when exporter is enabled", ErrConfiguration)
		}
		if _, err := c.endpointURL(); err != nil {
			return WrapError(op, err, ErrConfiguration)
		}
	}

	if c.ExportInterval == 0 {
		c.ExportInterval = defaultExportInterval
	}
	if c.ExportInterval < 0 {
		return NewError(op, "ExportInterval cannot be negative", ErrConfiguration)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.LogFormat == "" {
		c.LogFormat = LogFormatText
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return NewError(op, "invalid LogFormat: "+string(c.LogFormat), ErrConfiguration)
	}

	return nil
}

// endpointURL parses Endpoint as an absolute http(s) URL.
func (c *Config) endpointURL() (*url.URL, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &url.Error{Op: "parse", URL: c.Endpoint, Err: errMissingScheme}
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: c.Endpoint, Err: errMissingHost}
	}
	return u, nil
}

// TracesURL returns the span export URL.
func (c *Config) TracesURL() string { return c.signalURL(tracesPath) }

// MetricsURL returns the metric export URL.
func (c *Config) MetricsURL() string { return c.signalURL(metricsPath) }

// LogsURL returns the log export URL.
func (c *Config) LogsURL() string { return c.signalURL(logsPath) }

func (c *Config) signalURL(path string) string {
	return strings.TrimRight(c.Endpoint, "/") + path
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("telemetry.Config{")
	b.WriteString("ServiceName: " + c.ServiceName)
	b.WriteString(", Instance: " + c.InstanceID)
	if c.ServiceVersion != "" {
		b.WriteString(", Version: " + c.ServiceVersion)
	}
	if c.Environment != "" {
		b.WriteString(", Env: " + c.Environment)
	}
	b.WriteString(", Exporter: " + string(c.Exporter))
	if c.Endpoint != "" {
		b.WriteString(", Endpoint: " + c.Endpoint)
	}
	b.WriteString("}")
	return b.String()
}

// Package config provides structured configuration with validation for the
// tracechain services. It groups related settings into sections, reads them
// from the environment (optionally seeded from a .env file) and validates
// all values at startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds all service configuration grouped by domain.
// Use Load() to create a validated Config from environment variables.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
	Worker    WorkerConfig
	Workload  WorkloadConfig
}

// ServiceConfig identifies the running instance
type ServiceConfig struct {
	Name        string `envconfig:"SERVICE_NAME"`
	InstanceID  string `envconfig:"HOSTNAME"`
	Version     string `envconfig:"SERVICE_VERSION"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// TelemetryConfig holds collector settings
type TelemetryConfig struct {
	Endpoint       string        `envconfig:"OTEL_ENDPOINT" default:"http://otel-collector:4318"`
	Exporter       string        `envconfig:"OTEL_EXPORTER" default:"otlphttp"`
	ExportInterval time.Duration `envconfig:"OTEL_EXPORT_INTERVAL" default:"10s"`
	Headers        Headers       `envconfig:"OTEL_HEADERS"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`   // trace, debug, info, warn, error, fatal
	Format string `envconfig:"LOG_FORMAT" default:"text"` // text, json
}

// WorkerConfig holds the downstream client settings of the base service
type WorkerConfig struct {
	URL      string        `envconfig:"WORKER_URL" default:"http://service_b:8000"`
	Timeout  time.Duration `envconfig:"WORKER_TIMEOUT" default:"5s"`
	RetryMax int           `envconfig:"WORKER_RETRY_MAX" default:"2"`
}

// WorkloadConfig holds the simulated latency ranges
type WorkloadConfig struct {
	ComputeDelayMin   time.Duration `envconfig:"COMPUTE_DELAY_MIN" default:"1s"`
	ComputeDelayMax   time.Duration `envconfig:"COMPUTE_DELAY_MAX" default:"3s"`
	WorkDurationMin   time.Duration `envconfig:"WORK_DURATION_MIN" default:"50ms"`
	WorkDurationMax   time.Duration `envconfig:"WORK_DURATION_MAX" default:"200ms"`
	WorkSlowThreshold time.Duration `envconfig:"WORK_SLOW_THRESHOLD" default:"150ms"`
}

// Headers decodes "key=value,key2=value2".
type Headers map[string]string

// Decode implements envconfig.Decoder.
func (h *Headers) Decode(value string) error {
	out := Headers{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid header %q (want key=value)", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	*h = out
	return nil
}

// Load reads configuration for service from the environment and validates
// it. A .env file in the working directory, if present, seeds variables
// that are not already set.
func Load(service string) (*Config, error) {
	return load(service, ".env")
}

func load(service, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, telemetry.WrapError("config.Load", fmt.Errorf("failed to read %s: %w", envFile, err), telemetry.ErrConfiguration)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, telemetry.WrapError("config.Load", fmt.Errorf("failed to load config: %w", err), telemetry.ErrConfiguration)
	}

	if cfg.Service.Name == "" {
		cfg.Service.Name = service
	}
	if cfg.Service.InstanceID == "" {
		cfg.Service.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that all configuration values are valid.
// Returns a combined error with all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Name == "" {
		errs = append(errs, "SERVICE_NAME is required")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be positive")
	}

	// Telemetry validation
	switch telemetry.ExporterType(c.Telemetry.Exporter) {
	case telemetry.ExporterOTLPHTTP, telemetry.ExporterOTLPGRPC, telemetry.ExporterZipkin:
		if !isHTTPURL(c.Telemetry.Endpoint) {
			errs = append(errs, fmt.Sprintf("invalid OTEL_ENDPOINT: %q", c.Telemetry.Endpoint))
		}
	case telemetry.ExporterNone:
	default:
		errs = append(errs, fmt.Sprintf("invalid OTEL_EXPORTER: %s", c.Telemetry.Exporter))
	}
	if c.Telemetry.ExportInterval <= 0 {
		errs = append(errs, "OTEL_EXPORT_INTERVAL must be positive")
	}

	// Logging validation
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL: %s", c.Logging.Level))
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT: %s", c.Logging.Format))
	}

	// Worker client validation
	if !isHTTPURL(c.Worker.URL) {
		errs = append(errs, fmt.Sprintf("invalid WORKER_URL: %q", c.Worker.URL))
	}
	if c.Worker.Timeout <= 0 {
		errs = append(errs, "WORKER_TIMEOUT must be positive")
	}
	if c.Worker.RetryMax < 0 {
		errs = append(errs, "WORKER_RETRY_MAX cannot be negative")
	}

	// Workload validation
	w := c.Workload
	if w.ComputeDelayMin < 0 || w.ComputeDelayMin > w.ComputeDelayMax {
		errs = append(errs, "COMPUTE_DELAY_MIN must be between 0 and COMPUTE_DELAY_MAX")
	}
	if w.WorkDurationMin < 0 || w.WorkDurationMin > w.WorkDurationMax {
		errs = append(errs, "WORK_DURATION_MIN must be between 0 and WORK_DURATION_MAX")
	}
	if w.WorkSlowThreshold <= 0 {
		errs = append(errs, "WORK_SLOW_THRESHOLD must be positive")
	}

	if len(errs) > 0 {
		return telemetry.NewError("config.Validate", "configuration errors: "+strings.Join(errs, "; "), telemetry.ErrConfiguration)
	}

	return nil
}

// TelemetryConfig maps the service settings onto a telemetry configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Service.Name,
		ServiceVersion: c.Service.Version,
		Environment:    c.Service.Environment,
		InstanceID:     c.Service.InstanceID,
		Endpoint:       c.Telemetry.Endpoint,
		Exporter:       telemetry.ExporterType(c.Telemetry.Exporter),
		Headers:        c.Telemetry.Headers,
		ExportInterval: c.Telemetry.ExportInterval,
		LogLevel:       c.Logging.Level,
		LogFormat:      telemetry.LogFormat(strings.ToLower(c.Logging.Format)),
	}
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jimmitjoo/tracechain/telemetry"
	shutdownTimeout     = 5 * time.Second
)

// InstanceIDKey is the resource and metric attribute carrying the service
// instance id.
const InstanceIDKey = attribute.Key("service.instance.id")

// Identity is the resolved service identity attached to every signal.
type Identity struct {
	ServiceName string
	InstanceID  string
}

// Provider is the telemetry context of one service instance: tracer,
// meter with its request duration histogram, and logger, plus the
// exporters and batching workers behind them.
type Provider struct {
	config   Config
	identity Identity
	opts     options

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	propagator     propagation.TextMapPropagator

	logger      *logrus.Logger
	diagnostics *logrus.Logger
	spans       *SpanRecorder
	metrics     *MetricsRecorder

	shutdownOnce sync.Once
	shutdown     bool
	mu           sync.RWMutex
}

type options struct {
	spanProcessors []sdktrace.SpanProcessor
	metricReaders  []sdkmetric.Reader
	logProcessors  []sdklog.Processor
	logOutput      io.Writer
	errorObserver  func(error)
}

// Option customizes a Provider beyond its Config.
type Option func(*options)

// WithSpanProcessor registers an additional span processor, e.g. a
// tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) {
		o.spanProcessors = append(o.spanProcessors, sp)
	}
}

// WithMetricReader registers an additional metric reader, e.g. a ManualReader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.metricReaders = append(o.metricReaders, r)
	}
}

// WithLogProcessor registers an additional log record processor.
func WithLogProcessor(lp sdklog.Processor) Option {
	return func(o *options) {
		o.logProcessors = append(o.logProcessors, lp)
	}
}

// WithLogOutput overrides Config.LogOutput.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithErrorObserver is called with every SDK error after it has been
// logged. The error carries ErrExport for export failures and ErrInternal
// for anything else.
func WithErrorObserver(fn func(error)) Option {
	return func(o *options) {
		o.errorObserver = fn
	}
}

var (
	globalMu       sync.Mutex
	globalProvider *Provider
)

// Initialize builds the process-wide provider and registers it as the
// OpenTelemetry global tracer, meter and logger provider. A second call
// fails with ErrDoubleInitialization rather than creating competing
// exporters.
func Initialize(cfg Config, opts ...Option) (*Provider, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalProvider != nil {
		return nil, WrapError("telemetry.Initialize", ErrDoubleInitialization, ErrConfiguration)
	}

	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	p.registerGlobals()
	globalProvider = p
	return p, nil
}

// Global returns the provider created by Initialize, or nil.
func Global() *Provider {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalProvider
}

// New creates a provider without touching OpenTelemetry globals.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		config: cfg,
		identity: Identity{
			ServiceName: cfg.ServiceName,
			InstanceID:  cfg.InstanceID,
		},
	}
	for _, opt := range opts {
		opt(&p.opts)
	}

	if err := p.init(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) init(ctx context.Context) error {
	const op = "telemetry.New"

	res := p.createResource()

	exp, err := p.createExporters(ctx)
	if err != nil {
		return WrapError(op, fmt.Errorf("failed to create exporters: %w", err), ErrConfiguration)
	}

	// Traces
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if exp.spans != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp.spans))
	}
	for _, sp := range p.opts.spanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}
	p.tracerProvider = sdktrace.NewTracerProvider(traceOpts...)
	p.tracer = p.tracerProvider.Tracer(
		instrumentationName,
		trace.WithInstrumentationVersion(p.config.ServiceVersion),
	)

	// Metrics
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if exp.metrics != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp.metrics, sdkmetric.WithInterval(p.config.ExportInterval)),
		))
	}
	for _, r := range p.opts.metricReaders {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(meterOpts...)
	p.meter = p.meterProvider.Meter(instrumentationName)

	// Logs
	logOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if exp.logs != nil {
		logOpts = append(logOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp.logs)))
	}
	for _, lp := range p.opts.logProcessors {
		logOpts = append(logOpts, sdklog.WithProcessor(lp))
	}
	p.loggerProvider = sdklog.NewLoggerProvider(logOpts...)

	p.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	output := p.config.LogOutput
	if p.opts.logOutput != nil {
		output = p.opts.logOutput
	}
	p.logger, p.diagnostics, err = newLoggers(p.config, output, p.loggerProvider.Logger(instrumentationName))
	if err != nil {
		p.shutdownProviders(ctx)
		return WrapError(op, err, ErrConfiguration)
	}

	p.spans = &SpanRecorder{tracer: p.tracer, logger: p.diagnostics}
	p.metrics, err = newMetricsRecorder(p.meter, p.diagnostics)
	if err != nil {
		p.shutdownProviders(ctx)
		return WrapError(op, err, ErrConfiguration)
	}

	return nil
}

type exporters struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Exporter
	logs    sdklog.Exporter
}

// createExporters creates one exporter per signal for the configured transport.
// Construction never dials; an unreachable collector only shows up at export time.
func (p *Provider) createExporters(ctx context.Context) (exporters, error) {
	switch p.config.Exporter {
	case ExporterOTLPHTTP:
		return p.createOTLPHTTPExporters(ctx)
	case ExporterOTLPGRPC:
		return p.createOTLPGRPCExporters(ctx)
	case ExporterZipkin:
		// Zipkin expects the full span URL, e.g. http://localhost:9411/api/v2/spans
		spans, err := zipkin.New(p.config.Endpoint)
		return exporters{spans: spans}, err
	case ExporterNone:
		return exporters{}, nil
	default:
		return exporters{}, fmt.Errorf("unknown exporter: %s", p.config.Exporter)
	}
}

func (p *Provider) createOTLPHTTPExporters(ctx context.Context) (exporters, error) {
	var exp exporters

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(p.config.TracesURL())}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(p.config.MetricsURL())}
	logOpts := []otlploghttp.Option{otlploghttp.WithEndpointURL(p.config.LogsURL())}

	if len(p.config.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(p.config.Headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(p.config.Headers))
		logOpts = append(logOpts, otlploghttp.WithHeaders(p.config.Headers))
	}

	var err error
	if exp.spans, err = otlptracehttp.New(ctx, traceOpts...); err != nil {
		return exporters{}, err
	}
	if exp.metrics, err = otlpmetrichttp.New(ctx, metricOpts...); err != nil {
		_ = exp.spans.Shutdown(ctx)
		return exporters{}, err
	}
	if exp.logs, err = otlploghttp.New(ctx, logOpts...); err != nil {
		_ = exp.spans.Shutdown(ctx)
		_ = exp.metrics.Shutdown(ctx)
		return exporters{}, err
	}
	return exp, nil
}

func (p *Provider) createOTLPGRPCExporters(ctx context.Context) (exporters, error) {
	u, err := p.config.endpointURL()
	if err != nil {
		return exporters{}, err
	}
	insecure := u.Scheme == "http"

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(u.Host)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(u.Host)}

	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	if len(p.config.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithHeaders(p.config.Headers))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithHeaders(p.config.Headers))
		logOpts = append(logOpts, otlploggrpc.WithHeaders(p.config.Headers))
	}

	var exp exporters
	if exp.spans, err = otlptrace.New(ctx, otlptracegrpc.NewClient(traceOpts...)); err != nil {
		return exporters{}, err
	}
	if exp.metrics, err = otlpmetricgrpc.New(ctx, metricOpts...); err != nil {
		_ = exp.spans.Shutdown(ctx)
		return exporters{}, err
	}
	if exp.logs, err = otlploggrpc.New(ctx, logOpts...); err != nil {
		_ = exp.spans.Shutdown(ctx)
		_ = exp.metrics.Shutdown(ctx)
		return exporters{}, err
	}
	return exp, nil
}

// createResource creates the resource describing this service.
func (p *Provider) createResource() *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(p.config.ServiceName),
		InstanceIDKey.String(p.config.InstanceID),
	}

	if p.config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(p.config.ServiceVersion))
	}

	if p.config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(p.config.Environment))
	}

	for k, v := range p.config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// registerGlobals installs this provider as the OpenTelemetry global state
// and routes SDK export errors to the local diagnostic logger.
func (p *Provider) registerGlobals() {
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	global.SetLoggerProvider(p.loggerProvider)
	otel.SetTextMapPropagator(p.propagator)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(p.handleSDKError))
}

// handleSDKError logs an error reported by the OpenTelemetry SDK locally and
// drops it. Export failures are told apart from other SDK problems, such
// as an invalid instrument or an attribute limit, before they are logged
// and observed.
func (p *Provider) handleSDKError(err error) {
	if err == nil {
		return
	}
	code := classifySDKError(err)
	wrapped := WrapError("telemetry.sdk", err, code)
	if code == ErrExport {
		p.diagnostics.WithError(wrapped).Warn("telemetry export failed, batch dropped")
	} else {
		p.diagnostics.WithError(wrapped).Error("telemetry SDK error")
	}
	if p.opts.errorObserver != nil {
		p.opts.errorObserver(wrapped)
	}
}

// exportErrorMarkers appear in the errors the OTLP and Zipkin exporters
// hand to the global error handler.
var exportErrorMarkers = []string{"export", "upload", "connection refused", "unavailable"}

func classifySDKError(err error) ErrorCode {
	var (
		netErr net.Error
		urlErr *url.Error
	)
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return ErrExport
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range exportErrorMarkers {
		if strings.Contains(msg, marker) {
			return ErrExport
		}
	}
	return ErrInternal
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter owning the request duration histogram.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Logger returns the correlated process logger.
func (p *Provider) Logger() *logrus.Logger {
	return p.logger
}

// Spans returns the span recorder.
func (p *Provider) Spans() *SpanRecorder {
	return p.spans
}

// Metrics returns the request metrics recorder.
func (p *Provider) Metrics() *MetricsRecorder {
	return p.metrics
}

// Identity returns the service identity.
func (p *Provider) Identity() Identity {
	return p.identity
}

// Propagator returns the text map propagator registered as global.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Config returns the provider configuration.
func (p *Provider) Config() Config {
	return p.config
}

// IsEnabled returns true until the provider is shut down.
func (p *Provider) IsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.shutdown
}

// Shutdown flushes and stops every signal pipeline. It should be called
// when the process exits; later calls return nil.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.shutdown = true
		p.mu.Unlock()

		// Give pending telemetry time to export
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		err = p.shutdownProviders(shutdownCtx)
	})
	return err
}

// shutdownProviders stops logs last so that shutdown problems of the other
// signals can still be reported.
func (p *Provider) shutdownProviders(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if p.loggerProvider != nil {
		errs = append(errs, p.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// ForceFlush immediately exports all pending spans, metrics and logs.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(
		p.tracerProvider.ForceFlush(ctx),
		p.meterProvider.ForceFlush(ctx),
		p.loggerProvider.ForceFlush(ctx),
	)
}

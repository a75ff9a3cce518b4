// Package tracechain wires configuration, telemetry and diagnostics into a
// runnable HTTP service.
package tracechain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/monitoring"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/sirupsen/logrus"
)

const version = "0.1.0"

// App is one service instance. Register handlers on API to have them run
// through the telemetry pipeline; Router carries the unobserved
// monitoring endpoints.
type App struct {
	Config      *config.Config
	Telemetry   *telemetry.Provider
	Logger      *logrus.Logger
	Diagnostics *monitoring.Metrics
	Router      *chi.Mux
	API         chi.Router
}

type appOptions struct {
	global        bool
	telemetryOpts []telemetry.Option
}

// Option customizes New.
type Option func(*appOptions)

// WithoutGlobals builds a telemetry provider that is not registered as the
// process-wide OpenTelemetry state. Tests running several apps use it.
func WithoutGlobals() Option {
	return func(o *appOptions) {
		o.global = false
	}
}

// WithTelemetryOptions passes options to the telemetry provider.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *appOptions) {
		o.telemetryOpts = append(o.telemetryOpts, opts...)
	}
}

// New initializes telemetry for cfg and builds the router.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := appOptions{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	diagnostics := monitoring.NewMetrics()

	tcfg := cfg.TelemetryConfig()
	if tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = version
	}
	topts := append([]telemetry.Option{
		telemetry.WithErrorObserver(diagnostics.ObserveTelemetryError),
	}, o.telemetryOpts...)

	var (
		provider *telemetry.Provider
		err      error
	)
	if o.global {
		provider, err = telemetry.Initialize(tcfg, topts...)
	} else {
		provider, err = telemetry.New(tcfg, topts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &App{
		Config:      cfg,
		Telemetry:   provider,
		Logger:      provider.Logger(),
		Diagnostics: diagnostics,
	}
	a.routes()

	return a, nil
}

// OutboundTransport returns the round tripper for calls to other services:
// a client span around the Prometheus instrumented default transport.
func (a *App) OutboundTransport() http.RoundTripper {
	return a.Telemetry.Transport(a.Diagnostics.RoundTripper(nil))
}

// ListenAndServe serves on the configured port until ctx is cancelled.
func (a *App) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr())
	if err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout and flushes telemetry.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	a.Logger.WithFields(logrus.Fields{
		"service":  a.Config.Service.Name,
		"instance": a.Config.Service.InstanceID,
		"addr":     ln.Addr().String(),
		"exporter": a.Config.Telemetry.Exporter,
	}).Info("Listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		a.Logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		serveErr = srv.Shutdown(shutdownCtx)
		cancel()
	}

	if err := a.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.Logger.WithError(err).Warn("telemetry shutdown incomplete")
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	a.Logger.Info("Server shutdown gracefully")
	return nil
}

// Shutdown flushes and stops telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Telemetry.Shutdown(ctx)
}

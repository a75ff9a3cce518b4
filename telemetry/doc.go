// Package telemetry instruments a chain of HTTP services with correlated
// traces, metrics and logs exported to one OpenTelemetry collector.
//
// # Quick Start
//
//	provider, err := telemetry.Initialize(telemetry.Config{
//	    ServiceName: "base",
//	    InstanceID:  os.Getenv("HOSTNAME"),
//	    Endpoint:    "http://otel-collector:4318",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Shutdown(context.Background())
//
//	router.Use(provider.Middleware())
//
// Initialize may be called once per process. New builds an independent
// provider without registering globals, which is what tests use.
//
// # Request Pipeline
//
// Middleware continues the trace named by an inbound traceparent header or
// starts a new one, then runs the handler inside a server span named
// "<method> <route>". When the handler returns, panics, or the client goes
// away, it records one observation on the http.server.request.duration
// histogram, sets the status code and duration attributes, logs the
// completion line and ends the span. The response carries X-Trace-ID.
//
// # Custom Spans
//
//	ctx, span := provider.Spans().Start(r.Context(), "compute_operation")
//	defer span.End()
//	span.SetAttribute("compute.delay", delay)
//
// A span marked ERROR stays ERROR. Ending a span twice is reported on the
// diagnostic logger and otherwise ignored.
//
// # Outbound Requests
//
//	client := &http.Client{Transport: provider.Transport(nil)}
//
// Each request gets a client span child of the active span, and the
// downstream service sees it as its parent.
//
// # Log Correlation
//
// The provider logger decorates every entry with trace_id and span_id of
// the span active in the entry context, and forwards it to the collector:
//
//	provider.Logger().WithContext(ctx).Info("work completed")
//
// Entries logged without a span carry no ids.
package telemetry

package tracechain

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jimmitjoo/tracechain/monitoring"
)

// routes builds the router. Recoverer sits outside the telemetry
// pipeline so that a panicking handler is recorded before it is answered.
func (a *App) routes() {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	a.addMonitoringRoutes(mux)

	a.Router = mux
	a.API = mux.With(a.Telemetry.Middleware())
}

// addMonitoringRoutes adds health and metrics endpoints. They bypass the
// telemetry pipeline so probes and scrapes do not produce traces.
func (a *App) addMonitoringRoutes(mux *chi.Mux) {
	identity := a.Telemetry.Identity()

	mux.Get("/health", monitoring.HealthHandler(identity.ServiceName, identity.InstanceID))
	mux.Get("/health/live", monitoring.LivenessHandler())
	mux.Get("/metrics", a.Diagnostics.Handler().ServeHTTP)
}

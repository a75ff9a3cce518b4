// Package base implements the root service of the chain.
package base

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/render"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/jimmitjoo/tracechain/workload"
	"github.com/sirupsen/logrus"
)

const (
	computeValueMin = 10
	computeValueMax = 100
)

// HomeResult is the / response body.
type HomeResult struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Host    string `json:"host"`
}

// ComputeResult is the /compute response body.
type ComputeResult struct {
	Value int     `json:"value"`
	Delay float64 `json:"delay"`
}

// ExternalResult is the /external response body.
type ExternalResult struct {
	ExternalStatus int    `json:"external_status"`
	Error          string `json:"error,omitempty"`
}

// Handlers serves the base routes.
type Handlers struct {
	spans      *telemetry.SpanRecorder
	logger     *logrus.Logger
	instanceID string
	worker     *WorkerClient
	source     workload.Source
	workload   config.WorkloadConfig
}

// New creates the base handlers. A nil source draws randomly.
func New(p *telemetry.Provider, worker *WorkerClient, source workload.Source, cfg config.WorkloadConfig) *Handlers {
	if source == nil {
		source = workload.NewRandom()
	}
	return &Handlers{
		spans:      p.Spans(),
		logger:     p.Logger(),
		instanceID: p.Identity().InstanceID,
		worker:     worker,
		source:     source,
		workload:   cfg,
	}
}

// Routes registers the base endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/", h.Home)
	r.Get("/compute", h.Compute)
	r.Get("/external", h.External)
}

// Home reports the service identity.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.spans.Start(r.Context(), "home_handler")
	defer span.End()

	h.logger.WithContext(ctx).Info("Service A Root endpoint hit")
	render.JSON(w, r, h.logger, http.StatusOK, HomeResult{
		Service: "A",
		Status:  "ok",
		Host:    h.instanceID,
	})
}

// Compute sleeps for the configured delay and returns a random value.
func (h *Handlers) Compute(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.spans.Start(r.Context(), "compute_operation")
	defer span.End()

	delay := workload.WholeSeconds(h.source, h.workload.ComputeDelayMin, h.workload.ComputeDelayMax)
	span.SetAttribute("compute.delay", delay)

	if err := workload.Sleep(ctx, delay); err != nil {
		span.RecordError(err)
		h.logger.WithContext(ctx).WithError(err).Warn("compute interrupted")
		return
	}

	value := h.source.IntBetween(computeValueMin, computeValueMax)
	span.SetAttribute("compute.value", value)
	h.logger.WithContext(ctx).Infof("Service A computed value=%d after %gs delay", value, delay.Seconds())

	render.JSON(w, r, h.logger, http.StatusOK, ComputeResult{
		Value: value,
		Delay: delay.Seconds(),
	})
}

// External calls the worker and reports its status code. A worker error
// response is reported, not propagated; only an unreachable worker fails
// the request.
func (h *Handlers) External(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.spans.Start(r.Context(), "external_call")
	defer span.End()

	status, err := h.worker.Work(ctx)
	if err != nil {
		span.RecordError(telemetry.WrapError("base.External", err, telemetry.ErrHandler))
		h.logger.WithContext(ctx).WithError(err).Error("Service A could not reach Service B")
		render.JSON(w, r, h.logger, http.StatusBadGateway, ExternalResult{Error: "worker unreachable"})
		return
	}

	span.SetAttribute("external.status_code", status)
	h.logger.WithContext(ctx).Infof("Service A called Service B, status_code=%d", status)
	render.JSON(w, r, h.logger, http.StatusOK, ExternalResult{ExternalStatus: status})
}

// Package worker implements the downstream service of the chain.
package worker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/render"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/jimmitjoo/tracechain/workload"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// SlowWorkMessage is the span status and response body of work that
// exceeded the slow threshold.
const SlowWorkMessage = "Work took too long"

// WorkResult is the /work response body.
type WorkResult struct {
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
}

// Handlers serves the worker routes.
type Handlers struct {
	spans    *telemetry.SpanRecorder
	logger   *logrus.Logger
	source   workload.Source
	workload config.WorkloadConfig
}

// New creates the worker handlers. A nil source draws randomly.
func New(p *telemetry.Provider, source workload.Source, cfg config.WorkloadConfig) *Handlers {
	if source == nil {
		source = workload.NewRandom()
	}
	return &Handlers{
		spans:    p.Spans(),
		logger:   p.Logger(),
		source:   source,
		workload: cfg,
	}
}

// Routes registers the worker endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/work", h.Work)
}

// Work simulates a unit of work. Work drawn longer than the slow threshold
// is rejected up front: the span is marked ERROR and 500 is returned
// without sleeping.
func (h *Handlers) Work(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.spans.Start(r.Context(), "work-span")
	defer span.End()

	d := h.source.Between(h.workload.WorkDurationMin, h.workload.WorkDurationMax)
	span.SetAttribute("work.duration", d)
	logger := h.logger.WithContext(ctx)

	if d > h.workload.WorkSlowThreshold {
		span.SetStatus(codes.Error, SlowWorkMessage)
		logger.WithField("threshold", h.workload.WorkSlowThreshold.Seconds()).
			Warnf("Service B work slow: %.3fs", d.Seconds())
		render.Text(w, http.StatusInternalServerError, SlowWorkMessage)
		return
	}

	if err := workload.Sleep(ctx, d); err != nil {
		// client is gone, nothing to answer
		span.RecordError(err)
		logger.WithError(err).Warn("work interrupted")
		return
	}

	logger.Infof("Service B completed work in %.3fs", d.Seconds())
	render.JSON(w, r, h.logger, http.StatusOK, WorkResult{
		Status:   "work completed",
		Duration: roundSeconds(d),
	})
}

func roundSeconds(d time.Duration) float64 {
	return d.Round(time.Millisecond).Seconds()
}

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "egc/internal/errors"
	"egc/internal/infrastructure"
	"egc/internal/services"
	"egc/internal/websocket"
)

// HubReporter reports WebSocket hub counters.
type HubReporter interface {
	Stats() websocket.HubStats
}

// MetricsHandler serves the Prometheus scrape endpoint and a JSON summary
// for dashboards that do not speak Prometheus.
type MetricsHandler struct {
	prometheus   http.Handler
	jobs         services.JobStats
	hub          HubReporter
	system       *infrastructure.SystemMetrics
	errorHandler *apierrors.ErrorHandler
}

func NewMetricsHandler(prometheus http.Handler, jobs services.JobStats, hub HubReporter, system *infrastructure.SystemMetrics, errorHandler *apierrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{
		prometheus:   prometheus,
		jobs:         jobs,
		hub:          hub,
		system:       system,
		errorHandler: errorHandler,
	}
}

// Prometheus handles GET /metrics. Without a Prometheus exporter the route
// answers 404.
func (h *MetricsHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		h.errorHandler.NotFound(w, r)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}

// Summary handles GET /api/metrics
func (h *MetricsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if h.jobs != nil {
		out["jobs"] = h.jobs.Stats()
	}
	if h.hub != nil {
		out["websocket"] = h.hub.Stats()
	}
	if h.system != nil {
		out["runtime"] = h.system.Collect()
	}
	render.JSON(w, r, out)
}

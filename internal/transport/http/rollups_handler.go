package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "egc/internal/errors"
	"egc/internal/middleware"
	"egc/internal/services"
	"egc/pkg/contracts/domain"
)

// RollupsHandler is the reporting boundary: clients post the rollups they
// computed and read back the recent ones.
type RollupsHandler struct {
	service      *services.ReportService
	validation   *middleware.ValidationMiddleware
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

func NewRollupsHandler(service *services.ReportService, validation *middleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *RollupsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RollupsHandler{
		service:      service,
		validation:   validation,
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "rollups")),
	}
}

func (h *RollupsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Status)
	r.Post("/", h.Submit)
	r.Get("/{id}", h.Get)
	return r
}

// Status handles GET /api/rollups?limit=
func (h *RollupsHandler) Status(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 100, services.DefaultRecentReports)
	if !ok {
		return
	}
	status := h.service.Status(r.Context())
	if status.Status == "ok" && limit != services.DefaultRecentReports {
		recent, err := h.service.Recent(r.Context(), limit)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		status.Recent = recent
	}
	render.JSON(w, r, status)
}

// Submit handles POST /api/rollups
func (h *RollupsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload domain.RollupsPayload
	if !h.validation.DecodeAndValidate(w, r, &payload) {
		return
	}
	report, err := h.service.Submit(r.Context(), payload)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/rollups/"+report.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, report)
}

// Get handles GET /api/rollups/{id}
func (h *RollupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"egc/internal/middleware"
	"egc/internal/services"
	"egc/pkg/contracts/domain"
)

// CalcHandler exposes the fee engine.
type CalcHandler struct {
	service    *services.CalcService
	validation *middleware.ValidationMiddleware
}

func NewCalcHandler(service *services.CalcService, validation *middleware.ValidationMiddleware) *CalcHandler {
	return &CalcHandler{service: service, validation: validation}
}

func (h *CalcHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Compute)
	r.Post("/simple", h.ComputeSimple)
	r.Get("/defaults", h.Defaults)
	return r
}

// Compute handles POST /api/calc. Omitted fields keep their default values.
func (h *CalcHandler) Compute(w http.ResponseWriter, r *http.Request) {
	in := h.service.Defaults()
	if !h.validation.DecodeAndValidate(w, r, &in) {
		return
	}
	render.JSON(w, r, h.service.Compute(r.Context(), in))
}

// ComputeSimple handles POST /api/calc/simple
func (h *CalcHandler) ComputeSimple(w http.ResponseWriter, r *http.Request) {
	var in domain.SimpleInputs
	if !h.validation.DecodeAndValidate(w, r, &in) {
		return
	}
	render.JSON(w, r, h.service.ComputeSimple(r.Context(), in))
}

// Defaults handles GET /api/calc/defaults
func (h *CalcHandler) Defaults(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Defaults())
}

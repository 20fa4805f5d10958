package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "egc/internal/errors"
	"egc/internal/mapping"
	"egc/internal/middleware"
	"egc/internal/services"
	"egc/pkg/contracts/domain"
)

// SuggestRequest asks for a mapping of the given columns.
type SuggestRequest struct {
	Columns []string `json:"columns" validate:"required,min=1,dive,required"`
}

// ApplyRequest maps rows with an explicit mapping.
type ApplyRequest struct {
	Rows    []domain.NormalizedRow `json:"rows" validate:"required"`
	Mapping mapping.Mapping        `json:"mapping" validate:"required"`
}

// PresetRequest is the body of PUT /api/presets/{name}.
type PresetRequest struct {
	Mapping mapping.Mapping `json:"mapping" validate:"required"`
	Headers []string        `json:"headers,omitempty"`
}

// MappingHandler serves header mapping and saved presets.
type MappingHandler struct {
	service      *services.MappingService
	validation   *middleware.ValidationMiddleware
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

func NewMappingHandler(service *services.MappingService, validation *middleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *MappingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MappingHandler{
		service:      service,
		validation:   validation,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "mapping")),
	}
}

// Routes are mounted at /api/mapping.
func (h *MappingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/suggest", h.Suggest)
	r.Post("/apply", h.Apply)
	return r
}

// PresetRoutes are mounted at /api/presets.
func (h *MappingHandler) PresetRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListPresets)
	r.Get("/{name}", h.GetPreset)
	r.Put("/{name}", h.PutPreset)
	r.Delete("/{name}", h.DeletePreset)
	return r
}

// Suggest handles POST /api/mapping/suggest
func (h *MappingHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if !h.validation.DecodeAndValidate(w, r, &req) {
		return
	}
	render.JSON(w, r, h.service.Suggest(r.Context(), req.Columns))
}

// Apply handles POST /api/mapping/apply
func (h *MappingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if !h.validation.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.service.Apply(r.Context(), req.Rows, req.Mapping)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// ListPresets handles GET /api/presets
func (h *MappingHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.service.ListPresets(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"presets": presets, "count": len(presets)})
}

// GetPreset handles GET /api/presets/{name}
func (h *MappingHandler) GetPreset(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPreset(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, p)
}

// PutPreset handles PUT /api/presets/{name}
func (h *MappingHandler) PutPreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if !h.validation.DecodeAndValidate(w, r, &req) {
		return
	}
	preset := domain.MappingPreset{
		Name:    chi.URLParam(r, "name"),
		Mapping: req.Mapping,
		Headers: req.Headers,
	}
	if err := h.validation.ValidateStruct(preset); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	saved, err := h.service.SavePreset(r.Context(), preset)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, saved)
}

// DeletePreset handles DELETE /api/presets/{name}
func (h *MappingHandler) DeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePreset(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

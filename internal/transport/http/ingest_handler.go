package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "egc/internal/errors"
	"egc/internal/exporter"
	"egc/internal/files"
	"egc/internal/ingest"
	"egc/internal/middleware"
	"egc/internal/operations"
	"egc/pkg/contracts/events"
)

// IngestService is what the ingest handler needs from the service layer.
type IngestService interface {
	Upload(ctx context.Context, name string, r io.Reader) (files.Upload, error)
	Uploads(ctx context.Context) ([]files.Upload, error)
	Stream(ctx context.Context, src ingest.Source, opts events.ParseOptions, emit func(events.Event) error) (ingest.Result, error)
	SubmitJob(ctx context.Context, uploadID string, opts events.ParseOptions, preset string) (*operations.Job, error)
	GetJob(ctx context.Context, id string) (*operations.Job, error)
	ListJobs(ctx context.Context, filter operations.JobFilter) ([]*operations.Job, error)
	CancelJob(ctx context.Context, id string) (*operations.Job, error)
	JobSnapshot(ctx context.Context, id string) (*operations.Snapshot, error)
	ExportJob(ctx context.Context, id string, format exporter.Format, w io.Writer) error
}

const ndjsonContentType = "application/x-ndjson"

var jobStatuses = []string{
	string(operations.JobStatusPending),
	string(operations.JobStatusRunning),
	string(operations.JobStatusCompleted),
	string(operations.JobStatusFailed),
	string(operations.JobStatusCancelled),
}

// JobRequest starts a background parse of an upload. Preset names a saved
// header mapping used to total orders per day.
type JobRequest struct {
	UploadID string              `json:"uploadId" validate:"required,uuid"`
	Options  events.ParseOptions `json:"options"`
	Preset   string              `json:"preset,omitempty" validate:"omitempty,max=100"`
}

// IngestHandler serves uploads, inline streaming parses and ingest jobs.
type IngestHandler struct {
	service      IngestService
	validation   *middleware.ValidationMiddleware
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

func NewIngestHandler(service IngestService, validation *middleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		service:      service,
		validation:   validation,
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "ingest")),
	}
}

// UploadRoutes are mounted at /api/uploads.
func (h *IngestHandler) UploadRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/", h.ListUploads)
	return r
}

// JobRoutes are mounted at /api/ingest/jobs.
func (h *IngestHandler) JobRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.SubmitJob)
	r.Get("/", h.ListJobs)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetJob)
		r.Delete("/", h.CancelJob)
		r.Get("/snapshot", h.Snapshot)
		r.Get("/export", h.Export)
	})
	return r
}

// Upload handles POST /api/uploads. The body is either multipart with a
// "file" part or the raw file with its name in the "name" query parameter.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	name, body, err := uploadBody(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	up, err := h.service.Upload(r.Context(), name, body)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "file uploaded",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("upload_id", up.ID),
		slog.String("name", up.Name),
		slog.Int64("size", up.Size))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, up)
}

func uploadBody(r *http.Request) (string, io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			return "", nil, apierrors.NewAppValidationError("name query parameter is required for a raw upload")
		}
		return name, r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, apierrors.InvalidRequestWithError(err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, apierrors.NewAppValidationError(`multipart body has no "file" part`)
		}
		if err != nil {
			return "", nil, apierrors.InvalidRequestWithError(err)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part.FileName(), part, nil
		}
	}
}

// ListUploads handles GET /api/uploads
func (h *IngestHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	ups, err := h.service.Uploads(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if ups == nil {
		ups = []files.Upload{}
	}
	render.JSON(w, r, map[string]interface{}{"uploads": ups, "count": len(ups)})
}

// streamOptions reads parse options from the query string. The header flag
// defaults to true.
func (h *IngestHandler) streamOptions(w http.ResponseWriter, r *http.Request) (events.ParseOptions, bool) {
	opts := events.ParseOptions{Header: true, Delimiter: r.URL.Query().Get("delimiter")}
	if v := r.URL.Query().Get("header"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{{
				Field:   "header",
				Message: "header must be true or false",
			}}))
			return opts, false
		}
		opts.Header = b
	}
	size, ok := h.query.ValidateInt(w, r, "sampleSize", 1, events.MaxSampleSize, 0)
	if !ok {
		return opts, false
	}
	opts.SampleSize = size
	return opts, true
}

// Stream handles POST /api/ingest/stream. The request body is parsed as it
// arrives and every event is written as one JSON line. Closing the
// connection cancels the run.
func (h *IngestHandler) Stream(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.streamOptions(w, r)
	if !ok {
		return
	}

	src := ingest.Source{
		Name:   r.URL.Query().Get("name"),
		Reader: r.Body,
		Size:   r.ContentLength,
	}
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == exporter.FormatXLSX.ContentType() {
		src.Format = ingest.FormatXLSX
	}

	rc := http.NewResponseController(w)
	// Long files outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.SetReadDeadline(time.Time{})
	// Events are written while the body is still being read.
	if err := rc.EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	enc := json.NewEncoder(w)
	started := false
	emit := func(ev events.Event) error {
		if !started {
			w.Header().Set("Content-Type", ndjsonContentType)
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	res, err := h.service.Stream(r.Context(), src, opts, emit)
	if err != nil {
		if !started {
			h.errorHandler.HandleError(w, r, err)
		}
		return
	}
	h.logger.InfoContext(r.Context(), "stream finished",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("phase", string(res.Phase)),
		slog.Int64("rows", res.State.TotalRows),
		slog.Int("chunks", res.Chunks),
		slog.Duration("duration", res.Duration))
}

// SubmitJob handles POST /api/ingest/jobs
func (h *IngestHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !h.validation.DecodeAndValidate(w, r, &req) {
		return
	}
	job, err := h.service.SubmitJob(r.Context(), req.UploadID, req.Options, req.Preset)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/ingest/jobs/"+job.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

// ListJobs handles GET /api/ingest/jobs?status=&limit=
func (h *IngestHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status, ok := h.query.ValidateEnum(w, r, "status", jobStatuses, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 1000, 100)
	if !ok {
		return
	}
	jobs, err := h.service.ListJobs(r.Context(), operations.JobFilter{
		Status: operations.JobStatus(status),
		Limit:  limit,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*operations.Job{}
	}
	render.JSON(w, r, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// GetJob handles GET /api/ingest/jobs/{id}
func (h *IngestHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// CancelJob handles DELETE /api/ingest/jobs/{id}
func (h *IngestHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// Snapshot handles GET /api/ingest/jobs/{id}/snapshot
func (h *IngestHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.JobSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, snap)
}

// Export handles GET /api/ingest/jobs/{id}/export?format=csv|xlsx
func (h *IngestHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, ok := h.query.ValidateEnum(w, r, "format", []string{string(exporter.FormatCSV), string(exporter.FormatXLSX)}, string(exporter.FormatCSV))
	if !ok {
		return
	}
	format, err := exporter.ParseFormat(name)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewAppValidationError(err.Error()))
		return
	}

	// Buffer so a failure can still become a problem response.
	var buf bytes.Buffer
	if err := h.service.ExportJob(r.Context(), id, format, &buf); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="rollups-%s.%s"`, id, format))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
	}
}

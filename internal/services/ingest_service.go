package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"egc/internal/exporter"
	"egc/internal/files"
	"egc/internal/infrastructure"
	"egc/internal/ingest"
	"egc/internal/mapping"
	"egc/internal/operations"
	"egc/pkg/contracts/events"
)

// UploadStore is the file storage the ingest service needs.
type UploadStore interface {
	Save(ctx context.Context, name string, r io.Reader) (files.Upload, error)
	Get(id string) (files.Upload, error)
	List() ([]files.Upload, error)
}

// JobRunner is the background job API the ingest service drives.
type JobRunner interface {
	Submit(ctx context.Context, source string, opts events.ParseOptions, fields mapping.Mapping) (*operations.Job, error)
	Get(id string) (*operations.Job, error)
	List(filter operations.JobFilter) ([]*operations.Job, error)
	Cancel(ctx context.Context, id string) (*operations.Job, error)
	Snapshot(id string) (*operations.Snapshot, error)
}

// IngestConfig tunes inline streaming runs.
type IngestConfig struct {
	ChunkBytes   int
	PreviewLimit int
}

// IngestService handles uploads, inline streaming parses and background jobs.
type IngestService struct {
	uploads UploadStore
	jobs    JobRunner
	presets *mapping.PresetStore
	cfg     IngestConfig
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewIngestService wires the service. presets and metrics may be nil.
func NewIngestService(uploads UploadStore, jobs JobRunner, presets *mapping.PresetStore, cfg IngestConfig, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		uploads: uploads,
		jobs:    jobs,
		presets: presets,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "ingest")),
	}
}

// Upload stores a file for later jobs.
func (s *IngestService) Upload(ctx context.Context, name string, r io.Reader) (files.Upload, error) {
	up, err := s.uploads.Save(ctx, name, r)
	if err != nil {
		s.logger.WarnContext(ctx, "upload rejected", slog.String("name", name), slog.String("error", err.Error()))
		return files.Upload{}, translate("upload", err)
	}
	infrastructure.RecordUpload(ctx, s.metrics, up.Size)
	return up, nil
}

func (s *IngestService) Uploads(ctx context.Context) ([]files.Upload, error) {
	ups, err := s.uploads.List()
	if err != nil {
		return nil, translate("list uploads", err)
	}
	return ups, nil
}

// Stream parses src inline and hands every event to emit. A failing emit
// (the client went away) cancels the run. The returned error covers invalid
// options only; data problems travel as events.
func (s *IngestService) Stream(ctx context.Context, src ingest.Source, opts events.ParseOptions, emit func(events.Event) error) (ingest.Result, error) {
	if src.Name == "" {
		src.Name = "request body"
	}
	if err := (events.Command{Command: events.CommandParse, Source: src.Name, Options: opts}).Validate(); err != nil {
		return ingest.Result{}, translate("stream", err)
	}

	ctrl := ingest.NewController(s.logger)
	runOpts := ingest.OptionsFromParse(opts)
	runOpts.ChunkBytes = s.cfg.ChunkBytes
	runOpts.PreviewLimit = s.cfg.PreviewLimit

	infrastructure.RecordActiveIngestChange(ctx, s.metrics, 1, "stream")
	defer infrastructure.RecordActiveIngestChange(ctx, s.metrics, -1, "stream")

	started := time.Now()
	var emitErr error
	res := ctrl.Run(ctx, src, runOpts, func(ev events.Event) {
		if emitErr != nil {
			return
		}
		if err := emit(ev); err != nil {
			emitErr = err
			ctrl.Cancel()
		}
	})
	infrastructure.RecordIngestRun(ctx, s.metrics, "stream", string(res.Phase), res.State.TotalRows, res.Chunks, time.Since(started))

	if emitErr != nil {
		s.logger.InfoContext(ctx, "stream consumer went away",
			slog.String("source", src.Name),
			slog.Int64("rows", res.State.TotalRows),
			slog.String("error", emitErr.Error()))
	}
	return res, nil
}

// SubmitJob queues a background parse of a stored upload. A preset name makes
// the job total its mapped orders per day while it parses.
func (s *IngestService) SubmitJob(ctx context.Context, uploadID string, opts events.ParseOptions, preset string) (*operations.Job, error) {
	if _, err := s.uploads.Get(uploadID); err != nil {
		return nil, translate("submit job", err)
	}
	var fields mapping.Mapping
	if preset != "" {
		if s.presets == nil {
			return nil, translate("submit job", fmt.Errorf("%w: presets are not configured", ErrInvalidInput))
		}
		p, err := s.presets.Get(ctx, preset)
		if err != nil {
			return nil, translate("submit job", err)
		}
		fields = mapping.Mapping(p.Mapping)
	}
	job, err := s.jobs.Submit(ctx, uploadID, opts, fields)
	if err != nil {
		return nil, translate("submit job", err)
	}
	s.logger.InfoContext(ctx, "ingest job queued",
		slog.String("job_id", job.ID),
		slog.String("upload_id", uploadID),
		slog.String("preset", preset))
	return job, nil
}

func (s *IngestService) GetJob(ctx context.Context, id string) (*operations.Job, error) {
	job, err := s.jobs.Get(id)
	return job, translate("get job", err)
}

func (s *IngestService) ListJobs(ctx context.Context, filter operations.JobFilter) ([]*operations.Job, error) {
	jobs, err := s.jobs.List(filter)
	return jobs, translate("list jobs", err)
}

func (s *IngestService) CancelJob(ctx context.Context, id string) (*operations.Job, error) {
	job, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, translate("cancel job", err)
	}
	s.logger.InfoContext(ctx, "ingest job cancel requested",
		slog.String("job_id", id),
		slog.String("status", string(job.Status)))
	return job, nil
}

func (s *IngestService) JobSnapshot(ctx context.Context, id string) (*operations.Snapshot, error) {
	snap, err := s.jobs.Snapshot(id)
	return snap, translate("job snapshot", err)
}

// ExportJob writes the rollups of a finished job to w, plus its per-day totals
// when the job was submitted with a preset.
func (s *IngestService) ExportJob(ctx context.Context, id string, format exporter.Format, w io.Writer) error {
	job, err := s.jobs.Get(id)
	if err != nil {
		return translate("export job", err)
	}
	snap, err := s.jobs.Snapshot(id)
	if err != nil {
		return translate("export job", err)
	}

	report := exporter.Report{
		Source:    job.Source,
		TotalRows: snap.TotalRows,
		Rollups:   snap.Rollups,
		Daily:     snap.Daily,
	}
	if up, err := s.uploads.Get(job.Source); err == nil {
		report.Source = up.Name
	}

	if err := exporter.Export(w, format, report); err != nil {
		return translate("export job", err)
	}
	s.logger.InfoContext(ctx, "job exported",
		slog.String("job_id", id),
		slog.String("format", string(format)),
		slog.Int("daily_rows", len(report.Daily)))
	return nil
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "egc/internal/errors"
	"egc/internal/infrastructure"
	"egc/pkg/contracts/domain"
)

// DefaultRecentReports is how many reports Status lists.
const DefaultRecentReports = 10

// ReportStore persists rollup reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r domain.RollupReport) error
	GetReport(ctx context.Context, id string) (domain.RollupReport, error)
	ListReports(ctx context.Context, limit int) ([]domain.RollupReport, error)
	Ping(ctx context.Context) error
}

// ReportStatus is the reporting boundary's health plus its latest reports.
type ReportStatus struct {
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
	Recent  []domain.RollupReport `json:"recent"`
}

// ReportService accepts rollup summaries from clients and keeps them.
type ReportService struct {
	store    ReportStore
	validate *validator.Validate
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewReportService(store ReportStore, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  metrics,
		logger:   logger.With(slog.String("service", "report")),
		now:      time.Now,
	}
}

// Submit validates and stores a payload.
func (s *ReportService) Submit(ctx context.Context, payload domain.RollupsPayload) (domain.RollupReport, error) {
	if err := s.validate.StructCtx(ctx, payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.RollupReport{}, apperrors.NewValidationErrors(apperrors.FromValidator(verrs))
		}
		return domain.RollupReport{}, apperrors.NewAppValidationError(err.Error())
	}

	report := domain.RollupReport{
		ID:         uuid.New().String(),
		ReceivedAt: s.now().UTC(),
		Payload:    payload,
	}
	if err := s.store.SaveReport(ctx, report); err != nil {
		s.logger.ErrorContext(ctx, "failed to store rollup report", slog.String("error", err.Error()))
		return domain.RollupReport{}, apperrors.NewStorageError("store rollup report", err)
	}

	infrastructure.RecordReport(ctx, s.metrics)

	attrs := []any{
		slog.String("report_id", report.ID),
		slog.Int64("total_rows", payload.TotalRows),
		slog.Int("columns", len(payload.Rollups)),
	}
	if payload.FileMeta != nil {
		attrs = append(attrs, slog.String("file", payload.FileMeta.Name), slog.Int64("file_size", payload.FileMeta.Size))
	}
	s.logger.InfoContext(ctx, "rollup report received", attrs...)
	return report, nil
}

func (s *ReportService) Get(ctx context.Context, id string) (domain.RollupReport, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return domain.RollupReport{}, translate("get report", err)
	}
	return r, nil
}

// Recent lists the newest reports first.
func (s *ReportService) Recent(ctx context.Context, limit int) ([]domain.RollupReport, error) {
	if limit <= 0 {
		limit = DefaultRecentReports
	}
	reports, err := s.store.ListReports(ctx, limit)
	if err != nil {
		return nil, translate("list reports", err)
	}
	return reports, nil
}

// Status reports whether the store answers and what it holds. It never fails;
// a broken store shows up as status "degraded".
func (s *ReportService) Status(ctx context.Context) ReportStatus {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "report store unavailable", slog.String("error", err.Error()))
		return ReportStatus{Status: "degraded", Message: err.Error(), Recent: []domain.RollupReport{}}
	}
	recent, err := s.Recent(ctx, DefaultRecentReports)
	if err != nil {
		return ReportStatus{Status: "degraded", Message: err.Error(), Recent: []domain.RollupReport{}}
	}
	if recent == nil {
		recent = []domain.RollupReport{}
	}
	return ReportStatus{Status: "ok", Recent: recent}
}

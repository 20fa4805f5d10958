package services

import (
	"context"
	"log/slog"

	"egc/internal/feecalc"
	"egc/internal/infrastructure"
	"egc/pkg/contracts/domain"
)

// CalcService exposes the fee engine. The engine is pure, so the service only
// adds logging and metrics.
type CalcService struct {
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

func NewCalcService(metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *CalcService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalcService{metrics: metrics, logger: logger.With(slog.String("service", "calc"))}
}

func (s *CalcService) Compute(ctx context.Context, in domain.InputBuckets) domain.CalcOutput {
	out := feecalc.Compute(in)
	infrastructure.RecordCalc(ctx, s.metrics, "full")
	s.logger.DebugContext(ctx, "fee computation",
		slog.Float64("gross", out.Rollup.Gross),
		slog.Float64("net", out.Rollup.Net),
		slog.String("confidence", string(out.Rollup.Confidence)))
	return out
}

func (s *CalcService) ComputeSimple(ctx context.Context, in domain.SimpleInputs) domain.SimpleResult {
	res := feecalc.ComputeSimple(in)
	infrastructure.RecordCalc(ctx, s.metrics, "simple")
	s.logger.DebugContext(ctx, "simple fee computation",
		slog.Int("qty", res.Qty),
		slog.Float64("gross", res.Gross),
		slog.Float64("net", res.Net))
	return res
}

// Defaults returns the buckets a new scenario starts from.
func (s *CalcService) Defaults() domain.InputBuckets {
	return feecalc.DefaultInputs()
}

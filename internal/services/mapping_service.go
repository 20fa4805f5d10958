package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"egc/internal/mapping"
	"egc/pkg/contracts/domain"
)

// SuggestResult is a proposed mapping and what it still lacks.
type SuggestResult struct {
	Mapping  mapping.Mapping `json:"mapping"`
	Problems []string        `json:"problems"`
}

// ApplyResult holds mapped orders and their daily rollups.
type ApplyResult struct {
	Orders []domain.OrderLite   `json:"orders"`
	Daily  []domain.DailyRollup `json:"daily"`
}

// MappingService maps ingested rows onto order fields and keeps presets.
type MappingService struct {
	presets *mapping.PresetStore
	logger  *slog.Logger
}

func NewMappingService(presets *mapping.PresetStore, logger *slog.Logger) *MappingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MappingService{presets: presets, logger: logger.With(slog.String("service", "mapping"))}
}

func (s *MappingService) Suggest(ctx context.Context, columns []string) SuggestResult {
	m := mapping.Suggest(columns)
	problems := mapping.Validate(m, columns)
	if problems == nil {
		problems = []string{}
	}
	s.logger.DebugContext(ctx, "mapping suggested",
		slog.Int("columns", len(columns)),
		slog.Int("mapped", len(m)),
		slog.Int("problems", len(problems)))
	return SuggestResult{Mapping: m, Problems: problems}
}

// Apply maps rows to orders. The mapping must cover every required field.
func (s *MappingService) Apply(ctx context.Context, rows []domain.NormalizedRow, m mapping.Mapping) (ApplyResult, error) {
	if problems := mapping.Validate(m, nil); len(problems) > 0 {
		return ApplyResult{}, translate("apply mapping", fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; ")))
	}
	orders := mapping.MapRowsToOrders(rows, m)
	daily := mapping.ComputeDailyRollups(orders)
	s.logger.InfoContext(ctx, "mapping applied",
		slog.Int("rows", len(rows)),
		slog.Int("days", len(daily)))
	return ApplyResult{Orders: orders, Daily: daily}, nil
}

func (s *MappingService) SavePreset(ctx context.Context, p domain.MappingPreset) (domain.MappingPreset, error) {
	if problems := mapping.Validate(p.Mapping, p.Headers); len(problems) > 0 {
		return domain.MappingPreset{}, translate("save preset", fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; ")))
	}
	saved, err := s.presets.Save(ctx, p)
	if err != nil {
		return domain.MappingPreset{}, translate("save preset", err)
	}
	s.logger.InfoContext(ctx, "mapping preset saved", slog.String("preset", saved.Name))
	return saved, nil
}

func (s *MappingService) GetPreset(ctx context.Context, name string) (domain.MappingPreset, error) {
	p, err := s.presets.Get(ctx, name)
	if err != nil {
		return domain.MappingPreset{}, translate("get preset", err)
	}
	return p, nil
}

func (s *MappingService) DeletePreset(ctx context.Context, name string) error {
	if _, err := s.presets.Get(ctx, name); err != nil {
		return translate("delete preset", err)
	}
	if err := s.presets.Delete(ctx, name); err != nil {
		return translate("delete preset", err)
	}
	s.logger.InfoContext(ctx, "mapping preset deleted", slog.String("preset", name))
	return nil
}

// ListPresets returns every saved preset, ordered by name.
func (s *MappingService) ListPresets(ctx context.Context) ([]domain.MappingPreset, error) {
	names, err := s.presets.Names(ctx)
	if err != nil {
		return nil, translate("list presets", err)
	}
	out := make([]domain.MappingPreset, 0, len(names))
	for _, name := range names {
		p, err := s.presets.Get(ctx, name)
		if err != nil {
			// Deleted between the two calls.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

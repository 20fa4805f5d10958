package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"egc/pkg/contracts/domain"
)

// Memory keeps everything in process. It satisfies the same method set as DB.
type Memory struct {
	mu      sync.RWMutex
	kv      map[string]string
	reports []domain.RollupReport
}

func NewMemory() *Memory {
	return &Memory{kv: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.kv[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.kv, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) SaveReport(_ context.Context, r domain.RollupReport) error {
	m.mu.Lock()
	m.reports = append(m.reports, copyReport(r))
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetReport(_ context.Context, id string) (domain.RollupReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reports {
		if r.ID == id {
			return copyReport(r), nil
		}
	}
	return domain.RollupReport{}, ErrNotFound
}

func (m *Memory) ListReports(_ context.Context, limit int) ([]domain.RollupReport, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	sorted := make([]domain.RollupReport, len(m.reports))
	copy(sorted, m.reports)
	m.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.After(sorted[j].ReceivedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]domain.RollupReport, len(sorted))
	for i, r := range sorted {
		out[i] = copyReport(r)
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func copyReport(r domain.RollupReport) domain.RollupReport {
	out := r
	out.Payload.Rollups = append([]domain.RollupRow(nil), r.Payload.Rollups...)
	out.Payload.Headers = append([]string(nil), r.Payload.Headers...)
	if r.Payload.FileMeta != nil {
		fm := *r.Payload.FileMeta
		out.Payload.FileMeta = &fm
	}
	return out
}

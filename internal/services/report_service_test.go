package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "egc/internal/errors"
	"egc/internal/storage"
	"egc/pkg/contracts/domain"
)

type brokenStore struct {
	*storage.Memory
}

func (brokenStore) SaveReport(context.Context, domain.RollupReport) error {
	return errors.New("disk full")
}

func (brokenStore) Ping(context.Context) error {
	return errors.New("database is locked")
}

func TestReportService_SubmitValidation(t *testing.T) {
	svc := NewReportService(storage.NewMemory(), nil, quietLogger())

	tests := []struct {
		name    string
		payload domain.RollupsPayload
		wantErr bool
	}{
		{
			name:    "empty payload",
			payload: domain.RollupsPayload{},
		},
		{
			name: "full payload",
			payload: domain.RollupsPayload{
				Rollups:   []domain.RollupRow{{Column: "price", Count: 2, Sum: 10, Avg: 5}},
				TotalRows: 2,
				Headers:   []string{"sku", "price"},
				FileMeta:  &domain.FileMeta{Name: "orders.csv", Size: 120},
			},
		},
		{
			name:    "negative row count",
			payload: domain.RollupsPayload{TotalRows: -1},
			wantErr: true,
		},
		{
			name:    "rollup without column",
			payload: domain.RollupsPayload{Rollups: []domain.RollupRow{{Count: 1}}},
			wantErr: true,
		},
		{
			name:    "file meta without name",
			payload: domain.RollupsPayload{FileMeta: &domain.FileMeta{Size: 10}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := svc.Submit(context.Background(), tt.payload)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.NotEmpty(t, report.ID)
				assert.False(t, report.ReceivedAt.IsZero())
				return
			}
			var apiErr *apperrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
		})
	}
}

func TestReportService_GetAndRecent(t *testing.T) {
	svc := NewReportService(storage.NewMemory(), nil, quietLogger())
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := svc.Submit(context.Background(), domain.RollupsPayload{TotalRows: int64(i)})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	got, err := svc.Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Payload.TotalRows)

	_, err = svc.Get(context.Background(), "missing")
	assert.Equal(t, apperrors.ErrTypeNotFound, appErrorType(t, err))

	recent, err := svc.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)

	status := svc.Status(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Len(t, status.Recent, 3)
}

func TestReportService_BrokenStore(t *testing.T) {
	svc := NewReportService(brokenStore{storage.NewMemory()}, nil, quietLogger())

	_, err := svc.Submit(context.Background(), domain.RollupsPayload{})
	assert.Equal(t, apperrors.ErrTypeStorage, appErrorType(t, err))

	status := svc.Status(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Contains(t, status.Message, "locked")
	assert.NotNil(t, status.Recent)
}

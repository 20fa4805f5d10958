package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/internal/config"
	"egc/internal/shared/testutil"
	"egc/internal/storage"
	"egc/pkg/contracts"
)

type fixedStats map[string]int

func (f fixedStats) Stats() map[string]int { return f }

type fixedClients int

func (f fixedClients) ClientCount() int { return int(f) }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthService_Readiness(t *testing.T) {
	deps := HealthDeps{
		Paths:   config.PathsConfig{DataDir: t.TempDir()},
		Jobs:    fixedStats{"active_jobs": 1, "queue_size": 3},
		Hub:     fixedClients(2),
		Store:   storage.NewMemory(),
		Version: contracts.VersionInfo{Version: "1.2.3"},
	}
	svc := NewHealthService(deps, quietLogger())

	status := svc.ReadinessCheck(context.Background())
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	require.Contains(t, status.Services, "jobs")
	assert.Equal(t, "1 active, 3 queued", status.Services["jobs"].Message)
	assert.Equal(t, "2 clients", status.Services["websocket"].Message)
}

func TestHealthService_NotReady(t *testing.T) {
	tests := []struct {
		name      string
		deps      HealthDeps
		component string
	}{
		{
			name:      "missing data dir",
			deps:      HealthDeps{Paths: config.PathsConfig{DataDir: filepath.Join(t.TempDir(), "gone")}},
			component: "data",
		},
		{
			name:      "store down",
			deps:      HealthDeps{Store: failingPinger{}},
			component: "storage",
		},
		{
			name:      "no job manager",
			deps:      HealthDeps{},
			component: "jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			svc := NewHealthService(tt.deps, logger)
			status := svc.ReadinessCheck(context.Background())
			assert.Equal(t, "not_ready", status.Status)
			assert.Equal(t, "not_ready", status.Services[tt.component].Status)
			assert.NotEmpty(t, status.Services[tt.component].Message)
			testutil.AssertLogAttr(t, logs, "component", tt.component)
		})
	}
}

func TestHealthService_Liveness(t *testing.T) {
	svc := NewHealthService(HealthDeps{}, quietLogger())

	assert.Equal(t, "ok", svc.HealthCheck(context.Background()).Status)
	assert.NotEmpty(t, svc.Version().Version)

	live := svc.LivenessCheck(context.Background())
	assert.Equal(t, "alive", live.Status)
	require.NotNil(t, live.Runtime)
	assert.Positive(t, live.Runtime.GoRoutines)
}

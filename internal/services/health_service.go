package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"egc/internal/config"
	"egc/internal/infrastructure"
	"egc/pkg/contracts"
)

// JobStats reports job queue occupancy.
type JobStats interface {
	Stats() map[string]int
}

// ClientCounter reports connected WebSocket clients.
type ClientCounter interface {
	ClientCount() int
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDeps are the components the readiness check inspects. Nil members
// are reported as not ready.
type HealthDeps struct {
	Paths   config.PathsConfig
	Jobs    JobStats
	Hub     ClientCounter
	Store   Pinger
	System  *infrastructure.SystemMetrics
	Version contracts.VersionInfo
}

// HealthService provides health check functionality
type HealthService struct {
	deps   HealthDeps
	logger *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Version   string                      `json:"version"`
	Runtime   *infrastructure.SystemStats `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth    `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewHealthService(deps HealthDeps, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Version.Version == "" {
		deps.Version = contracts.GetVersionInfo()
	}
	if deps.System == nil {
		deps.System, _ = infrastructure.NewSystemMetrics(nil, time.Now())
	}
	return &HealthService{
		deps:   deps,
		logger: logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   hs.deps.Version.Version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Version:   hs.deps.Version.Version,
		Services: map[string]ServiceHealth{
			"data":      hs.checkDataDir(),
			"storage":   hs.checkStorage(ctx),
			"jobs":      hs.checkJobs(),
			"websocket": hs.checkWebSocket(),
		},
	}
	for name, sh := range status.Services {
		if sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("component", name),
				slog.String("message", sh.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	stats := hs.deps.System.Collect()
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   hs.deps.Version.Version,
		Runtime:   &stats,
	}
}

func (hs *HealthService) Version() contracts.VersionInfo {
	return hs.deps.Version
}

func (hs *HealthService) checkDataDir() ServiceHealth {
	dir := hs.deps.Paths.DataDir
	if dir == "" {
		return ServiceHealth{Status: "not_ready", Message: "data directory not configured"}
	}
	if _, err := os.Stat(dir); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("data directory unavailable: %v", err)}
	}
	tmp, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot write to data directory: %v", err)}
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return ServiceHealth{Status: "ready"}
}

func (hs *HealthService) checkStorage(ctx context.Context) ServiceHealth {
	if hs.deps.Store == nil {
		return ServiceHealth{Status: "not_ready", Message: "storage not initialized"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.deps.Store.Ping(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("storage ping failed: %v", err)}
	}
	return ServiceHealth{Status: "ready"}
}

func (hs *HealthService) checkJobs() ServiceHealth {
	if hs.deps.Jobs == nil {
		return ServiceHealth{Status: "not_ready", Message: "job manager not initialized"}
	}
	stats := hs.deps.Jobs.Stats()
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d active, %d queued", stats["active_jobs"], stats["queue_size"]),
	}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.deps.Hub == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	return ServiceHealth{Status: "ready", Message: fmt.Sprintf("%d clients", hs.deps.Hub.ClientCount())}
}

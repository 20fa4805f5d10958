package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// SystemStats is a point-in-time view of the Go runtime.
type SystemStats struct {
	GoRoutines    int           `json:"goroutines"`
	HeapAlloc     uint64        `json:"heapAllocBytes"`
	SysBytes      uint64        `json:"sysBytes"`
	GCCount       uint32        `json:"gcCount"`
	CPUCount      int           `json:"cpuCount"`
	ProcessUptime time.Duration `json:"uptime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// SystemMetrics publishes runtime gauges through asynchronous instruments
// and serves the same numbers to the health endpoint.
type SystemMetrics struct {
	start time.Time
}

// NewSystemMetrics registers runtime gauges on meter. A nil meter only
// disables the export; Collect still works.
func NewSystemMetrics(meter metric.Meter, start time.Time) (*SystemMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	sm := &SystemMetrics{start: start}

	goroutines, err := meter.Int64ObservableGauge("system_goroutines",
		metric.WithDescription("Number of active goroutines"))
	if err != nil {
		return nil, err
	}
	heap, err := meter.Int64ObservableGauge("system_memory_usage_bytes",
		metric.WithDescription("Heap bytes in use"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	uptime, err := meter.Float64ObservableGauge("system_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := sm.Collect()
		o.ObserveInt64(goroutines, int64(s.GoRoutines))
		o.ObserveInt64(heap, int64(s.HeapAlloc))
		o.ObserveFloat64(uptime, s.ProcessUptime.Seconds())
		return nil
	}, goroutines, heap, uptime)
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// Collect reads the current runtime statistics.
func (sm *SystemMetrics) Collect() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return SystemStats{
		GoRoutines:    runtime.NumGoroutine(),
		HeapAlloc:     mem.HeapAlloc,
		SysBytes:      mem.Sys,
		GCCount:       mem.NumGC,
		CPUCount:      runtime.NumCPU(),
		ProcessUptime: time.Since(sm.start),
		Timestamp:     time.Now().UTC(),
	}
}

package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"egc/internal/infrastructure"
	"egc/internal/ingest"
	"egc/internal/mapping"
	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

// ErrSnapshotNotReady is returned for jobs that have not finished yet.
var ErrSnapshotNotReady = errors.New("job has not finished")

const DefaultWorkers = 2

// JobManagerConfig wires a JobManager.
type JobManagerConfig struct {
	Workers      int
	QueueSize    int
	ChunkBytes   int
	PreviewLimit int

	Store       JobStore
	Opener      ingest.Opener
	Broadcaster Broadcaster
	Metrics     *infrastructure.BusinessMetrics
	Logger      *slog.Logger
}

// JobManager runs ingestion jobs on a bounded worker pool.
type JobManager struct {
	cfg         JobManagerConfig
	store       JobStore
	opener      ingest.Opener
	broadcaster Broadcaster
	tracer      *jobTracer
	logger      *slog.Logger

	queue    chan string
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// mu orders claims by workers against Cancel.
	mu      sync.Mutex
	running map[string]*runningJob
	stopped bool
}

type runningJob struct {
	cancel     context.CancelFunc
	controller *ingest.Controller
}

// NewJobManager creates a manager. Call Start before submitting.
func NewJobManager(cfg JobManagerConfig) *JobManager {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryJobStore()
	}
	if cfg.Opener == nil {
		cfg.Opener = ingest.FileOpener{}
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = noopBroadcaster{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &JobManager{
		cfg:         cfg,
		store:       cfg.Store,
		opener:      cfg.Opener,
		broadcaster: cfg.Broadcaster,
		tracer:      newJobTracer(cfg.Metrics),
		logger:      infrastructure.WithComponent(cfg.Logger, "job_manager"),
		queue:       make(chan string, cfg.QueueSize),
		shutdown:    make(chan struct{}),
		running:     make(map[string]*runningJob),
	}
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (m *JobManager) Start(ctx context.Context) {
	m.logger.InfoContext(ctx, "starting job manager", slog.Int("workers", m.cfg.Workers))
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Stop cancels running jobs and waits for the workers.
func (m *JobManager) Stop(timeout time.Duration) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		for _, r := range m.running {
			r.controller.Cancel()
			r.cancel()
		}
		m.mu.Unlock()
		close(m.shutdown)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("job manager stopped")
		return nil
	case <-time.After(timeout):
		m.logger.Warn("job manager stop timeout exceeded")
		return fmt.Errorf("timeout waiting for job workers to finish")
	}
}

// StartCleanup evicts finished jobs older than retention on a ticker until
// ctx ends or Stop is called.
func (m *JobManager) StartCleanup(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := max(retention/4, time.Millisecond)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.shutdown:
				return
			case <-ticker.C:
				m.Cleanup(retention)
			}
		}
	}()
}

// Cleanup drops finished jobs older than retention and returns how many went.
func (m *JobManager) Cleanup(retention time.Duration) int {
	n := m.store.CleanupOldJobs(retention)
	if n > 0 {
		m.logger.Info("evicted finished jobs",
			slog.Int("count", n),
			slog.Duration("retention", retention))
	}
	return n
}

// Submit creates a pending job for source and queues it. With a non-empty
// mapping the job also totals its mapped orders per day.
func (m *JobManager) Submit(ctx context.Context, source string, opts events.ParseOptions, fields mapping.Mapping) (*Job, error) {
	cmd := events.Command{Command: events.CommandParse, Source: source, Options: opts}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return nil, ErrManagerStopped
	}

	traceID := infrastructure.GetTraceID(ctx)
	if traceID == "" {
		traceID = infrastructure.GenerateTraceID()
	}
	job := &Job{
		ID:        uuid.New().String(),
		Source:    source,
		Options:   opts,
		Mapping:   fields,
		Status:    JobStatusPending,
		Message:   "queued",
		TraceID:   traceID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	select {
	case m.queue <- job.ID:
	default:
		job.Status = JobStatusFailed
		job.Error = ErrQueueFull.Error()
		job.Message = "rejected"
		now := time.Now().UTC()
		job.CompletedAt = &now
		_ = m.store.UpdateJob(job)
		m.tracer.finished(ctx, job.Status)
		m.publish(job, nil)
		return nil, ErrQueueFull
	}

	m.logger.InfoContext(ctx, "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("source", source))
	m.publish(job, nil)
	return job.Clone(), nil
}

// Get returns a job by id.
func (m *JobManager) Get(id string) (*Job, error) {
	return m.store.GetJob(id)
}

// List returns jobs matching filter, newest first.
func (m *JobManager) List(filter JobFilter) ([]*Job, error) {
	return m.store.ListJobs(filter)
}

// Snapshot returns what a finished job produced.
func (m *JobManager) Snapshot(id string) (*Snapshot, error) {
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, jobError(id, "snapshot", ErrSnapshotNotReady)
	}
	return m.store.GetSnapshot(id)
}

// Cancel stops a pending or running job. A running job reaches the
// cancelled status once its worker observes the request.
func (m *JobManager) Cancel(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	if r, ok := m.running[id]; ok && !job.Status.IsTerminal() {
		r.controller.Cancel()
		r.cancel()
		job.Message = "cancelling"
		if err := m.store.UpdateJob(job); err != nil {
			return nil, err
		}
		m.logger.InfoContext(ctx, "job cancel requested", slog.String("job_id", id))
		return job, nil
	}

	if job.Status != JobStatusPending {
		return nil, jobError(id, "cancel", fmt.Errorf("%w (status: %s)", ErrJobNotCancelable, job.Status))
	}

	now := time.Now().UTC()
	job.Status = JobStatusCancelled
	job.Message = "cancelled before start"
	job.CompletedAt = &now
	if err := m.store.UpdateJob(job); err != nil {
		return nil, err
	}
	m.tracer.finished(ctx, job.Status)
	m.publish(job, nil)
	m.logger.InfoContext(ctx, "pending job cancelled", slog.String("job_id", id))
	return job, nil
}

// Stats reports queue occupancy.
func (m *JobManager) Stats() map[string]int {
	m.mu.Lock()
	active := len(m.running)
	m.mu.Unlock()
	return map[string]int{
		"workers":     m.cfg.Workers,
		"queue_size":  len(m.queue),
		"queue_cap":   cap(m.queue),
		"active_jobs": active,
	}
}

func (m *JobManager) worker(ctx context.Context, workerID int) {
	defer m.wg.Done()
	logger := m.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case id := <-m.queue:
			m.process(ctx, id, logger.With(slog.String("job_id", id)))
		}
	}
}

// claim moves a pending job to running. It returns nil when the job was
// cancelled or removed while queued.
func (m *JobManager) claim(ctx context.Context, id string) (*Job, context.Context, *ingest.Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, nil, nil
	}
	job, err := m.store.GetJob(id)
	if err != nil || job.Status != JobStatusPending {
		return nil, nil, nil
	}

	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	job.Message = "parsing"
	if err := m.store.UpdateJob(job); err != nil {
		return nil, nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	ctrl := ingest.NewController(m.cfg.Logger)
	m.running[id] = &runningJob{cancel: cancel, controller: ctrl}
	return job, runCtx, ctrl
}

func (m *JobManager) release(id string) {
	m.mu.Lock()
	if r, ok := m.running[id]; ok {
		r.cancel()
		delete(m.running, id)
	}
	m.mu.Unlock()
}

func (m *JobManager) process(ctx context.Context, id string, logger *slog.Logger) {
	job, runCtx, ctrl := m.claim(ctx, id)
	if job == nil {
		logger.Debug("skipping job that is no longer pending")
		return
	}
	defer m.release(id)

	if job.TraceID != "" {
		runCtx = infrastructure.WithTraceID(runCtx, job.TraceID)
	}
	runCtx, span := m.tracer.start(runCtx, job)
	started := time.Now()
	m.publish(job, nil)
	logger.InfoContext(runCtx, "job started", slog.String("source", job.Source))

	var res ingest.Result
	snap := &Snapshot{JobID: job.ID}
	var fields mapping.Mapping
	var daily *mapping.DailyTotals

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(runCtx, "job panicked", slog.Any("panic", r))
			res.Phase = domain.PhaseFailed
			res.Err = fmt.Sprintf("internal error: %v", r)
		}
		if daily != nil && res.Phase == domain.PhaseCompleted {
			snap.Daily = daily.Rollups()
		}
		m.finish(runCtx, job, snap, res, logger)
		m.tracer.end(runCtx, span, job, res, time.Since(started))
	}()

	src, closer, err := m.opener.Open(runCtx, job.Source)
	if err != nil {
		res = ingest.Result{Phase: domain.PhaseFailed, Err: fmt.Sprintf("cannot open %s: %v", job.Source, err)}
		m.publish(job, eventPtr(events.Error(res.Err)))
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	opts := ingest.OptionsFromParse(job.Options)
	opts.ChunkBytes = m.cfg.ChunkBytes
	opts.PreviewLimit = m.cfg.PreviewLimit

	tracker := NewProgressTracker()
	res = ctrl.Run(runCtx, src, opts, func(ev events.Event) {
		switch ev.Type {
		case events.EventHeaders:
			if len(job.Mapping) > 0 {
				fields, snap.MissingColumns = mapping.Reconcile(job.Mapping, ev.Columns)
				if len(snap.MissingColumns) > 0 {
					logger.WarnContext(runCtx, "mapped columns missing from file",
						slog.Any("missing", snap.MissingColumns))
				}
				daily = mapping.NewDailyTotals()
			}
		case events.EventChunk:
			if daily != nil {
				daily.Add(mapping.MapRowsToOrders(ev.Rows, fields))
			}
		case events.EventProgress:
			job.RowsSoFar = ev.RowsSoFar
			if ev.Percent != nil {
				tracker.Update(*ev.Percent)
				job.Progress = tracker.Percent()
				job.ETA = tracker.ETA()
			}
			if err := m.store.UpdateJob(job); err != nil {
				logger.Warn("failed to update job progress", slog.String("error", err.Error()))
			}
		}
		m.publish(job, &ev)
	})
}

// finish records the final status and snapshot of a job.
func (m *JobManager) finish(ctx context.Context, job *Job, snap *Snapshot, res ingest.Result, logger *slog.Logger) {
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.ETA = ""

	switch res.Phase {
	case domain.PhaseCompleted:
		job.Status = JobStatusCompleted
		job.Progress = 100
		job.Message = fmt.Sprintf("%d rows", res.State.TotalRows)
	case domain.PhaseAborted:
		job.Status = JobStatusCancelled
		job.Message = "cancelled"
	default:
		job.Status = JobStatusFailed
		job.Error = res.Err
		job.Message = "failed"
	}
	job.RowsSoFar = res.State.TotalRows

	snap.Columns = res.Columns
	snap.TotalRows = res.State.TotalRows
	snap.Preview = res.State.PreviewRows
	snap.Sample = res.Sample
	snap.Warnings = res.State.Errors
	snap.Rollups = res.Rollups
	snap.Chunks = res.Chunks

	if err := m.store.SaveSnapshot(snap); err != nil {
		logger.ErrorContext(ctx, "failed to save job snapshot", slog.String("error", err.Error()))
	}
	if err := m.store.UpdateJob(job); err != nil {
		logger.ErrorContext(ctx, "failed to update job", slog.String("error", err.Error()))
	}
	m.publish(job, nil)

	level := slog.LevelInfo
	if job.Status == JobStatusFailed {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "job finished",
		slog.String("status", string(job.Status)),
		slog.Int64("rows", res.State.TotalRows),
		slog.Int("chunks", res.Chunks),
		slog.String("error", job.Error))
}

func (m *JobManager) publish(job *Job, ev *events.Event) {
	m.broadcaster.BroadcastJobEvent(JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Event:    ev,
	})
}

func eventPtr(ev events.Event) *events.Event { return &ev }

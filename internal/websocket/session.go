package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"egc/internal/ingest"
	"egc/pkg/contracts/events"
)

// ErrSessionClosed is returned for commands sent after the client left.
var ErrSessionClosed = errors.New("ingestion session closed")

// SessionConfig configures the ingestion worker behind each connection.
type SessionConfig struct {
	Opener       ingest.Opener
	ChunkBytes   int
	PreviewLimit int
	// OnResult, when set, observes every finished run of every session.
	OnResult func(cmd events.Command, res ingest.Result)
}

// session runs one ingest.Worker at a time for a client. A worker that goes
// silent mid-run for longer than the silence timeout is abandoned and a fresh
// one takes its place.
type session struct {
	cfg     SessionConfig
	timeout time.Duration
	deliver func(events.Event) bool
	logger  *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	worker   *ingest.Worker
	watch    *ingest.Watchdog
	stopWork context.CancelFunc
	restarts int
	closed   bool
}

func newSession(cfg SessionConfig, timeout time.Duration, deliver func(events.Event) bool, logger *slog.Logger) *session {
	if timeout <= 0 {
		timeout = ingest.DefaultSilenceTimeout
	}
	return &session{cfg: cfg, timeout: timeout, deliver: deliver, logger: logger}
}

func (s *session) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.worker != nil {
		return
	}
	s.ctx = ctx
	s.spawnLocked()
}

// spawnLocked starts a worker and the goroutine forwarding its events.
func (s *session) spawnLocked() {
	w := ingest.NewWorker(ingest.WorkerConfig{
		Opener:       s.cfg.Opener,
		ChunkBytes:   s.cfg.ChunkBytes,
		PreviewLimit: s.cfg.PreviewLimit,
		Logger:       s.logger,
		OnResult:     s.cfg.OnResult,
	})
	wctx, cancel := context.WithCancel(s.ctx)
	w.Start(wctx)
	wd := ingest.Watch(wctx, w.Events(), s.timeout, func() { go s.stalled(w) })
	s.worker, s.watch, s.stopWork = w, wd, cancel

	go func() {
		for ev := range wd.Events() {
			if !s.deliver(ev) {
				cancel()
				return
			}
		}
	}()
}

// stalled replaces w if it is still the current worker.
func (s *session) stalled(w *ingest.Worker) {
	s.mu.Lock()
	if s.closed || s.worker != w {
		s.mu.Unlock()
		return
	}
	s.stopWork()
	s.worker, s.watch = nil, nil
	s.restarts++
	restarts := s.restarts
	s.mu.Unlock()

	s.logger.WarnContext(s.ctx, "ingestion worker stalled, restarting",
		slog.Duration("silence_timeout", s.timeout),
		slog.Int("restarts", restarts))
	// The stuck run may never return; do not wait for it here.
	go w.Close()

	s.deliver(events.Error(fmt.Sprintf("ingestion stalled: no events for %s", s.timeout)))

	s.mu.Lock()
	if !s.closed {
		s.spawnLocked()
	}
	s.mu.Unlock()
}

func (s *session) submit(ctx context.Context, cmd events.Command) error {
	s.mu.Lock()
	w, wd, closed := s.worker, s.watch, s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return ErrSessionClosed
	case w == nil:
		return errors.New("ingestion worker restarting, retry the command")
	}
	if cmd.Command == events.CommandParse && cmd.Validate() == nil {
		wd.Expect()
	}
	if err := w.Submit(ctx, cmd); err != nil {
		if errors.Is(err, ingest.ErrWorkerClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	w, stop := s.worker, s.stopWork
	s.worker, s.watch = nil, nil
	s.mu.Unlock()

	if w == nil {
		return
	}
	stop()
	w.Close()
}

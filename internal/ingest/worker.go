package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"egc/internal/infrastructure"
	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

// ErrWorkerClosed is returned by Submit after Close.
var ErrWorkerClosed = errors.New("ingest worker closed")

// Opener resolves the source reference of a parse command.
type Opener interface {
	Open(ctx context.Context, ref string) (Source, io.Closer, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, ref string) (Source, io.Closer, error)

func (f OpenerFunc) Open(ctx context.Context, ref string) (Source, io.Closer, error) {
	return f(ctx, ref)
}

// FileOpener opens references as paths on the local filesystem.
type FileOpener struct{}

func (FileOpener) Open(_ context.Context, ref string) (Source, io.Closer, error) {
	f, err := os.Open(ref)
	if err != nil {
		return Source{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Source{}, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return Source{}, nil, fmt.Errorf("%s is a directory", ref)
	}
	return Source{Name: ref, Reader: f, Size: info.Size()}, f, nil
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Opener       Opener
	ChunkBytes   int
	PreviewLimit int
	Logger       *slog.Logger
	// OnResult, when set, is called from the run goroutine after every run.
	OnResult func(cmd events.Command, res Result)
}

type request struct {
	cmd events.Command
	ack chan error
}

// queued is an undelivered event and the run that produced it. Events the
// worker makes up itself have no run.
type queued struct {
	ev  events.Event
	run *activeRun
}

// activeRun is the loop's view of the parse in flight.
type activeRun struct {
	ctrl      *Controller
	cancelRun context.CancelFunc
	events    chan events.Event
	cancelled bool
}

// Worker runs ingestion commands on its own goroutine and reports events in
// order on a single channel. At most one parse is active; a new parse tears
// down the previous one first.
//
// Commands are applied in the order they are submitted, and once Submit for a
// cancel returns no further non-terminal event of the cancelled run is
// delivered and the run ends with aborted or error, never done. Each run ends
// with exactly one of done, aborted or error.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger

	cmds    chan request
	out     chan events.Event
	quit    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Opener == nil {
		cfg.Opener = FileOpener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:     cfg,
		logger:  infrastructure.WithComponent(cfg.Logger, "ingest_worker"),
		cmds:    make(chan request),
		out:     make(chan events.Event),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker goroutine. The first event is ready.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.loop(ctx) })
}

// Events is closed once the worker has stopped.
func (w *Worker) Events() <-chan events.Event { return w.out }

// Submit hands a command to the worker and returns once it has been applied.
// A malformed command is reported both as the returned error and as an error
// event.
func (w *Worker) Submit(ctx context.Context, cmd events.Command) error {
	req := request{cmd: cmd, ack: make(chan error, 1)}
	select {
	case w.cmds <- req:
	case <-w.stopped:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any active run and stops the worker. It waits for the worker
// goroutine to exit.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
	w.startOnce.Do(func() { close(w.out); close(w.stopped) })
	<-w.stopped
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.stopped)
	defer close(w.out)

	queue := []queued{{ev: events.Ready()}}
	var active *activeRun
	var pending *events.Command

	for {
		var out chan<- events.Event
		var next events.Event
		if len(queue) > 0 {
			out, next = w.out, queue[0].ev
		}
		var in <-chan events.Event
		if active != nil && len(queue) == 0 {
			in = active.events
		}

		select {
		case out <- next:
			queue = queue[1:]

		case ev, ok := <-in:
			if !ok {
				active = nil
				if pending != nil {
					active = w.startRun(ctx, *pending)
					pending = nil
				}
				continue
			}
			if active.cancelled {
				var keep bool
				if ev, keep = afterCancel(ev); !keep {
					continue
				}
			}
			queue = append(queue, queued{ev: ev, run: active})

		case req := <-w.cmds:
			var err error
			active, pending, queue, err = w.apply(ctx, req.cmd, active, pending, queue)
			req.ack <- err

		case <-w.quit:
			w.teardown(active)
			return
		case <-ctx.Done():
			w.teardown(active)
			return
		}
	}
}

// apply executes one command against the loop state.
func (w *Worker) apply(ctx context.Context, cmd events.Command, active *activeRun, pending *events.Command, queue []queued) (*activeRun, *events.Command, []queued, error) {
	if err := cmd.Validate(); err != nil {
		w.logger.WarnContext(ctx, "rejected command", "command", cmd.Command, "error", err)
		return active, pending, append(queue, queued{ev: events.Error(err.Error())}), err
	}

	switch cmd.Command {
	case events.CommandCancel:
		if pending != nil {
			// The replacement parse never started; close it out.
			return active, nil, append(queue, queued{ev: events.Aborted()}), nil
		}
		if active != nil && !active.cancelled {
			queue = w.cancelActive(active, queue)
		}
		return active, pending, queue, nil

	case events.CommandParse:
		if active == nil {
			return w.startRun(ctx, cmd), nil, queue, nil
		}
		if !active.cancelled {
			queue = w.cancelActive(active, queue)
		}
		if pending != nil {
			queue = append(queue, queued{ev: events.Aborted()})
		}
		c := cmd
		return active, &c, queue, nil
	}
	return active, pending, queue, nil
}

// cancelActive flags the run and rewrites its undelivered events as if the
// cancel had arrived before them.
func (w *Worker) cancelActive(active *activeRun, queue []queued) []queued {
	active.cancelled = true
	active.ctrl.Cancel()

	kept := queue[:0]
	for _, q := range queue {
		if q.run == active {
			var keep bool
			if q.ev, keep = afterCancel(q.ev); !keep {
				continue
			}
		}
		kept = append(kept, q)
	}
	return kept
}

// afterCancel maps an event of a cancelled run to what the caller may still
// see: only the terminal event, with done turned into aborted.
func afterCancel(ev events.Event) (events.Event, bool) {
	switch {
	case ev.Type == events.EventDone:
		return events.Aborted(), true
	case ev.Type.IsTerminal():
		return ev, true
	}
	return ev, false
}

func (w *Worker) startRun(ctx context.Context, cmd events.Command) *activeRun {
	runCtx, cancel := context.WithCancel(ctx)
	h := &activeRun{
		ctrl:      NewController(w.cfg.Logger),
		cancelRun: cancel,
		events:    make(chan events.Event),
	}
	go w.run(runCtx, h, cmd)
	return h
}

// run executes one parse. It closes h.events after the terminal event.
func (w *Worker) run(ctx context.Context, h *activeRun, cmd events.Command) {
	defer close(h.events)
	defer h.cancelRun()

	emit := func(ev events.Event) {
		select {
		case h.events <- ev:
		case <-ctx.Done():
		}
	}

	src, closer, err := w.cfg.Opener.Open(ctx, cmd.Source)
	if err != nil {
		msg := fmt.Sprintf("cannot open source: %v", err)
		w.logger.WarnContext(ctx, "failed to open source", "source", cmd.Source, "error", err)
		emit(events.Error(msg))
		w.report(cmd, Result{Phase: domain.PhaseFailed, Err: msg})
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	opts := OptionsFromParse(cmd.Options)
	opts.ChunkBytes = w.cfg.ChunkBytes
	opts.PreviewLimit = w.cfg.PreviewLimit

	res := h.ctrl.Run(ctx, src, opts, emit)
	w.report(cmd, res)
}

func (w *Worker) report(cmd events.Command, res Result) {
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(cmd, res)
	}
}

// teardown stops the active run and waits for its goroutine to finish.
func (w *Worker) teardown(active *activeRun) {
	if active == nil {
		return
	}
	active.ctrl.Cancel()
	active.cancelRun()
	for range active.events {
	}
}

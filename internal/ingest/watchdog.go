package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"egc/pkg/contracts/events"
)

// DefaultSilenceTimeout is how long a busy worker may stay silent before the
// watchdog gives up on it.
const DefaultSilenceTimeout = 10 * time.Second

// Watchdog forwards a worker's events and notices when a run goes quiet.
type Watchdog struct {
	events  chan events.Event
	kick    chan struct{}
	pending atomic.Int64
}

// Watch forwards events from in and calls onStall once if a run goes quiet
// for longer than timeout. A run is in flight from the moment Expect is
// called for it, or from its first non-ready event, until its terminal event.
// The event channel closes when in closes or ctx ends.
func Watch(ctx context.Context, in <-chan events.Event, timeout time.Duration, onStall func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultSilenceTimeout
	}
	w := &Watchdog{
		events: make(chan events.Event),
		kick:   make(chan struct{}, 1),
	}
	go w.loop(ctx, in, timeout, onStall)
	return w
}

// Events is the forwarded event stream.
func (w *Watchdog) Events() <-chan events.Event { return w.events }

// Expect announces a run that has not produced any event yet. Call it before
// submitting the parse so a worker stuck before its first chunk is caught.
func (w *Watchdog) Expect() {
	w.pending.Add(1)
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watchdog) loop(ctx context.Context, in <-chan events.Event, timeout time.Duration, onStall func()) {
	defer close(w.events)

	timer := time.NewTimer(timeout)
	timer.Stop()
	busy := false
	stalled := false

	for {
		var expired <-chan time.Time
		if busy {
			expired = timer.C
		}

		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
			switch {
			case ev.Type.IsTerminal():
				if w.pending.Add(-1) < 0 {
					w.pending.Store(0)
				}
				busy = w.pending.Load() > 0
			case ev.Type != events.EventReady:
				busy = true
			}
			if busy {
				timer.Reset(timeout)
			} else {
				timer.Stop()
			}
		case <-w.kick:
			if w.pending.Load() > 0 && !busy {
				busy = true
				timer.Reset(timeout)
			}
		case <-expired:
			busy = false
			w.pending.Store(0)
			if !stalled && onStall != nil {
				stalled = true
				onStall()
			}
		case <-ctx.Done():
			return
		}
	}
}

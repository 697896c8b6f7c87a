package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/flexran/rtc/internal/ctlerr"
)

// command is one unit of work marshaled from an HTTP handler goroutine
// onto the task-manager thread.
type command struct {
	correlationID string
	fn            func() error
	done          chan error
}

// Dispatcher hands HTTP-triggered work to the task-manager thread and
// waits for it to complete, mirroring spec.md §5's requirement that all
// RIB/app mutation happen on the single scheduler thread: the HTTP layer
// never calls into rrm/scheduler/rib directly, it only enqueues a closure
// and blocks for the result.
type Dispatcher struct {
	queue   chan command
	timeout time.Duration
	log     *slog.Logger
}

// defaultHandlerTimeout matches the HTTP server's per-request budget
// (spec.md §5).
const defaultHandlerTimeout = 10 * time.Second

// defaultQueueDepth bounds how many HTTP-issued commands may be pending
// for the scheduler thread at once before Dispatch reports backpressure.
const defaultQueueDepth = 256

// NewDispatcher builds a Dispatcher. timeout <= 0 uses
// defaultHandlerTimeout.
func NewDispatcher(timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{queue: make(chan command, defaultQueueDepth), timeout: timeout, log: log}
}

// Dispatch enqueues fn to run on the scheduler thread and blocks until it
// completes or the handler timeout elapses.
func (d *Dispatcher) Dispatch(correlationID string, fn func() error) error {
	cmd := command{correlationID: correlationID, fn: fn, done: make(chan error, 1)}
	select {
	case d.queue <- cmd:
	default:
		return ctlerr.New(ctlerr.KindBackpressure, "core.dispatcher", "command queue full", correlationID)
	}

	select {
	case err := <-cmd.done:
		return err
	case <-time.After(d.timeout):
		return ctlerr.New(ctlerr.KindTimeout, "core.dispatcher", "command did not complete in time", correlationID)
	}
}

// Drain runs every currently queued command, in order, on the calling
// goroutine. TaskManager calls this once per tick, before its periodic
// apps run, so HTTP-issued RIB/app mutations are applied at a
// well-defined point in the tick rather than racing scheduling decisions.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		select {
		case cmd := <-d.queue:
			d.run(cmd)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *Dispatcher) run(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatched command panicked", "correlation_id", cmd.correlationID, "panic", r)
			select {
			case cmd.done <- ctlerr.New(ctlerr.KindFatal, "core.dispatcher", "command panicked", cmd.correlationID):
			default:
			}
		}
	}()
	err := cmd.fn()
	select {
	case cmd.done <- err:
	default:
	}
}

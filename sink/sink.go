// Package sink records violation events without ever blocking the monitor.
//
// A Dispatcher queues events for one writer goroutine that hands them to a
// Backend, eg a sqlite database, an MQTT broker or a webhook.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

// Backend stores or forwards events.
type Backend interface {
	Write(ctx context.Context, ev kidwatch.EventRecord) error
	Close() error
}

// DispatcherOpts are options for a Dispatcher.
type DispatcherOpts struct {
	QueueSize    int           // Events waiting to be written. Default 64.
	WriteTimeout time.Duration // Limit on one Backend.Write. Default 10s.
	DrainTimeout time.Duration // Limit on writing queued events in Close. Default 5s.
	Logger       *slog.Logger
}

// Stats are counters of a Dispatcher.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"` // Queue full or dispatcher closed.
	Failed  uint64 `json:"failed"`  // Backend returned an error.
}

// Dispatcher implements kidwatch.EventSink on top of a Backend. Record never
// blocks, and backend errors are logged and counted, never returned.
type Dispatcher struct {
	backend Backend
	opts    DispatcherOpts
	log     *slog.Logger

	queue chan kidwatch.EventRecord
	done  chan struct{}

	mu     sync.RWMutex // Guards closed, and sending on queue.
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Ensure Dispatcher implements kidwatch.EventSink.
var _ kidwatch.EventSink = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher writing to backend. If backend is nil,
// Record does nothing.
//
// Callers must call Close, which also closes the backend.
func NewDispatcher(backend Backend, opts *DispatcherOpts) *Dispatcher {
	var xopts DispatcherOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.QueueSize <= 0 {
		xopts.QueueSize = 64
	}
	if xopts.WriteTimeout <= 0 {
		xopts.WriteTimeout = 10 * time.Second
	}
	if xopts.DrainTimeout <= 0 {
		xopts.DrainTimeout = 5 * time.Second
	}
	if xopts.Logger == nil {
		xopts.Logger = slog.Default()
	}

	d := &Dispatcher{
		backend: backend,
		opts:    xopts,
		log:     xopts.Logger,
		done:    make(chan struct{}),
	}
	if backend == nil {
		close(d.done)
		return d
	}
	d.queue = make(chan kidwatch.EventRecord, xopts.QueueSize)
	go d.run()
	return d
}

// Record queues ev for writing. When the queue is full, ev is dropped.
func (d *Dispatcher) Record(ev kidwatch.EventRecord) {
	if d.backend == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn("event queue full, dropping event", "id", ev.ID, "queue", cap(d.queue))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.write(context.Background(), ev)
	}
}

func (d *Dispatcher) write(ctx context.Context, ev kidwatch.EventRecord) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.WriteTimeout)
	defer cancel()

	if err := d.backend.Write(ctx, ev); err != nil {
		d.failed.Add(1)
		d.log.Warn("writing event", "id", ev.ID, "error", err)
		return
	}
	d.written.Add(1)
	d.log.Debug("event written", "id", ev.ID, "mode", ev.Mode, "category", ev.Category)
}

// Stats returns the counters of the dispatcher.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Written: d.written.Load(),
		Dropped: d.dropped.Load(),
		Failed:  d.failed.Load(),
	}
}

// Close stops accepting events, waits up to DrainTimeout for queued events to
// be written, and closes the backend.
func (d *Dispatcher) Close() error {
	if d.backend == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	t := time.NewTimer(d.opts.DrainTimeout)
	defer t.Stop()
	select {
	case <-d.done:
	case <-t.C:
		d.log.Warn("timeout writing queued events", "pending", len(d.queue))
	}
	return d.backend.Close()
}

// Multi returns a backend writing each event to all backends.
func Multi(backends ...Backend) Backend {
	return multi(backends)
}

type multi []Backend

func (m multi) Write(ctx context.Context, ev kidwatch.EventRecord) error {
	var errs []error
	for _, b := range m {
		if err := b.Write(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, b := range m {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

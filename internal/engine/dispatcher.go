package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

// DefaultMailbox is the number of tick batches buffered per instance.
const DefaultMailbox = 256

// Dispatcher fans tick batches out to strategy instances. Every instance has
// its own mailbox and goroutine, so batches for one instance are processed
// in order and never concurrently, while different instances run in
// parallel. A full mailbox drops the batch for that instance only.
type Dispatcher struct {
	mu      sync.RWMutex
	workers map[string]*worker            // run id → worker
	byKey   map[string]map[string]*worker // instrument key → run id → worker
	mailbox int
	log     *slog.Logger
	wg      sync.WaitGroup

	// Optional hooks (metrics).
	OnDrop      func(id string)
	OnPanic     func(id string)
	OnProcessed func(id string, took time.Duration)
}

type worker struct {
	s     strategy.Strategy
	key   string
	inbox chan []model.Tick
	quit  chan struct{}
	done  chan struct{}

	pending atomic.Int64 // queued or in-flight batches
}

// NewDispatcher creates a dispatcher with the given per-instance mailbox size.
func NewDispatcher(mailbox int, log *slog.Logger) *Dispatcher {
	if mailbox <= 0 {
		mailbox = DefaultMailbox
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		workers: make(map[string]*worker),
		byKey:   make(map[string]map[string]*worker),
		mailbox: mailbox,
		log:     log,
	}
}

// Attach starts delivering batches for s's instrument to s.
func (d *Dispatcher) Attach(ctx context.Context, s strategy.Strategy) error {
	w := &worker{
		s:     s,
		key:   s.Config().Key(),
		inbox: make(chan []model.Tick, d.mailbox),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	d.mu.Lock()
	if _, ok := d.workers[s.ID()]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID())
	}
	d.workers[s.ID()] = w
	if d.byKey[w.key] == nil {
		d.byKey[w.key] = make(map[string]*worker)
	}
	d.byKey[w.key][s.ID()] = w
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx, w)
	return nil
}

// Detach stops delivery to id, discards its queued batches and waits for an
// in-flight batch to finish.
func (d *Dispatcher) Detach(id string) error {
	d.mu.Lock()
	w, ok := d.workers[id]
	if ok {
		delete(d.workers, id)
		delete(d.byKey[w.key], id)
		if len(d.byKey[w.key]) == 0 {
			delete(d.byKey, w.key)
		}
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	close(w.quit)
	<-w.done
	return nil
}

// Dispatch splits batch by instrument and queues each part for every
// instance subscribed to that instrument. It never blocks.
func (d *Dispatcher) Dispatch(batch []model.Tick) {
	if len(batch) == 0 {
		return
	}
	parts := make(map[string][]model.Tick)
	for _, t := range batch {
		k := t.Key()
		parts[k] = append(parts[k], t)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for key, ticks := range parts {
		for id, w := range d.byKey[key] {
			w.pending.Add(1)
			select {
			case w.inbox <- ticks:
			default:
				w.pending.Add(-1)
				if d.OnDrop != nil {
					d.OnDrop(id)
				}
				d.log.Warn("mailbox full, dropping tick batch", "strategy_id", id, "ticks", len(ticks))
			}
		}
	}
}

// Run dispatches batches from in until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan []model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			d.Dispatch(batch)
		}
	}
}

// Drain waits until every queued batch has been processed, polling at
// the given interval. Batches dispatched concurrently may or may not be
// waited for.
func (d *Dispatcher) Drain(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		if d.pendingBatches() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (d *Dispatcher) pendingBatches() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int64
	for _, w := range d.workers {
		n += w.pending.Load()
	}
	return n
}

// Close detaches every instance and waits for their goroutines.
func (d *Dispatcher) Close() {
	d.mu.RLock()
	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	for _, id := range ids {
		_ = d.Detach(id)
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, w *worker) {
	defer d.wg.Done()
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case batch := <-w.inbox:
			d.process(ctx, w, batch)
			w.pending.Add(-1)
		}
	}
}

// process runs one batch, isolating panics to the offending instance.
func (d *Dispatcher) process(ctx context.Context, w *worker, batch []model.Tick) {
	id := w.s.ID()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("strategy panicked while processing ticks",
				"strategy_id", id, "panic", p, "stack", string(debug.Stack()))
			if d.OnPanic != nil {
				d.OnPanic(id)
			}
			return
		}
		if d.OnProcessed != nil {
			d.OnProcessed(id, time.Since(start))
		}
	}()
	w.s.ProcessTicks(ctx, batch)
}

// Package feed connects to a live tick source and emits tick batches.
//
// Two sources exist: the Angel One SmartAPI stream (production) and a
// plain-JSON WebSocket (staging, e.g. the bundled tick server). Both
// reconnect with exponential backoff and pass ticks through a Batcher so
// downstream consumers see []model.Tick.
package feed

import (
	"context"
	"log/slog"
	"time"

	"signalengine/internal/model"
)

// Source produces ticks until ctx is cancelled or the connection fails.
// A nil error means ctx was cancelled.
type Source interface {
	Name() string
	Stream(ctx context.Context, out chan<- model.Tick) error
}

// Backoff configures reconnection delays.
type Backoff struct {
	Initial time.Duration // default 2s
	Max     time.Duration // default 30s
}

func (b *Backoff) defaults() {
	if b.Initial == 0 {
		b.Initial = 2 * time.Second
	}
	if b.Max == 0 {
		b.Max = 30 * time.Second
	}
}

// Feed runs a Source with reconnection.
type Feed struct {
	src     Source
	backoff Backoff
	log     *slog.Logger

	// Optional hooks
	OnConnect   func()
	OnReconnect func(err error)
}

// New creates a feed over src.
func New(src Source, backoff Backoff, log *slog.Logger) *Feed {
	backoff.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Feed{src: src, backoff: backoff, log: log.With("feed", src.Name())}
}

// Run streams ticks into out, reconnecting after failures. It blocks until
// ctx is cancelled and never closes out.
func (f *Feed) Run(ctx context.Context, out chan<- model.Tick) {
	delay := f.backoff.Initial
	for {
		if ctx.Err() != nil {
			return
		}

		if f.OnConnect != nil {
			f.OnConnect()
		}
		start := time.Now()
		err := f.src.Stream(ctx, out)
		if err == nil || ctx.Err() != nil {
			return
		}

		// A connection that stayed up resets the backoff.
		if time.Since(start) > f.backoff.Max {
			delay = f.backoff.Initial
		}
		f.log.Warn("feed: disconnected, reconnecting", "error", err, "delay", delay)
		if f.OnReconnect != nil {
			f.OnReconnect(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.backoff.Max {
			delay = f.backoff.Max
		}
	}
}

// Batch groups ticks from in into slices of at most max, flushing a partial
// batch every interval. out is closed when in is closed or ctx is done.
func Batch(ctx context.Context, in <-chan model.Tick, out chan<- []model.Tick, max int, every time.Duration) {
	defer close(out)
	if max <= 0 {
		max = 256
	}
	if every <= 0 {
		every = 50 * time.Millisecond
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	buf := make([]model.Tick, 0, max)
	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		select {
		case out <- buf:
		case <-ctx.Done():
			return false
		}
		buf = make([]model.Tick, 0, max)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, t)
			if len(buf) >= max && !flush() {
				return
			}
		case <-ticker.C:
			if !flush() {
				return
			}
		}
	}
}

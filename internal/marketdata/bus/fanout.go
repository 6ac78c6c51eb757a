// Package bus broadcasts tick batches from one producer to the consumers of
// a process (strategies, the tick recorder, stats).
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	name    string
	ch      chan T
	dropped atomic.Int64
}

// FanOut copies every value from one input channel to each subscriber. A
// full subscriber loses the value instead of blocking the others.
type FanOut[T any] struct {
	mu      sync.Mutex
	subs    []*subscriber[T]
	bufSize int
	running bool

	// OnDrop is called with the subscriber name for every dropped value.
	OnDrop func(name string)
}

// New creates a FanOut whose subscriber channels hold bufSize values.
func New[T any](bufSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: bufSize}
}

// Subscribe registers a named consumer. It panics once Run has started.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		panic("bus: Subscribe after Run")
	}
	s := &subscriber[T]{name: name, ch: make(chan T, f.bufSize)}
	f.subs = append(f.subs, s)
	return s.ch
}

// Run forwards values until ctx is cancelled or input is closed, then closes
// every subscriber channel.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	f.mu.Lock()
	f.running = true
	subs := f.subs
	f.mu.Unlock()

	defer func() {
		for _, s := range subs {
			close(s.ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			for _, s := range subs {
				select {
				case s.ch <- v:
				default:
					f.drop(s)
				}
			}
		}
	}
}

func (f *FanOut[T]) drop(s *subscriber[T]) {
	if s.dropped.Add(1) == 1 {
		slog.Warn("bus: subscriber full, dropping", "subscriber", s.name)
	}
	if f.OnDrop != nil {
		f.OnDrop(s.name)
	}
}

// Stat describes one subscriber.
type Stat struct {
	Name    string
	Len     int
	Cap     int
	Dropped int64
}

// Stats returns the queue depth and drop count of every subscriber in
// subscription order.
func (f *FanOut[T]) Stats() []Stat {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Stat, len(f.subs))
	for i, s := range f.subs {
		out[i] = Stat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch), Dropped: s.dropped.Load()}
	}
	return out
}

package notification

import (
	"context"
	"log/slog"
	"time"
)

const sendTimeout = 10 * time.Second

// Async queues alerts for a background sender so callers on the tick path
// never wait on the network. Alerts are dropped when the queue is full.
type Async struct {
	n   Notifier
	ch  chan Alert
	log *slog.Logger
	now func() time.Time

	// OnDrop is called for every alert dropped on a full queue.
	OnDrop func()
}

// NewAsync wraps n with a queue of size buf.
func NewAsync(n Notifier, buf int, log *slog.Logger) *Async {
	if buf <= 0 {
		buf = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Async{n: n, ch: make(chan Alert, buf), log: log.With("component", "notify"), now: time.Now}
}

// Notify enqueues a, stamping it when it has no time.
func (a *Async) Notify(alert Alert) {
	if alert.Time.IsZero() {
		alert.Time = a.now()
	}
	select {
	case a.ch <- alert:
	default:
		a.log.Warn("alert queue full, dropping", "title", alert.Title)
		if a.OnDrop != nil {
			a.OnDrop()
		}
	}
}

// Run sends queued alerts until ctx is cancelled, then makes a best-effort
// pass over what is still queued.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case alert := <-a.ch:
					a.send(context.Background(), alert)
				default:
					return
				}
			}
		case alert := <-a.ch:
			a.send(ctx, alert)
		}
	}
}

func (a *Async) send(ctx context.Context, alert Alert) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.n.Send(ctx, alert); err != nil {
		a.log.Warn("alert delivery failed", "title", alert.Title, "error", err)
	}
}

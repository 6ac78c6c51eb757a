// Package closedetector decides when a session's closing prints have
// settled: after the close, once every instrument's price has stopped
// changing for a while, or at a hard deadline.
package closedetector

import (
	"time"

	"signalengine/internal/model"
)

// Detector watches post-close ticks of one session. It is not safe for
// concurrent use.
type Detector struct {
	closeTime time.Time
	last      map[string]int64
	since     map[string]time.Time

	// StableFor is how long every price must stay unchanged. Default 30s.
	StableFor time.Duration
	// MaxGrace bounds the wait after closeTime. Default 5m.
	MaxGrace time.Duration
}

// New creates a Detector for a session closing at closeTime.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		last:      make(map[string]int64),
		since:     make(map[string]time.Time),
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// Deadline is the latest time the session may run.
func (d *Detector) Deadline() time.Time { return d.closeTime.Add(d.MaxGrace) }

// Observe records t received at now and reports whether the session is
// done.
func (d *Detector) Observe(t model.Tick, now time.Time) bool {
	if !now.Before(d.Deadline()) {
		return true
	}
	key := t.Key()
	if !now.After(d.closeTime) {
		d.last[key] = t.Price
		return false
	}

	if prev, ok := d.last[key]; !ok || prev != t.Price {
		d.last[key] = t.Price
		d.since[key] = now
		return false
	}
	if _, ok := d.since[key]; !ok {
		d.since[key] = now
	}
	return d.Settled(now)
}

// Settled reports whether every instrument seen after the close has been
// stable for StableFor at now.
func (d *Detector) Settled(now time.Time) bool {
	if len(d.since) == 0 {
		return false
	}
	for _, s := range d.since {
		if now.Sub(s) < d.StableFor {
			return false
		}
	}
	return true
}

// ClosingPrice returns the last observed price of key in paise.
func (d *Detector) ClosingPrice(key string) (int64, bool) {
	p, ok := d.last[key]
	return p, ok
}

// Package agg buckets ticks into fixed-interval OHLC candles per instrument.
package agg

import (
	"log/slog"
	"sync"
	"time"

	"signalengine/internal/model"
	"signalengine/internal/ringbuf"
)

// candleState holds the in-progress candle for one instrument.
type candleState struct {
	start  time.Time // interval start (UTC)
	candle model.Candle
}

// Aggregator builds interval candles from a tick stream. Candles close on
// event time: the first tick of the next interval closes the current one.
// Each instrument is aggregated independently and keeps a bounded history
// of closed candles.
type Aggregator struct {
	mu       sync.Mutex
	interval time.Duration
	capacity int
	states   map[string]*candleState    // key = "exchange:token"
	history  map[string]*ringbuf.Window // closed candles per instrument

	// Metrics hooks (optional, set externally)
	OnDroppedTick   func()
	OnMalformedTick func()
}

// New creates an Aggregator for the given interval retaining capacity
// closed candles per instrument. Non-positive capacities use
// ringbuf.DefaultCapacity.
func New(interval time.Duration, capacity int) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{
		interval: interval,
		capacity: capacity,
		states:   make(map[string]*candleState),
		history:  make(map[string]*ringbuf.Window),
	}
}

// Interval returns the candle width.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Ingest folds a tick into its instrument's open candle. When the tick falls
// in a later interval, the open candle is finalized and returned with ok=true
// and a new candle is opened from the tick. Ticks with no timestamp and ticks
// older than the open interval are dropped.
func (a *Aggregator) Ingest(tick model.Tick) (closed model.Candle, ok bool) {
	if tick.TickTS.IsZero() {
		slog.Warn("agg: dropping tick without timestamp", "instrument", tick.Key())
		if a.OnMalformedTick != nil {
			a.OnMalformedTick()
		}
		return model.Candle{}, false
	}

	start := model.TruncateToInterval(tick.TickTS, a.interval)
	key := tick.Key()

	a.mu.Lock()
	state, exists := a.states[key]

	if exists && start.Before(state.start) {
		// Late tick: belongs to an already closed interval, drop it
		a.mu.Unlock()
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return model.Candle{}, false
	}

	if exists && start.After(state.start) {
		// New interval: finalize the old candle first
		closed, ok = state.candle, true
		a.remember(key, closed)
		exists = false
	}

	if !exists {
		a.states[key] = &candleState{
			start: start,
			candle: model.Candle{
				Token:      tick.Token,
				Exchange:   tick.Exchange,
				TF:         int(a.interval / time.Second),
				TS:         start,
				Open:       tick.Price,
				High:       tick.Price,
				Low:        tick.Price,
				Close:      tick.Price,
				Volume:     tick.Qty,
				TicksCount: 1,
			},
		}
		a.mu.Unlock()
		return closed, ok
	}

	// Same interval: update OHLC
	c := &state.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
	c.TicksCount++
	a.mu.Unlock()
	return model.Candle{}, false
}

// Current returns the still-open candle for an instrument.
func (a *Aggregator) Current(key string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.states[key]
	if !ok {
		return model.Candle{}, false
	}
	return state.candle, true
}

// Flush finalizes the open candle of one instrument, if any. Used at the
// end of bounded runs where no further tick will close it.
func (a *Aggregator) Flush(key string) (model.Candle, bool) {
	a.mu.Lock()
	state, ok := a.states[key]
	if ok {
		a.remember(key, state.candle)
	}
	a.mu.Unlock()
	if !ok {
		return model.Candle{}, false
	}
	return state.candle, true
}

// History returns the closed candles retained for an instrument, oldest first.
func (a *Aggregator) History(key string) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.history[key]
	if !ok {
		return nil
	}
	return w.Snapshot()
}

// remember moves a closed candle into history. Caller holds a.mu.
func (a *Aggregator) remember(key string, c model.Candle) {
	w, ok := a.history[key]
	if !ok {
		w = ringbuf.New(a.capacity)
		a.history[key] = w
	}
	w.Push(c)
	delete(a.states, key)
}

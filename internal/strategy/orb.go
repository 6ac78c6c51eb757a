package strategy

import (
	"context"
	"time"

	"signalengine/internal/model"
)

// ORB is the opening-range breakout strategy.
//
// The range is the high/low of ticks in [start_time, start_time+interval).
// The first tick at or after the end of that window finalizes the range;
// from the next tick on, a price above the high buys calls (long) and a
// price below the low buys puts (short). One entry attempt per session.
// Exits: hard stop, trailing stop (whichever is tighter), fixed target,
// or the end of the execution window.
//
// When no tick arrived inside the opening window (a deployment after it
// ended, or a feed gap) the range is taken from historical one-minute
// candles if Deps.History is set.
type ORB struct {
	*runner

	session     time.Time // IST date of the current session
	rangeEnd    int       // second of day the opening window ends
	or          OpeningRange
	haveRange   bool
	tradePlaced bool
	trailing    float64
}

func newORB(cfg Config, deps Deps) *ORB {
	o := &ORB{runner: newRunner(cfg, deps)}
	o.rangeEnd = o.win.start + int(cfg.Interval()/time.Second)
	o.hooks = o
	return o
}

func (o *ORB) onCandle(context.Context, model.Candle) {}

func (o *ORB) onTick(ctx context.Context, t model.Tick) {
	price := model.Rupees(t.Price)
	sod := secondOfDay(t.TickTS)

	if !sameDay(t.TickTS, o.session) && !o.pos.Open() {
		o.newSession(t.TickTS)
	}

	switch {
	case sod < o.win.start:
		return

	case sod < o.rangeEnd:
		o.widen(price)
		o.state = StateRunning
		o.message = "Building opening range."
		return

	case !o.or.Final:
		// This tick closes the opening window; evaluation starts with the next one.
		o.or.Final = true
		if !o.haveRange {
			o.seed(ctx, t.TickTS)
		}
		if !o.haveRange {
			o.message = "No ticks inside the opening window; staying flat."
			o.log.Warn("opening range empty")
			return
		}
		o.state = StateMonitoring
		o.message = "Opening range set; monitoring for breakout."
		o.log.Info("opening range set", "high", o.or.High, "low", o.or.Low)
		return
	}

	if o.pos.Open() {
		o.manage(ctx, price, t.TickTS)
		return
	}

	if !o.haveRange || o.tradePlaced || !o.win.contains(t.TickTS) {
		return
	}
	switch {
	case price > o.or.High:
		o.tradePlaced = true
		o.open(ctx, model.Long, price, t.TickTS, "opening range breakout")
	case price < o.or.Low:
		o.tradePlaced = true
		o.open(ctx, model.Short, price, t.TickTS, "opening range breakdown")
	}
}

// seedTimeout bounds the historical candle request for a late range.
const seedTimeout = 10 * time.Second

// seed rebuilds the opening range of ts's session from historical candles.
func (o *ORB) seed(ctx context.Context, ts time.Time) {
	if o.deps.History == nil {
		return
	}
	y, m, d := ts.In(model.IST).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, model.IST)
	from := day.Add(time.Duration(o.win.start) * time.Second)
	to := day.Add(time.Duration(o.rangeEnd) * time.Second)

	ctx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()
	candles, err := o.deps.History.Candles(ctx, o.cfg.Exchange, o.cfg.Token, 1, from, to)
	if err != nil {
		o.lastErr = err.Error()
		o.log.Warn("opening range history unavailable", "error", err)
		return
	}
	for _, c := range candles {
		if c.TS.Before(from) || !c.TS.Before(to) {
			continue
		}
		o.widen(model.Rupees(c.High))
		o.widen(model.Rupees(c.Low))
	}
	if o.haveRange {
		o.log.Info("opening range seeded from history", "candles", len(candles), "high", o.or.High, "low", o.or.Low)
	}
}

func (o *ORB) newSession(ts time.Time) {
	o.session = ts
	o.or = OpeningRange{}
	o.haveRange = false
	o.tradePlaced = false
	o.trailing = 0
}

func (o *ORB) widen(price float64) {
	if !o.haveRange {
		o.or.High, o.or.Low = price, price
		o.haveRange = true
		return
	}
	if price > o.or.High {
		o.or.High = price
	}
	if price < o.or.Low {
		o.or.Low = price
	}
}

func (o *ORB) open(ctx context.Context, side model.Side, price float64, ts time.Time, reason string) {
	o.trailing = o.trail(side, price)
	stop := tighter(side, o.hardStop(side, price), o.trailing)

	var target *float64
	if tp := o.cfg.TargetProfitPct; tp > 0 {
		v := price * (1 + tp/100)
		if side == model.Short {
			v = price * (1 - tp/100)
		}
		target = &v
	}

	if err := o.enter(ctx, side, price, ts, stop, target, reason); err != nil {
		o.trailing = 0
	}
}

// manage updates the trailing stop and checks the exit conditions.
func (o *ORB) manage(ctx context.Context, price float64, ts time.Time) {
	side := o.pos.Side
	if o.trailing != 0 {
		o.trailing = tighter(side, o.trailing, o.trail(side, price))
	}
	o.pos.StopLossLevel = tighter(side, o.hardStop(side, o.pos.EntryPrice), o.trailing)

	stop := o.pos.StopLossLevel
	switch side {
	case model.Long:
		if stop > 0 && price < stop {
			o.exit(ctx, price, ts, o.stopReason())
			return
		}
		if tgt := o.pos.TargetLevel; tgt != nil && price >= *tgt {
			o.exit(ctx, price, ts, "target")
		}
	case model.Short:
		if stop > 0 && price > stop {
			o.exit(ctx, price, ts, o.stopReason())
			return
		}
		if tgt := o.pos.TargetLevel; tgt != nil && price <= *tgt {
			o.exit(ctx, price, ts, "target")
		}
	}
}

func (o *ORB) stopReason() string {
	if o.trailing != 0 && o.pos.StopLossLevel == o.trailing {
		return "trailing stop"
	}
	return "stop loss"
}

// hardStop is the fixed stop from the entry price, 0 when disabled.
func (o *ORB) hardStop(side model.Side, entry float64) float64 {
	pct := o.cfg.StopLossPct
	if pct <= 0 {
		return 0
	}
	if side == model.Short {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// trail is the trailing-stop candidate at price, 0 when disabled.
func (o *ORB) trail(side model.Side, price float64) float64 {
	pct := o.cfg.TrailingStopPct
	if pct <= 0 {
		return 0
	}
	if side == model.Short {
		return price * (1 + pct/100)
	}
	return price * (1 - pct/100)
}

// tighter returns the stop closer to the market: the higher one for a long,
// the lower one for a short. Zero means "no stop".
func tighter(side model.Side, a, b float64) float64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case side == model.Short:
		if b < a {
			return b
		}
		return a
	default:
		if b > a {
			return b
		}
		return a
	}
}

func (o *ORB) onExit() {
	o.trailing = 0
}

func (o *ORB) fill(st *Status) {
	if o.haveRange {
		rng := o.or
		st.OpeningRange = &rng
	}
}

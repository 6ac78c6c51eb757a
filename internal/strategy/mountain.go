package strategy

import (
	"context"
	"time"

	"signalengine/internal/indicator"
	"signalengine/internal/model"
)

// targetCloses is how many consecutive closes against the EMA end a trade
// once the target is armed.
const targetCloses = 2

// Mountain is the EMA signal-candle reversal strategy.
//
// A PE signal candle is a closed candle entirely above the EMA
// (low > ema); a CE signal candle is entirely below it (high < ema). The
// candle before the newest one is the candidate. Finding a signal on one
// side clears the other. While flat, a close below the PE signal's low
// goes short (buy PE) with the signal high as stop; a close above the CE
// signal's high goes long (buy CE) with the signal low as stop.
//
// An active PE signal is replaced only when the newest candle closes
// strictly above both its high and the EMA; CE mirrors this. A close equal
// to the level does not replace it.
//
// Target for a short: once any candle trades fully below the EMA
// (high < ema) the target is armed, then two consecutive closes above the
// EMA exit. A candle that does not close above the EMA resets the count.
// Long mirrors it.
type Mountain struct {
	*runner

	ema *indicator.EMA
	rsi *indicator.RSI

	prev   *SignalCandle
	pe, ce *SignalCandle

	armed       bool
	consecutive int
}

func newMountain(cfg Config, deps Deps) *Mountain {
	m := &Mountain{
		runner: newRunner(cfg, deps),
		ema:    indicator.NewEMA(cfg.EMAPeriod),
		rsi:    indicator.NewRSI(cfg.RSIPeriod),
	}
	m.hooks = m
	return m
}

func (m *Mountain) onTick(context.Context, model.Tick) {}

func (m *Mountain) onCandle(ctx context.Context, c model.Candle) {
	m.ema.Update(c)
	m.rsi.Update(c)

	cur := &SignalCandle{
		Time:  c.TS,
		Open:  model.Rupees(c.Open),
		High:  model.Rupees(c.High),
		Low:   model.Rupees(c.Low),
		Close: model.Rupees(c.Close),
		EMA:   m.ema.Value(),
	}
	prev := m.prev
	m.prev = cur
	if prev == nil {
		m.settle()
		return
	}

	// Decisions are stamped at the candle's end so candle- and tick-driven
	// runs agree.
	at := c.TS.Add(m.cfg.Interval())

	if m.pos.Open() {
		m.manage(ctx, cur, at)
		return
	}

	if prev.Low > prev.EMA && (m.pe == nil || (cur.Close > m.pe.High && cur.Close > cur.EMA)) {
		m.pe, m.ce = prev, nil
		m.log.Info("PE signal candle identified", "time", prev.Time, "high", prev.High, "low", prev.Low, "ema", prev.EMA)
	}
	if prev.High < prev.EMA && (m.ce == nil || (cur.Close < m.ce.Low && cur.Close < cur.EMA)) {
		m.ce, m.pe = prev, nil
		m.log.Info("CE signal candle identified", "time", prev.Time, "high", prev.High, "low", prev.Low, "ema", prev.EMA)
	}

	if m.win.contains(at) {
		switch {
		case m.pe != nil && cur.Close < m.pe.Low:
			m.open(ctx, model.Short, cur.Close, at, m.pe.High, "close below PE signal low")
		case m.ce != nil && cur.Close > m.ce.High:
			m.open(ctx, model.Long, cur.Close, at, m.ce.Low, "close above CE signal high")
		}
	}
	m.settle()
}

func (m *Mountain) open(ctx context.Context, side model.Side, price float64, at time.Time, stop float64, reason string) {
	if err := m.enter(ctx, side, price, at, stop, nil, reason); err == nil {
		m.armed, m.consecutive = false, 0
	}
}

// manage checks the stop and the dynamic target on a closed candle.
func (m *Mountain) manage(ctx context.Context, cur *SignalCandle, at time.Time) {
	switch m.pos.Side {
	case model.Short:
		if cur.Close > m.pos.StopLossLevel {
			m.exit(ctx, cur.Close, at, "stop loss")
			return
		}
		if cur.High < cur.EMA {
			m.armed = true
		}
		m.count(cur.Close > cur.EMA)
	case model.Long:
		if cur.Close < m.pos.StopLossLevel {
			m.exit(ctx, cur.Close, at, "stop loss")
			return
		}
		if cur.Low > cur.EMA {
			m.armed = true
		}
		m.count(cur.Close < cur.EMA)
	}
	if m.armed && m.consecutive >= targetCloses {
		m.exit(ctx, cur.Close, at, "target")
	}
}

func (m *Mountain) count(against bool) {
	if !m.armed {
		return
	}
	if against {
		m.consecutive++
	} else {
		m.consecutive = 0
	}
}

// settle derives the flat-state label from the active signals. The message
// only changes with the state so entry failures stay visible.
func (m *Mountain) settle() {
	if m.pos.Open() {
		return
	}
	next, msg := StateMonitoring, "Monitoring for a signal candle."
	if m.pe != nil || m.ce != nil {
		next, msg = StateSignalIdentified, "Signal candle identified; waiting for entry trigger."
	}
	if m.state != next {
		m.state, m.message = next, msg
	}
}

func (m *Mountain) onExit() {
	m.pe, m.ce = nil, nil
	m.armed, m.consecutive = false, 0
}

func (m *Mountain) fill(st *Status) {
	st.EMA = m.ema.Value()
	if m.rsi.Ready() {
		st.RSI = m.rsi.Value()
	}
	if m.pe != nil {
		pe := *m.pe
		st.PESignal = &pe
	}
	if m.ce != nil {
		ce := *m.ce
		st.CESignal = &ce
	}
}

package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLC aggregate of ticks for one instrument over one interval.
// All prices are in paise (int64) to avoid floating-point drift.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TF         int       `json:"tf"`          // interval in seconds
	TS         time.Time `json:"ts"`          // interval start (UTC)
	Open       int64     `json:"open"`        // paise
	High       int64     `json:"high"`        // paise
	Low        int64     `json:"low"`         // paise
	Close      int64     `json:"close"`       // paise
	Volume     int64     `json:"volume"`      // summed tick quantity
	TicksCount int       `json:"ticks_count"` // number of ticks aggregated
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// Valid reports whether low <= open,close <= high.
func (c *Candle) Valid() bool {
	return c.Low <= c.Open && c.Low <= c.Close && c.Open <= c.High && c.Close <= c.High
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// SyntheticTicks expands a candle into the deterministic tick path used by
// bulk backtests: open, low, high, close for a bullish candle and open, high,
// low, close otherwise. All ticks are stamped at the interval start so they
// re-aggregate into the same candle. The candle volume is carried by the
// closing tick.
func (c *Candle) SyntheticTicks() []Tick {
	mid1, mid2 := c.Low, c.High
	if c.Close < c.Open {
		mid1, mid2 = c.High, c.Low
	}
	prices := [4]int64{c.Open, mid1, mid2, c.Close}
	ticks := make([]Tick, 0, 4)
	for i, p := range prices {
		t := Tick{Token: c.Token, Exchange: c.Exchange, Price: p, TickTS: c.TS}
		if i == len(prices)-1 {
			t.Qty = c.Volume
		}
		ticks = append(ticks, t)
	}
	return ticks
}

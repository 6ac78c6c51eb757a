package model

import "time"

// Tick represents a single market data tick for one instrument.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
// A zero TickTS means the source did not carry a resolvable timestamp.
type Tick struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"`   // paise (LTP)
	Qty      int64     `json:"qty"`     // last traded quantity, 0 when the feed omits it
	TickTS   time.Time `json:"tick_ts"` // UTC timestamp
}

// Key returns a unique key for this tick's instrument: "exchange:token".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Token
}

// RawTick is a tick as delivered by an external source before its timestamp
// has been normalized. Timestamp may be epoch seconds, epoch milliseconds,
// a broker-native string or an ISO-8601 string.
type RawTick struct {
	Token     string  `json:"token"`
	Exchange  string  `json:"exchange"`
	Price     float64 `json:"price"` // rupees
	Volume    *int64  `json:"volume,omitempty"`
	Timestamp any     `json:"timestamp"`
}

// Normalize converts a RawTick into a Tick. It fails with ErrMalformedTick
// when the timestamp is missing or cannot be parsed.
func (r RawTick) Normalize() (Tick, error) {
	ts, err := NormalizeTimestamp(r.Timestamp)
	if err != nil {
		return Tick{}, err
	}
	var qty int64
	if r.Volume != nil {
		qty = *r.Volume
	}
	return Tick{
		Token:    r.Token,
		Exchange: r.Exchange,
		Price:    Paise(r.Price),
		Qty:      qty,
		TickTS:   ts,
	}, nil
}

// Paise converts a rupee amount to paise, rounding to the nearest paisa.
func Paise(rupees float64) int64 {
	if rupees < 0 {
		return int64(rupees*100 - 0.5)
	}
	return int64(rupees*100 + 0.5)
}

// Rupees converts paise to rupees.
func Rupees(paise int64) float64 {
	return float64(paise) / 100.0
}

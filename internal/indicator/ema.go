package indicator

import "signalengine/internal/model"

// NextEMA advances an exponential moving average by one close.
// ema' = (close - prev) * 2/(period+1) + prev
func NextEMA(prev, close float64, period int) float64 {
	k := 2.0 / float64(period+1)
	return (close-prev)*k + prev
}

// EMASeries recomputes the EMA over a full close sequence in one pass. The
// first value is seeded with the first close. The result has one value per
// input close.
func EMASeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		if i == 0 {
			out[i] = c
			continue
		}
		out[i] = NextEMA(out[i-1], c, period)
	}
	return out
}

// EMA calculates an Exponential Moving Average incrementally.
// O(1) per update with no window storage. The first close seeds the
// average, so the value is usable after one candle.
type EMA struct {
	period  int
	current float64
	count   int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period}
}

func (e *EMA) Update(candle model.Candle) {
	e.Add(rupees(candle))
}

// Add feeds a close price in rupees.
func (e *EMA) Add(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	e.current = NextEMA(e.current, price, e.period)
}

// Value is the current average in rupees, 0 before the first candle.
func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

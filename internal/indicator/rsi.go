package indicator

import "signalengine/internal/model"

// DefaultRSIPeriod is the conventional Wilder lookback.
const DefaultRSIPeriod = 14

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value is an SMA of the first period deltas; later values are
// smoothed with (prev*(period-1) + x) / period.
// Update is O(1) per candle.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = DefaultRSIPeriod
	}
	return &RSI{period: period}
}

func (r *RSI) Update(candle model.Candle) {
	price := rupees(candle)
	r.count++

	if r.count == 1 {
		// First candle: just record price, no delta yet
		r.prevClose = price
		return
	}

	gain, loss := split(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = strength(r.avgGain, r.avgLoss)
		}
		return
	}

	r.avgGain, r.avgLoss = r.smooth(gain, loss)
	r.current = strength(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

func (r *RSI) smooth(gain, loss float64) (float64, float64) {
	p := float64(r.period)
	return (r.avgGain*(p-1) + gain) / p, (r.avgLoss*(p-1) + loss) / p
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// strength maps average gain/loss to 0..100. No losses reads as 100.
func strength(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

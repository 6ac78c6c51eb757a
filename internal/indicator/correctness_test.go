package indicator

import (
	"math"
	"testing"

	"signalengine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(closePaise int64) model.Candle {
	return model.Candle{
		Token: "TEST", Exchange: "NSE",
		Open: closePaise, High: closePaise + 50, Low: closePaise - 50, Close: closePaise,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestNextEMA_Formula(t *testing.T) {
	// k = 2/(3+1) = 0.5 → (104-100)*0.5 + 100 = 102
	assertClose(t, "NextEMA", NextEMA(100, 104, 3), 102, 1e-12)
	// period 1 tracks the close exactly
	assertClose(t, "NextEMA period 1", NextEMA(100, 104, 1), 104, 1e-12)
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5, seeded with the first close
	// Prices (rupees): 100, 102, 104, 103, 105
	// Candle 1: 100
	// Candle 2: (102-100)*0.5+100 = 101
	// Candle 3: (104-101)*0.5+101 = 102.5
	// Candle 4: (103-102.5)*0.5+102.5 = 102.75
	// Candle 5: (105-102.75)*0.5+102.75 = 103.875
	ema := NewEMA(3)
	prices := []int64{10000, 10200, 10400, 10300, 10500}
	expected := []float64{100, 101, 102.5, 102.75, 103.875}

	if ema.Ready() {
		t.Fatal("EMA should not be ready before the first candle")
	}
	for i, p := range prices {
		ema.Update(candle(p))
		if !ema.Ready() {
			t.Errorf("candle %d: expected Ready", i)
		}
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
	}
}

func TestEMA_IncrementalMatchesSeries(t *testing.T) {
	closes := []float64{22150.35, 22161.1, 22140.05, 22190, 22188.75, 22201.4, 22175.2, 22160, 22212.6, 22230.15}
	for _, period := range []int{3, 5, 9, 21} {
		series := EMASeries(closes, period)
		inc := NewEMA(period)
		for i, c := range closes {
			inc.Update(candle(model.Paise(c)))
			assertClose(t, "incremental vs series", inc.Value(), series[i], 1e-9)
		}
	}
}

func TestEMASeries_Empty(t *testing.T) {
	if got := EMASeries(nil, 5); len(got) != 0 {
		t.Fatalf("expected empty series, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI (after 6 candles, period=5):
	//   sumGain = 0.34+0.72+0.50 = 1.56 → avgGain = 0.312
	//   sumLoss = 0.25+0.48       = 0.73 → avgLoss = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// Candle 7 (45.10): avgGain 0.3036, avgLoss 0.1168 → 72.219
	// Candle 8 (45.42): avgGain 0.30688, avgLoss 0.09344 → 76.658
	// Candle 9 (45.84): avgGain 0.329504, avgLoss 0.074752 → 81.509
	prices := []int64{4400, 4434, 4409, 4361, 4433, 4483, 4510, 4542, 4584}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
	}
	if !rsi.Ready() {
		t.Fatal("RSI(5) should be ready after 6 candles")
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(int64(10000 + i*100)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(int64(20000 - i*100)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// Both averages are 0; no losses reads as 100.
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(10000))
	}
	assertClose(t, "RSI flat", rsi.Value(), 100.0, 0.001)
}

func TestRSI_DefaultPeriod(t *testing.T) {
	if got := NewRSI(0).period; got != DefaultRSIPeriod {
		t.Fatalf("expected default period %d, got %d", DefaultRSIPeriod, got)
	}
}

package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/execution"
	"signalengine/internal/model"
)

func bar(ts time.Time, o, h, l, c float64) model.Candle {
	return model.Candle{
		Token: "99926000", Exchange: "NSE", TF: 300, TS: ts.UTC(),
		Open: model.Paise(o), High: model.Paise(h), Low: model.Paise(l), Close: model.Paise(c),
	}
}

func feed(s Strategy, candles ...model.Candle) {
	for _, c := range candles {
		s.ProcessTicks(context.Background(), c.SyntheticTicks())
	}
}

// EMA(5) closes: 100, 101, 102.33, 101.89, ...
// c2 trades fully above its EMA and becomes the PE signal; c4 closes below
// its low.
var (
	mc1 = bar(ist(9, 15, 0), 100, 100.5, 99.5, 100)
	mc2 = bar(ist(9, 20, 0), 102.5, 104, 102, 103)
	mc3 = bar(ist(9, 25, 0), 103, 106, 102, 105)
	mc4 = bar(ist(9, 30, 0), 103, 103.5, 100, 101)
)

func mountainStrategy(t *testing.T, cfg Config) Strategy {
	t.Helper()
	cfg.Kind = KindMountain
	return newTestStrategy(t, cfg, execution.NewPaperGateway())
}

func TestMountain_SignalIdentified(t *testing.T) {
	s := mountainStrategy(t, Config{})

	feed(s, mc1, mc2)
	st := s.Status()
	assert.Equal(t, StateMonitoring, st.State)
	assert.Equal(t, 100.0, st.EMA)

	feed(s, mc3)
	st = s.Status()
	assert.Equal(t, StateMonitoring, st.State)
	assert.InDelta(t, 101.0, st.EMA, 1e-9)

	feed(s, mc4)
	st = s.Status()
	assert.Equal(t, StateSignalIdentified, st.State)
	require.NotNil(t, st.PESignal)
	assert.Nil(t, st.CESignal)
	assert.Equal(t, 104.0, st.PESignal.High)
	assert.Equal(t, 102.0, st.PESignal.Low)
	assert.InDelta(t, 101.0, st.PESignal.EMA, 1e-9)
	assert.Equal(t, ist(9, 20, 0).UTC(), st.PESignal.Time.UTC())
	assert.Equal(t, "5minute", st.CandleTimeFrame)
}

func TestMountain_ShortEntryOnCloseBelowSignalLow(t *testing.T) {
	s := mountainStrategy(t, Config{})

	feed(s, mc1, mc2, mc3, mc4)
	assert.False(t, s.Status().Position.Open(), "candle still open")

	feed(s, bar(ist(9, 35, 0), 101, 101, 99, 100))
	st := s.Status()
	require.Equal(t, StatePositionOpen, st.State)
	assert.Equal(t, model.Short, st.Position.Side)
	assert.Equal(t, 101.0, st.Position.EntryPrice)
	assert.Equal(t, 104.0, st.Position.StopLossLevel)
	assert.Equal(t, model.OptionPE, st.Position.OptionType)
	assert.Equal(t, ist(9, 35, 0).UTC(), st.Position.EntryTime.UTC())
	require.Len(t, st.TradeHistory, 1)
	assert.Equal(t, "PAPER-1", st.TradeHistory[0].OrderID)
}

func TestMountain_StopLoss(t *testing.T) {
	s := mountainStrategy(t, Config{})
	feed(s, mc1, mc2, mc3, mc4, bar(ist(9, 35, 0), 101, 105, 100.5, 104.5))
	s.Flush(context.Background())

	st := s.Status()
	assert.Equal(t, StatePositionClosed, st.State)
	require.Len(t, st.TradeHistory, 2)
	exit := st.TradeHistory[1]
	assert.Equal(t, "stop loss", exit.Reason)
	assert.Equal(t, 104.5, exit.Price)
	assert.InDelta(t, (101-104.5)*75, exit.PnL, 1e-9)
	assert.Nil(t, st.PESignal, "signals reset after exit")
	assert.Nil(t, st.CESignal)
}

func TestMountain_TargetAfterArmedAndTwoCloses(t *testing.T) {
	s := mountainStrategy(t, Config{})
	feed(s, mc1, mc2, mc3, mc4,
		bar(ist(9, 35, 0), 101, 101, 99, 100),      // high < EMA arms the target
		bar(ist(9, 40, 0), 100, 102.5, 99.5, 102),  // 1st close above EMA
		bar(ist(9, 45, 0), 102, 103.5, 101.8, 103)) // 2nd close above EMA
	assert.True(t, s.Status().Position.Open())

	s.Flush(context.Background())
	st := s.Status()
	require.Len(t, st.TradeHistory, 2)
	assert.Equal(t, "target", st.TradeHistory[1].Reason)
	assert.Equal(t, 103.0, st.TradeHistory[1].Price)
	assert.Equal(t, ist(9, 50, 0).UTC(), st.TradeHistory[1].Time.UTC())
	assert.Equal(t, 1, st.Trades)
}

func TestMountain_NoEntryOutsideWindow(t *testing.T) {
	s := mountainStrategy(t, Config{EndTime: "09:35"})
	feed(s, mc1, mc2, mc3, mc4)
	s.Flush(context.Background())

	st := s.Status()
	assert.False(t, st.Position.Open())
	assert.Equal(t, StateSignalIdentified, st.State)
	assert.Empty(t, st.TradeHistory)
}

func TestMountain_LongEntryOnCloseAboveSignalHigh(t *testing.T) {
	s := mountainStrategy(t, Config{})
	feed(s,
		bar(ist(9, 15, 0), 100, 100.5, 99.5, 100),
		bar(ist(9, 20, 0), 97.5, 98, 96, 97), // fully below EMA 99
		bar(ist(9, 25, 0), 97, 98, 94, 95),
		bar(ist(9, 30, 0), 97, 99.5, 96.5, 99))
	st := s.Status()
	require.NotNil(t, st.CESignal)
	assert.Nil(t, st.PESignal)
	assert.Equal(t, 98.0, st.CESignal.High)
	assert.Equal(t, 96.0, st.CESignal.Low)

	s.Flush(context.Background())

	st = s.Status()
	require.Equal(t, StatePositionOpen, st.State)
	assert.Equal(t, model.Long, st.Position.Side)
	assert.Equal(t, 99.0, st.Position.EntryPrice)
	assert.Equal(t, 96.0, st.Position.StopLossLevel)
	assert.Equal(t, model.OptionCE, st.Position.OptionType)
}

// c2 becomes the PE signal when c3 closes. c3 trades above its EMA, so it
// replaces c2 only if c4 closes strictly above c2's high (104).
func TestMountain_RatchetNeedsStrictBreak(t *testing.T) {
	c1 := bar(ist(9, 15, 0), 100, 100.5, 99.5, 100)
	c2 := bar(ist(9, 20, 0), 102.5, 104, 102, 103)
	c3 := bar(ist(9, 25, 0), 104, 106, 104, 105)

	tests := []struct {
		name     string
		c4       model.Candle
		wantHigh float64
	}{
		{"close equal to signal high", bar(ist(9, 30, 0), 105, 105, 103.5, 104), 104},
		{"close above signal high", bar(ist(9, 30, 0), 105, 105.5, 104, 104.5), 106},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mountainStrategy(t, Config{})
			feed(s, c1, c2, c3, tt.c4)
			s.Flush(context.Background())

			st := s.Status()
			require.NotNil(t, st.PESignal)
			assert.Equal(t, tt.wantHigh, st.PESignal.High)
			assert.False(t, st.Position.Open())
		})
	}
}

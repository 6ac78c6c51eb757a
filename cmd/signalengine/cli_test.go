package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/backtest"
	"signalengine/internal/model"
	sqlitestore "signalengine/internal/store/sqlite"
	"signalengine/internal/strategy"
)

const testStrategies = `
strategies:
  - name: nifty-orb
    strategy_type: orb
    instrument: NIFTY
    candle_time: 15
    start_time: "09:15"
    end_time: "15:00"
    stop_loss: 1
    paper_trade: true
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeStrategies(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testStrategies), 0o644))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "signalengine dev")
}

func TestParseWhen(t *testing.T) {
	got, err := parseWhen("2024-06-03 09:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 3, 45, 0, 0, time.UTC), got.UTC())

	got, err = parseWhen("2024-06-03T09:15:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC), got.UTC())

	_, err = parseWhen("03/06/2024")
	assert.Error(t, err)
}

func TestTimeRange(t *testing.T) {
	from, to, err := timeRange("2024-06-03", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, model.IST), from)
	assert.Equal(t, time.Date(2024, 6, 3, 23, 59, 59, 0, model.IST), to.In(model.IST))

	_, to, err = timeRange("2024-06-03", "2024-06-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 5, 23, 59, 59, 0, model.IST), to.In(model.IST))

	_, _, err = timeRange("2024-06-05", "2024-06-03")
	assert.Error(t, err)
}

func TestSubscriptionsFor(t *testing.T) {
	cfgs := []strategy.Config{
		{Kind: strategy.KindORB, Instrument: "NIFTY"},
		{Kind: strategy.KindMountain, Instrument: "BANKNIFTY"},
		{Kind: strategy.KindORB, Instrument: "BANKNIFTY"},
	}
	assert.Equal(t, "1:99926000,1:99926009", subscriptionsFor("1:99926000", cfgs))
	assert.Equal(t, "1:99926000,1:99926009", subscriptionsFor("", cfgs))
}

func TestInstrumentsOf(t *testing.T) {
	got := instrumentsOf([]strategy.Config{
		{Instrument: "NIFTY"},
		{Instrument: "nifty"},
		{Instrument: "FINNIFTY"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "99926000", got[0].Token)
	assert.Equal(t, "NSE", got[0].Exchange)
	assert.Equal(t, "99926037", got[1].Token)
}

func TestBacktestCmd_FromDB(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ticks.db")
	st, err := sqlitestore.Open(db)
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 9, 15, 0, 0, model.IST).UTC()
	var candles []model.Candle
	price := int64(22500_00)
	for i := 0; i < 8; i++ {
		candles = append(candles, model.Candle{
			Exchange:   "NSE",
			Token:      "99926000",
			TF:         900,
			TS:         start.Add(time.Duration(i) * 15 * time.Minute),
			Open:       price,
			High:       price + 40_00,
			Low:        price - 20_00,
			Close:      price + 30_00,
			Volume:     100,
			TicksCount: 10,
		})
		price += 30_00
	}
	require.NoError(t, st.SaveCandles(context.Background(), candles))
	require.NoError(t, st.Close())

	out, _, err := execute(t, "backtest", "--from", "2024-06-03", "--db", db, "--strategies", writeStrategies(t), "--json")
	require.NoError(t, err)

	var results []backtest.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 4*len(candles), results[0].Ticks)
	assert.Equal(t, "NIFTY", results[0].Instrument)
}

func TestReplayCmd_Unpaced(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ticks.db")
	st, err := sqlitestore.Open(db)
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 9, 15, 0, 0, model.IST).UTC()
	ticks := make([]model.Tick, 0, 20)
	for i := 0; i < 20; i++ {
		ticks = append(ticks, model.Tick{
			Exchange: "NSE",
			Token:    "99926000",
			Price:    22500_00 + int64(i)*5_00,
			TickTS:   start.Add(time.Duration(i) * time.Minute),
		})
	}
	// Another instrument that no strategy listens to.
	ticks = append(ticks, model.Tick{Exchange: "NSE", Token: "99926009", Price: 48000_00, TickTS: start})
	require.NoError(t, st.SaveTicks(context.Background(), ticks))
	require.NoError(t, st.Close())

	out, _, err := execute(t, "replay", "--from", "2024-06-03", "--db", db, "--strategies", writeStrategies(t), "--json")
	require.NoError(t, err)

	var results []backtest.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 20, results[0].Ticks)
}

func TestReplayCmd_NoTicks(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	_, _, err := execute(t, "replay", "--from", "2024-06-03", "--db", db, "--strategies", writeStrategies(t))
	assert.ErrorContains(t, err, "no ticks recorded")
}

func TestBacktestCmd_BadSource(t *testing.T) {
	_, _, err := execute(t, "backtest", "--from", "2024-06-03", "--source", "csv", "--strategies", writeStrategies(t))
	assert.ErrorContains(t, err, "--source must be db or broker")
}

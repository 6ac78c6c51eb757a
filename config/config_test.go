package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/execution"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ANGEL_API_KEY", "ANGEL_CLIENT_CODE", "ANGEL_PASSWORD", "ANGEL_TOTP_SECRET",
		"REDIS_ADDR", "REDIS_DB", "SQLITE_PATH", "SIM_WS_URL", "PAPER_TRADE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_StagingNeedsNoCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIM_WS_URL", "ws://localhost:9001/ws")
	t.Setenv("REDIS_DB", "2")

	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.PaperTrade)
	assert.Equal(t, 2, c.RedisDB)
	assert.Equal(t, "data/ticks.db", c.SQLitePath)
	assert.Equal(t, "1:99926000", c.SubscribeTokens)
	assert.False(t, c.HasBroker())
}

func TestLoad_LiveRequiresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIM_WS_URL", "ws://localhost:9001/ws")
	t.Setenv("PAPER_TRADE", "false")
	t.Setenv("ANGEL_API_KEY", "key")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "ANGEL_TOTP_SECRET")
	assert.NotContains(t, err.Error(), "ANGEL_API_KEY")
}

func TestLoad_InvalidBoolFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIM_WS_URL", "ws://x")
	t.Setenv("PAPER_TRADE", "maybe")

	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.PaperTrade)
}

const yamlStrategies = `
strategies:
  - name: nifty-orb
    strategy_type: ORB
    instrument: nifty
    candle_time: 15
    start_time: "09:15"
    end_time: "15:00"
    stop_loss: 1
    trailing_stop_loss: 0.5
    total_lot: 2
    strike_price: otm
    expiry_type: monthly
    paper_trade: true
  - strategy_type: capture_mountain_signal
    instrument: BANKNIFTY
    ema_period: 9
`

func TestParseStrategies_YAML(t *testing.T) {
	cfgs, err := ParseStrategies([]byte(yamlStrategies), ".yaml")
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	orb := cfgs[0]
	assert.Equal(t, strategy.KindORB, orb.Kind)
	assert.Equal(t, "NIFTY", orb.Instrument)
	assert.Equal(t, "99926000", orb.Token)
	assert.Equal(t, 15, orb.CandleMinutes)
	assert.Equal(t, int64(150), orb.Quantity())
	assert.Equal(t, execution.StrikeOTM, orb.Policy.Strike)
	assert.Equal(t, execution.ExpiryMonthly, orb.Policy.Expiry)
	assert.True(t, orb.PaperTrade)

	m := cfgs[1]
	assert.Equal(t, strategy.KindMountain, m.Kind)
	assert.Equal(t, 9, m.EMAPeriod)
	assert.Equal(t, "capture_mountain_signal-banknifty", m.Name)
}

func TestParseStrategies_JSONList(t *testing.T) {
	data := `[{"strategy_type":"orb","instrument":"FINNIFTY","trade_type":"SELL","segment":"options"}]`
	cfgs, err := ParseStrategies([]byte(data), ".json")
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, execution.DirectionSell, cfgs[0].Policy.Direction)
	assert.Equal(t, execution.SegmentOptions, cfgs[0].Policy.Segment)
}

func TestParseStrategies_Invalid(t *testing.T) {
	tests := []struct {
		name, data, ext string
	}{
		{"empty", "strategies: []", ".yaml"},
		{"unknown kind", "- strategy_type: grid\n  instrument: NIFTY", ".yml"},
		{"bad window", "- strategy_type: orb\n  instrument: NIFTY\n  start_time: '15:00'\n  end_time: '09:15'", ".yaml"},
		{"syntax", `{"strategies": [`, ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategies([]byte(tt.data), tt.ext)
			assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
		})
	}
}

func TestLoadStrategies_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlStrategies), 0o644))

	cfgs, err := LoadStrategies(path)
	require.NoError(t, err)
	assert.Len(t, cfgs, 2)

	_, err = LoadStrategies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

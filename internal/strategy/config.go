package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalengine/internal/execution"
	"signalengine/internal/model"
)

// Kind selects the strategy implementation.
type Kind string

const (
	KindORB      Kind = "orb"
	KindMountain Kind = "capture_mountain_signal"
)

// Default feed tokens for the index underlyings on Angel One.
var indexTokens = map[string]string{
	"NIFTY":      "99926000",
	"BANKNIFTY":  "99926009",
	"FINNIFTY":   "99926037",
	"MIDCPNIFTY": "99926074",
}

// Exchange lot sizes for index options.
var lotSizes = map[string]int64{
	"NIFTY":      75,
	"BANKNIFTY":  35,
	"FINNIFTY":   65,
	"MIDCPNIFTY": 140,
}

// Config is the immutable configuration of one strategy instance.
type Config struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Kind       Kind   `yaml:"strategy_type" json:"strategy_type"`
	Instrument string `yaml:"instrument" json:"instrument"` // underlying, e.g. NIFTY
	Exchange   string `yaml:"exchange" json:"exchange"`     // feed exchange, default NSE
	Token      string `yaml:"token" json:"token"`           // feed token, default from the index table

	CandleMinutes int    `yaml:"candle_time" json:"candle_time"`
	StartTime     string `yaml:"start_time" json:"start_time"` // HH:MM IST
	EndTime       string `yaml:"end_time" json:"end_time"`     // HH:MM IST

	StopLossPct     float64 `yaml:"stop_loss" json:"stop_loss"`
	TargetProfitPct float64 `yaml:"target_profit" json:"target_profit"`
	TrailingStopPct float64 `yaml:"trailing_stop_loss" json:"trailing_stop_loss"`

	Lots    int64 `yaml:"total_lot" json:"total_lot"`
	LotSize int64 `yaml:"lot_size" json:"lot_size"`

	execution.Policy `yaml:",inline"`

	PaperTrade bool `yaml:"paper_trade" json:"paper_trade"`
	EMAPeriod  int  `yaml:"ema_period" json:"ema_period"`
	RSIPeriod  int  `yaml:"rsi_period" json:"rsi_period"`
}

// WithDefaults fills optional fields.
func (c Config) WithDefaults() Config {
	c.Kind = Kind(strings.ToLower(strings.TrimSpace(string(c.Kind))))
	c.Instrument = strings.ToUpper(strings.TrimSpace(c.Instrument))
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	if c.Token == "" {
		c.Token = indexTokens[c.Instrument]
	}
	if c.CandleMinutes == 0 {
		c.CandleMinutes = 5
	}
	if c.StartTime == "" {
		c.StartTime = "09:15"
	}
	if c.EndTime == "" {
		c.EndTime = "15:15"
	}
	if c.Lots == 0 {
		c.Lots = 1
	}
	if c.LotSize == 0 {
		if n, ok := lotSizes[c.Instrument]; ok {
			c.LotSize = n
		} else {
			c.LotSize = 1
		}
	}
	if c.EMAPeriod == 0 {
		c.EMAPeriod = 5
	}
	if c.RSIPeriod == 0 {
		c.RSIPeriod = 14
	}
	if c.Name == "" {
		c.Name = string(c.Kind) + "-" + strings.ToLower(c.Instrument)
	}
	c.Policy = c.Policy.Normalize()
	return c
}

// Validate rejects configurations a strategy cannot run with.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", model.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	switch c.Kind {
	case KindORB, KindMountain:
	default:
		return bad("unknown strategy type %q", c.Kind)
	}
	if c.Instrument == "" {
		return bad("instrument is required")
	}
	if c.Token == "" {
		return bad("no feed token for instrument %q", c.Instrument)
	}
	if c.CandleMinutes < 1 {
		return bad("candle_time must be at least 1 minute")
	}
	start, err := parseClock(c.StartTime)
	if err != nil {
		return bad("start_time: %v", err)
	}
	end, err := parseClock(c.EndTime)
	if err != nil {
		return bad("end_time: %v", err)
	}
	if end <= start {
		return bad("end_time %s is not after start_time %s", c.EndTime, c.StartTime)
	}
	for name, v := range map[string]float64{
		"stop_loss":          c.StopLossPct,
		"target_profit":      c.TargetProfitPct,
		"trailing_stop_loss": c.TrailingStopPct,
	} {
		if v < 0 || v >= 100 {
			return bad("%s must be in [0, 100)", name)
		}
	}
	if c.Lots < 1 || c.LotSize < 1 {
		return bad("total_lot and lot_size must be positive")
	}
	if c.EMAPeriod < 1 || c.RSIPeriod < 1 {
		return bad("indicator periods must be positive")
	}
	switch c.Policy.Segment {
	case execution.SegmentOptions, execution.SegmentEquity:
	default:
		return bad("unknown segment %q", c.Policy.Segment)
	}
	switch c.Policy.Direction {
	case execution.DirectionBuy, execution.DirectionSell:
	default:
		return bad("unknown trade_type %q", c.Policy.Direction)
	}
	switch c.Policy.Strike {
	case execution.StrikeATM, execution.StrikeITM, execution.StrikeOTM:
	default:
		return bad("unknown strike_price %q", c.Policy.Strike)
	}
	switch c.Policy.Expiry {
	case execution.ExpiryWeekly, execution.ExpiryNextWeekly, execution.ExpiryMonthly:
	default:
		return bad("unknown expiry_type %q", c.Policy.Expiry)
	}
	return nil
}

// Interval returns the candle width.
func (c Config) Interval() time.Duration {
	return time.Duration(c.CandleMinutes) * time.Minute
}

// Quantity returns the order quantity (lots × lot size).
func (c Config) Quantity() int64 {
	return c.Lots * c.LotSize
}

// Key returns the feed key "exchange:token" the strategy listens to.
func (c Config) Key() string {
	return c.Exchange + ":" + c.Token
}

// window is the execution window in IST seconds of day, [start, end).
type window struct {
	start, end int
}

func (c Config) window() window {
	s, _ := parseClock(c.StartTime)
	e, _ := parseClock(c.EndTime)
	return window{start: s, end: e}
}

func (w window) contains(ts time.Time) bool {
	sod := secondOfDay(ts)
	return sod >= w.start && sod < w.end
}

func (w window) closed(ts time.Time) bool {
	return secondOfDay(ts) >= w.end
}

func secondOfDay(ts time.Time) int {
	ist := ts.In(model.IST)
	return ist.Hour()*3600 + ist.Minute()*60 + ist.Second()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(model.IST).Date()
	by, bm, bd := b.In(model.IST).Date()
	return ay == by && am == bm && ad == bd
}

// parseClock reads HH:MM or HH:MM:SS into seconds of day.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	var vals [3]int
	limits := [3]int{24, 60, 60}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= limits[i] {
			return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
		}
		vals[i] = n
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

package strategy

import (
	"strconv"
	"time"

	"signalengine/internal/model"
)

// State is a strategy lifecycle state.
type State string

const (
	StateInitializing     State = "initializing"
	StateRunning          State = "running"
	StateMonitoring       State = "monitoring"
	StateSignalIdentified State = "signal_identified"
	StatePositionOpen     State = "position_open"
	StatePositionClosed   State = "position_closed"
)

// OpeningRange is the ORB high/low band in rupees.
type OpeningRange struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Final bool    `json:"final"`
}

// SignalCandle is a closed candle retained as a Mountain-Signal reference.
type SignalCandle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	EMA   float64   `json:"ema"`
}

// Status is an immutable snapshot of a strategy. A published Status is never
// modified; readers may hold it indefinitely.
type Status struct {
	StrategyID       string             `json:"strategy_id"`
	Name             string             `json:"name"`
	Kind             Kind               `json:"strategy_type"`
	Instrument       string             `json:"instrument"`
	State            State              `json:"state"`
	Message          string             `json:"message"`
	PnL              float64            `json:"pnl"` // realized + unrealized, rupees
	RealizedPnL      float64            `json:"realized_pnl"`
	Trades           int                `json:"trades"` // completed round trips
	PaperTrade       bool               `json:"paper_trade_mode"`
	Position         model.Position     `json:"position"`
	ExitPrice        float64            `json:"exit_price"`
	TradedInstrument string             `json:"traded_instrument"`
	TradeHistory     []model.TradeEntry `json:"trade_history"`
	CandleTimeFrame  string             `json:"candle_time_frame"`
	LastPrice        float64            `json:"last_price"`
	LastTickAt       time.Time          `json:"last_tick_at"`
	LastError        string             `json:"last_error,omitempty"`
	Candles          []model.Candle     `json:"candles,omitempty"` // recent closed candles, oldest first
	FormingCandle    *model.Candle      `json:"forming_candle,omitempty"`

	// ORB
	OpeningRange *OpeningRange `json:"opening_range,omitempty"`

	// Mountain-Signal
	EMA      float64       `json:"ema,omitempty"`
	RSI      float64       `json:"rsi,omitempty"`
	PESignal *SignalCandle `json:"pe_signal_candle,omitempty"`
	CESignal *SignalCandle `json:"ce_signal_candle,omitempty"`
}

func timeFrame(minutes int) string {
	return strconv.Itoa(minutes) + "minute"
}

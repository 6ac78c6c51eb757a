package model

import "time"

// TradeAction is the kind of trade-history entry.
type TradeAction string

const (
	ActionEntry TradeAction = "entry"
	ActionExit  TradeAction = "exit"
)

// TradeEntry is an append-only trade-history record. Price is the underlying
// price in rupees at which the decision was taken.
type TradeEntry struct {
	StrategyID string      `json:"strategy_id"`
	Time       time.Time   `json:"time"`
	Action     TradeAction `json:"action"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Quantity   int64       `json:"quantity"`
	Symbol     string      `json:"instrument_symbol"`
	OrderID    string      `json:"order_id"`
	Reason     string      `json:"reason,omitempty"`
	PnL        float64     `json:"pnl,omitempty"` // realized, exits only
}

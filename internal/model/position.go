package model

import "time"

// Side is the direction of a strategy position.
type Side string

const (
	Flat  Side = "flat"
	Long  Side = "long"
	Short Side = "short"
)

// Position is a strategy's single open position. Prices are in rupees.
// A flat position is the zero value with Side == Flat.
type Position struct {
	Side          Side       `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	StopLossLevel float64    `json:"stop_loss_level"`
	TargetLevel   *float64   `json:"target_level,omitempty"`
	Quantity      int64      `json:"quantity"`
	EntryOrderID  string     `json:"entry_order_id"`
	ExitOrderID   string     `json:"exit_order_id"`
	Symbol        string     `json:"symbol"`
	OptionType    OptionType `json:"option_type,omitempty"`
	EntryTime     time.Time  `json:"entry_time"`
}

// Open reports whether the position is long or short.
func (p Position) Open() bool {
	return p.Side == Long || p.Side == Short
}

// UnrealizedPnL marks the position to market against the underlying price.
func (p Position) UnrealizedPnL(price float64) float64 {
	switch p.Side {
	case Long:
		return (price - p.EntryPrice) * float64(p.Quantity)
	case Short:
		return (p.EntryPrice - price) * float64(p.Quantity)
	}
	return 0
}

package model

import "time"

// TransactionType is the broker order direction.
type TransactionType string

const (
	Buy  TransactionType = "BUY"
	Sell TransactionType = "SELL"
)

// Order represents a broker order.
type Order struct {
	OrderID         string          `json:"order_id"`
	Token           string          `json:"token"`
	Exchange        string          `json:"exchange"`
	TradingSymbol   string          `json:"trading_symbol"`
	TransactionType TransactionType `json:"transaction_type"`
	OrderType       string          `json:"order_type"`   // MARKET, LIMIT
	ProductType     string          `json:"product_type"` // INTRADAY, DELIVERY, CARRYFORWARD
	Variety         string          `json:"variety"`      // NORMAL, STOPLOSS, AMO
	Qty             int64           `json:"qty"`
	Price           int64           `json:"price"` // limit price in paise (0 for market)
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Package execution turns strategy order intents into paper fills or live
// broker orders (Angel One SmartConnect), resolving the tradable contract
// for the configured segment, direction, strike and expiry policies.
package execution

import (
	"context"
	"strings"
	"time"

	"signalengine/internal/model"
)

// Segment selects what is traded for a directional bias.
type Segment string

const (
	SegmentOptions Segment = "OPTIONS"
	SegmentEquity  Segment = "EQUITY"
)

// Direction selects whether options are bought or written.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// StrikePolicy selects the strike relative to the at-the-money strike.
type StrikePolicy string

const (
	StrikeATM StrikePolicy = "ATM"
	StrikeITM StrikePolicy = "ITM"
	StrikeOTM StrikePolicy = "OTM"
)

// Policy is the contract-selection part of a strategy configuration.
type Policy struct {
	Segment   Segment      `yaml:"segment" json:"segment"`
	Direction Direction    `yaml:"trade_type" json:"trade_type"`
	Strike    StrikePolicy `yaml:"strike_price" json:"strike_price"`
	Expiry    ExpiryBucket `yaml:"expiry_type" json:"expiry_type"`
}

// Normalize upper-cases the policy and fills defaults
// (OPTIONS, BUY, ATM, weekly).
func (p Policy) Normalize() Policy {
	p.Segment = Segment(strings.ToUpper(string(p.Segment)))
	p.Direction = Direction(strings.ToUpper(string(p.Direction)))
	p.Strike = StrikePolicy(strings.ToUpper(string(p.Strike)))
	p.Expiry = ExpiryBucket(strings.ToLower(strings.ReplaceAll(string(p.Expiry), "-", "_")))
	if p.Segment == "" {
		p.Segment = SegmentOptions
	}
	if p.Direction == "" {
		p.Direction = DirectionBuy
	}
	if p.Strike == "" {
		p.Strike = StrikeATM
	}
	if p.Expiry == "" {
		p.Expiry = ExpiryWeekly
	}
	return p
}

// Intent is a strategy's request to open or close a position.
type Intent struct {
	StrategyID string
	Underlying string // e.g. NIFTY, BANKNIFTY
	Exchange   string // exchange of the underlying feed
	Token      string // token of the underlying feed

	Action         model.TradeAction
	Bias           model.Side // long or short view on the underlying
	ReferencePrice float64    // underlying price in rupees at decision time
	Quantity       int64
	At             time.Time // event time; drives expiry selection
	Policy         Policy
	Reason         string

	// Closing is the entry ticket being closed. Required for exits.
	Closing *Ticket

	// Done receives the outcome of an asynchronous placement. Gateways
	// that fill synchronously never call it.
	Done func(Result)
}

// Ticket identifies a placed (or in-flight) order.
type Ticket struct {
	OrderID     string                `json:"order_id"`
	Ref         string                `json:"ref"` // client reference
	Pending     bool                  `json:"pending"`
	Contract    model.Contract        `json:"contract"`
	Transaction model.TransactionType `json:"transaction"`
	Quantity    int64                 `json:"quantity"`
	Price       float64               `json:"price"` // fill price in rupees (paper only)
}

// Result is the eventual outcome of an asynchronous placement.
type Result struct {
	Ref     string
	OrderID string
	Action  model.TradeAction
	Err     error
}

// Gateway places orders for strategies.
type Gateway interface {
	// Place resolves the contract for the intent and places the order.
	// Resolution failures return model.ErrUnresolvableContract; a broken
	// broker session returns model.ErrUpstreamAuthExpired.
	Place(ctx context.Context, in Intent) (Ticket, error)

	// Mode names the gateway ("paper" or "live") for logs and metrics.
	Mode() string
}

// Broker is the order endpoint used by the live gateway.
type Broker interface {
	PlaceOrder(ctx context.Context, o model.Order) (string, error)
}

// opposite flips a transaction direction.
func opposite(t model.TransactionType) model.TransactionType {
	if t == model.Buy {
		return model.Sell
	}
	return model.Buy
}

package model

import "time"

// Instrument represents a tradeable instrument/symbol.
type Instrument struct {
	Token          string `json:"token"`
	Exchange       string `json:"exchange"`
	TradingSymbol  string `json:"trading_symbol"`
	Name           string `json:"name"`
	InstrumentType string `json:"instrument_type"` // EQ, FUT, CE, PE
	LotSize        int    `json:"lot_size"`
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

// OptionType is the option right: CE (call) or PE (put).
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// Contract is a resolved tradable option contract.
type Contract struct {
	Symbol     string     `json:"symbol"`
	Token      string     `json:"token"`
	Exchange   string     `json:"exchange"`
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"` // rupees
	Expiry     time.Time  `json:"expiry"`
	OptionType OptionType `json:"option_type"`
}

package execution

import (
	"sync"
	"time"

	"signalengine/internal/model"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID     string                `json:"order_id"`
	StrategyID  string                `json:"strategy_id"`
	Action      model.TradeAction     `json:"action"`
	Symbol      string                `json:"symbol"`
	Exchange    string                `json:"exchange"`
	Transaction model.TransactionType `json:"transaction"`
	Qty         int64                 `json:"qty"`
	Price       float64               `json:"price"`    // rupees, after slippage
	Slippage    float64               `json:"slippage"` // rupees
	Premium     float64               `json:"premium"`  // option LTP at fill, 0 when unquoted
	Reason      string                `json:"reason"`
	FilledAt    time.Time             `json:"filled_at"`
}

// Ledger is the in-memory record of paper fills and net quantities.
type Ledger struct {
	mu    sync.RWMutex
	fills []Fill
	net   map[string]int64 // symbol → signed open quantity
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		fills: make([]Fill, 0, 64),
		net:   make(map[string]int64),
	}
}

// Record appends a fill and updates the symbol's net quantity.
func (l *Ledger) Record(f Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills = append(l.fills, f)
	if f.Transaction == model.Buy {
		l.net[f.Symbol] += f.Qty
	} else {
		l.net[f.Symbol] -= f.Qty
	}
	if l.net[f.Symbol] == 0 {
		delete(l.net, f.Symbol)
	}
}

// Fills returns a snapshot of all fills in order.
func (l *Ledger) Fills() []Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]Fill, len(l.fills))
	copy(cp, l.fills)
	return cp
}

// Net returns the signed open quantity of a symbol.
func (l *Ledger) Net(symbol string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.net[symbol]
}

// Open returns the number of symbols with a non-zero net quantity.
func (l *Ledger) Open() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.net)
}

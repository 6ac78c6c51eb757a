package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalengine/internal/model"
)

// FillRecorder persists paper fills (the SQLite Journal implements it).
type FillRecorder interface {
	RecordFill(ctx context.Context, f Fill) error
}

// Quoter returns last traded prices in rupees.
type Quoter interface {
	LTP(ctx context.Context, exchange, symbol, token string) (float64, error)
}

// quoteTimeout bounds the premium lookup for one paper fill.
const quoteTimeout = 3 * time.Second

// PaperGateway simulates order execution without real broker calls.
// Order ids are a per-gateway sequence (PAPER-1, PAPER-2, …) and fills are
// stamped with event time, so identical inputs produce identical ledgers.
type PaperGateway struct {
	mu       sync.Mutex
	resolver *Resolver
	ledger   *Ledger
	recorder FillRecorder
	quotes   Quoter
	orderSeq int64

	// Simulation parameters
	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)
}

// PaperOption configures a PaperGateway.
type PaperOption func(*PaperGateway)

// WithSlippage sets simulated slippage in basis points.
func WithSlippage(bps int64) PaperOption {
	return func(p *PaperGateway) { p.slippageBps = bps }
}

// WithRecorder persists every fill.
func WithRecorder(r FillRecorder) PaperOption {
	return func(p *PaperGateway) { p.recorder = r }
}

// WithSource overrides the contract source (default SyntheticChain).
func WithSource(src ContractSource) PaperOption {
	return func(p *PaperGateway) { p.resolver = NewResolver(src) }
}

// WithQuotes records the contract's last traded price as the fill premium.
// Contracts without a token are not quoted.
func WithQuotes(q Quoter) PaperOption {
	return func(p *PaperGateway) { p.quotes = q }
}

// NewPaperGateway creates a paper trading gateway.
func NewPaperGateway(opts ...PaperOption) *PaperGateway {
	p := &PaperGateway{
		resolver: NewResolver(SyntheticChain{}),
		ledger:   NewLedger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *PaperGateway) Mode() string { return "paper" }

// Ledger exposes the in-memory fill ledger.
func (p *PaperGateway) Ledger() *Ledger { return p.ledger }

// Place fills the intent immediately at the reference price (plus slippage).
// It never contacts a real order endpoint.
func (p *PaperGateway) Place(ctx context.Context, in Intent) (Ticket, error) {
	contract, txn, err := p.resolver.Resolve(ctx, in)
	if err != nil {
		return Ticket{}, err
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)
	p.mu.Unlock()

	fillPrice := in.ReferencePrice
	slippage := 0.0
	if fillPrice > 0 && p.slippageBps > 0 {
		slippage = fillPrice * float64(p.slippageBps) / 10000
		if txn == model.Buy {
			fillPrice += slippage // buy higher
		} else {
			fillPrice -= slippage // sell lower
		}
	}

	fill := Fill{
		OrderID:     orderID,
		StrategyID:  in.StrategyID,
		Action:      in.Action,
		Symbol:      contract.Symbol,
		Exchange:    contract.Exchange,
		Transaction: txn,
		Qty:         in.Quantity,
		Price:       fillPrice,
		Slippage:    slippage,
		Premium:     p.premium(ctx, contract),
		Reason:      in.Reason,
		FilledAt:    in.At,
	}
	p.ledger.Record(fill)

	if p.recorder != nil {
		if err := p.recorder.RecordFill(ctx, fill); err != nil {
			slog.Warn("paper: journal write failed", "order_id", orderID, "error", err)
		}
	}

	slog.Debug("paper: filled",
		"strategy_id", in.StrategyID, "action", in.Action, "symbol", contract.Symbol,
		"txn", txn, "qty", in.Quantity, "price", fillPrice, "order_id", orderID, "reason", in.Reason)

	return Ticket{
		OrderID:     orderID,
		Ref:         orderID,
		Contract:    contract,
		Transaction: txn,
		Quantity:    in.Quantity,
		Price:       fillPrice,
	}, nil
}

func (p *PaperGateway) premium(ctx context.Context, c model.Contract) float64 {
	if p.quotes == nil || c.Token == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()
	ltp, err := p.quotes.LTP(ctx, c.Exchange, c.Symbol, c.Token)
	if err != nil {
		slog.Debug("paper: premium quote failed", "symbol", c.Symbol, "error", err)
		return 0
	}
	return ltp
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signalengine/internal/id"
	"signalengine/internal/model"
)

// DefaultPlaceTimeout bounds one live order call.
const DefaultPlaceTimeout = 10 * time.Second

// LiveGateway forwards intents to the broker. Contract resolution happens
// on the caller's goroutine so an unresolvable contract is reported
// directly; the order call itself runs on its own goroutine and reports
// through Intent.Done, so a slow broker never stalls tick processing.
type LiveGateway struct {
	resolver *Resolver
	broker   Broker
	timeout  time.Duration

	suspended atomic.Bool
	wg        sync.WaitGroup

	// OnPlaced/OnFailed are metrics hooks (optional, set externally).
	OnPlaced func()
	OnFailed func()
}

// NewLiveGateway creates a live gateway over a broker and contract source.
func NewLiveGateway(b Broker, src ContractSource) *LiveGateway {
	return &LiveGateway{
		resolver: NewResolver(src),
		broker:   b,
		timeout:  DefaultPlaceTimeout,
	}
}

func (g *LiveGateway) Mode() string { return "live" }

// Suspended reports whether placement is halted by an expired session.
func (g *LiveGateway) Suspended() bool { return g.suspended.Load() }

// Resume re-enables placement after the broker session was renewed.
func (g *LiveGateway) Resume() {
	if g.suspended.Swap(false) {
		slog.Info("live: order placement resumed")
	}
}

// Place resolves the contract and starts the broker call. The returned
// ticket is Pending; its order id arrives through in.Done.
func (g *LiveGateway) Place(ctx context.Context, in Intent) (Ticket, error) {
	if g.suspended.Load() {
		return Ticket{}, fmt.Errorf("live placement suspended: %w", model.ErrUpstreamAuthExpired)
	}

	contract, txn, err := g.resolver.Resolve(ctx, in)
	if err != nil {
		if errors.Is(err, model.ErrUpstreamAuthExpired) {
			g.suspend(err)
		}
		return Ticket{}, err
	}

	ticket := Ticket{
		Ref:         id.At(in.At),
		Pending:     true,
		Contract:    contract,
		Transaction: txn,
		Quantity:    in.Quantity,
	}
	order := model.Order{
		Token:           contract.Token,
		Exchange:        contract.Exchange,
		TradingSymbol:   contract.Symbol,
		TransactionType: txn,
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
		Variety:         "NORMAL",
		Qty:             in.Quantity,
		CreatedAt:       in.At,
	}

	g.wg.Add(1)
	go g.send(context.WithoutCancel(ctx), in, ticket.Ref, order)

	return ticket, nil
}

func (g *LiveGateway) send(ctx context.Context, in Intent, ref string, order model.Order) {
	defer g.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	orderID, err := g.broker.PlaceOrder(ctx, order)
	res := Result{Ref: ref, OrderID: orderID, Action: in.Action, Err: err}

	if err != nil {
		if errors.Is(err, model.ErrUpstreamAuthExpired) {
			g.suspend(err)
		}
		if g.OnFailed != nil {
			g.OnFailed()
		}
		slog.Error("live: order failed",
			"strategy_id", in.StrategyID, "symbol", order.TradingSymbol, "txn", order.TransactionType,
			"qty", order.Qty, "ref", ref, "error", err)
	} else {
		if g.OnPlaced != nil {
			g.OnPlaced()
		}
		slog.Info("live: order placed",
			"strategy_id", in.StrategyID, "symbol", order.TradingSymbol, "txn", order.TransactionType,
			"qty", order.Qty, "ref", ref, "order_id", orderID)
	}

	if in.Done != nil {
		in.Done(res)
	}
}

func (g *LiveGateway) suspend(cause error) {
	if !g.suspended.Swap(true) {
		slog.Error("live: broker session expired, order placement suspended", "error", cause)
	}
}

// Wait blocks until all in-flight placements have reported.
func (g *LiveGateway) Wait() {
	g.wg.Wait()
}

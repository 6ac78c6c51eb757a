package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signalengine/internal/execution"
	"signalengine/internal/logger"
	"signalengine/internal/marketdata/agg"
	"signalengine/internal/model"
)

// hooks is the variant-specific part of a strategy.
type hooks interface {
	// onCandle runs for every candle closed by the aggregator.
	onCandle(ctx context.Context, c model.Candle)
	// onTick runs for every accepted tick after candle handling.
	onTick(ctx context.Context, t model.Tick)
	// onExit runs after a position was closed for any reason.
	onExit()
	// fill adds variant fields to a status snapshot.
	fill(st *Status)
}

// recentCandles is how many closed candles a status snapshot carries.
const recentCandles = 20

// heldExit is an exit decided while the live entry order was still
// unconfirmed. It is sent once the entry fills and dropped if it is rejected.
type heldExit struct {
	price  float64
	ts     time.Time
	reason string
}

// runner holds the state common to every strategy and implements Strategy.
// All mutable fields are guarded by mu; readers only see published Status
// snapshots.
type runner struct {
	mu    sync.Mutex
	cfg   Config
	deps  Deps
	log   *slog.Logger
	win   window
	agg   *agg.Aggregator
	hooks hooks

	state   State
	message string
	lastErr string

	pos        model.Position
	entry      *execution.Ticket
	held       *heldExit // exit waiting for a pending live entry
	exitPrice  float64
	realized   float64
	trades     int
	history    []model.TradeEntry
	pendingRef map[string]int // live order ref → history index

	lastPrice float64
	lastTS    time.Time

	status atomic.Pointer[Status]
}

func newRunner(cfg Config, deps Deps) *runner {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &runner{
		cfg:  cfg,
		deps: deps,
		log: log.With(
			slog.String("strategy_id", cfg.ID),
			slog.String("kind", string(cfg.Kind)),
			slog.String("instrument", cfg.Instrument),
		),
		win:        cfg.window(),
		agg:        agg.New(cfg.Interval(), recentCandles),
		state:      StateInitializing,
		message:    "Strategy is initializing.",
		pos:        model.Position{Side: model.Flat},
		pendingRef: make(map[string]int),
	}
	r.agg.OnMalformedTick = deps.OnMalformedTick
	r.agg.OnDroppedTick = deps.OnLateTick
	return r
}

func (r *runner) ID() string     { return r.cfg.ID }
func (r *runner) Config() Config { return r.cfg }

func (r *runner) Status() Status {
	if st := r.status.Load(); st != nil {
		return *st
	}
	return Status{StrategyID: r.cfg.ID, State: StateInitializing}
}

func (r *runner) Run(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitializing {
		return
	}
	r.state = StateRunning
	r.message = "Strategy is running and waiting for ticks."
	logger.With(ctx, r.log).Info("strategy running",
		"paper_trade", r.cfg.PaperTrade, "gateway", r.deps.Gateway.Mode())
	r.publish(ctx)
}

func (r *runner) ProcessTicks(ctx context.Context, ticks []model.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateInitializing {
		return
	}
	key := r.cfg.Key()
	for _, t := range ticks {
		if t.Key() != key {
			continue
		}
		if t.TickTS.IsZero() {
			r.log.Warn("dropping malformed tick", "error", model.ErrMalformedTick)
			if r.deps.OnMalformedTick != nil {
				r.deps.OnMalformedTick()
			}
			continue
		}
		if !r.lastTS.IsZero() && t.TickTS.Before(r.lastTS) {
			if r.deps.OnLateTick != nil {
				r.deps.OnLateTick()
			}
			continue
		}
		r.step(ctx, t)
	}
	r.publish(ctx)
}

// step handles one accepted tick.
func (r *runner) step(ctx context.Context, t model.Tick) {
	if c, closed := r.agg.Ingest(t); closed {
		r.candleClosed(ctx, c)
	}

	r.lastPrice = model.Rupees(t.Price)
	r.lastTS = t.TickTS

	if r.pos.Open() && (r.win.closed(t.TickTS) || !sameDay(t.TickTS, r.pos.EntryTime)) {
		r.exit(ctx, r.lastPrice, t.TickTS, "execution window closed")
	}
	r.hooks.onTick(ctx, t)
}

func (r *runner) candleClosed(ctx context.Context, c model.Candle) {
	if r.deps.OnCandleClosed != nil {
		r.deps.OnCandleClosed()
	}
	r.hooks.onCandle(ctx, c)
}

func (r *runner) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.agg.Flush(r.cfg.Key()); ok {
		r.candleClosed(ctx, c)
	}
	r.publish(ctx)
}

func (r *runner) SquareOff(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pos.Open() {
		return nil
	}
	if reason == "" {
		reason = "square off"
	}
	err := r.exit(ctx, r.lastPrice, r.lastTS, reason)
	r.publish(ctx)
	return err
}

// enter opens a position. The caller holds mu. Entries while a position is
// open return model.ErrAlreadyActive; gateway failures leave the strategy flat.
func (r *runner) enter(ctx context.Context, bias model.Side, price float64, ts time.Time, stop float64, target *float64, reason string) error {
	if r.pos.Open() {
		return model.ErrAlreadyActive
	}

	in := execution.Intent{
		StrategyID:     r.cfg.ID,
		Underlying:     r.cfg.Instrument,
		Exchange:       r.cfg.Exchange,
		Token:          r.cfg.Token,
		Action:         model.ActionEntry,
		Bias:           bias,
		ReferencePrice: price,
		Quantity:       r.cfg.Quantity(),
		At:             ts,
		Policy:         r.cfg.Policy,
		Reason:         reason,
		Done:           r.placed,
	}
	tk, err := r.deps.Gateway.Place(ctx, in)
	if err != nil {
		r.lastErr = err.Error()
		r.message = "Entry aborted: " + err.Error()
		r.log.Error("entry aborted", "side", bias, "price", price, "error", err)
		return err
	}

	r.entry = &tk
	r.pos = model.Position{
		Side:          bias,
		EntryPrice:    price,
		StopLossLevel: stop,
		TargetLevel:   target,
		Quantity:      tk.Quantity,
		EntryOrderID:  tk.OrderID,
		Symbol:        tk.Contract.Symbol,
		OptionType:    tk.Contract.OptionType,
		EntryTime:     ts,
	}
	r.exitPrice = 0
	r.state = StatePositionOpen
	r.message = "Position opened: " + reason
	r.record(ctx, model.TradeEntry{
		Time:     ts,
		Action:   model.ActionEntry,
		Side:     bias,
		Price:    price,
		Quantity: tk.Quantity,
		Symbol:   tk.Contract.Symbol,
		OrderID:  tk.OrderID,
		Reason:   reason,
	}, tk)

	r.log.Info("position opened",
		"side", bias, "price", price, "stop", stop, "symbol", tk.Contract.Symbol,
		"order_id", tk.OrderID, "reason", reason)
	return nil
}

// exit closes the open position at price. The local position is closed even
// when the exit order fails; the failure is reported in the status. While
// the live entry is unconfirmed the exit is held instead of sent.
func (r *runner) exit(ctx context.Context, price float64, ts time.Time, reason string) error {
	if !r.pos.Open() {
		return nil
	}
	if r.entry != nil && r.entry.Pending {
		if r.held == nil {
			r.held = &heldExit{price: price, ts: ts, reason: reason}
			r.message = "Exit held until the entry order is confirmed: " + reason
			r.log.Info("exit held for pending entry", "price", price, "reason", reason, "ref", r.entry.Ref)
		}
		return nil
	}

	in := execution.Intent{
		StrategyID:     r.cfg.ID,
		Underlying:     r.cfg.Instrument,
		Exchange:       r.cfg.Exchange,
		Token:          r.cfg.Token,
		Action:         model.ActionExit,
		Bias:           r.pos.Side,
		ReferencePrice: price,
		Quantity:       r.pos.Quantity,
		At:             ts,
		Policy:         r.cfg.Policy,
		Reason:         reason,
		Closing:        r.entry,
		Done:           r.placed,
	}
	tk, err := r.deps.Gateway.Place(ctx, in)
	if err != nil {
		r.lastErr = err.Error()
		r.log.Error("exit order failed", "price", price, "reason", reason, "error", err)
		tk = execution.Ticket{Contract: model.Contract{Symbol: r.pos.Symbol}}
	}

	pnl := r.pos.UnrealizedPnL(price)
	side := r.pos.Side
	qty := r.pos.Quantity
	r.realized += pnl
	r.trades++
	r.exitPrice = price
	r.pos.ExitOrderID = tk.OrderID

	r.record(ctx, model.TradeEntry{
		Time:     ts,
		Action:   model.ActionExit,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Symbol:   r.pos.Symbol,
		OrderID:  tk.OrderID,
		Reason:   reason,
		PnL:      pnl,
	}, tk)

	r.log.Info("position closed",
		"side", side, "price", price, "pnl", pnl, "realized", r.realized,
		"order_id", tk.OrderID, "reason", reason)

	r.pos = model.Position{Side: model.Flat}
	r.entry = nil
	r.held = nil
	r.state = StatePositionClosed
	r.message = "Position closed: " + reason
	r.hooks.onExit()
	return err
}

// record appends a trade-history entry and forwards it to the journal,
// publisher and metrics hook.
func (r *runner) record(ctx context.Context, e model.TradeEntry, tk execution.Ticket) {
	e.StrategyID = r.cfg.ID
	if tk.Pending && tk.Ref != "" {
		r.pendingRef[tk.Ref] = len(r.history)
	}
	r.history = append(r.history, e)

	if r.deps.Journal != nil {
		if err := r.deps.Journal.RecordTrade(ctx, e); err != nil {
			r.log.Warn("journal write failed", "error", err)
		}
	}
	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.PublishTrade(ctx, e); err != nil {
			r.log.Debug("trade publish failed", "error", err)
		}
	}
	if r.deps.OnTrade != nil {
		r.deps.OnTrade(e)
	}
}

// placed receives the asynchronous outcome of a live order.
func (r *runner) placed(res execution.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.pendingRef[res.Ref]
	if !ok {
		return
	}
	delete(r.pendingRef, res.Ref)

	if res.Err != nil {
		r.lastErr = res.Err.Error()
		if res.Action == model.ActionEntry && r.entry != nil && r.entry.Ref == res.Ref {
			r.rollback(res.Err)
		} else {
			r.message = "Exit order failed: " + res.Err.Error()
		}
		r.publish(context.Background())
		return
	}

	// Copy on write: published snapshots share the old backing array.
	h := make([]model.TradeEntry, len(r.history), cap(r.history))
	copy(h, r.history)
	h[idx].OrderID = res.OrderID
	r.history = h

	if r.entry != nil && r.entry.Ref == res.Ref {
		r.entry.OrderID = res.OrderID
		r.entry.Pending = false
		r.pos.EntryOrderID = res.OrderID
		if h := r.held; h != nil {
			r.held = nil
			r.exit(context.Background(), h.price, h.ts, h.reason)
		}
	}
	r.publish(context.Background())
}

// rollback returns to flat after a live entry order was rejected.
func (r *runner) rollback(cause error) {
	e := model.TradeEntry{
		StrategyID: r.cfg.ID,
		Time:       r.lastTS,
		Action:     model.ActionExit,
		Side:       r.pos.Side,
		Price:      r.pos.EntryPrice,
		Quantity:   r.pos.Quantity,
		Symbol:     r.pos.Symbol,
		Reason:     "entry order failed",
	}
	r.history = append(r.history, e)
	if r.held != nil {
		r.log.Info("held exit dropped", "reason", r.held.reason)
	}
	r.pos = model.Position{Side: model.Flat}
	r.entry = nil
	r.held = nil
	r.state = StateMonitoring
	r.message = "Entry order failed: " + cause.Error()
	if errors.Is(cause, model.ErrUpstreamAuthExpired) {
		r.message = "Broker session expired; live orders suspended."
	}
	r.log.Error("entry order rejected, position rolled back", "error", cause)
	r.hooks.onExit()
}

// publish builds and atomically swaps in a new status snapshot.
func (r *runner) publish(ctx context.Context) {
	st := &Status{
		StrategyID:      r.cfg.ID,
		Name:            r.cfg.Name,
		Kind:            r.cfg.Kind,
		Instrument:      r.cfg.Instrument,
		State:           r.state,
		Message:         r.message,
		RealizedPnL:     r.realized,
		PnL:             r.realized + r.pos.UnrealizedPnL(r.lastPrice),
		Trades:          r.trades,
		PaperTrade:      r.cfg.PaperTrade,
		Position:        r.pos,
		ExitPrice:       r.exitPrice,
		TradeHistory:    r.history[:len(r.history):len(r.history)],
		CandleTimeFrame: timeFrame(r.cfg.CandleMinutes),
		LastPrice:       r.lastPrice,
		LastTickAt:      r.lastTS,
		LastError:       r.lastErr,
	}
	if r.pos.TargetLevel != nil {
		t := *r.pos.TargetLevel
		st.Position.TargetLevel = &t
	}
	key := r.cfg.Key()
	st.Candles = r.agg.History(key)
	if c, ok := r.agg.Current(key); ok {
		st.FormingCandle = &c
	}
	if r.pos.Open() {
		st.TradedInstrument = r.pos.Symbol
	} else if n := len(r.history); n > 0 {
		st.TradedInstrument = r.history[n-1].Symbol
	}
	r.hooks.fill(st)
	r.status.Store(st)

	if r.deps.Publisher != nil {
		b, err := json.Marshal(st)
		if err == nil {
			err = r.deps.Publisher.PublishStatus(ctx, r.cfg.ID, b)
		}
		if err != nil {
			r.log.Debug("status publish failed", "error", err)
		}
	}
}

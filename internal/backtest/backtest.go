// Package backtest drives a fresh strategy instance over bounded historical
// data. Candle backtests and tick replays share the strategy's tick path and
// always fill through a PaperGateway, so identical input gives identical
// trades.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"signalengine/internal/execution"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

// DefaultBatchSize is the number of ticks handed to ProcessTicks at a time.
const DefaultBatchSize = 500

// Result summarizes a bounded run.
type Result struct {
	StrategyID  string             `json:"strategy_id"`
	Kind        strategy.Kind      `json:"strategy_type"`
	Instrument  string             `json:"instrument"`
	Ticks       int                `json:"ticks"`
	PnL         float64            `json:"pnl"`
	Trades      int                `json:"trades"`
	Wins        int                `json:"wins"`
	Losses      int                `json:"losses"`
	WinRate     float64            `json:"win_rate"` // percent of completed trades
	MaxDrawdown float64            `json:"max_drawdown"`
	History     []model.TradeEntry `json:"trade_history"`
	Fills       []execution.Fill   `json:"fills"`
	Final       strategy.Status    `json:"final_status"`
}

// Runner runs backtests and replays. The zero value is usable.
type Runner struct {
	Logger      *slog.Logger
	SlippageBps int64
	BatchSize   int

	// Recorder, when set, persists every paper fill.
	Recorder execution.FillRecorder
	// Journal, when set, persists every trade-history entry.
	Journal model.TradeJournal
}

// Backtest runs cfg over a candle sequence. Candles are ordered by start
// time and expanded into their synthetic tick paths. Candles without an
// instrument key inherit the strategy's.
func (r *Runner) Backtest(ctx context.Context, cfg strategy.Config, candles []model.Candle) (Result, error) {
	cfg = cfg.WithDefaults()

	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	ticks := make([]model.Tick, 0, 4*len(sorted))
	for i := range sorted {
		c := &sorted[i]
		if c.Token == "" {
			c.Token, c.Exchange = cfg.Token, cfg.Exchange
		}
		if !c.Valid() {
			r.logger().Warn("skipping invalid candle", "ts", c.TS, "open", c.Open, "high", c.High, "low", c.Low, "close", c.Close)
			continue
		}
		ticks = append(ticks, c.SyntheticTicks()...)
	}
	return r.Replay(ctx, cfg, ticks)
}

// Replay runs cfg over a tick sequence in the given order. Late ticks are
// dropped by the strategy exactly as they would be live.
func (r *Runner) Replay(ctx context.Context, cfg strategy.Config, ticks []model.Tick) (Result, error) {
	cfg = cfg.WithDefaults()
	if cfg.ID == "" {
		cfg.ID = "backtest"
	}
	cfg.PaperTrade = true

	opts := []execution.PaperOption{execution.WithSlippage(r.SlippageBps)}
	if r.Recorder != nil {
		opts = append(opts, execution.WithRecorder(r.Recorder))
	}
	gw := execution.NewPaperGateway(opts...)

	log := r.logger()
	s, err := strategy.New(cfg, strategy.Deps{
		Gateway: gw,
		Journal: r.Journal,
		Logger:  log,
	})
	if err != nil {
		return Result{}, err
	}
	s.Run(ctx)

	batch := r.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for start := 0; start < len(ticks); start += batch {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("backtest cancelled after %d ticks: %w", start, err)
		}
		end := start + batch
		if end > len(ticks) {
			end = len(ticks)
		}
		s.ProcessTicks(ctx, ticks[start:end])
	}
	s.Flush(ctx)
	if err := s.SquareOff(ctx, "end of data"); err != nil {
		log.Warn("final square-off failed", "error", err)
	}

	st := s.Status()
	res := Result{
		StrategyID: st.StrategyID,
		Kind:       cfg.Kind,
		Instrument: cfg.Instrument,
		Ticks:      len(ticks),
		PnL:        st.RealizedPnL,
		Trades:     st.Trades,
		History:    st.TradeHistory,
		Fills:      gw.Ledger().Fills(),
		Final:      st,
	}
	res.summarize()

	log.Info("backtest complete",
		"strategy_id", res.StrategyID, "ticks", res.Ticks, "trades", res.Trades,
		"pnl", res.PnL, "win_rate", res.WinRate, "max_drawdown", res.MaxDrawdown)
	return res, nil
}

// summarize derives win/loss counts and the max drawdown of the realized
// P&L curve from the exit entries.
func (res *Result) summarize() {
	var equity, peak float64
	for _, e := range res.History {
		if e.Action != model.ActionExit {
			continue
		}
		switch {
		case e.PnL > 0:
			res.Wins++
		case e.PnL < 0:
			res.Losses++
		}
		equity += e.PnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
	}
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades) * 100
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

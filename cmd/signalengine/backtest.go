package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/backtest"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

type backtestOptions struct {
	from, to   string
	strategies string
	source     string
	db         string
	journal    string
	slippage   int64
	save       bool
	asJSON     bool
}

func newBacktestCmd(opts *rootOptions) *cobra.Command {
	bo := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest the configured strategies on historical candles",
		Long: `Runs every strategy over candles of its own candle_time, either stored in
SQLite (--source db) or fetched from Angel One historical data
(--source broker, needs credentials). Each candle is expanded into an
open/low/high/close tick path, or open/high/low/close for a bearish
candle, and traded on a paper gateway.`,
		Example: `  signalengine backtest --from 2024-05-01 --to 2024-05-31 --source broker --save
  signalengine backtest --from 2024-05-01 --json > result.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := config.FromEnv()
			if bo.db != "" {
				cfg.SQLitePath = bo.db
			}
			if bo.journal != "" {
				cfg.JournalPath = bo.journal
			}
			if bo.strategies == "" {
				bo.strategies = cfg.StrategyFile
			}
			return runBacktest(ctx, cmd.OutOrStdout(), cfg, bo, opts.log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&bo.from, "from", "", "start time, IST (required)")
	f.StringVar(&bo.to, "to", "", "end time, IST (default end of the --from day)")
	f.StringVar(&bo.strategies, "strategies", "", "strategy file (default $STRATEGY_FILE)")
	f.StringVar(&bo.source, "source", "db", "candle source: db or broker")
	f.StringVar(&bo.db, "db", "", "candle database (default $SQLITE_PATH)")
	f.StringVar(&bo.journal, "journal", "", "record fills and trades to this SQLite file")
	f.Int64Var(&bo.slippage, "slippage-bps", 0, "paper fill slippage in basis points")
	f.BoolVar(&bo.save, "save", false, "store broker candles in the database")
	f.BoolVar(&bo.asJSON, "json", false, "print full results as JSON")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runBacktest(ctx context.Context, w io.Writer, cfg *config.Config, bo *backtestOptions, log *slog.Logger) error {
	from, to, err := timeRange(bo.from, bo.to)
	if err != nil {
		return err
	}
	if bo.source != "db" && bo.source != "broker" {
		return fmt.Errorf("--source must be db or broker, got %q", bo.source)
	}
	cfgs, err := config.LoadStrategies(bo.strategies)
	if err != nil {
		return err
	}

	fromBroker := bo.source == "broker"
	if fromBroker && !cfg.HasBroker() {
		return fmt.Errorf("--source broker: %w", cfg.BrokerError())
	}
	svc, err := openServices(ctx, cfg, log, metrics.New(), serviceOptions{
		tickStore: !fromBroker || bo.save,
		journal:   bo.journal != "",
		broker:    fromBroker,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	runner := &backtest.Runner{Logger: log, SlippageBps: bo.slippage}
	if svc.journal != nil {
		runner.Recorder = svc.journal
		runner.Journal = svc.journal
	}

	results := make([]backtest.Result, 0, len(cfgs))
	for _, c := range cfgs {
		c = c.WithDefaults()
		candles, err := svc.candles(ctx, c, from, to, fromBroker, bo.save)
		if err != nil {
			return fmt.Errorf("%q: %w", c.Name, err)
		}
		if len(candles) == 0 {
			log.Warn("no candles in range", "strategy", c.Name, "instrument", c.Key(), "minutes", c.CandleMinutes)
			continue
		}
		res, err := runner.Backtest(ctx, c, candles)
		if err != nil {
			return fmt.Errorf("backtest %q: %w", c.Name, err)
		}
		results = append(results, res)
	}

	if bo.asJSON {
		return writeJSON(w, results)
	}
	return writeResults(w, results)
}

// candles loads the candles of c's instrument and interval.
func (s *services) candles(ctx context.Context, c strategy.Config, from, to time.Time, fromBroker, save bool) ([]model.Candle, error) {
	if !fromBroker {
		return s.store.ReadCandles(ctx, c.Exchange, c.Token, c.CandleMinutes*60, from, to)
	}
	candles, err := s.broker.Candles(ctx, c.Exchange, c.Token, c.CandleMinutes, from, to)
	if err != nil {
		return nil, err
	}
	if save && len(candles) > 0 {
		if err := s.store.SaveCandles(ctx, candles); err != nil {
			return nil, err
		}
		s.log.Info("candles saved", "instrument", c.Key(), "count", len(candles))
	}
	return candles, nil
}

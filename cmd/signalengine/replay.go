package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/backtest"
	"signalengine/internal/marketdata/replay"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

type replayOptions struct {
	from, to   string
	speed      float64
	strategies string
	db         string
	slippage   int64
	asJSON     bool
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	ro := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded ticks through the configured strategies",
		Long: `Loads ticks recorded by "live" or "record" from SQLite and runs the
strategies over them in paper mode. With --speed 0 (the default) each
strategy runs as fast as possible; a positive speed paces the ticks
through the engine (1 = real time) and publishes status to Redis when
REDIS_ADDR is set.`,
		Example: `  signalengine replay --from 2024-06-03
  signalengine replay --from "2024-06-03 09:15" --to "2024-06-03 11:00" --speed 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := config.FromEnv()
			if ro.db != "" {
				cfg.SQLitePath = ro.db
			}
			if ro.strategies == "" {
				ro.strategies = cfg.StrategyFile
			}
			return runReplay(ctx, cmd.OutOrStdout(), cfg, ro, opts.log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&ro.from, "from", "", "start time, IST (required)")
	f.StringVar(&ro.to, "to", "", "end time, IST (default end of the --from day)")
	f.Float64Var(&ro.speed, "speed", 0, "replay speed, 0 for unpaced")
	f.StringVar(&ro.strategies, "strategies", "", "strategy file (default $STRATEGY_FILE)")
	f.StringVar(&ro.db, "db", "", "tick database (default $SQLITE_PATH)")
	f.Int64Var(&ro.slippage, "slippage-bps", 0, "paper fill slippage in basis points (unpaced only)")
	f.BoolVar(&ro.asJSON, "json", false, "print full results as JSON")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runReplay(ctx context.Context, w io.Writer, cfg *config.Config, ro *replayOptions, log *slog.Logger) error {
	if ro.speed < 0 {
		return fmt.Errorf("--speed must not be negative")
	}
	from, to, err := timeRange(ro.from, ro.to)
	if err != nil {
		return err
	}
	cfgs, err := config.LoadStrategies(ro.strategies)
	if err != nil {
		return err
	}
	for i := range cfgs {
		cfgs[i].PaperTrade = true
	}
	// Replays never place real orders.
	cfg.PaperTrade = true

	svc, err := openServices(ctx, cfg, log, metrics.New(), serviceOptions{tickStore: true, redis: ro.speed > 0})
	if err != nil {
		return err
	}
	defer svc.Close()

	rp := replay.New(svc.store, log)
	ticks, err := rp.Load(ctx, instrumentsOf(cfgs), from, to)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		return fmt.Errorf("no ticks recorded in %s between %s and %s", cfg.SQLitePath, from, to)
	}
	log.Info("replay loaded", "ticks", len(ticks), "from", from, "to", to, "speed", ro.speed)

	if ro.speed == 0 {
		results := make([]backtest.Result, 0, len(cfgs))
		runner := &backtest.Runner{Logger: log, SlippageBps: ro.slippage}
		for _, c := range cfgs {
			c = c.WithDefaults()
			res, err := runner.Replay(ctx, c, ticksFor(ticks, c.Key()))
			if err != nil {
				return fmt.Errorf("replay %q: %w", c.Name, err)
			}
			results = append(results, res)
		}
		if ro.asJSON {
			return writeJSON(w, results)
		}
		return writeResults(w, results)
	}

	statuses, err := pacedReplay(ctx, svc, rp, cfgs, ticks, ro.speed)
	if err != nil {
		return err
	}
	if ro.asJSON {
		return writeJSON(w, statuses)
	}
	return writeStatuses(w, statuses)
}

// pacedReplay pushes ticks through the engine at the given speed and
// squares everything off at the end.
func pacedReplay(ctx context.Context, svc *services, rp *replay.Replayer, cfgs []strategy.Config, ticks []model.Tick, speed float64) ([]strategy.Status, error) {
	eng := svc.newEngine(ctx, svc.newGateways())
	disp := eng.Dispatcher()
	defer disp.Close()

	for _, c := range cfgs {
		if _, err := eng.Deploy(ctx, c); err != nil {
			eng.SquareOffAll(ctx, "startup failed")
			return nil, fmt.Errorf("deploy %q: %w", c.Name, err)
		}
	}

	out := make(chan []model.Tick, batchBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		disp.Run(ctx, out)
	}()

	runErr := rp.Run(ctx, ticks, speed, out)
	close(out)
	<-done

	// Finish what is queued before squaring off, unless interrupted.
	if runErr == nil {
		if err := disp.Drain(ctx, 0); err != nil {
			runErr = err
		}
	}
	for _, s := range eng.Registry().List() {
		s.Flush(context.WithoutCancel(ctx))
	}
	return eng.SquareOffAll(context.WithoutCancel(ctx), "end of data"), runErr
}

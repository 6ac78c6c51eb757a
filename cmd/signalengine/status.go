package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/model"
	redisstore "signalengine/internal/store/redis"
	"signalengine/internal/strategy"
)

type statusOptions struct {
	watch  bool
	trades int64
	asJSON bool
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	so := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status [strategy-id]",
		Short: "Show strategy status published to Redis",
		Long: `Without arguments, lists the latest snapshot of every strategy. With an
id, prints that strategy's snapshot and recent trades. --watch follows
status and trade events until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := config.FromEnv()
			if cfg.RedisAddr == "" {
				return errors.New("REDIS_ADDR is not set")
			}
			r, err := redisstore.NewReader(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			if err != nil {
				return err
			}
			defer r.Close()

			w := cmd.OutOrStdout()
			switch {
			case so.watch:
				return watchStatus(ctx, w, r)
			case len(args) == 1:
				return showStatus(ctx, w, r, args[0], so)
			default:
				return listStatus(ctx, w, r, so.asJSON)
			}
		},
	}
	cmd.Flags().BoolVarP(&so.watch, "watch", "w", false, "follow status and trade events")
	cmd.Flags().Int64Var(&so.trades, "trades", 20, "recent trades to show with an id")
	cmd.Flags().BoolVar(&so.asJSON, "json", false, "print raw JSON")
	return cmd
}

func listStatus(ctx context.Context, w io.Writer, r *redisstore.Reader, asJSON bool) error {
	ids, err := r.StatusIDs(ctx)
	if err != nil {
		return err
	}
	statuses := make([]strategy.Status, 0, len(ids))
	for _, id := range ids {
		raw, err := r.Status(ctx, id)
		if errors.Is(err, redisstore.ErrNoStatus) {
			continue
		}
		if err != nil {
			return err
		}
		var st strategy.Status
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("status %s: %w", id, err)
		}
		statuses = append(statuses, st)
	}
	if asJSON {
		return writeJSON(w, statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(w, "no strategies published")
		return nil
	}
	return writeStatuses(w, statuses)
}

func showStatus(ctx context.Context, w io.Writer, r *redisstore.Reader, id string, so *statusOptions) error {
	raw, err := r.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	trades, err := r.Trades(ctx, id, so.trades)
	if err != nil {
		return err
	}
	if so.asJSON {
		return writeJSON(w, map[string]any{
			"status": json.RawMessage(raw),
			"trades": trades,
		})
	}

	var st strategy.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("status %s: %w", id, err)
	}
	if err := writeStatuses(w, []strategy.Status{st}); err != nil {
		return err
	}
	if st.Position.Open() {
		fmt.Fprintf(w, "\nposition: %s %s qty %d entry %.2f stop %.2f\n",
			st.Position.Side, st.TradedInstrument, st.Position.Quantity, st.Position.EntryPrice, st.Position.StopLossLevel)
	}
	if n := len(st.Candles); n > 0 {
		c := st.Candles[n-1]
		fmt.Fprintf(w, "\nlast candle: %s O %.2f H %.2f L %.2f C %.2f\n",
			c.TS.In(model.IST).Format("2006-01-02 15:04"),
			model.Rupees(c.Open), model.Rupees(c.High), model.Rupees(c.Low), model.Rupees(c.Close))
	}
	if len(trades) > 0 {
		fmt.Fprintln(w, "\nrecent trades:")
		for _, t := range trades {
			fmt.Fprintf(w, "  %s  %-5s %-4s %10.2f  %s  %s\n",
				t.Time.Format("2006-01-02 15:04:05"), t.Action, t.Side, t.Price, t.Symbol, t.Reason)
		}
	}
	return nil
}

func watchStatus(ctx context.Context, w io.Writer, r *redisstore.Reader) error {
	events := make(chan redisstore.Event, 64)
	errc := make(chan error, 1)
	go func() { errc <- r.Watch(ctx, events) }()

	for {
		select {
		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case ev := <-events:
			fmt.Fprintf(w, "%s %s %s\n", ev.Kind, ev.StrategyID, ev.Payload)
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"signalengine/internal/marketdata/tickserver"
)

func newTickServerCmd(opts *rootOptions) *cobra.Command {
	var (
		addr        string
		instruments string
		interval    time.Duration
		seed        int64
	)
	cmd := &cobra.Command{
		Use:   "tickserver",
		Short: "Serve random-walk JSON ticks for staging",
		Long: `Broadcasts a random walk per instrument on ws://ADDR/ws in the JSON tick
format that SIM_WS_URL consumes. /health reports the connected clients.`,
		Example: `  signalengine tickserver --addr :9001 --instruments "99926000:NSE,99926009:NSE"
  SIM_WS_URL=ws://localhost:9001/ws signalengine live`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			list, err := tickserver.ParseInstruments(instruments)
			if err != nil {
				return err
			}
			srv := tickserver.New(list, interval, seed, opts.log)
			go srv.Run(ctx)

			hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- hs.ListenAndServe() }()
			opts.log.Info("tickserver listening", "addr", addr, "instruments", len(list), "interval", interval)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := hs.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":9001", "listen address")
	f.StringVar(&instruments, "instruments", "99926000:NSE", "TOKEN:EXCHANGE,...")
	f.DurationVar(&interval, "interval", 100*time.Millisecond, "broadcast interval")
	f.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}

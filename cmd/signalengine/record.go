package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/metrics"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		db     string
		tokens string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record feed ticks to SQLite without running strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if db != "" {
				cfg.SQLitePath = db
			}
			if tokens != "" {
				cfg.SubscribeTokens = tokens
			}
			return runRecord(ctx, cfg, opts.log)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "tick database (default $SQLITE_PATH)")
	cmd.Flags().StringVar(&tokens, "tokens", "", `subscriptions, e.g. "1:99926000,1:99926009" (default $SUBSCRIBE_TOKENS)`)
	return cmd
}

func runRecord(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New()
	svc, err := openServices(ctx, cfg, log, m, serviceOptions{tickStore: true, broker: true})
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := metrics.NewServer(cfg.MetricsAddr, m, svc.health)
	srv.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(sctx)
	}()

	src, hours, err := svc.source(nil)
	if err != nil {
		return err
	}
	log.Info("recording", "feed", src.Name(), "db", cfg.SQLitePath)

	p := startPipeline(ctx, svc, src, hours)
	p.start()
	<-ctx.Done()
	p.wait()
	log.Info("recorder stopped")
	return nil
}

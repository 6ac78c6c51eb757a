package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"signalengine/config"
	"signalengine/internal/marketdata/bus"
	"signalengine/internal/marketdata/closedetector"
	"signalengine/internal/marketdata/feed"
	"signalengine/internal/markethours"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

const (
	tickBuffer  = 4096
	batchBuffer = 64
	batchMax    = 500
	batchEvery  = 50 * time.Millisecond

	shutdownTimeout = 15 * time.Second
)

func newLiveCmd(opts *rootOptions) *cobra.Command {
	var strategiesPath string
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run the configured strategies against the market feed",
		Long: `Deploys every strategy in the strategy file and feeds it ticks from the
Angel One stream (or SIM_WS_URL in staging). Ticks are recorded to SQLite,
status snapshots go to Redis when REDIS_ADDR is set, and /metrics and
/healthz are served on METRICS_ADDR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strategiesPath == "" {
				strategiesPath = cfg.StrategyFile
			}
			return runLive(ctx, cfg, strategiesPath, opts.log)
		},
	}
	cmd.Flags().StringVar(&strategiesPath, "strategies", "", "strategy file, YAML or JSON (default $STRATEGY_FILE)")
	return cmd
}

func runLive(ctx context.Context, cfg *config.Config, strategiesPath string, log *slog.Logger) error {
	cfgs, err := config.LoadStrategies(strategiesPath)
	if err != nil {
		return err
	}
	if len(cfgs) == 0 {
		return fmt.Errorf("%s: no strategies configured", strategiesPath)
	}

	m := metrics.New()
	svc, err := openServices(ctx, cfg, log, m, serviceOptions{tickStore: true, journal: true, redis: true, broker: true, alerts: true})
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

	g := svc.newGateways()
	if err := svc.checkLive(cfgs, g); err != nil {
		return err
	}
	if g.live != nil {
		svc.onLogin = g.live.Resume
	}

	src, hours, err := svc.source(cfgs)
	if err != nil {
		return err
	}

	// Strategies get their own context so that a shutdown signal stops the
	// feed first and the final square-off still reaches every instance.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	eng := svc.newEngine(runCtx, g)
	disp := eng.Dispatcher()

	for _, c := range cfgs {
		if _, err := eng.Deploy(runCtx, c); err != nil {
			eng.SquareOffAll(runCtx, "startup failed")
			disp.Close()
			return fmt.Errorf("deploy %q: %w", c.Name, err)
		}
	}
	log.Info("engine started",
		"strategies", len(cfgs),
		"paper_trade", cfg.PaperTrade,
		"feed", src.Name(),
		"market", markethours.StatusString(time.Now()))

	p := startPipeline(ctx, svc, src, hours)
	toStrategies := p.subscribe("strategies")
	p.start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(ctx, toStrategies)
	}()

	<-ctx.Done()
	log.Info("shutting down")

	p.wait()
	wg.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, st := range eng.SquareOffAll(sctx, "shutdown") {
		log.Info("final status", "strategy_id", st.StrategyID, "state", st.State, "pnl", st.PnL, "trades", st.Trades)
	}
	if g.live != nil {
		g.live.Wait()
	}
	disp.Close()
	return nil
}

// pipeline is feed → batcher → fan-out, with the tick store and the stats
// tap subscribed. Callers subscribe before start.
type pipeline struct {
	ctx   context.Context
	svc   *services
	feed  *feed.Feed
	hours bool

	fan *bus.FanOut[[]model.Tick]
	wg  sync.WaitGroup
}

func startPipeline(ctx context.Context, svc *services, src feed.Source, hours bool) *pipeline {
	f := feed.New(src, feed.Backoff{}, svc.log)
	f.OnConnect = func() { svc.health.SetFeedConnected(true) }
	f.OnReconnect = func(err error) {
		svc.health.SetFeedConnected(false)
		svc.m.FeedReconnects.Inc()
	}

	fan := bus.New[[]model.Tick](batchBuffer)
	fan.OnDrop = func(name string) { svc.m.FanoutDrops.WithLabelValues(name).Inc() }

	return &pipeline{ctx: ctx, svc: svc, feed: f, hours: hours, fan: fan}
}

func (p *pipeline) subscribe(name string) <-chan []model.Tick { return p.fan.Subscribe(name) }

func (p *pipeline) start() {
	var toStore <-chan []model.Tick
	if p.svc.store != nil {
		toStore = p.fan.Subscribe("recorder")
	}
	toStats := p.fan.Subscribe("stats")

	ticks := make(chan model.Tick, tickBuffer)
	batches := make(chan []model.Tick, batchBuffer)

	p.wg.Add(4)
	go func() {
		defer p.wg.Done()
		if p.hours {
			p.sessions(ticks)
			return
		}
		p.svc.m.MarketState.Set(1)
		p.feed.Run(p.ctx, ticks)
	}()
	go func() {
		defer p.wg.Done()
		feed.Batch(p.ctx, ticks, batches, batchMax, batchEvery)
	}()
	go func() {
		defer p.wg.Done()
		p.fan.Run(p.ctx, batches)
	}()
	go func() {
		defer p.wg.Done()
		for batch := range toStats {
			p.svc.m.TicksTotal.Add(float64(len(batch)))
			p.svc.health.SetLastTickTime(time.Now())
		}
	}()

	if toStore != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.svc.store.Run(p.ctx, toStore)
		}()
	}
}

// sessions runs the feed only while the market is open, sleeping between
// sessions.
func (p *pipeline) sessions(out chan<- model.Tick) {
	log := p.svc.log
	for p.ctx.Err() == nil {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			p.svc.m.MarketState.Set(0)
			p.svc.health.SetFeedConnected(false)
			next := markethours.NextOpen(now)
			log.Info("market closed, waiting", "status", markethours.StatusString(now), "next_open", next)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Until(next)):
			}
			continue
		}

		p.svc.m.MarketState.Set(1)
		det := closedetector.New(markethours.TodayClose(now))
		sctx, cancel := context.WithDeadline(p.ctx, det.Deadline())
		p.session(sctx, cancel, det, out)
		cancel()
		log.Info("market session ended")
	}
}

// session runs the feed until ctx ends or the closing prints settle.
func (p *pipeline) session(ctx context.Context, cancel context.CancelFunc, det *closedetector.Detector, out chan<- model.Tick) {
	in := make(chan model.Tick, tickBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.feed.Run(ctx, in)
	}()

	settled := false
	for {
		select {
		case <-done:
			return
		case t := <-in:
			select {
			case out <- t:
			case <-ctx.Done():
			}
			if !settled && det.Observe(t, time.Now()) {
				settled = true
				p.svc.log.Info("closing prices settled", "instrument", t.Key(), "price", t.Price)
				cancel()
			}
		}
	}
}

// wait blocks until every pipeline goroutine has exited.
func (p *pipeline) wait() {
	p.wg.Wait()
	for _, st := range p.fan.Stats() {
		if st.Dropped > 0 {
			p.svc.log.Warn("subscriber dropped batches", "subscriber", st.Name, "dropped", st.Dropped)
		}
	}
}

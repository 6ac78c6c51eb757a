package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/config"
	"signalengine/internal/broker/angel"
	"signalengine/internal/engine"
	"signalengine/internal/execution"
	"signalengine/internal/marketdata/feed"
	"signalengine/internal/metrics"
	"signalengine/internal/model"
	"signalengine/internal/notification"
	redisstore "signalengine/internal/store/redis"
	sqlitestore "signalengine/internal/store/sqlite"
	"signalengine/internal/strategy"
	"signalengine/pkg/smartconnect"
)

// services are the long-lived collaborators of a process. Optional ones
// are nil when not configured.
type services struct {
	cfg    *config.Config
	log    *slog.Logger
	m      *metrics.Metrics
	health *metrics.HealthStatus

	store     *sqlitestore.Store
	journal   *execution.Journal
	redis     *redisstore.Publisher
	publisher model.StatusPublisher
	broker    *angel.Broker
	alerts    *notification.Async

	// onLogin runs after every successful feed login.
	onLogin func()

	closers []func() error
}

type serviceOptions struct {
	tickStore bool // open the SQLite tick store
	journal   bool // open the fill/trade journal
	redis     bool // publish status to Redis when REDIS_ADDR is set
	broker    bool // log in to Angel One when credentials are set
	alerts    bool // send trade alerts when a channel is configured
}

func openServices(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics, opt serviceOptions) (*services, error) {
	s := &services{cfg: cfg, log: log, m: m, health: metrics.NewHealthStatus()}

	journalPath := cfg.JournalPath
	if journalPath == "" {
		journalPath = cfg.SQLitePath
	}
	var paths []string
	if opt.tickStore {
		paths = append(paths, cfg.SQLitePath)
	}
	if opt.journal {
		paths = append(paths, journalPath)
	}
	for _, p := range paths {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	if opt.tickStore {
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		st.OnCommit = func(_ int, took time.Duration) { m.SQLiteCommitDur.Observe(took.Seconds()) }
		s.store = st
		s.closers = append(s.closers, st.Close)
	}

	if opt.journal {
		j, err := execution.NewJournal(journalPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		s.journal = j
		s.closers = append(s.closers, j.Close)
	}

	if opt.redis && cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Warn("redis unavailable, continuing without status publishing", "addr", cfg.RedisAddr, "error", err)
		} else {
			cb := redisstore.NewCircuitBreaker("redis-status", 5, 10*time.Second)
			cb.OnStateChange = func(_, to redisstore.BreakerState) {
				m.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					m.RedisCircuitBreakerTrips.Inc()
				}
			}
			bp := redisstore.NewBufferedPublisher(ctx, pub, cb, 10000)
			bp.OnBuffer = func() { m.RedisBufferedWrites.Inc() }
			s.redis = pub
			s.publisher = bp
			s.closers = append(s.closers, pub.Close)
		}
	}

	if opt.alerts {
		var sinks notification.Multi
		if cfg.NotifyWebhookURL != "" {
			sinks = append(sinks, notification.NewWebhook(cfg.NotifyWebhookURL))
		}
		if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
			sinks = append(sinks, notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
		}
		if len(sinks) > 0 {
			s.alerts = notification.NewAsync(sinks, 256, log)
			go s.alerts.Run(ctx)
		}
	}

	if opt.broker && cfg.HasBroker() {
		client := smartconnect.New(smartconnect.Config{APIKey: cfg.AngelAPIKey, Logger: log})
		b := angel.New(client, angel.Credentials{
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		}, log)
		client.OnTokenExpired = func() {
			s.health.SetBrokerSessionOK(false)
			s.alert(notification.Alert{
				Level:   notification.LevelCritical,
				Title:   "Broker session expired",
				Message: "Angel One rejected the access token. Live orders are suspended until the session is renewed.",
			})
		}
		if _, err := b.Login(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("angel login: %w", err)
		}
		s.health.SetBrokerSessionOK(true)
		s.broker = b
	} else {
		// Nothing to log in to.
		s.health.SetBrokerSessionOK(true)
	}

	var (
		rdb   *goredis.Client
		sqlDB *sql.DB
	)
	if s.redis != nil {
		rdb = s.redis.Client()
	}
	if s.store != nil {
		sqlDB = s.store.DB()
	}
	if rdb != nil || sqlDB != nil {
		s.health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)
	}
	return s, nil
}

func (s *services) alert(a notification.Alert) {
	if s.alerts != nil {
		s.alerts.Notify(a)
	}
}

// Close releases everything in reverse order of opening.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}

// gateways holds the shared paper and (when a broker session exists)
// live gateway.
type gateways struct {
	paper *execution.PaperGateway
	live  *execution.LiveGateway
}

func (s *services) newGateways() gateways {
	paperOpts := []execution.PaperOption{}
	if s.journal != nil {
		paperOpts = append(paperOpts, execution.WithRecorder(s.journal))
	}
	var g gateways
	if s.broker != nil {
		chain := execution.NewBrokerChain(s.broker)
		paperOpts = append(paperOpts, execution.WithSource(chain), execution.WithQuotes(s.broker))
		g.live = execution.NewLiveGateway(s.broker, chain)
		g.live.OnPlaced = func() { s.m.OrdersPlaced.WithLabelValues("live").Inc() }
		g.live.OnFailed = func() { s.m.OrdersFailed.WithLabelValues("live").Inc() }
	}
	g.paper = execution.NewPaperGateway(paperOpts...)
	return g
}

// checkLive fails when a configuration asks for live trading that this
// process cannot provide.
func (s *services) checkLive(cfgs []strategy.Config, g gateways) error {
	if s.cfg.PaperTrade {
		return nil
	}
	for _, c := range cfgs {
		if !c.PaperTrade && g.live == nil {
			return fmt.Errorf("%w: strategy %q wants live trading but no broker session exists", model.ErrInvalidConfiguration, c.Name)
		}
	}
	return nil
}

// deps builds per-instance collaborators. PAPER_TRADE=true forces paper
// mode for every instance.
func (s *services) deps(g gateways) engine.DepsFunc {
	return func(cfg strategy.Config) strategy.Deps {
		var gw execution.Gateway = g.paper
		mode := "paper"
		if !cfg.PaperTrade && !s.cfg.PaperTrade && g.live != nil {
			gw, mode = g.live, "live"
		}
		d := strategy.Deps{
			Gateway:         gw,
			Publisher:       s.publisher,
			Logger:          s.log,
			OnMalformedTick: func() { s.m.MalformedTicks.Inc() },
			OnLateTick:      func() { s.m.LateTicks.Inc() },
			OnCandleClosed:  func() { s.m.CandlesClosed.Inc() },
			OnTrade: func(e model.TradeEntry) {
				s.m.TradesTotal.WithLabelValues(string(e.Action), string(e.Side)).Inc()
				if mode == "paper" {
					s.m.OrdersPlaced.WithLabelValues(mode).Inc()
				}
				s.alert(notification.TradeAlert(e))
			},
		}
		if s.journal != nil {
			d.Journal = s.journal
		}
		if s.broker != nil {
			d.History = s.broker
		}
		return d
	}
}

// newEngine builds the registry and dispatcher with metrics hooks.
func (s *services) newEngine(ctx context.Context, g gateways) *engine.Engine {
	disp := engine.NewDispatcher(engine.DefaultMailbox, s.log)
	disp.OnDrop = func(id string) { s.m.DispatchDrops.WithLabelValues(id).Inc() }
	disp.OnPanic = func(string) { s.m.DispatchPanics.Inc() }
	disp.OnProcessed = func(_ string, took time.Duration) { s.m.ProcessTicksDur.Observe(took.Seconds()) }

	eng := engine.New(ctx, engine.NewRegistry(), disp, s.deps(g), s.log)
	eng.OnActiveChanged = func(n int) {
		s.m.ActiveStrategies.Set(float64(n))
		s.health.SetActiveStrategies(n)
	}
	return eng
}

// source picks the tick source: the staging JSON server when SIM_WS_URL is
// set, otherwise the Angel One stream subscribed to the configured tokens
// plus those of cfgs. The flag reports whether the source follows market
// hours.
func (s *services) source(cfgs []strategy.Config) (feed.Source, bool, error) {
	if s.cfg.SimWSURL != "" {
		src, err := feed.NewJSONWS(s.cfg.SimWSURL, s.log)
		return src, false, err
	}
	if s.broker == nil {
		return nil, false, errors.New("no tick source: set SIM_WS_URL or Angel One credentials")
	}
	tokens, err := feed.ParseTokens(subscriptionsFor(s.cfg.SubscribeTokens, cfgs))
	if err != nil {
		return nil, false, err
	}
	b := s.broker
	src := feed.NewAngel(feed.AngelConfig{APIKey: s.cfg.AngelAPIKey, Tokens: tokens},
		func(ctx context.Context) (smartconnect.Session, error) {
			sess, err := b.Refresh(ctx)
			s.health.SetBrokerSessionOK(err == nil)
			if err == nil && s.onLogin != nil {
				s.onLogin()
			}
			return sess, err
		})
	return src, true, nil
}

// subscriptionsFor adds the feed tokens of the deployed strategies to the
// configured subscription list, e.g. "1:99926000".
func subscriptionsFor(base string, cfgs []strategy.Config) string {
	seen := map[string]bool{}
	out := base
	for _, p := range strings.Split(base, ",") {
		seen[strings.TrimSpace(p)] = true
	}
	for _, c := range cfgs {
		c = c.WithDefaults()
		ex := smartconnect.ExchangeType(c.Exchange)
		if ex == 0 {
			continue
		}
		p := strconv.Itoa(ex) + ":" + c.Token
		if seen[p] {
			continue
		}
		seen[p] = true
		if out != "" {
			out += ","
		}
		out += p
	}
	return out
}

// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the signal engine.
type Metrics struct {
	reg *prometheus.Registry

	// Market data
	TicksTotal     prometheus.Counter
	MalformedTicks prometheus.Counter
	LateTicks      prometheus.Counter
	CandlesClosed  prometheus.Counter
	FeedReconnects prometheus.Counter
	FanoutDrops    *prometheus.CounterVec // labels: subscriber
	MarketState    prometheus.Gauge       // 0=closed, 1=open

	// Strategies
	ActiveStrategies prometheus.Gauge
	TradesTotal      *prometheus.CounterVec // labels: action, side
	DispatchDrops    *prometheus.CounterVec // labels: strategy_id
	DispatchPanics   prometheus.Counter
	ProcessTicksDur  prometheus.Histogram

	// Orders
	OrdersPlaced *prometheus.CounterVec // labels: mode
	OrdersFailed *prometheus.CounterVec // labels: mode

	// Storage
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// New creates the metrics on a fresh registry, so tests and several
// instances never collide on the global default registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ticks_total",
			Help: "Ticks received from the market feed",
		}),
		MalformedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_malformed_ticks_total",
			Help: "Ticks dropped for a missing or unparseable timestamp",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_late_ticks_total",
			Help: "Ticks dropped because they arrived behind the open candle",
		}),
		CandlesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_candles_closed_total",
			Help: "Candles closed by strategy aggregators",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_feed_reconnects_total",
			Help: "Market feed reconnection attempts",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_fanout_drops_total",
			Help: "Tick batches dropped by the feed bus per subscriber",
		}, []string{"subscriber"}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		ActiveStrategies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_active_strategies",
			Help: "Strategy instances currently registered",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_trades_total",
			Help: "Trade-history entries recorded",
		}, []string{"action", "side"}),
		DispatchDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_dispatch_drops_total",
			Help: "Tick batches dropped because a strategy mailbox was full",
		}, []string{"strategy_id"}),
		DispatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_dispatch_panics_total",
			Help: "Panics recovered while a strategy processed ticks",
		}),
		ProcessTicksDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_process_ticks_duration_seconds",
			Help:    "Time a strategy spends on one tick batch",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_orders_placed_total",
			Help: "Orders accepted by the execution gateway",
		}, []string{"mode"}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_orders_failed_total",
			Help: "Orders rejected by the broker",
		}, []string{"mode"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_buffered_writes_total",
			Help: "Publishes buffered locally while the Redis circuit was open",
		}),
	}

	m.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.MalformedTicks,
		m.LateTicks,
		m.CandlesClosed,
		m.FeedReconnects,
		m.FanoutDrops,
		m.MarketState,
		m.ActiveStrategies,
		m.TradesTotal,
		m.DispatchDrops,
		m.DispatchPanics,
		m.ProcessTicksDur,
		m.OrdersPlaced,
		m.OrdersFailed,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics: server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics: server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

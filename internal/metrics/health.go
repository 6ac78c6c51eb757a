package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks the liveness of the process and its dependencies.
// Redis and SQLite count only once a liveness checker watches them.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected    bool
	BrokerSessionOK  bool
	LastTickTime     time.Time
	ActiveStrategies int

	redisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	sqliteEnabled   bool
	SQLiteOK        bool
	SQLiteLatencyMs float64

	LastCheckAt time.Time
	StartedAt   time.Time
	now         func() time.Time
}

// NewHealthStatus returns a health status with the start time set.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), now: time.Now}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBrokerSessionOK(v bool) {
	h.mu.Lock()
	h.BrokerSessionOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveStrategies(n int) {
	h.mu.Lock()
	h.ActiveStrategies = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs the dependency checks every interval. Nil
// dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

type healthReport struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	FeedConnected    bool    `json:"feed_connected"`
	BrokerSessionOK  bool    `json:"broker_session_ok"`
	LastTickTime     string  `json:"last_tick_time,omitempty"`
	TickAge          string  `json:"tick_age,omitempty"`
	ActiveStrategies int     `json:"active_strategies"`
	RedisConnected   *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs   float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK         *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs  float64 `json:"sqlite_latency_ms,omitempty"`
}

func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rep := healthReport{
		Status:           "healthy",
		Uptime:           h.now().Sub(h.StartedAt).Round(time.Second).String(),
		FeedConnected:    h.FeedConnected,
		BrokerSessionOK:  h.BrokerSessionOK,
		ActiveStrategies: h.ActiveStrategies,
	}
	if !h.LastTickTime.IsZero() {
		rep.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		rep.TickAge = h.now().Sub(h.LastTickTime).Round(time.Millisecond).String()
	}

	degraded := !h.FeedConnected || !h.BrokerSessionOK
	if h.redisEnabled {
		ok := h.RedisConnected
		rep.RedisConnected = &ok
		rep.RedisLatencyMs = h.RedisLatencyMs
		degraded = degraded || !ok
	}
	if h.sqliteEnabled {
		ok := h.SQLiteOK
		rep.SQLiteOK = &ok
		rep.SQLiteLatencyMs = h.SQLiteLatencyMs
		degraded = degraded || !ok
	}

	code := http.StatusOK
	if degraded {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && !h.BrokerSessionOK {
		rep.Status = "unhealthy"
	}
	return rep, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rep)
}

// Package redis publishes strategy status snapshots and trade events to
// Redis for dashboards and other observers.
//
// Keys:
//
//	strategy:status:<id>        latest status snapshot (JSON string, TTL)
//	strategy:trades:<id>        trade-history stream (XADD, capped)
//	pub:strategy:status:<id>    PubSub channel, one message per snapshot
//	pub:strategy:trades:<id>    PubSub channel, one message per trade
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/internal/model"
)

const (
	statusKeyPrefix     = "strategy:status:"
	tradesKeyPrefix     = "strategy:trades:"
	statusChannelPrefix = "pub:strategy:status:"
	tradesChannelPrefix = "pub:strategy:trades:"

	defaultStatusTTL = 24 * time.Hour
	tradesMaxLen     = 10000
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// conn is the subset of the Redis client the publisher uses.
type conn interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// Publisher writes status snapshots and trade events. It implements
// model.StatusPublisher.
type Publisher struct {
	conn   conn
	client *goredis.Client // nil when built over a fake conn
	ttl    time.Duration
}

var _ model.StatusPublisher = (*Publisher)(nil)

// New connects to Redis and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis: connected", "addr", cfg.Addr)
	return &Publisher{conn: client, client: client, ttl: defaultStatusTTL}, nil
}

func newClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// PublishStatus stores the snapshot as the latest status of strategyID and
// announces it on the status channel.
func (p *Publisher) PublishStatus(ctx context.Context, strategyID string, snapshot []byte) error {
	data := string(snapshot)
	if err := p.conn.Set(ctx, statusKeyPrefix+strategyID, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set status %s: %w", strategyID, err)
	}
	if err := p.conn.Publish(ctx, statusChannelPrefix+strategyID, data).Err(); err != nil {
		return fmt.Errorf("redis publish status %s: %w", strategyID, err)
	}
	return nil
}

// PublishTrade appends the entry to the strategy's trade stream and
// announces it on the trades channel.
func (p *Publisher) PublishTrade(ctx context.Context, e model.TradeEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	err = p.conn.XAdd(ctx, &goredis.XAddArgs{
		Stream: tradesKeyPrefix + e.StrategyID,
		MaxLen: tradesMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd trade %s: %w", e.StrategyID, err)
	}
	if err := p.conn.Publish(ctx, tradesChannelPrefix+e.StrategyID, string(data)).Err(); err != nil {
		return fmt.Errorf("redis publish trade %s: %w", e.StrategyID, err)
	}
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/internal/model"
)

// ErrNoStatus is returned when no snapshot is stored for a strategy.
var ErrNoStatus = errors.New("no status published")

// Event is one message received on a strategy channel.
type Event struct {
	Kind       string // "status" or "trade"
	StrategyID string
	Payload    []byte
}

// Reader reads what Publisher writes.
type Reader struct {
	client *goredis.Client
}

// NewReader connects to Redis and pings the server.
func NewReader(cfg Config) (*Reader, error) {
	client := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Reader{client: client}, nil
}

// Status returns the latest snapshot JSON of strategyID.
func (r *Reader) Status(ctx context.Context, strategyID string) ([]byte, error) {
	b, err := r.client.Get(ctx, statusKeyPrefix+strategyID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNoStatus, strategyID)
	}
	return b, err
}

// StatusIDs lists the strategies with a stored snapshot, sorted.
func (r *Reader) StatusIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, statusKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, statusKeyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(ids)
	return ids, nil
}

// Trades returns up to count of the most recent trade entries of
// strategyID, oldest first.
func (r *Reader) Trades(ctx context.Context, strategyID string, count int64) ([]model.TradeEntry, error) {
	msgs, err := r.client.XRevRangeN(ctx, tradesKeyPrefix+strategyID, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange: %w", err)
	}
	out := make([]model.TradeEntry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var e model.TradeEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Watch forwards status and trade messages to out until ctx is cancelled.
func (r *Reader) Watch(ctx context.Context, out chan<- Event) error {
	sub := r.client.PSubscribe(ctx, "pub:strategy:*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := parseEvent(msg.Channel, msg.Payload)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func parseEvent(channel, payload string) (Event, bool) {
	switch {
	case strings.HasPrefix(channel, statusChannelPrefix):
		return Event{Kind: "status", StrategyID: strings.TrimPrefix(channel, statusChannelPrefix), Payload: []byte(payload)}, true
	case strings.HasPrefix(channel, tradesChannelPrefix):
		return Event{Kind: "trade", StrategyID: strings.TrimPrefix(channel, tradesChannelPrefix), Payload: []byte(payload)}, true
	}
	return Event{}, false
}

// Close closes the connection.
func (r *Reader) Close() error {
	return r.client.Close()
}

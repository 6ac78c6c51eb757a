package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine from concrete storage implementations
// (Redis, SQLite). Each implementation satisfies one or more of them.

// TickStore persists live ticks and reads them back for replay.
type TickStore interface {
	// SaveTicks writes a batch of ticks in a single transaction.
	SaveTicks(ctx context.Context, ticks []Tick) error

	// ReadTicks returns ticks for one instrument in [from, to], ordered by time.
	ReadTicks(ctx context.Context, exchange, token string, from, to time.Time) ([]Tick, error)

	// Close releases underlying resources.
	Close() error
}

// TradeJournal persists trade-history entries for audit.
type TradeJournal interface {
	RecordTrade(ctx context.Context, entry TradeEntry) error
}

// StatusPublisher pushes status snapshots and trade events to observers.
// The payloads are JSON so the model package stays free of strategy types.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, strategyID string, snapshot []byte) error
	PublishTrade(ctx context.Context, entry TradeEntry) error
}

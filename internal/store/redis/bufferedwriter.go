package redis

import (
	"context"
	"log/slog"
	"sync"

	"signalengine/internal/model"
)

// BufferedPublisher wraps a publisher with a circuit breaker. While the
// circuit is open, writes are kept locally and replayed when it closes:
// only the latest snapshot per strategy, and trade events in order up to
// maxBuf (oldest dropped first).
type BufferedPublisher struct {
	pub model.StatusPublisher
	cb  *CircuitBreaker
	ctx context.Context

	mu       sync.Mutex
	statuses map[string][]byte
	trades   []model.TradeEntry
	maxBuf   int

	// Callbacks (metrics)
	OnBuffer func()
	OnFlush  func(count int)
}

var _ model.StatusPublisher = (*BufferedPublisher)(nil)

// NewBufferedPublisher creates a BufferedPublisher. ctx bounds replays.
func NewBufferedPublisher(ctx context.Context, pub model.StatusPublisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:      pub,
		cb:       cb,
		ctx:      ctx,
		statuses: make(map[string][]byte),
		maxBuf:   maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishStatus publishes through the breaker, buffering while it is open.
func (bp *BufferedPublisher) PublishStatus(ctx context.Context, strategyID string, snapshot []byte) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishStatus(ctx, strategyID, snapshot)
	})
	if err == ErrCircuitOpen {
		cp := make([]byte, len(snapshot))
		copy(cp, snapshot)
		bp.mu.Lock()
		bp.statuses[strategyID] = cp
		bp.mu.Unlock()
		bp.buffered()
		return nil
	}
	return err
}

// PublishTrade publishes through the breaker, buffering while it is open.
func (bp *BufferedPublisher) PublishTrade(ctx context.Context, e model.TradeEntry) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishTrade(ctx, e)
	})
	if err == ErrCircuitOpen {
		bp.mu.Lock()
		if len(bp.trades) >= bp.maxBuf {
			bp.trades = bp.trades[1:]
		}
		bp.trades = append(bp.trades, e)
		bp.mu.Unlock()
		bp.buffered()
		return nil
	}
	return err
}

func (bp *BufferedPublisher) buffered() {
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered writes: trades first, then the latest snapshots.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	trades, statuses := bp.trades, bp.statuses
	bp.trades = nil
	bp.statuses = make(map[string][]byte)
	bp.mu.Unlock()

	if len(trades) == 0 && len(statuses) == 0 {
		return
	}

	flushed := 0
	for _, e := range trades {
		if err := bp.pub.PublishTrade(bp.ctx, e); err != nil {
			slog.Warn("redis: replaying buffered trade failed", "strategy_id", e.StrategyID, "error", err)
			continue
		}
		flushed++
	}
	for id, snap := range statuses {
		if err := bp.pub.PublishStatus(bp.ctx, id, snap); err != nil {
			slog.Warn("redis: replaying buffered status failed", "strategy_id", id, "error", err)
			continue
		}
		flushed++
	}

	slog.Info("redis: flushed buffered writes", "count", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.trades) + len(bp.statuses)
}

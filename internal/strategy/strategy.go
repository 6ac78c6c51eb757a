// Package strategy runs per-instrument trading state machines.
//
// A Strategy consumes ticks, aggregates them into candles, and opens or
// closes at most one position at a time through an execution.Gateway.
// Two kinds exist: opening-range breakout (ORB) and the EMA signal-candle
// reversal (Mountain-Signal). Both share the same tick path, so live,
// replay and backtest runs make identical decisions for identical input.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signalengine/internal/execution"
	"signalengine/internal/id"
	"signalengine/internal/model"
)

// Strategy is one deployed strategy instance.
type Strategy interface {
	// ID returns the run id.
	ID() string

	// Config returns the immutable configuration.
	Config() Config

	// Run moves Initializing → Running. Calling it again is a no-op.
	Run(ctx context.Context)

	// ProcessTicks feeds a batch of ticks in order. Ticks for other
	// instruments are ignored. Calls are serialized per instance.
	ProcessTicks(ctx context.Context, ticks []model.Tick)

	// Flush closes the open candle at the end of a bounded run.
	Flush(ctx context.Context)

	// SquareOff exits the open position, if any. It is a no-op when flat.
	SquareOff(ctx context.Context, reason string) error

	// Status returns the latest published snapshot. Never blocks.
	Status() Status
}

// CandleSource serves historical candles in paise.
type CandleSource interface {
	Candles(ctx context.Context, exchange, token string, minutes int, from, to time.Time) ([]model.Candle, error)
}

// Deps are the collaborators a strategy talks to.
type Deps struct {
	Gateway   execution.Gateway
	Journal   model.TradeJournal    // optional
	Publisher model.StatusPublisher // optional
	History   CandleSource          // optional, seeds a missed ORB range
	Logger    *slog.Logger          // optional, defaults to slog.Default()

	// Metrics hooks (optional)
	OnMalformedTick func()
	OnLateTick      func()
	OnCandleClosed  func()
	OnTrade         func(model.TradeEntry)
}

// New builds the strategy selected by cfg.Kind. Defaults are applied and the
// configuration is validated; failures wrap model.ErrInvalidConfiguration.
func New(cfg Config, deps Deps) (Strategy, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("%w: no execution gateway", model.ErrInvalidConfiguration)
	}
	if cfg.ID == "" {
		cfg.ID = id.New()
	}

	switch cfg.Kind {
	case KindORB:
		return newORB(cfg, deps), nil
	case KindMountain:
		return newMountain(cfg, deps), nil
	}
	return nil, fmt.Errorf("%w: unknown strategy type %q", model.ErrInvalidConfiguration, cfg.Kind)
}

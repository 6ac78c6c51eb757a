// Package engine owns the running strategy instances of a live process and
// routes market data to them.
package engine

import (
	"context"
	"log/slog"

	"signalengine/internal/id"
	"signalengine/internal/strategy"
)

// DepsFunc builds the collaborators for a new instance. It lets the caller
// pick a paper or live gateway per configuration.
type DepsFunc func(cfg strategy.Config) strategy.Deps

// Engine ties the registry and the dispatcher together.
type Engine struct {
	ctx  context.Context // bounds the dispatcher workers
	reg  *Registry
	disp *Dispatcher
	deps DepsFunc
	log  *slog.Logger

	// OnActiveChanged reports the number of registered instances (metrics).
	OnActiveChanged func(n int)
}

// New creates an engine. Instance workers stop when ctx is cancelled.
func New(ctx context.Context, reg *Registry, disp *Dispatcher, deps DepsFunc, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{ctx: ctx, reg: reg, disp: disp, deps: deps, log: log}
}

// Registry exposes the instance registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Dispatcher exposes the tick dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.disp }

// Deploy constructs, registers and starts a strategy instance. Invalid
// configurations fail with model.ErrInvalidConfiguration and never run.
func (e *Engine) Deploy(ctx context.Context, cfg strategy.Config) (strategy.Strategy, error) {
	if cfg.ID == "" {
		cfg.ID = id.New()
	}
	s, err := strategy.New(cfg, e.deps(cfg))
	if err != nil {
		return nil, err
	}
	if err := e.reg.Add(s); err != nil {
		return nil, err
	}
	if err := e.disp.Attach(e.ctx, s); err != nil {
		_, _ = e.reg.Remove(s.ID())
		return nil, err
	}
	s.Run(ctx)
	e.changed()

	c := s.Config()
	e.log.Info("strategy deployed",
		"strategy_id", s.ID(), "kind", c.Kind, "instrument", c.Instrument,
		"paper_trade", c.PaperTrade, "window", c.StartTime+"-"+c.EndTime)
	return s, nil
}

// Status returns the latest snapshot of id.
func (e *Engine) Status(id string) (strategy.Status, error) {
	s, err := e.reg.Get(id)
	if err != nil {
		return strategy.Status{}, err
	}
	return s.Status(), nil
}

// Statuses returns the snapshots of every instance ordered by id.
func (e *Engine) Statuses() []strategy.Status {
	list := e.reg.List()
	out := make([]strategy.Status, len(list))
	for i, s := range list {
		out[i] = s.Status()
	}
	return out
}

// SquareOff stops delivery to id, exits any open position and removes the
// instance. The final snapshot is returned. Unknown ids fail with
// ErrNotFound.
func (e *Engine) SquareOff(ctx context.Context, id, reason string) (strategy.Status, error) {
	s, err := e.reg.Get(id)
	if err != nil {
		return strategy.Status{}, err
	}
	_ = e.disp.Detach(id)
	err = s.SquareOff(ctx, reason)
	if _, rerr := e.reg.Remove(id); rerr != nil {
		// Raced with another square-off; the instance is gone either way.
		e.log.Debug("square-off: already removed", "strategy_id", id)
	}
	e.changed()
	st := s.Status()
	e.log.Info("strategy squared off", "strategy_id", id, "reason", reason, "pnl", st.PnL, "trades", st.Trades)
	return st, err
}

// SquareOffAll squares off every instance, e.g. on shutdown.
func (e *Engine) SquareOffAll(ctx context.Context, reason string) []strategy.Status {
	var out []strategy.Status
	for _, s := range e.reg.List() {
		st, err := e.SquareOff(ctx, s.ID(), reason)
		if err != nil {
			e.log.Warn("square-off failed", "strategy_id", s.ID(), "error", err)
		}
		out = append(out, st)
	}
	return out
}

func (e *Engine) changed() {
	if e.OnActiveChanged != nil {
		e.OnActiveChanged(e.reg.Len())
	}
}

// Package notification delivers trading alerts (fills, broker session loss)
// to Telegram, a webhook, or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"signalengine/internal/model"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"ts"`
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Log writes alerts to a logger.
type Log struct {
	log *slog.Logger
}

// NewLog creates a log notifier.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (n *Log) Send(_ context.Context, a Alert) error {
	n.log.Info("alert", "level", a.Level, "title", a.Title, "message", a.Message)
	return nil
}

// Multi sends every alert to each notifier and joins the failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TradeAlert describes a trade-history entry.
func TradeAlert(e model.TradeEntry) Alert {
	a := Alert{Level: LevelInfo, Time: e.Time}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s x%d @ %.2f", strings.ToUpper(string(e.Side)), e.Symbol, e.Quantity, e.Price)
	switch e.Action {
	case model.ActionEntry:
		a.Title = "Entry " + e.StrategyID
	default:
		a.Title = "Exit " + e.StrategyID
		fmt.Fprintf(&b, ", P&L %.2f", e.PnL)
		if e.PnL < 0 {
			a.Level = LevelWarning
		}
	}
	if e.Reason != "" {
		b.WriteString(" (" + e.Reason + ")")
	}
	a.Message = b.String()
	return a
}

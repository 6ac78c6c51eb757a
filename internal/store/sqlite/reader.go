package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"signalengine/internal/model"
)

// ReadTicks returns the recorded ticks of one instrument with timestamps in
// [from, to], in recording order. A zero to means no upper bound.
func (s *Store) ReadTicks(ctx context.Context, exchange, token string, from, to time.Time) ([]model.Tick, error) {
	upper := int64(math.MaxInt64)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange, token, ts_ms, price, qty
		FROM tick_data
		WHERE exchange = ? AND token = ? AND ts_ms >= ? AND ts_ms <= ?
		ORDER BY ts_ms ASC, id ASC
	`, exchange, token, from.UnixMilli(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite query tick_data: %w", err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var t model.Tick
		var ms int64
		if err := rows.Scan(&t.Exchange, &t.Token, &ms, &t.Price, &t.Qty); err != nil {
			return nil, fmt.Errorf("sqlite scan tick_data: %w", err)
		}
		t.TickTS = time.UnixMilli(ms).UTC()
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// ReadCandles returns stored candles of one instrument and interval (seconds)
// with start times in [from, to], ordered by start time. A zero to means no
// upper bound.
func (s *Store) ReadCandles(ctx context.Context, exchange, token string, tf int, from, to time.Time) ([]model.Candle, error) {
	upper := int64(math.MaxInt64)
	if !to.IsZero() {
		upper = to.Unix()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange, token, tf, ts, open, high, low, close, volume, ticks_count
		FROM candles
		WHERE exchange = ? AND token = ? AND tf = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, exchange, token, tf, from.Unix(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ts int64
		if err := rows.Scan(&c.Exchange, &c.Token, &c.TF, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TicksCount); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LastTickTime returns the newest recorded tick time of an instrument, or
// the zero time when none exist.
func (s *Store) LastTickTime(ctx context.Context, exchange, token string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts_ms) FROM tick_data WHERE exchange = ? AND token = ?`,
		exchange, token,
	).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, err
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

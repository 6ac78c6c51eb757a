// Package replay reads recorded ticks from SQLite and emits them at a
// configurable speed, so a recorded session can drive live strategies.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"signalengine/internal/model"
)

// TickReader is the storage the replayer loads from.
type TickReader interface {
	ReadTicks(ctx context.Context, exchange, token string, from, to time.Time) ([]model.Tick, error)
}

// Instrument selects one recorded instrument.
type Instrument struct {
	Exchange string
	Token    string
}

// MaxGap caps the sleep between two ticks regardless of speed.
const MaxGap = 5 * time.Second

// Replayer emits recorded ticks in event-time order.
type Replayer struct {
	reader TickReader
	log    *slog.Logger

	// Batch is the largest batch emitted at once when speed is 0.
	Batch int
}

// New creates a Replayer backed by a tick reader.
func New(reader TickReader, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{reader: reader, log: log, Batch: 500}
}

// Load reads ticks for all instruments in [from, to] and merges them by
// timestamp. Ties keep per-instrument storage order.
func (r *Replayer) Load(ctx context.Context, instruments []Instrument, from, to time.Time) ([]model.Tick, error) {
	var all []model.Tick
	for _, in := range instruments {
		ticks, err := r.reader.ReadTicks(ctx, in.Exchange, in.Token, from, to)
		if err != nil {
			return nil, fmt.Errorf("replay: load %s:%s: %w", in.Exchange, in.Token, err)
		}
		all = append(all, ticks...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TickTS.Before(all[j].TickTS) })
	r.log.Info("replay: loaded", "ticks", len(all), "instruments", len(instruments))
	return all, nil
}

// Run emits ticks into out. speed 1 is real time, 10 is ten times faster,
// 0 is as fast as possible in batches. Ticks sharing a timestamp always go
// out in one batch. out is not closed.
func (r *Replayer) Run(ctx context.Context, ticks []model.Tick, speed float64, out chan<- []model.Tick) error {
	var prev time.Time
	emitted := 0

	for i := 0; i < len(ticks); {
		j := r.next(ticks, i, speed)
		batch := ticks[i:j:j]

		if speed > 0 && !prev.IsZero() {
			if gap := batch[0].TickTS.Sub(prev); gap > 0 {
				wait := time.Duration(float64(gap) / speed)
				if wait > MaxGap {
					wait = MaxGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prev = batch[len(batch)-1].TickTS

		select {
		case <-ctx.Done():
			r.log.Info("replay: cancelled", "emitted", emitted)
			return ctx.Err()
		case out <- batch:
		}
		emitted += len(batch)
		i = j
	}

	r.log.Info("replay: completed", "emitted", emitted)
	return nil
}

// next returns the end of the batch starting at i.
func (r *Replayer) next(ticks []model.Tick, i int, speed float64) int {
	j := i + 1
	for j < len(ticks) && ticks[j].TickTS.Equal(ticks[i].TickTS) {
		j++
	}
	if speed > 0 {
		return j
	}
	max := r.Batch
	if max <= 0 {
		max = 500
	}
	for j < len(ticks) && j-i < max {
		j++
	}
	return j
}

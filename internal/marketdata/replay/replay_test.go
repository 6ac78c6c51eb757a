package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
)

type memReader map[string][]model.Tick

func (m memReader) ReadTicks(_ context.Context, exchange, token string, _, _ time.Time) ([]model.Tick, error) {
	return m[exchange+":"+token], nil
}

var t0 = time.Date(2025, 3, 3, 3, 45, 0, 0, time.UTC)

func tick(token string, sec int, price int64) model.Tick {
	return model.Tick{Exchange: "NSE", Token: token, Price: price, TickTS: t0.Add(time.Duration(sec) * time.Second)}
}

func TestLoad_MergesByTime(t *testing.T) {
	r := New(memReader{
		"NSE:A": {tick("A", 0, 1), tick("A", 2, 2)},
		"NSE:B": {tick("B", 1, 3), tick("B", 2, 4)},
	}, nil)

	got, err := r.Load(context.Background(), []Instrument{{"NSE", "A"}, {"NSE", "B"}}, time.Time{}, time.Time{})
	require.NoError(t, err)

	var prices []int64
	for _, tk := range got {
		prices = append(prices, tk.Price)
	}
	assert.Equal(t, []int64{1, 3, 2, 4}, prices)
}

func TestRun_FastBatches(t *testing.T) {
	r := New(memReader{}, nil)
	r.Batch = 2
	ticks := []model.Tick{tick("A", 0, 1), tick("A", 1, 2), tick("A", 2, 3), tick("A", 3, 4), tick("A", 4, 5)}

	out := make(chan []model.Tick, 10)
	require.NoError(t, r.Run(context.Background(), ticks, 0, out))
	close(out)

	var sizes []int
	for b := range out {
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestRun_PacedKeepsSameTimestampTogether(t *testing.T) {
	r := New(memReader{}, nil)
	ticks := []model.Tick{tick("A", 0, 1), tick("B", 0, 2), tick("A", 1, 3)}

	out := make(chan []model.Tick, 10)
	start := time.Now()
	require.NoError(t, r.Run(context.Background(), ticks, 100, out))
	close(out)

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	var sizes []int
	for b := range out {
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestRun_Cancelled(t *testing.T) {
	r := New(memReader{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, []model.Tick{tick("A", 0, 1)}, 0, make(chan []model.Tick))
	assert.ErrorIs(t, err, context.Canceled)
}

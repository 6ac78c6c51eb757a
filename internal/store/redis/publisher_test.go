package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
)

// fakeConn records commands instead of talking to Redis.
type fakeConn struct {
	mu        sync.Mutex
	sets      map[string]string
	published []string // channel names
	streams   map[string][]map[string]interface{}
	err       error
}

func newFakeConn() *fakeConn {
	return &fakeConn{sets: map[string]string{}, streams: map[string][]map[string]interface{}{}}
}

func (f *fakeConn) Set(_ context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.sets[key] = value.(string)
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeConn) Publish(_ context.Context, channel string, _ interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	f.published = append(f.published, channel)
	return goredis.NewIntResult(1, nil)
}

func (f *fakeConn) XAdd(_ context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	f.streams[a.Stream] = append(f.streams[a.Stream], a.Values.(map[string]interface{}))
	return goredis.NewStringResult("1-0", nil)
}

func (f *fakeConn) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeConn) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestPublisher_StatusAndTrade(t *testing.T) {
	ctx := context.Background()
	fc := newFakeConn()
	p := &Publisher{conn: fc, ttl: time.Hour}

	require.NoError(t, p.PublishStatus(ctx, "run1", []byte(`{"state":"running"}`)))
	assert.Equal(t, `{"state":"running"}`, fc.sets["strategy:status:run1"])

	e := model.TradeEntry{StrategyID: "run1", Action: model.ActionEntry, Side: model.Long, Price: 22163.4, OrderID: "PAPER-1"}
	require.NoError(t, p.PublishTrade(ctx, e))
	require.Len(t, fc.streams["strategy:trades:run1"], 1)

	var got model.TradeEntry
	require.NoError(t, json.Unmarshal([]byte(fc.streams["strategy:trades:run1"][0]["data"].(string)), &got))
	assert.Equal(t, e, got)
	assert.Equal(t, []string{"pub:strategy:status:run1", "pub:strategy:trades:run1"}, fc.published)

	fc.fail(errors.New("connection refused"))
	assert.Error(t, p.PublishStatus(ctx, "run1", []byte(`{}`)))
	assert.NoError(t, p.Close())
}

func TestBufferedPublisher_BuffersWhileOpenAndFlushes(t *testing.T) {
	ctx := context.Background()
	fc := newFakeConn()
	cb, now := testBreaker(1)
	bp := NewBufferedPublisher(ctx, &Publisher{conn: fc, ttl: time.Hour}, cb, 2)

	flushed := make(chan int, 1)
	bp.OnFlush = func(n int) { flushed <- n }

	fc.fail(errors.New("down"))
	assert.Error(t, bp.PublishStatus(ctx, "run1", []byte(`{"v":0}`)))
	require.Equal(t, StateOpen, cb.State())

	// Open circuit: buffered, not failed.
	require.NoError(t, bp.PublishStatus(ctx, "run1", []byte(`{"v":1}`)))
	require.NoError(t, bp.PublishStatus(ctx, "run1", []byte(`{"v":2}`)))
	for i := 0; i < 3; i++ {
		require.NoError(t, bp.PublishTrade(ctx, model.TradeEntry{StrategyID: "run1", Price: float64(i)}))
	}
	assert.Equal(t, 3, bp.PendingCount(), "latest status plus two newest trades")

	fc.fail(nil)
	*now = now.Add(time.Minute)
	require.NoError(t, bp.PublishStatus(ctx, "run2", []byte(`{"v":3}`)))

	select {
	case n := <-flushed:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("buffer never flushed")
	}
	assert.Zero(t, bp.PendingCount())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, `{"v":2}`, fc.sets["strategy:status:run1"])
	require.Len(t, fc.streams["strategy:trades:run1"], 2)
	assert.Contains(t, fc.streams["strategy:trades:run1"][0]["data"], `"price":1`)
}

func TestParseEvent(t *testing.T) {
	ev, ok := parseEvent("pub:strategy:status:abc", `{}`)
	require.True(t, ok)
	assert.Equal(t, Event{Kind: "status", StrategyID: "abc", Payload: []byte(`{}`)}, ev)

	ev, ok = parseEvent("pub:strategy:trades:abc", `{}`)
	require.True(t, ok)
	assert.Equal(t, "trade", ev.Kind)

	_, ok = parseEvent("pub:candle:300s:NSE:1", `{}`)
	assert.False(t, ok)
}

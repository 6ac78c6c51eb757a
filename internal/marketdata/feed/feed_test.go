package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
	"signalengine/pkg/smartconnect"
)

func TestBatch_FlushesOnSize(t *testing.T) {
	in := make(chan model.Tick, 10)
	out := make(chan []model.Tick, 10)
	for i := 0; i < 5; i++ {
		in <- model.Tick{Token: "1", Price: int64(i)}
	}
	close(in)

	Batch(context.Background(), in, out, 2, time.Hour)

	var sizes []int
	for b := range out {
		sizes = append(sizes, len(b))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestBatch_FlushesOnInterval(t *testing.T) {
	in := make(chan model.Tick)
	out := make(chan []model.Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Batch(ctx, in, out, 100, 10*time.Millisecond)

	in <- model.Tick{Token: "1"}
	select {
	case b := <-out:
		assert.Len(t, b, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("partial batch not flushed")
	}
}

func TestParseTokens(t *testing.T) {
	got, err := ParseTokens("1:99926000, 2:43125,1:99926009")
	require.NoError(t, err)
	assert.Equal(t, []smartconnect.TokenList{
		{ExchangeType: 1, Tokens: []string{"99926000", "99926009"}},
		{ExchangeType: 2, Tokens: []string{"43125"}},
	}, got)

	_, err = ParseTokens("NSE-99926000")
	assert.Error(t, err)
}

func TestQuoteTick(t *testing.T) {
	tk := quoteTick(smartconnect.Quote{ExchangeType: 1, Token: "99926000", LTP: 2212050, ExchangeTS: 1740973500000})
	assert.Equal(t, "NSE", tk.Exchange)
	assert.Equal(t, int64(2212050), tk.Price)
	assert.True(t, tk.TickTS.Equal(time.UnixMilli(1740973500000)))

	tk = quoteTick(smartconnect.Quote{ExchangeType: 99, Token: "1"})
	assert.Equal(t, "EX_99", tk.Exchange)
	assert.True(t, tk.TickTS.IsZero())
}

func TestDecodeRaw(t *testing.T) {
	ticks, err := decodeRaw([]byte(`[
		{"token":"99926000","exchange":"NSE","price":22120.5,"timestamp":1740973500},
		{"token":"99926000","exchange":"NSE","price":22121,"timestamp":"garbage"},
		{"token":"","exchange":"NSE","price":1,"timestamp":1740973500}
	]`))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, int64(2212050), ticks[0].Price)
	assert.False(t, ticks[0].TickTS.IsZero())
	assert.True(t, ticks[1].TickTS.IsZero(), "bad timestamp is left for the aggregator to reject")

	ticks, err = decodeRaw([]byte(`{"token":"1","exchange":"NSE","price":1,"timestamp":"2025-03-03T09:15:00+05:30"}`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	_, err = decodeRaw([]byte(`{`))
	assert.Error(t, err)
}

func TestNewJSONWS_RejectsHTTP(t *testing.T) {
	_, err := NewJSONWS("http://localhost:9001/ws", nil)
	assert.Error(t, err)
}

func TestJSONWS_Stream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"token":"99926000","exchange":"NSE","price":100,"timestamp":1740973500}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"token":"99926000","exchange":"NSE","price":101,"timestamp":1740973501}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src, err := NewJSONWS("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan model.Tick, 4)
	errc := make(chan error, 1)
	go func() { errc <- src.Stream(ctx, out) }()

	a, b := <-out, <-out
	assert.Equal(t, int64(10000), a.Price)
	assert.Equal(t, int64(10100), b.Price)

	cancel()
	assert.NoError(t, <-errc)
}

type flakySource struct {
	calls atomic.Int32
	fails int32
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Stream(ctx context.Context, out chan<- model.Tick) error {
	if f.calls.Add(1) <= f.fails {
		return errors.New("connection reset")
	}
	out <- model.Tick{Token: "1"}
	<-ctx.Done()
	return nil
}

func TestFeed_Reconnects(t *testing.T) {
	src := &flakySource{fails: 2}
	f := New(src, Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	var reconnects atomic.Int32
	f.OnReconnect = func(error) { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Tick, 1)
	done := make(chan struct{})
	go func() {
		f.Run(ctx, out)
		close(done)
	}()

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick after reconnecting")
	}
	cancel()
	<-done

	assert.Equal(t, int32(2), reconnects.Load())
	assert.Equal(t, int32(3), src.calls.Load())
}

package tickserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/marketdata/feed"
	"signalengine/internal/model"
)

func TestParseInstruments(t *testing.T) {
	got, err := ParseInstruments("99926000:NSE, 123:NFO")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(22100_00), got[0].Price)
	assert.Equal(t, int64(1000_00), got[1].Price)

	_, err = ParseInstruments("99926000")
	assert.Error(t, err)
	_, err = ParseInstruments("")
	assert.Error(t, err)
}

func TestStep_EmitsNormalizableRawTicks(t *testing.T) {
	s := New([]Instrument{{Token: "1", Exchange: "NSE", Price: 100_00}}, time.Second, 1, nil)
	at := time.Date(2025, 3, 3, 3, 45, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	for i := 0; i < 50; i++ {
		msgs := s.Step()
		require.Len(t, msgs, 1)

		var raw model.RawTick
		require.NoError(t, json.Unmarshal(msgs[0], &raw))
		tk, err := raw.Normalize()
		require.NoError(t, err)
		assert.True(t, tk.TickTS.Equal(at))
		assert.InDelta(t, 100_00, tk.Price, 100_00*0.06, "fifty steps of at most 0.1%")
	}
}

func TestServer_FeedsJSONSource(t *testing.T) {
	s := New([]Instrument{{Token: "99926000", Exchange: "NSE", Price: 22100_00}}, 5*time.Millisecond, 7, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)

	src, err := feed.NewJSONWS("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	out := make(chan model.Tick, 16)
	go src.Stream(ctx, out)

	select {
	case tk := <-out:
		assert.Equal(t, "99926000", tk.Token)
		assert.False(t, tk.TickTS.IsZero())
		assert.Positive(t, tk.Qty)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

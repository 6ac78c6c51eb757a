package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestTradeAlert(t *testing.T) {
	at := time.Date(2024, 6, 3, 10, 0, 0, 0, model.IST)
	entry := TradeAlert(model.TradeEntry{
		StrategyID: "s1", Time: at, Action: model.ActionEntry, Side: model.Long,
		Price: 22500, Quantity: 75, Symbol: "NIFTY27JUN2422500CE", Reason: "breakout",
	})
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, "Entry s1", entry.Title)
	assert.Equal(t, "LONG NIFTY27JUN2422500CE x75 @ 22500.00 (breakout)", entry.Message)
	assert.Equal(t, at, entry.Time)

	exit := TradeAlert(model.TradeEntry{StrategyID: "s1", Action: model.ActionExit, Side: model.Long, Price: 22450, Quantity: 75, PnL: -3750})
	assert.Equal(t, LevelWarning, exit.Level)
	assert.Contains(t, exit.Message, "P&L -3750.00")
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok, bad := &recorder{}, &recorder{err: errors.New("down")}
	err := Multi{ok, bad}.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, ok.len())
	assert.Equal(t, 1, bad.len())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 1, nil)
	drops := 0
	a.OnDrop = func() { drops++ }

	a.Notify(Alert{Title: "first"})
	a.Notify(Alert{Title: "second"})
	assert.Equal(t, 1, drops)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.False(t, rec.alerts[0].Time.IsZero())
}

func TestWebhook_Send(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), Alert{Level: LevelCritical, Title: "session lost"})
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, got.Level)
	assert.Equal(t, "session lost", got.Title)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	assert.ErrorContains(t, NewWebhook(bad.URL).Send(context.Background(), Alert{}), "502")
}

func TestTelegram_Send(t *testing.T) {
	var (
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), Alert{Level: LevelInfo, Title: "Entry s-1", Message: "P&L 1.5"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.Contains(t, body["text"], `*Entry s\-1*`)
	assert.Contains(t, body["text"], `P&L 1\.5`)
}

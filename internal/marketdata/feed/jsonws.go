package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gorilla/websocket"

	"signalengine/internal/model"
)

// JSONWS streams ticks from a WebSocket that sends model.RawTick JSON,
// either one object or an array per message. No broker credentials needed.
type JSONWS struct {
	URL string
	log *slog.Logger
}

// NewJSONWS validates the URL and returns the source.
func NewJSONWS(rawURL string, log *slog.Logger) (*JSONWS, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed: %q is not a websocket url", rawURL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &JSONWS{URL: rawURL, log: log}, nil
}

func (j *JSONWS) Name() string { return "jsonws" }

// Stream makes one connection and reads until disconnect or ctx cancel.
func (j *JSONWS) Stream(ctx context.Context, out chan<- model.Tick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, j.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	j.log.Info("feed: connected", "url", j.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		ticks, err := decodeRaw(raw)
		if err != nil {
			j.log.Warn("feed: parse error", "error", err, "raw", string(raw))
			continue
		}
		for _, t := range ticks {
			select {
			case out <- t:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// decodeRaw decodes one message. Ticks whose timestamp cannot be
// normalized are kept with a zero TickTS; ticks without a token are dropped.
func decodeRaw(raw []byte) ([]model.Tick, error) {
	var raws []model.RawTick
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, err
		}
	} else {
		var r model.RawTick
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, err
		}
		raws = []model.RawTick{r}
	}

	out := make([]model.Tick, 0, len(raws))
	for _, r := range raws {
		if r.Token == "" {
			continue
		}
		t, err := r.Normalize()
		if err != nil {
			t = model.Tick{Token: r.Token, Exchange: r.Exchange, Price: model.Paise(r.Price)}
		}
		out = append(out, t)
	}
	return out, nil
}

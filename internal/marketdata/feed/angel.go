package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signalengine/internal/model"
	"signalengine/pkg/smartconnect"
)

// SessionFunc returns fresh stream credentials, logging in if needed.
type SessionFunc func(ctx context.Context) (smartconnect.Session, error)

// AngelConfig configures the SmartAPI stream source.
type AngelConfig struct {
	APIKey string
	Mode   int // default smartconnect.ModeLTP
	Tokens []smartconnect.TokenList
	URL    string // override for tests
}

// Angel streams ticks from the Angel One SmartAPI WebSocket.
type Angel struct {
	cfg     AngelConfig
	session SessionFunc
}

// NewAngel creates the SmartAPI source.
func NewAngel(cfg AngelConfig, session SessionFunc) *Angel {
	if cfg.Mode == 0 {
		cfg.Mode = smartconnect.ModeLTP
	}
	return &Angel{cfg: cfg, session: session}
}

func (a *Angel) Name() string { return "angel" }

// Stream logs in, subscribes and reads until the connection drops.
func (a *Angel) Stream(ctx context.Context, out chan<- model.Tick) error {
	sess, err := a.session(ctx)
	if err != nil {
		return fmt.Errorf("feed angel: session: %w", err)
	}
	st, err := smartconnect.NewStream(sess.JWTToken, a.cfg.APIKey, sess.ClientCode, sess.FeedToken)
	if err != nil {
		return err
	}
	if a.cfg.URL != "" {
		st.URL = a.cfg.URL
	}
	if err := st.Connect(ctx); err != nil {
		return err
	}
	defer st.Close()

	if err := st.Subscribe("signalengine", a.cfg.Mode, a.cfg.Tokens); err != nil {
		return fmt.Errorf("feed angel: subscribe: %w", err)
	}

	return st.Run(ctx, func(q smartconnect.Quote) {
		select {
		case out <- quoteTick(q):
		case <-ctx.Done():
		}
	})
}

// quoteTick converts a stream packet. A missing exchange timestamp leaves
// TickTS zero so the tick is counted as malformed downstream.
func quoteTick(q smartconnect.Quote) model.Tick {
	exch := smartconnect.ExchangeNames[q.ExchangeType]
	if exch == "" {
		exch = "EX_" + strconv.Itoa(q.ExchangeType)
	}
	t := model.Tick{Token: q.Token, Exchange: exch, Price: q.LTP, Qty: q.LastQty}
	if q.ExchangeTS > 0 {
		t.TickTS = time.UnixMilli(q.ExchangeTS).UTC()
	}
	return t
}

// ParseTokens parses "exchangeType:token,..." (e.g. "1:99926000,2:43125")
// into subscription groups.
func ParseTokens(s string) ([]smartconnect.TokenList, error) {
	var order []int
	groups := map[int][]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ex, tok, ok := strings.Cut(pair, ":")
		n, err := strconv.Atoi(ex)
		if !ok || err != nil || tok == "" {
			return nil, fmt.Errorf("invalid subscription %q, want exchangeType:token", pair)
		}
		if _, seen := groups[n]; !seen {
			order = append(order, n)
		}
		groups[n] = append(groups[n], tok)
	}

	out := make([]smartconnect.TokenList, 0, len(order))
	for _, n := range order {
		out = append(out, smartconnect.TokenList{ExchangeType: n, Tokens: groups[n]})
	}
	return out, nil
}

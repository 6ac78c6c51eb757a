package smartconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	StreamURL         = "wss://smartapisocket.angelone.in/smart-stream"
	HeartBeatMessage  = "ping"
	HeartBeatInterval = 10 * time.Second
)

// Subscription actions and modes.
const (
	SubscribeAction   = 1
	UnsubscribeAction = 0

	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3
)

// Exchange types used on the stream.
const (
	NSE_CM = 1
	NSE_FO = 2
	BSE_CM = 3
	BSE_FO = 4
	MCX_FO = 5
	NCX_FO = 7
	CDE_FO = 13
)

// ExchangeNames maps stream exchange types to exchange codes.
var ExchangeNames = map[int]string{
	NSE_CM: "NSE",
	NSE_FO: "NFO",
	BSE_CM: "BSE",
	BSE_FO: "BFO",
	MCX_FO: "MCX",
	NCX_FO: "NCX",
	CDE_FO: "CDE",
}

// ExchangeType is the reverse of ExchangeNames; 0 when unknown.
func ExchangeType(exchange string) int {
	for k, v := range ExchangeNames {
		if v == exchange {
			return k
		}
	}
	return 0
}

// TokenList is a group of tokens on one exchange type.
type TokenList struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type request struct {
	CorrelationID string `json:"correlationID,omitempty"`
	Action        int    `json:"action"`
	Params        struct {
		Mode      int         `json:"mode"`
		TokenList []TokenList `json:"tokenList"`
	} `json:"params"`
}

// Quote is a decoded stream packet. Prices are in paise and
// ExchangeTS is epoch milliseconds; zero means the packet carried none.
type Quote struct {
	Mode         int
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTS   int64
	LTP          int64
	LastQty      int64 // quote modes only
}

// ltpPacketLen is the size of an LTP-mode packet; quote packets extend it.
const ltpPacketLen = 51

var ErrShortPacket = errors.New("smartstream: binary packet too short")

// ParseQuote decodes a little-endian stream packet.
func ParseQuote(b []byte) (Quote, error) {
	if len(b) < ltpPacketLen {
		return Quote{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	q := Quote{
		Mode:         int(b[0]),
		ExchangeType: int(b[1]),
		Token:        cString(b[2:27]),
		Sequence:     int64(binary.LittleEndian.Uint64(b[27:35])),
		ExchangeTS:   int64(binary.LittleEndian.Uint64(b[35:43])),
		LTP:          int64(binary.LittleEndian.Uint64(b[43:51])),
	}
	if (q.Mode == ModeQuote || q.Mode == ModeSnapQuote) && len(b) >= 59 {
		q.LastQty = int64(binary.LittleEndian.Uint64(b[51:59]))
	}
	return q, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Stream is one connection to the SmartAPI market-data stream. It does not
// reconnect on its own; callers dial a new Stream after Run returns.
type Stream struct {
	URL        string
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string
	Dialer     *websocket.Dialer
	Logger     *slog.Logger

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn
}

// NewStream validates credentials and returns an unconnected stream.
func NewStream(authToken, apiKey, clientCode, feedToken string) (*Stream, error) {
	if authToken == "" || apiKey == "" || clientCode == "" || feedToken == "" {
		return nil, errors.New("smartstream: auth token, api key, client code and feed token are required")
	}
	return &Stream{
		URL:        StreamURL,
		AuthToken:  authToken,
		APIKey:     apiKey,
		ClientCode: clientCode,
		FeedToken:  feedToken,
		Dialer:     websocket.DefaultDialer,
		Logger:     slog.Default(),
	}, nil
}

// Connect dials the stream.
func (s *Stream) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Add("Authorization", s.AuthToken)
	header.Add("x-api-key", s.APIKey)
	header.Add("x-client-code", s.ClientCode)
	header.Add("x-feed-token", s.FeedToken)

	conn, resp, err := s.Dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return fmt.Errorf("smartstream: dial: %w", ErrTokenExpired)
			}
			return fmt.Errorf("smartstream: dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("smartstream: dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.Logger.Info("smartstream: connected", "url", s.URL)
	return nil
}

// Subscribe requests quotes for the given tokens.
func (s *Stream) Subscribe(correlationID string, mode int, tokens []TokenList) error {
	var req request
	req.CorrelationID = correlationID
	req.Action = SubscribeAction
	req.Params.Mode = mode
	req.Params.TokenList = tokens
	return s.write(func(c *websocket.Conn) error { return c.WriteJSON(req) })
}

func (s *Stream) write(fn func(*websocket.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("smartstream: not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return fn(s.conn)
}

// Run reads packets and calls onQuote for each decoded one until the
// connection fails or ctx is cancelled. A cancelled ctx returns nil.
func (s *Stream) Run(ctx context.Context, onQuote func(Quote)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("smartstream: not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go s.heartbeat(ctx, done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("smartstream: read: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			q, err := ParseQuote(msg)
			if err != nil {
				s.Logger.Warn("smartstream: parse error", "error", err)
				continue
			}
			onQuote(q)
		case websocket.TextMessage:
			if string(msg) != "pong" {
				s.Logger.Debug("smartstream: control message", "msg", string(msg))
			}
		}
	}
}

func (s *Stream) heartbeat(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(HeartBeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			err := s.write(func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.TextMessage, []byte(HeartBeatMessage))
			})
			if err != nil {
				s.Logger.Warn("smartstream: heartbeat failed", "error", err)
				return
			}
		}
	}
}

// Close sends a close frame and closes the connection.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
	s.conn = nil
}

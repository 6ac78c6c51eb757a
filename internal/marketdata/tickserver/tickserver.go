// Package tickserver is a staging WebSocket server that broadcasts
// random-walk ticks in the model.RawTick JSON shape:
//
//	{"token":"99926000","exchange":"NSE","price":22120.5,"volume":10,"timestamp":1740973500123}
//
// Timestamps are epoch milliseconds. The feed package's JSONWS source
// consumes it, so strategies can run without broker credentials.
package tickserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalengine/internal/model"
)

// Instrument holds per-symbol simulation state.
type Instrument struct {
	Token    string
	Exchange string
	Price    int64 // paise
}

// Default starting prices in paise.
var defaultPrices = map[string]int64{
	"99926000": 22100_00, // NIFTY 50
	"99926009": 48200_00, // NIFTY BANK
	"99926037": 23300_00, // FINNIFTY
}

// ParseInstruments parses "TOKEN:EXCHANGE,..." pairs.
func ParseInstruments(s string) ([]Instrument, error) {
	var out []Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, exchange, ok := strings.Cut(part, ":")
		token, exchange = strings.TrimSpace(token), strings.TrimSpace(exchange)
		if !ok || token == "" || exchange == "" {
			return nil, fmt.Errorf("tickserver: invalid instrument %q, want TOKEN:EXCHANGE", part)
		}
		price := defaultPrices[token]
		if price == 0 {
			price = 1000_00
		}
		out = append(out, Instrument{Token: token, Exchange: exchange, Price: price})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tickserver: no instruments")
	}
	return out, nil
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── Server ──────────────────────────────────────────────────────────────────

// Server generates ticks and serves them on /ws.
type Server struct {
	instruments []Instrument
	interval    time.Duration
	hub         *hub
	rng         *rand.Rand
	now         func() time.Time
	log         *slog.Logger
}

// New creates a server broadcasting every interval.
func New(instruments []Instrument, interval time.Duration, seed int64, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		instruments: append([]Instrument(nil), instruments...),
		interval:    interval,
		hub:         newHub(),
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
		log:         log.With("component", "tickserver"),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Handler serves /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d}`+"\n", s.hub.count())
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", "error", err)
		return
	}
	s.log.Info("client connected", "remote", r.RemoteAddr)

	ch := s.hub.register(conn)
	defer func() {
		s.hub.unregister(conn)
		conn.Close()
		s.log.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	// Reader detects client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Run broadcasts ticks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range s.Step() {
				s.hub.broadcast(msg)
			}
		}
	}
}

// Step advances every instrument one random-walk step and returns the
// encoded messages.
func (s *Server) Step() [][]byte {
	now := s.now()
	out := make([][]byte, 0, len(s.instruments))
	for i := range s.instruments {
		in := &s.instruments[i]
		in.Price = s.walk(in.Price)
		qty := int64(s.rng.Intn(100) + 1)
		b, err := json.Marshal(model.RawTick{
			Token:     in.Token,
			Exchange:  in.Exchange,
			Price:     model.Rupees(in.Price),
			Volume:    &qty,
			Timestamp: now.UnixMilli(),
		})
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// walk applies a move of up to ±0.1%, floored at one rupee.
func (s *Server) walk(price int64) int64 {
	pct := (s.rng.Float64()*0.2 - 0.1) / 100.0
	next := price + int64(float64(price)*pct)
	if next < 100 {
		next = 100
	}
	return next
}

// Package smartconnect is a small client for the Angel One SmartAPI.
//
// It covers what the signal engine needs: password+TOTP login, token
// renewal, order placement, instrument search, last-traded-price lookups
// and historical candles, plus the binary market-data stream in
// websocket.go.
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: key})
//	sess, err := sc.GenerateSession(ctx, "CLIENTID", "PIN", totpCode)
//	if err != nil { ... }
//	orderID, err := sc.PlaceOrder(ctx, smartconnect.OrderParams{...})
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrTokenExpired is returned when the API rejects the session token.
var ErrTokenExpired = errors.New("smartapi: session token expired")

// APIError is a SmartAPI response with status=false or an error_type.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("smartapi: %s: %s (http %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("smartapi: %s (http %d)", e.Message, e.HTTPStatus)
}

// Config holds client settings. Only APIKey is required.
type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	FeedToken    string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default: 106.193.147.98
	ClientLocalIP  string        // default: first non-loopback IPv4, else 127.0.0.1
	ClientMAC      string        // default: first interface MAC

	Logger *slog.Logger
}

// Client is a SmartAPI REST client. It is safe for concurrent use.
type Client struct {
	apiKey  string
	rootURL string
	http    *http.Client
	log     *slog.Logger

	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	clientCode   string

	// OnTokenExpired is called when a request fails with a token error.
	OnTokenExpired func()
}

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.order.place": "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.order.book":  "/rest/secure/angelbroking/order/v1/getOrderBook",

	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
	"api.ltp.data":     "/rest/secure/angelbroking/order/v1/getLtpData",
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "106.193.147.98"
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		http:           &http.Client{Transport: tr, Timeout: cfg.Timeout},
		log:            cfg.Logger.With("component", "smartapi"),
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		feedToken:      cfg.FeedToken,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// Session is the token set returned by a successful login.
type Session struct {
	ClientCode   string `json:"clientcode"`
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

func (c *Client) ClientCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientCode
}

func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.JWTToken != "" {
		c.accessToken = s.JWTToken
	}
	if s.RefreshToken != "" {
		c.refreshToken = s.RefreshToken
	}
	if s.FeedToken != "" {
		c.feedToken = s.FeedToken
	}
	if s.ClientCode != "" {
		c.clientCode = s.ClientCode
	}
}

// ---- Transport ----

// envelope is the common SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if tok := c.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// do sends a request to route and decodes the data field into out.
func (c *Client) do(ctx context.Context, method, route string, params any, out any) error {
	uri, ok := routes[route]
	if !ok {
		return fmt.Errorf("smartapi: unknown route %s", route)
	}

	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("smartapi: encode %s: %w", route, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.rootURL+uri, body)
	if err != nil {
		return err
	}
	req.Header = c.headers()

	c.log.Debug("request", "method", method, "route", route)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("smartapi: %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("smartapi: read %s: %w", route, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return c.expired(route, resp.StatusCode)
		}
		return fmt.Errorf("smartapi: couldn't parse %s response (http %d): %w", route, resp.StatusCode, err)
	}

	if env.ErrorType == "TokenException" || isTokenCode(env.ErrorCode) ||
		((resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && !env.Status) {
		return c.expired(route, resp.StatusCode)
	}
	if !env.Status {
		return &APIError{HTTPStatus: resp.StatusCode, Code: firstNonEmpty(env.ErrorCode, env.ErrorType), Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("smartapi: decode %s data: %w", route, err)
		}
	}
	return nil
}

// AG8001 invalid token, AG8002 token expired, AG8003 token missing.
func isTokenCode(code string) bool {
	return code == "AG8001" || code == "AG8002" || code == "AG8003"
}

func (c *Client) expired(route string, status int) error {
	c.log.Warn("session token rejected", "route", route, "http_status", status)
	if c.OnTokenExpired != nil {
		c.OnTokenExpired()
	}
	return fmt.Errorf("%s: %w", route, ErrTokenExpired)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ---- Session ----

// GenerateSession logs in with client code, PIN and a current TOTP code,
// and stores the returned tokens on the client.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) (Session, error) {
	params := map[string]string{"clientcode": clientCode, "password": password, "totp": totp}
	var s Session
	if err := c.do(ctx, http.MethodPost, "api.login", params, &s); err != nil {
		return Session{}, fmt.Errorf("login %s: %w", clientCode, err)
	}
	if s.JWTToken == "" {
		return Session{}, errors.New("login: response carried no jwtToken")
	}
	s.ClientCode = clientCode
	c.setSession(s)
	c.log.Info("session created", "client_code", clientCode)
	return s, nil
}

// RenewAccessToken exchanges the refresh token for a new access token.
func (c *Client) RenewAccessToken(ctx context.Context) (Session, error) {
	c.mu.RLock()
	params := map[string]string{"refreshToken": c.refreshToken}
	c.mu.RUnlock()

	var s Session
	if err := c.do(ctx, http.MethodPost, "api.token", params, &s); err != nil {
		return Session{}, err
	}
	c.setSession(s)
	return s, nil
}

// TerminateSession logs the client out.
func (c *Client) TerminateSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api.logout", map[string]string{"clientcode": c.ClientCode()}, nil)
}

// ---- Orders ----

// OrderParams is the placeOrder payload.
type OrderParams struct {
	Variety         string `json:"variety"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Price           string `json:"price,omitempty"`
	Quantity        string `json:"quantity"`
}

// PlaceOrder places an order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	var out struct {
		OrderID string `json:"orderid"`
	}
	if err := c.do(ctx, http.MethodPost, "api.order.place", p, &out); err != nil {
		return "", fmt.Errorf("place order %s: %w", p.TradingSymbol, err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("place order %s: response carried no orderid", p.TradingSymbol)
	}
	return out.OrderID, nil
}

// ---- Market data ----

// Scrip is one instrument from searchScrip.
type Scrip struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip finds instruments on an exchange by symbol prefix.
func (c *Client) SearchScrip(ctx context.Context, exchange, query string) ([]Scrip, error) {
	var out []Scrip
	params := map[string]string{"exchange": exchange, "searchscrip": query}
	if err := c.do(ctx, http.MethodPost, "api.search.scrip", params, &out); err != nil {
		return nil, fmt.Errorf("search %s %s: %w", exchange, query, err)
	}
	return out, nil
}

// LTP returns the last traded price in rupees.
func (c *Client) LTP(ctx context.Context, exchange, symbol, token string) (float64, error) {
	var out struct {
		LTP float64 `json:"ltp"`
	}
	params := map[string]string{"exchange": exchange, "tradingsymbol": symbol, "symboltoken": token}
	if err := c.do(ctx, http.MethodPost, "api.ltp.data", params, &out); err != nil {
		return 0, fmt.Errorf("ltp %s: %w", symbol, err)
	}
	return out.LTP, nil
}

// CandleParams selects a historical candle range. Times are formatted as
// "2006-01-02 15:04" in IST.
type CandleParams struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"` // ONE_MINUTE, FIVE_MINUTE, ...
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

// CandleRow is one historical candle in rupees.
type CandleRow struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Intervals maps candle minutes to SmartAPI interval names.
var Intervals = map[int]string{
	1:  "ONE_MINUTE",
	3:  "THREE_MINUTE",
	5:  "FIVE_MINUTE",
	10: "TEN_MINUTE",
	15: "FIFTEEN_MINUTE",
	30: "THIRTY_MINUTE",
	60: "ONE_HOUR",
}

// GetCandleData returns historical candles. Rows arrive as
// [timestamp, open, high, low, close, volume].
func (c *Client) GetCandleData(ctx context.Context, p CandleParams) ([]CandleRow, error) {
	var rows [][]any
	if err := c.do(ctx, http.MethodPost, "api.candle.data", p, &rows); err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", p.SymbolToken, p.Interval, err)
	}

	out := make([]CandleRow, 0, len(rows))
	for i, r := range rows {
		row, err := parseCandleRow(r)
		if err != nil {
			return nil, fmt.Errorf("candles %s row %d: %w", p.SymbolToken, i, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func parseCandleRow(r []any) (CandleRow, error) {
	if len(r) < 6 {
		return CandleRow{}, fmt.Errorf("expected 6 fields, got %d", len(r))
	}
	s, ok := r[0].(string)
	if !ok {
		return CandleRow{}, fmt.Errorf("timestamp is %T", r[0])
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		ts, err = time.Parse("2006-01-02T15:04:05-0700", s)
		if err != nil {
			return CandleRow{}, err
		}
	}
	var f [5]float64
	for i := range f {
		v, ok := r[i+1].(float64)
		if !ok {
			return CandleRow{}, fmt.Errorf("field %d is %T", i+1, r[i+1])
		}
		f[i] = v
	}
	return CandleRow{Time: ts, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: int64(f[4])}, nil
}

// Package angel adapts the SmartAPI client to the engine's broker ports:
// order placement, option-chain listing and historical candles.
package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"signalengine/internal/execution"
	"signalengine/internal/model"
	"signalengine/pkg/smartconnect"
)

// api is the subset of *smartconnect.Client the broker uses.
type api interface {
	GenerateSession(ctx context.Context, clientCode, password, totp string) (smartconnect.Session, error)
	PlaceOrder(ctx context.Context, p smartconnect.OrderParams) (string, error)
	SearchScrip(ctx context.Context, exchange, query string) ([]smartconnect.Scrip, error)
	RenewAccessToken(ctx context.Context) (smartconnect.Session, error)
	LTP(ctx context.Context, exchange, symbol, token string) (float64, error)
	GetCandleData(ctx context.Context, p smartconnect.CandleParams) ([]smartconnect.CandleRow, error)
}

// Credentials for a password+TOTP login.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string
}

// Broker implements execution.Broker and execution.ContractLister.
type Broker struct {
	api   api
	creds Credentials
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	session smartconnect.Session
}

var (
	_ execution.Broker         = (*Broker)(nil)
	_ execution.ContractLister = (*Broker)(nil)
	_ execution.Quoter         = (*Broker)(nil)
)

// New wraps a SmartAPI client.
func New(client *smartconnect.Client, creds Credentials, log *slog.Logger) *Broker {
	return newBroker(client, creds, log)
}

func newBroker(a api, creds Credentials, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{api: a, creds: creds, log: log.With("component", "angel"), now: time.Now}
}

// Login generates a fresh TOTP code and opens a session.
func (b *Broker) Login(ctx context.Context) (smartconnect.Session, error) {
	code, err := totp.GenerateCode(b.creds.TOTPSecret, b.now())
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("angel: totp: %w", err)
	}
	s, err := b.api.GenerateSession(ctx, b.creds.ClientCode, b.creds.Password, code)
	if err != nil {
		return smartconnect.Session{}, mapErr(err)
	}
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
	b.log.Info("angel: logged in", "client_code", b.creds.ClientCode)
	return s, nil
}

// Refresh renews the access token with the stored refresh token and falls
// back to a full TOTP login when there is no session yet or the renewal is
// refused.
func (b *Broker) Refresh(ctx context.Context) (smartconnect.Session, error) {
	b.mu.Lock()
	have := b.session.RefreshToken != ""
	b.mu.Unlock()
	if !have {
		return b.Login(ctx)
	}

	s, err := b.api.RenewAccessToken(ctx)
	if err != nil {
		b.log.Warn("angel: token renewal failed, logging in again", "error", err)
		return b.Login(ctx)
	}
	b.mu.Lock()
	if s.FeedToken == "" {
		s.FeedToken = b.session.FeedToken
	}
	if s.RefreshToken == "" {
		s.RefreshToken = b.session.RefreshToken
	}
	s.ClientCode = b.creds.ClientCode
	b.session = s
	b.mu.Unlock()
	b.log.Info("angel: access token renewed", "client_code", b.creds.ClientCode)
	return s, nil
}

// Session returns the tokens of the last successful login.
func (b *Broker) Session() smartconnect.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// mapErr turns SmartAPI token failures into model.ErrUpstreamAuthExpired.
func mapErr(err error) error {
	if errors.Is(err, smartconnect.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", model.ErrUpstreamAuthExpired, err)
	}
	return err
}

// PlaceOrder sends a market or limit order and returns the broker order id.
func (b *Broker) PlaceOrder(ctx context.Context, o model.Order) (string, error) {
	p := smartconnect.OrderParams{
		Variety:         o.Variety,
		TradingSymbol:   o.TradingSymbol,
		SymbolToken:     o.Token,
		TransactionType: string(o.TransactionType),
		Exchange:        o.Exchange,
		OrderType:       o.OrderType,
		ProductType:     o.ProductType,
		Duration:        "DAY",
		Quantity:        strconv.FormatInt(o.Qty, 10),
	}
	if o.OrderType == "LIMIT" {
		p.Price = strconv.FormatFloat(model.Rupees(o.Price), 'f', 2, 64)
	}
	oid, err := b.api.PlaceOrder(ctx, p)
	if err != nil {
		return "", mapErr(err)
	}
	return oid, nil
}

// ResolveContracts lists the option chain for one underlying, expiry and
// right by searching NFO for the symbol prefix, e.g. NIFTY06MAR25.
func (b *Broker) ResolveContracts(ctx context.Context, underlying string, expiry time.Time, opt model.OptionType) ([]model.Contract, error) {
	prefix := strings.ToUpper(underlying) + strings.ToUpper(expiry.Format("02Jan06"))
	scrips, err := b.api.SearchScrip(ctx, "NFO", prefix)
	if err != nil {
		return nil, mapErr(err)
	}

	var out []model.Contract
	for _, s := range scrips {
		strike, ok := parseStrike(s.TradingSymbol, prefix, opt)
		if !ok {
			continue
		}
		out = append(out, model.Contract{
			Symbol:     s.TradingSymbol,
			Token:      s.SymbolToken,
			Exchange:   firstNonEmpty(s.Exchange, "NFO"),
			Underlying: strings.ToUpper(underlying),
			Strike:     strike,
			Expiry:     expiry,
			OptionType: opt,
		})
	}
	b.log.Debug("angel: chain listed", "prefix", prefix, "type", opt, "contracts", len(out))
	return out, nil
}

// parseStrike extracts the strike from symbols shaped PREFIX<strike><CE|PE>.
func parseStrike(symbol, prefix string, opt model.OptionType) (float64, bool) {
	if !strings.HasPrefix(symbol, prefix) || !strings.HasSuffix(symbol, string(opt)) {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(symbol, prefix), string(opt))
	strike, err := strconv.ParseFloat(mid, 64)
	if err != nil || strike <= 0 {
		return 0, false
	}
	return strike, true
}

// LTP returns the last traded price in rupees.
func (b *Broker) LTP(ctx context.Context, exchange, symbol, token string) (float64, error) {
	p, err := b.api.LTP(ctx, exchange, symbol, token)
	if err != nil {
		return 0, mapErr(err)
	}
	return p, nil
}

// maxDaysPerRequest bounds one getCandleData call for intraday intervals.
const maxDaysPerRequest = 30

// Candles downloads historical candles in [from, to], splitting the range
// into request-sized chunks. Prices are converted to paise.
func (b *Broker) Candles(ctx context.Context, exchange, token string, minutes int, from, to time.Time) ([]model.Candle, error) {
	interval, ok := smartconnect.Intervals[minutes]
	if !ok {
		return nil, fmt.Errorf("%w: no historical interval for %d minutes", model.ErrInvalidConfiguration, minutes)
	}

	var out []model.Candle
	for start := from; start.Before(to); {
		end := start.AddDate(0, 0, maxDaysPerRequest)
		if end.After(to) {
			end = to
		}
		rows, err := b.api.GetCandleData(ctx, smartconnect.CandleParams{
			Exchange:    exchange,
			SymbolToken: token,
			Interval:    interval,
			FromDate:    start.In(model.IST).Format("2006-01-02 15:04"),
			ToDate:      end.In(model.IST).Format("2006-01-02 15:04"),
		})
		if err != nil {
			return nil, mapErr(err)
		}
		for _, r := range rows {
			out = append(out, model.Candle{
				Token:    token,
				Exchange: exchange,
				TF:       minutes * 60,
				TS:       r.Time.UTC(),
				Open:     model.Paise(r.Open),
				High:     model.Paise(r.High),
				Low:      model.Paise(r.Low),
				Close:    model.Paise(r.Close),
				Volume:   r.Volume,
			})
		}
		start = end
	}
	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

package angel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/execution"
	"signalengine/internal/model"
	"signalengine/pkg/smartconnect"
)

type fakeAPI struct {
	totp     string
	renewed  int
	renewErr error
	order    smartconnect.OrderParams
	err      error
	scrips   []smartconnect.Scrip
	candles  []smartconnect.CandleParams
	rows     []smartconnect.CandleRow
}

func (f *fakeAPI) GenerateSession(_ context.Context, cc, _, code string) (smartconnect.Session, error) {
	f.totp = code
	return smartconnect.Session{ClientCode: cc, JWTToken: "jwt", FeedToken: "feed"}, f.err
}

func (f *fakeAPI) PlaceOrder(_ context.Context, p smartconnect.OrderParams) (string, error) {
	f.order = p
	if f.err != nil {
		return "", f.err
	}
	return "OID1", nil
}

func (f *fakeAPI) SearchScrip(context.Context, string, string) ([]smartconnect.Scrip, error) {
	return f.scrips, f.err
}

func (f *fakeAPI) RenewAccessToken(context.Context) (smartconnect.Session, error) {
	f.renewed++
	if f.renewErr != nil {
		return smartconnect.Session{}, f.renewErr
	}
	return smartconnect.Session{JWTToken: "jwt2", RefreshToken: "refresh2"}, nil
}

func (f *fakeAPI) LTP(context.Context, string, string, string) (float64, error) {
	return 221.5, f.err
}

func (f *fakeAPI) GetCandleData(_ context.Context, p smartconnect.CandleParams) ([]smartconnect.CandleRow, error) {
	f.candles = append(f.candles, p)
	return f.rows, f.err
}

const secret = "JBSWY3DPEHPK3PXP"

func TestLogin_UsesCurrentTOTP(t *testing.T) {
	api := &fakeAPI{}
	b := newBroker(api, Credentials{ClientCode: "C1", Password: "1111", TOTPSecret: secret}, nil)
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, model.IST)
	b.now = func() time.Time { return at }

	s, err := b.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feed", s.FeedToken)
	assert.Equal(t, "jwt", b.Session().JWTToken)

	want, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	assert.Equal(t, want, api.totp)
}

func TestRefresh_RenewsBeforeLogin(t *testing.T) {
	api := &fakeAPI{}
	b := newBroker(api, Credentials{ClientCode: "C1", TOTPSecret: secret}, nil)

	// No session yet: full login.
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, api.renewed)
	assert.NotEmpty(t, api.totp)

	b.mu.Lock()
	b.session.RefreshToken = "refresh1"
	b.mu.Unlock()
	api.totp = ""

	s, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.renewed)
	assert.Empty(t, api.totp, "renewal must not log in again")
	assert.Equal(t, "jwt2", s.JWTToken)
	assert.Equal(t, "feed", s.FeedToken, "feed token carried over")
	assert.Equal(t, "C1", b.Session().ClientCode)
}

func TestRefresh_FallsBackToLogin(t *testing.T) {
	api := &fakeAPI{renewErr: smartconnect.ErrTokenExpired}
	b := newBroker(api, Credentials{ClientCode: "C1", TOTPSecret: secret}, nil)
	b.session = smartconnect.Session{RefreshToken: "stale"}

	s, err := b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.renewed)
	assert.NotEmpty(t, api.totp)
	assert.Equal(t, "jwt", s.JWTToken)
}

func TestLTP(t *testing.T) {
	b := newBroker(&fakeAPI{}, Credentials{}, nil)
	p, err := b.LTP(context.Background(), "NFO", "NIFTY06MAR2522150CE", "43210")
	require.NoError(t, err)
	assert.Equal(t, 221.5, p)

	b = newBroker(&fakeAPI{err: smartconnect.ErrTokenExpired}, Credentials{}, nil)
	_, err = b.LTP(context.Background(), "NFO", "NIFTY06MAR2522150CE", "43210")
	assert.ErrorIs(t, err, model.ErrUpstreamAuthExpired)
}

func TestLogin_BadSecret(t *testing.T) {
	b := newBroker(&fakeAPI{}, Credentials{TOTPSecret: "not base32 !"}, nil)
	_, err := b.Login(context.Background())
	assert.Error(t, err)
}

func TestPlaceOrder(t *testing.T) {
	api := &fakeAPI{}
	b := newBroker(api, Credentials{}, nil)

	oid, err := b.PlaceOrder(context.Background(), model.Order{
		Token: "43125", Exchange: "NFO", TradingSymbol: "NIFTY06MAR2522500CE",
		TransactionType: model.Buy, OrderType: "MARKET", ProductType: "INTRADAY", Variety: "NORMAL", Qty: 75,
	})
	require.NoError(t, err)
	assert.Equal(t, "OID1", oid)
	assert.Equal(t, "75", api.order.Quantity)
	assert.Equal(t, "BUY", api.order.TransactionType)
	assert.Empty(t, api.order.Price)
}

func TestPlaceOrder_TokenExpiredMapsToUpstreamAuth(t *testing.T) {
	api := &fakeAPI{err: smartconnect.ErrTokenExpired}
	b := newBroker(api, Credentials{}, nil)

	_, err := b.PlaceOrder(context.Background(), model.Order{})
	assert.True(t, errors.Is(err, model.ErrUpstreamAuthExpired))
	assert.True(t, errors.Is(err, smartconnect.ErrTokenExpired))
}

func TestResolveContracts(t *testing.T) {
	api := &fakeAPI{scrips: []smartconnect.Scrip{
		{Exchange: "NFO", TradingSymbol: "NIFTY06MAR2522500CE", SymbolToken: "1"},
		{Exchange: "NFO", TradingSymbol: "NIFTY06MAR2522500PE", SymbolToken: "2"},
		{Exchange: "NFO", TradingSymbol: "NIFTY06MAR2522550CE", SymbolToken: "3"},
		{Exchange: "NFO", TradingSymbol: "NIFTY06MAR25FUT", SymbolToken: "4"},
	}}
	b := newBroker(api, Credentials{}, nil)
	expiry := time.Date(2025, 3, 6, 0, 0, 0, 0, model.IST)

	chain, err := b.ResolveContracts(context.Background(), "nifty", expiry, model.OptionCE)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 22500.0, chain[0].Strike)
	assert.Equal(t, "NIFTY", chain[0].Underlying)
	assert.Equal(t, "3", chain[1].Token)

	// The broker chain can resolve through it end to end.
	res := execution.NewResolver(execution.NewBrokerChain(b))
	c, txn, err := res.Resolve(context.Background(), execution.Intent{
		Action: model.ActionEntry, Bias: model.Long, Underlying: "NIFTY",
		ReferencePrice: 22540, At: time.Date(2025, 3, 3, 10, 0, 0, 0, model.IST),
	})
	require.NoError(t, err)
	assert.Equal(t, model.Buy, txn)
	assert.Equal(t, "NIFTY06MAR2522550CE", c.Symbol)
}

func TestCandles_ChunksAndConverts(t *testing.T) {
	api := &fakeAPI{rows: []smartconnect.CandleRow{{
		Time: time.Date(2025, 3, 3, 9, 15, 0, 0, model.IST), Open: 100, High: 101.5, Low: 99.25, Close: 101, Volume: 10,
	}}}
	b := newBroker(api, Credentials{}, nil)
	from := time.Date(2025, 1, 1, 9, 15, 0, 0, model.IST)
	to := from.AddDate(0, 0, 45)

	candles, err := b.Candles(context.Background(), "NSE", "99926000", 5, from, to)
	require.NoError(t, err)
	require.Len(t, api.candles, 2)
	assert.Equal(t, "FIVE_MINUTE", api.candles[0].Interval)
	assert.Equal(t, "2025-01-01 09:15", api.candles[0].FromDate)
	assert.Equal(t, api.candles[0].ToDate, api.candles[1].FromDate)

	require.Len(t, candles, 2)
	assert.Equal(t, int64(10150), candles[0].High)
	assert.Equal(t, int64(9925), candles[0].Low)
	assert.Equal(t, 300, candles[0].TF)

	_, err = b.Candles(context.Background(), "NSE", "1", 7, from, to)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}

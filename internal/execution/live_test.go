package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/internal/model"
)

type fakeBroker struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
	block  chan struct{}
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, o model.Order) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.orders = append(f.orders, o)
	return fmt.Sprintf("AO-%d", len(f.orders)), nil
}

func TestLiveGateway_AsyncPlacement(t *testing.T) {
	b := &fakeBroker{block: make(chan struct{})}
	g := NewLiveGateway(b, SyntheticChain{})

	results := make(chan Result, 1)
	in := entry(model.Long, 22163.4, Policy{})
	in.Done = func(r Result) { results <- r }

	tk, err := g.Place(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, tk.Pending)
	assert.Empty(t, tk.OrderID)
	assert.NotEmpty(t, tk.Ref)

	// Place returned while the broker call is still blocked
	close(b.block)

	select {
	case r := <-results:
		require.NoError(t, r.Err)
		assert.Equal(t, "AO-1", r.OrderID)
		assert.Equal(t, tk.Ref, r.Ref)
	case <-time.After(2 * time.Second):
		t.Fatal("placement result never arrived")
	}
	g.Wait()

	require.Len(t, b.orders, 1)
	assert.Equal(t, "NIFTY06MAR2522150CE", b.orders[0].TradingSymbol)
	assert.Equal(t, model.Buy, b.orders[0].TransactionType)
	assert.Equal(t, "MARKET", b.orders[0].OrderType)
}

func TestLiveGateway_AuthExpirySuspends(t *testing.T) {
	b := &fakeBroker{err: fmt.Errorf("token: %w", model.ErrUpstreamAuthExpired)}
	g := NewLiveGateway(b, SyntheticChain{})
	failed := 0
	g.OnFailed = func() { failed++ }

	var got Result
	in := entry(model.Long, 22163.4, Policy{})
	in.Done = func(r Result) { got = r }

	_, err := g.Place(context.Background(), in)
	require.NoError(t, err)
	g.Wait()

	assert.True(t, errors.Is(got.Err, model.ErrUpstreamAuthExpired))
	assert.True(t, g.Suspended())
	assert.Equal(t, 1, failed)

	_, err = g.Place(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrUpstreamAuthExpired)

	g.Resume()
	assert.False(t, g.Suspended())
}

func TestLiveGateway_UnresolvableIsSynchronous(t *testing.T) {
	b := &fakeBroker{}
	g := NewLiveGateway(b, emptySource{})

	called := false
	in := entry(model.Long, 22163.4, Policy{})
	in.Done = func(Result) { called = true }

	_, err := g.Place(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrUnresolvableContract)
	g.Wait()
	assert.False(t, called)
	assert.Empty(t, b.orders)
}

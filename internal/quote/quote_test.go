package quote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordergate/brokerd/internal/bus"
	busmem "github.com/ordergate/brokerd/internal/bus/adapters/memory"
	"github.com/ordergate/brokerd/internal/upstream"
)

// countingClient embeds upstream.Client so only the methods Manager
// actually calls need real bodies; everything else panics if reached.
type countingClient struct {
	upstream.Client
	contract upstream.Contract

	subscribeTicks   int
	subscribeBidAsks int
	unsubTicks       int
	unsubBidAsks     int
}

func (c *countingClient) ResolveSymbol(alias string) (upstream.Contract, bool) {
	return c.contract, true
}

func (c *countingClient) SubscribeTick(ctx context.Context, handle string, cb upstream.TickCallback) error {
	c.subscribeTicks++
	return nil
}

func (c *countingClient) SubscribeBidAsk(ctx context.Context, handle string, cb upstream.TickCallback) error {
	c.subscribeBidAsks++
	return nil
}

func (c *countingClient) UnsubscribeTick(ctx context.Context, handle string) error {
	c.unsubTicks++
	return nil
}

func (c *countingClient) UnsubscribeBidAsk(ctx context.Context, handle string) error {
	c.unsubBidAsks++
	return nil
}

func TestSubscribeOnlyIssuesUpstreamCallOnFirstRef(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &countingClient{contract: upstream.Contract{Handle: "ESZ6"}}
	m := New(ctx, client, busmem.New())

	require.NoError(t, m.Subscribe(ctx, "ES"))
	require.NoError(t, m.Subscribe(ctx, "ES"))
	require.NoError(t, m.Subscribe(ctx, "ES"))

	require.Equal(t, 3, m.Refcount("ES"))
	require.Equal(t, 1, client.subscribeTicks)
	require.Equal(t, 1, client.subscribeBidAsks)
}

func TestUnsubscribeOnlyIssuesUpstreamCallOnLastRef(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &countingClient{contract: upstream.Contract{Handle: "ESZ6"}}
	m := New(ctx, client, busmem.New())

	require.NoError(t, m.Subscribe(ctx, "ES"))
	require.NoError(t, m.Subscribe(ctx, "ES"))

	require.NoError(t, m.Unsubscribe(ctx, "ES"))
	require.Equal(t, 1, m.Refcount("ES"))
	require.Equal(t, 0, client.unsubTicks)

	require.NoError(t, m.Unsubscribe(ctx, "ES"))
	require.Equal(t, 0, m.Refcount("ES"))
	require.Equal(t, 1, client.unsubTicks)
	require.Equal(t, 1, client.unsubBidAsks)
}

func TestUnsubscribeRefcountNeverGoesNegative(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &countingClient{contract: upstream.Contract{Handle: "ESZ6"}}
	m := New(ctx, client, busmem.New())

	require.NoError(t, m.Unsubscribe(ctx, "ES"))
	require.Equal(t, 0, m.Refcount("ES"))
	require.Equal(t, 0, client.unsubTicks)
}

// TestTickResolvesByExchangeCodeRecordedAtSubscribe covers the common case:
// the contract resolved at subscribe time already carries an exchange
// code, so the very first tick resolves in O(1) without dynamic binding.
func TestTickResolvesByExchangeCodeRecordedAtSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := busmem.New()
	client := &countingClient{contract: upstream.Contract{Handle: "ESZ6", ExchangeCode: "ESZ6"}}
	m := New(ctx, client, b)
	require.NoError(t, m.Subscribe(ctx, "ES"))

	sub, err := b.Subscribe(ctx, bus.QuotePattern)
	require.NoError(t, err)
	defer sub.Close()

	m.onTick(upstream.Tick{ExchangeCode: "ESZ6", LastPrice: 4500.25})

	select {
	case msg := <-sub.Channel():
		require.Equal(t, bus.QuoteChannel("ES"), msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected a published tick")
	}
}

// TestTickDynamicallyBindsUnknownCodeToNearMonthAlias covers §4.E: a
// near-month pseudo-symbol is subscribed without any known exchange code
// yet, the first callback arrives under an unrecognized code sharing the
// alias's family prefix, and the manager adopts the binding.
func TestTickDynamicallyBindsUnknownCodeToNearMonthAlias(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := busmem.New()
	client := &countingClient{contract: upstream.Contract{Handle: "ESFH6"}}
	m := New(ctx, client, b)
	require.NoError(t, m.Subscribe(ctx, "ESR1"))

	sub, err := b.Subscribe(ctx, bus.QuotePattern)
	require.NoError(t, err)
	defer sub.Close()

	m.onTick(upstream.Tick{ExchangeCode: "ESFH6", LastPrice: 4500.25})

	select {
	case msg := <-sub.Channel():
		require.Equal(t, bus.QuoteChannel("ESR1"), msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected the tick to bind dynamically and publish under the alias")
	}

	// A second tick under the same code now resolves in O(1), with no
	// further scan of the subscription table required.
	m.onTick(upstream.Tick{ExchangeCode: "ESFH6", LastPrice: 4501.00})
	select {
	case msg := <-sub.Channel():
		require.Equal(t, bus.QuoteChannel("ESR1"), msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected the re-bound code to keep publishing")
	}
}

// TestTickDropsUnresolvableExchangeCode covers the failure path: no
// subscribed alias's family prefix matches, so the tick is dropped rather
// than published under the raw exchange code.
func TestTickDropsUnresolvableExchangeCode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := busmem.New()
	client := &countingClient{contract: upstream.Contract{Handle: "ESZ6"}}
	m := New(ctx, client, b)
	require.NoError(t, m.Subscribe(ctx, "ES"))

	sub, err := b.Subscribe(ctx, bus.QuotePattern)
	require.NoError(t, err)
	defer sub.Close()

	m.onTick(upstream.Tick{ExchangeCode: "ZZQ9", LastPrice: 1})

	select {
	case <-sub.Channel():
		t.Fatal("unresolvable exchange code must not be published")
	case <-time.After(50 * time.Millisecond):
	}
}

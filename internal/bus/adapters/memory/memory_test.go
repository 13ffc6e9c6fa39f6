package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordergate/brokerd/internal/bus"
)

func TestSubmitConsumeReply(t *testing.T) {
	a := New()
	defer a.Close()

	ctx := context.Background()
	req := &bus.Request{RequestID: "req-1", Command: "list_positions"}
	require.NoError(t, a.Submit(ctx, req))

	depth, err := a.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	got, err := a.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, req.RequestID, got.RequestID)

	depth, err = a.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)

	resp := &bus.Response{RequestID: req.RequestID, Status: bus.StatusOK}
	require.NoError(t, a.Reply(ctx, resp, time.Second))

	out, err := a.AwaitResponse(ctx, req.RequestID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, bus.StatusOK, out.Status)
}

// A reply key is consumed exactly once: a second AwaitResponse for the same
// request ID must time out rather than replay the cached response.
func TestAwaitResponseExactlyOnce(t *testing.T) {
	a := New()
	defer a.Close()

	ctx := context.Background()
	resp := &bus.Response{RequestID: "req-2", Status: bus.StatusOK}
	require.NoError(t, a.Reply(ctx, resp, time.Second))

	first, err := a.AwaitResponse(ctx, "req-2", 200*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := a.AwaitResponse(ctx, "req-2", 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestAwaitResponseTimesOutWithoutError(t *testing.T) {
	a := New()
	defer a.Close()

	resp, err := a.AwaitResponse(context.Background(), "never-replied", 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestPublishSubscribeWildcard(t *testing.T) {
	a := New()
	defer a.Close()

	ctx := context.Background()
	sub, err := a.Subscribe(ctx, "quote.*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, a.Publish(ctx, "quote.ESZ6", []byte(`{"last_price":1}`)))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "quote.ESZ6", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected to receive published message")
	}
}

func TestSubscribeDoesNotMatchOtherChannels(t *testing.T) {
	a := New()
	defer a.Close()

	ctx := context.Background()
	sub, err := a.Subscribe(ctx, "quote.*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, a.Publish(ctx, "worker.status", []byte("down")))

	select {
	case <-sub.Channel():
		t.Fatal("did not expect a message on an unrelated channel")
	case <-time.After(50 * time.Millisecond):
	}
}

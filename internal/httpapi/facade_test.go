package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordergate/brokerd/internal/bus"
	busmem "github.com/ordergate/brokerd/internal/bus/adapters/memory"
	"github.com/ordergate/brokerd/internal/command"
)

func idGen() string { return "fixed-id" }

func TestSubmitAndAwaitRoundTrips(t *testing.T) {
	b := busmem.New()
	f := New(b, Config{ReplyTimeout: time.Second, ResponseTTL: time.Second, MaxQueueDepth: 10}, idGen)

	go func() {
		req, err := b.Consume(context.Background())
		require.NoError(t, err)
		_ = b.Reply(context.Background(), &bus.Response{
			RequestID: req.RequestID,
			Status:    bus.StatusOK,
			Data:      []byte(`{"ok":true}`),
		}, time.Second)
	}()

	resp, err := f.SubmitAndAwait(context.Background(), command.ListPositions, nil, false)
	require.NoError(t, err)
	require.Equal(t, bus.StatusOK, resp.Status)
}

func TestSubmitAndAwaitTimesOut(t *testing.T) {
	b := busmem.New()
	f := New(b, Config{ReplyTimeout: 30 * time.Millisecond, ResponseTTL: time.Second, MaxQueueDepth: 10}, idGen)

	// Nothing ever consumes the request, so AwaitResponse must surface a
	// timed-out error rather than hang.
	_, err := f.SubmitAndAwait(context.Background(), command.ListPositions, nil, false)
	require.Error(t, err)
}

func TestSubmitAndAwaitRejectsWhenQueueSaturated(t *testing.T) {
	b := busmem.New()
	f := New(b, Config{ReplyTimeout: time.Second, ResponseTTL: time.Second, MaxQueueDepth: 1}, idGen)

	require.NoError(t, b.Submit(context.Background(), &bus.Request{RequestID: "already-queued"}))

	_, err := f.SubmitAndAwait(context.Background(), command.ListPositions, nil, false)
	require.Error(t, err)
}

func TestSubmitAndAwaitTranslatesFailedStatus(t *testing.T) {
	b := busmem.New()
	f := New(b, Config{ReplyTimeout: time.Second, ResponseTTL: time.Second, MaxQueueDepth: 10}, idGen)

	go func() {
		req, err := b.Consume(context.Background())
		require.NoError(t, err)
		_ = b.Reply(context.Background(), &bus.Response{
			RequestID: req.RequestID,
			Status:    bus.StatusFailed,
			Message:   "upstream rejected",
		}, time.Second)
	}()

	_, err := f.SubmitAndAwait(context.Background(), command.ListPositions, nil, false)
	require.Error(t, err)
}

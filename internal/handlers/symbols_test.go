package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream"
	cachemem "github.com/ordergate/brokerd/pkg/cache/adapters/memory"
)

type snapshotOnlyClient struct {
	upstream.Client
	contract  upstream.Contract
	snapshots int
}

func (c *snapshotOnlyClient) ResolveSymbol(alias string) (upstream.Contract, bool) {
	return c.contract, true
}

func (c *snapshotOnlyClient) MarketSnapshot(ctx context.Context, handle string) (upstream.Tick, error) {
	c.snapshots++
	return upstream.Tick{ExchangeCode: "XCME", LastPrice: 100 + float64(c.snapshots), UpstreamTime: time.Now()}, nil
}

func TestSymbolSnapshotServesCachedValueWithinTTL(t *testing.T) {
	client := &snapshotOnlyClient{contract: upstream.Contract{Handle: "ESZ6"}}
	sess := session.New(session.Config{}, client, nil, nil, nil)
	h := NewSymbolHandlers(cachemem.New())

	payload, err := json.Marshal(command.SymbolSnapshotPayload{Symbol: "ES"})
	require.NoError(t, err)
	req := &bus.Request{Payload: payload}

	first, err := h.SymbolSnapshot(context.Background(), sess, req)
	require.NoError(t, err)
	require.Equal(t, bus.StatusOK, first.Status)

	second, err := h.SymbolSnapshot(context.Background(), sess, req)
	require.NoError(t, err)
	require.JSONEq(t, string(first.Data), string(second.Data))
	require.Equal(t, 1, client.snapshots)
}

func TestSymbolSnapshotUnknownSymbolIsNotFound(t *testing.T) {
	client := &rejectingClient{}
	sess := session.New(session.Config{}, client, nil, nil, nil)
	h := NewSymbolHandlers(cachemem.New())

	payload, _ := json.Marshal(command.SymbolSnapshotPayload{Symbol: "UNKNOWN"})
	_, err := h.SymbolSnapshot(context.Background(), sess, &bus.Request{Payload: payload})
	require.Error(t, err)
}

type rejectingClient struct{ upstream.Client }

func (rejectingClient) ResolveSymbol(alias string) (upstream.Contract, bool) {
	return upstream.Contract{}, false
}

package handlers

import (
	"context"
	"encoding/json"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream"
)

// QueryHandlers groups the read-through commands that have no payload
// beyond the envelope itself. Empty upstream responses normalize to empty
// collections, never to errors (§4.D).
type QueryHandlers struct{}

func NewQueryHandlers() *QueryHandlers {
	return &QueryHandlers{}
}

func (h *QueryHandlers) ListPositions(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	positions, err := sess.Client().Positions(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	if positions == nil {
		positions = []upstream.Position{}
	}
	return okResponse(positions)
}

func (h *QueryHandlers) QueryMargin(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	margin, err := sess.Client().Margin(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	return okResponse(margin)
}

func (h *QueryHandlers) QueryProfitLoss(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	pnl, err := sess.Client().ProfitLoss(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	return okResponse(pnl)
}

func (h *QueryHandlers) ListTrades(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	trades, err := sess.Client().Trades(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	if trades == nil {
		trades = []upstream.Trade{}
	}
	return okResponse(trades)
}

func (h *QueryHandlers) ListSettlements(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	settlements, err := sess.Client().Settlements(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	if settlements == nil {
		settlements = []upstream.Settlement{}
	}
	return okResponse(settlements)
}

func (h *QueryHandlers) QueryUsage(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	usage, err := sess.Client().Usage(ctx)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}
	return okResponse(usage)
}

func okResponse(v any) (*bus.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &bus.Response{Status: bus.StatusOK, Data: data}, nil
}

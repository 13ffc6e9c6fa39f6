package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/cache"
	"github.com/ordergate/brokerd/pkg/errors"
)

// snapshotCacheTTL bounds how long a symbol_snapshot reply is served from
// cache before the next caller forces a fresh upstream round-trip.
const snapshotCacheTTL = 2 * time.Second

// SymbolHandlers groups list_symbols, symbol_info and symbol_snapshot. The
// first two read the in-memory contract catalog loaded at login and must
// succeed without an upstream round-trip (§4.D). symbol_snapshot fronts its
// upstream call with a short-TTL cache so bursts of snapshot polling from
// many gateway callers don't each force a venue round-trip.
type SymbolHandlers struct {
	snapshots cache.Cache
}

func NewSymbolHandlers(snapshots cache.Cache) *SymbolHandlers {
	return &SymbolHandlers{snapshots: snapshots}
}

// familyGroup is one product family's slice of the catalog, as returned by
// ListSymbols.
type familyGroup struct {
	ProductFamily string              `json:"product_family"`
	Symbols       []upstream.Contract `json:"symbols"`
}

func (h *SymbolHandlers) ListSymbols(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	byFamily := make(map[string][]upstream.Contract)
	var order []string
	for _, c := range sess.Client().Contracts() {
		if _, seen := byFamily[c.ProductFamily]; !seen {
			order = append(order, c.ProductFamily)
		}
		byFamily[c.ProductFamily] = append(byFamily[c.ProductFamily], c)
	}

	groups := make([]familyGroup, 0, len(order))
	for _, family := range order {
		groups = append(groups, familyGroup{ProductFamily: family, Symbols: byFamily[family]})
	}
	return okResponse(groups)
}

func (h *SymbolHandlers) SymbolInfo(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.SymbolInfoPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed symbol_info payload", err)
	}

	contract, ok := sess.Client().ResolveSymbol(payload.Symbol)
	if !ok {
		return nil, errors.NotFound("unknown symbol: "+payload.Symbol, nil)
	}
	return okResponse(contract)
}

func (h *SymbolHandlers) SymbolSnapshot(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.SymbolSnapshotPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed symbol_snapshot payload", err)
	}

	client := sess.Client()
	contract, ok := client.ResolveSymbol(payload.Symbol)
	if !ok {
		return nil, errors.NotFound("unknown symbol: "+payload.Symbol, nil)
	}

	cacheKey := "snapshot:" + contract.Handle
	var out symbolSnapshotView
	if err := h.snapshots.Get(ctx, cacheKey, &out); err == nil {
		return okResponse(out)
	}

	tick, err := client.MarketSnapshot(ctx, contract.Handle)
	if err != nil {
		return nil, classifyUpstream(err, contract.ExchangeCode)
	}

	// normalized into the same shape as a streamed tick (§4.D), with Symbol
	// rewritten to the client-facing alias per the quote invariant (§3).
	out = symbolSnapshotView{
		Symbol:           payload.Symbol,
		ExchangeCode:     tick.ExchangeCode,
		LastPrice:        tick.LastPrice,
		Open:             tick.Open,
		High:             tick.High,
		Low:              tick.Low,
		Change:           tick.Change,
		ChangePercent:    tick.ChangePercent,
		LastVolume:       tick.LastVolume,
		CumulativeVolume: tick.CumulativeVolume,
		BestBid:          tick.BestBid,
		BestAsk:          tick.BestAsk,
		BestBidVolume:    tick.BestBidVolume,
		BestAskVolume:    tick.BestAskVolume,
		UpstreamTime:     tick.UpstreamTime.UnixMilli(),
	}
	_ = h.snapshots.Set(ctx, cacheKey, out, snapshotCacheTTL)
	return okResponse(out)
}

// symbolSnapshotView is the wire shape for symbol_snapshot; a struct (not an
// anonymous literal) so it can round-trip through cache.Cache's JSON codec.
type symbolSnapshotView struct {
	Symbol           string  `json:"symbol"`
	ExchangeCode     string  `json:"exchange_code"`
	LastPrice        float64 `json:"last_price"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Change           float64 `json:"change"`
	ChangePercent    float64 `json:"change_percent"`
	LastVolume       float64 `json:"last_volume"`
	CumulativeVolume float64 `json:"cumulative_volume"`
	BestBid          float64 `json:"best_bid"`
	BestAsk          float64 `json:"best_ask"`
	BestBidVolume    float64 `json:"best_bid_volume"`
	BestAskVolume    float64 `json:"best_ask_volume"`
	UpstreamTime     int64   `json:"upstream_time_unix_ms"`
}

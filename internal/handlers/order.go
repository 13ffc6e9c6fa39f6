// Package handlers implements one handler per command family, grouped by
// the order lifecycle, read-through queries, the symbol catalog, and quote
// subscriptions.
package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ordergate/brokerd/internal/audit"
	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/datastructures/bloomfilter"
	"github.com/ordergate/brokerd/pkg/datastructures/lru"
	"github.com/ordergate/brokerd/pkg/errors"
)

// symbolCacheSize bounds the resolved-contract LRU; resolving a symbol
// alias to its contract handle is cheap to cache and expensive to redo on
// every order (§4.D: "cache the resolution so repeated lookups are cheap").
const symbolCacheSize = 2048

// unknownSymbolTTL bounds how long a negative resolution is remembered.
// Aliases are role-based and roll (§4.E); an alias that was unresolvable a
// moment ago can be valid again after a roll, so the negative cache must
// expire rather than accumulate forever.
const unknownSymbolTTL = 5 * time.Minute

// OrderHandlers groups place_order/cancel_order/recheck_order, sharing the
// audit store and the symbol resolution cache.
type OrderHandlers struct {
	audit       audit.Store
	symbolCache *lru.Cache[string, upstream.Contract]

	unknownMu     sync.Mutex
	unknownSymbol *bloomfilter.BloomFilter
	unknownSince  time.Time
}

// NewOrderHandlers builds the order handler group.
func NewOrderHandlers(store audit.Store) *OrderHandlers {
	return &OrderHandlers{
		audit:         store,
		symbolCache:   lru.New[string, upstream.Contract](symbolCacheSize),
		unknownSymbol: bloomfilter.New(symbolCacheSize, 0.01),
		unknownSince:  time.Now(),
	}
}

// resolve looks up a symbol's contract, short-circuiting on symbols already
// known bad. The Bloom filter only ever accumulates confirmed-unknown
// aliases within the current TTL window, so a negative (definitely not
// flagged) always falls through to a real lookup; a positive skips it,
// trading a small false-positive rate of unnecessarily-rejected symbols for
// not hammering the upstream on repeated typos.
func (h *OrderHandlers) resolve(client upstream.Client, symbol string) (upstream.Contract, error) {
	if c, ok := h.symbolCache.Get(symbol); ok {
		return c, nil
	}
	h.rotateUnknownIfStale()
	if h.unknownSymbol.ContainsString(symbol) {
		return upstream.Contract{}, errors.NotFound("unknown symbol: "+symbol, nil)
	}
	c, ok := client.ResolveSymbol(symbol)
	if !ok {
		h.unknownSymbol.AddString(symbol)
		return upstream.Contract{}, errors.NotFound("unknown symbol: "+symbol, nil)
	}
	h.symbolCache.Set(symbol, c)
	return c, nil
}

// rotateUnknownIfStale clears the negative cache once unknownSymbolTTL has
// elapsed since the last clear.
func (h *OrderHandlers) rotateUnknownIfStale() {
	h.unknownMu.Lock()
	defer h.unknownMu.Unlock()
	if time.Since(h.unknownSince) < unknownSymbolTTL {
		return
	}
	h.unknownSymbol.Clear()
	h.unknownSince = time.Now()
}

// PlaceOrderPayload result data.
type placeOrderResult struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder implements dispatcher.Handler for command.PlaceOrder.
func (h *OrderHandlers) PlaceOrder(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.PlaceOrderPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed place_order payload", err)
	}

	client := sess.Client()
	contract, err := h.resolve(client, payload.Symbol)
	if err != nil {
		return nil, err
	}

	side, quantity, noAction, noActionReason, err := h.resolveIntent(ctx, client, contract, payload)
	if err != nil {
		return nil, err
	}
	if noAction {
		return nil, errors.NoAction(noActionReason)
	}

	orderReq := upstream.OrderRequest{
		ContractHandle:    contract.Handle,
		Side:              side,
		Quantity:          quantity,
		Price:             payload.Price,
		Limit:             payload.PriceType == command.PriceLimit,
		FillOrKill:        payload.TimeInForce == command.TIFFillOrKill,
		ImmediateOrCancel: payload.TimeInForce == command.TIFImmediateOrCancel,
		Simulation:        req.Simulation,
	}
	if orderReq.Limit && (orderReq.Price == nil || *orderReq.Price <= 0) {
		return nil, errors.InvalidArgument("limit order requires a positive price", nil)
	}

	mode := audit.ModeLive
	if req.Simulation {
		mode = audit.ModeSimulation
	}
	pending, err := h.audit.Insert(ctx, audit.Row{
		Mode:     mode,
		Symbol:   payload.Symbol,
		Action:   string(payload.Direction),
		Quantity: quantity,
		Status:   audit.StatusPending,
	})
	if err != nil {
		return nil, errors.Internal("write pending audit row", err)
	}

	ack, err := client.PlaceOrder(ctx, orderReq)
	if err != nil {
		if _, uerr := h.audit.UpdateByID(ctx, pending.ID, func(r *audit.Row) {
			r.Status = audit.StatusRejected
			r.FailureMessage = err.Error()
		}); uerr != nil {
			// best-effort: the original upstream error is the one that matters
		}
		return nil, classifyUpstream(err, contract.ExchangeCode)
	}

	if _, err := h.audit.UpdateByID(ctx, pending.ID, func(r *audit.Row) {
		r.UpstreamOrderID = ack.UpstreamOrderID
		r.ExchangeCode = contract.ExchangeCode
		r.Status = audit.Status(ack.Status)
	}); err != nil {
		// the order is live upstream even if the local row update failed;
		// recheck_order will reconcile it.
	}

	data, _ := json.Marshal(placeOrderResult{OrderID: ack.UpstreamOrderID})
	return &bus.Response{Status: bus.StatusOK, Data: data}, nil
}

// resolveIntent turns a directional command into an upstream side and
// quantity. Entry commands always proceed; exit commands first check the
// current net position and resolve no_action if it is absent or
// opposite-signed (§3, §8 scenario 2).
func (h *OrderHandlers) resolveIntent(ctx context.Context, client upstream.Client, contract upstream.Contract, payload command.PlaceOrderPayload) (side upstream.Side, quantity float64, noAction bool, reason string, err error) {
	if !payload.Direction.IsExit() {
		side := upstream.SideBuy
		if !payload.Direction.IsLong() {
			side = upstream.SideSell
		}
		return side, payload.Quantity, false, "", nil
	}

	positions, err := client.Positions(ctx)
	if err != nil {
		return "", 0, false, "", err
	}

	var held float64
	var heldSide upstream.Side
	for _, p := range positions {
		if p.ContractHandle == contract.Handle {
			held = p.Quantity
			heldSide = p.Side
			break
		}
	}

	wantsLongExit := payload.Direction == command.LongExit
	if held <= 0 {
		return "", 0, true, "no position held in " + payload.Symbol, nil
	}
	if wantsLongExit && heldSide != upstream.SideBuy {
		return "", 0, true, "held position in " + payload.Symbol + " is not long", nil
	}
	if !wantsLongExit && heldSide != upstream.SideSell {
		return "", 0, true, "held position in " + payload.Symbol + " is not short", nil
	}

	closeQty := payload.Quantity
	if closeQty > held {
		closeQty = held
	}

	closeSide := upstream.SideSell
	if heldSide == upstream.SideSell {
		closeSide = upstream.SideBuy
	}
	return closeSide, closeQty, false, "", nil
}

// CancelOrder implements dispatcher.Handler for command.CancelOrder.
func (h *OrderHandlers) CancelOrder(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.CancelOrderPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed cancel_order payload", err)
	}

	row, err := h.audit.FindByUpstreamOrderID(ctx, payload.OrderID)
	if err != nil {
		return nil, err
	}
	if isTerminal(row.Status) {
		return &bus.Response{Status: bus.StatusNoAction, Message: "order already " + string(row.Status)}, nil
	}

	client := sess.Client()
	if err := client.CancelOrder(ctx, payload.OrderID); err != nil {
		return nil, classifyUpstream(err, row.ExchangeCode)
	}

	if _, err := h.audit.Update(ctx, payload.OrderID, func(r *audit.Row) {
		r.Status = audit.StatusCanceled
	}); err != nil {
		return nil, errors.Internal("update audit row after cancel", err)
	}

	return &bus.Response{Status: bus.StatusOK}, nil
}

// recheckOrderResult is the delta surfaced for a recheck (§4.D).
type recheckOrderResult struct {
	OrderID      string            `json:"order_id"`
	Status       string            `json:"status"`
	FillQuantity float64           `json:"fill_quantity"`
	FillPrice    *float64          `json:"fill_price,omitempty"`
	Deals        []upstream.Deal   `json:"deals,omitempty"`
}

// RecheckOrder implements dispatcher.Handler for command.RecheckOrder.
func (h *OrderHandlers) RecheckOrder(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.RecheckOrderPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed recheck_order payload", err)
	}

	client := sess.Client()
	status, err := client.OrderStatus(ctx, payload.OrderID)
	if err != nil {
		return nil, classifyUpstream(err, "")
	}

	if _, err := h.audit.Update(ctx, payload.OrderID, func(r *audit.Row) {
		r.Status = audit.Status(status.Status)
		r.FillQuantity = status.FillQuantity
		r.FillPrice = status.FillPrice
	}); err != nil {
		return nil, errors.Internal("reconcile audit row", err)
	}

	data, _ := json.Marshal(recheckOrderResult{
		OrderID:      status.UpstreamOrderID,
		Status:       status.Status,
		FillQuantity: status.FillQuantity,
		FillPrice:    status.FillPrice,
		Deals:        status.Deals,
	})
	return &bus.Response{Status: bus.StatusOK, Data: data}, nil
}

func isTerminal(s audit.Status) bool {
	switch s {
	case audit.StatusFilled, audit.StatusCanceled, audit.StatusRejected:
		return true
	default:
		return false
	}
}

// classifyUpstream maps a raw upstream error into the taxonomy of §7,
// driving the session manager's heal cycle when the failure is transient.
func classifyUpstream(err error, exchangeCode string) error {
	ce, ok := err.(*upstream.ClassifiedError)
	if !ok {
		return errors.UpstreamTransient("upstream call failed", err)
	}
	if ce.Class == upstream.ClassTransient {
		return errors.UpstreamTransient(ce.Error(), ce.Err)
	}
	return errors.UpstreamRefused(ce.Error(), ce.Err)
}

// Package command defines the closed set of operations the facade can
// submit onto the bus, and the typed payload carried by each.
package command

// Kind is a string-based closed enum: the dispatcher rejects anything not
// in this list before it ever reaches a handler.
type Kind string

const (
	PlaceOrder       Kind = "place_order"
	CancelOrder      Kind = "cancel_order"
	RecheckOrder     Kind = "recheck_order"
	ListPositions    Kind = "list_positions"
	QueryMargin      Kind = "query_margin"
	QueryProfitLoss  Kind = "query_profit_loss"
	ListTrades       Kind = "list_trades"
	ListSettlements  Kind = "list_settlements"
	ListSymbols      Kind = "list_symbols"
	SymbolInfo       Kind = "symbol_info"
	SymbolSnapshot   Kind = "symbol_snapshot"
	QueryUsage       Kind = "query_usage"
	SubscribeQuote   Kind = "subscribe_quote"
	UnsubscribeQuote Kind = "unsubscribe_quote"
)

// Kinds lists every valid command kind, in the order given in the data
// model; used to validate incoming requests without a map allocation.
var Kinds = []Kind{
	PlaceOrder, CancelOrder, RecheckOrder, ListPositions, QueryMargin,
	QueryProfitLoss, ListTrades, ListSettlements, ListSymbols, SymbolInfo,
	SymbolSnapshot, QueryUsage, SubscribeQuote, UnsubscribeQuote,
}

// Valid reports whether k is one of the closed set of command kinds.
func Valid(k Kind) bool {
	for _, known := range Kinds {
		if known == k {
			return true
		}
	}
	return false
}

// Direction is the directional intent of an order command.
type Direction string

const (
	LongEntry  Direction = "long_entry"
	LongExit   Direction = "long_exit"
	ShortEntry Direction = "short_entry"
	ShortExit  Direction = "short_exit"
)

// IsExit reports whether d closes an existing position rather than opening
// one.
func (d Direction) IsExit() bool {
	return d == LongExit || d == ShortExit
}

// IsLong reports whether d concerns the long side of the book.
func (d Direction) IsLong() bool {
	return d == LongEntry || d == LongExit
}

// PriceType selects how an order's price is interpreted.
type PriceType string

const (
	PriceMarket PriceType = "market"
	PriceLimit  PriceType = "limit"
)

// TimeInForce is the order's duration/fill contract.
type TimeInForce string

const (
	TIFDay               TimeInForce = "day"
	TIFFillOrKill        TimeInForce = "fill_or_kill"
	TIFImmediateOrCancel TimeInForce = "immediate_or_cancel"
)

// PlaceOrderPayload is the payload for PlaceOrder.
type PlaceOrderPayload struct {
	Direction   Direction   `json:"direction" validate:"required,oneof=long_entry long_exit short_entry short_exit"`
	Symbol      string      `json:"symbol" validate:"required"`
	Quantity    float64     `json:"quantity" validate:"required,gt=0"`
	Price       *float64    `json:"price,omitempty"`
	PriceType   PriceType   `json:"price_type" validate:"omitempty,oneof=market limit"`
	TimeInForce TimeInForce `json:"time_in_force" validate:"required,oneof=day fill_or_kill immediate_or_cancel"`
}

// CancelOrderPayload is the payload for CancelOrder.
type CancelOrderPayload struct {
	OrderID string `json:"order_id" validate:"required"`
}

// RecheckOrderPayload is the payload for RecheckOrder.
type RecheckOrderPayload struct {
	OrderID string `json:"order_id" validate:"required"`
}

// SymbolInfoPayload is the payload for SymbolInfo.
type SymbolInfoPayload struct {
	Symbol string `json:"symbol" validate:"required"`
}

// SymbolSnapshotPayload is the payload for SymbolSnapshot.
type SymbolSnapshotPayload struct {
	Symbol string `json:"symbol" validate:"required"`
}

// SubscribeQuotePayload is the payload for SubscribeQuote / UnsubscribeQuote.
type SubscribeQuotePayload struct {
	Symbol string `json:"symbol" validate:"required"`
}

// Empty payloads: ListPositions, QueryMargin, QueryProfitLoss, ListTrades,
// ListSettlements, ListSymbols, QueryUsage take no parameters beyond the
// envelope's simulation flag.

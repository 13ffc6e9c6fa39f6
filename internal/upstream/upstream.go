// Package upstream defines the collaborator interface the worker session
// holds: a single credentialed connection to the trading venue, plus the
// normalized result shapes every handler reads.
package upstream

import (
	"context"
	"time"
)

// Side is the upstream-facing buy/sell leg of an order, as distinct from
// the client-facing Direction in package command.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Contract is a catalog entry resolved from a client-facing symbol alias.
type Contract struct {
	Handle        string
	Symbol        string
	ExchangeCode  string
	ProductFamily string
	DisplayName   string
}

// OrderRequest is what the worker submits after resolving symbol/intent.
type OrderRequest struct {
	ContractHandle string
	Side           Side
	Quantity       float64
	Price          *float64
	Limit          bool
	FillOrKill     bool
	ImmediateOrCancel bool
	Simulation     bool
}

// OrderAck is the immediate result of submitting an order.
type OrderAck struct {
	UpstreamOrderID string
	Status          string
}

// OrderStatus is the result of a recheck.
type OrderStatus struct {
	UpstreamOrderID string
	Status          string
	FillQuantity    float64
	FillPrice       *float64
	Deals           []Deal
}

// Deal is one partial or full fill.
type Deal struct {
	DealID   string
	Quantity float64
	Price    float64
	FilledAt time.Time
}

// Position is a net holding in one contract.
type Position struct {
	ContractHandle string
	Symbol         string
	Side           Side
	Quantity       float64
	AveragePrice   float64
}

// Margin is a margin/usage snapshot for the selected account.
type Margin struct {
	Currency        string
	Equity          float64
	UsedMargin      float64
	AvailableMargin float64
}

// ProfitLoss is the realized/unrealized PnL snapshot.
type ProfitLoss struct {
	Currency   string
	Realized   float64
	Unrealized float64
}

// Trade is one executed trade record.
type Trade struct {
	TradeID  string
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
	FilledAt time.Time
}

// Settlement is one settlement record.
type Settlement struct {
	SettlementID string
	Currency     string
	Amount       float64
	SettledAt    time.Time
}

// Usage is a connection/quota usage snapshot.
type Usage struct {
	RequestsUsed  int64
	RequestsQuota int64
	WindowResetAt time.Time
}

// Tick is a normalized market tick in upstream terms; the quote manager
// rewrites ExchangeCode's alias binding before publishing.
type Tick struct {
	ExchangeCode    string
	LastPrice       float64
	Open            float64
	High            float64
	Low             float64
	Change          float64
	ChangePercent   float64
	LastVolume      float64
	CumulativeVolume float64
	BestBid         float64
	BestAsk         float64
	BestBidVolume   float64
	BestAskVolume   float64
	UpstreamTime    time.Time
}

// TickCallback is invoked by the upstream SDK on its own I/O goroutine; per
// design note, it must do nothing but push onto an internal queue.
type TickCallback func(Tick)

// Client is the single mutually-exclusive upstream session collaborator.
// One Client exists per worker process; the session manager owns its
// lifecycle and the dispatcher is its only caller during steady state.
type Client interface {
	// Login establishes the session: credentialed auth, contract catalog
	// load, default account selection per product family.
	Login(ctx context.Context) error
	Logout(ctx context.Context) error

	Contracts() []Contract
	ResolveSymbol(symbol string) (Contract, bool)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, upstreamOrderID string) error
	OrderStatus(ctx context.Context, upstreamOrderID string) (OrderStatus, error)

	Positions(ctx context.Context) ([]Position, error)
	Margin(ctx context.Context) (Margin, error)
	ProfitLoss(ctx context.Context) (ProfitLoss, error)
	Trades(ctx context.Context) ([]Trade, error)
	Settlements(ctx context.Context) ([]Settlement, error)
	Usage(ctx context.Context) (Usage, error)

	MarketSnapshot(ctx context.Context, contractHandle string) (Tick, error)

	// SubscribeTick and SubscribeBidAsk are refcounted by the quote
	// manager, never by the client itself; the client only issues the
	// wire-level subscribe/unsubscribe.
	SubscribeTick(ctx context.Context, contractHandle string, cb TickCallback) error
	UnsubscribeTick(ctx context.Context, contractHandle string) error
	SubscribeBidAsk(ctx context.Context, contractHandle string, cb TickCallback) error
	UnsubscribeBidAsk(ctx context.Context, contractHandle string) error
}

package handlers

import (
	"github.com/ordergate/brokerd/internal/audit"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/dispatcher"
	"github.com/ordergate/brokerd/internal/quote"
	"github.com/ordergate/brokerd/pkg/cache"
)

// Registry builds the full command.Kind -> dispatcher.Handler map the
// dispatcher consumes.
func Registry(store audit.Store, quoteManager *quote.Manager, snapshots cache.Cache) map[command.Kind]dispatcher.Handler {
	orders := NewOrderHandlers(store)
	queries := NewQueryHandlers()
	symbols := NewSymbolHandlers(snapshots)
	quotes := NewQuoteHandlers(quoteManager)

	return map[command.Kind]dispatcher.Handler{
		command.PlaceOrder:       dispatcher.HandlerFunc(orders.PlaceOrder),
		command.CancelOrder:      dispatcher.HandlerFunc(orders.CancelOrder),
		command.RecheckOrder:     dispatcher.HandlerFunc(orders.RecheckOrder),
		command.ListPositions:    dispatcher.HandlerFunc(queries.ListPositions),
		command.QueryMargin:      dispatcher.HandlerFunc(queries.QueryMargin),
		command.QueryProfitLoss:  dispatcher.HandlerFunc(queries.QueryProfitLoss),
		command.ListTrades:       dispatcher.HandlerFunc(queries.ListTrades),
		command.ListSettlements:  dispatcher.HandlerFunc(queries.ListSettlements),
		command.QueryUsage:       dispatcher.HandlerFunc(queries.QueryUsage),
		command.ListSymbols:      dispatcher.HandlerFunc(symbols.ListSymbols),
		command.SymbolInfo:       dispatcher.HandlerFunc(symbols.SymbolInfo),
		command.SymbolSnapshot:   dispatcher.HandlerFunc(symbols.SymbolSnapshot),
		command.SubscribeQuote:   dispatcher.HandlerFunc(quotes.SubscribeQuote),
		command.UnsubscribeQuote: dispatcher.HandlerFunc(quotes.UnsubscribeQuote),
	}
}

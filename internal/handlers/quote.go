package handlers

import (
	"context"
	"encoding/json"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/quote"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/pkg/errors"
)

// QuoteHandlers groups subscribe_quote/unsubscribe_quote, delegating the
// refcounted subscription bookkeeping to the quote manager (§4.D, §4.E).
type QuoteHandlers struct {
	manager *quote.Manager
}

func NewQuoteHandlers(manager *quote.Manager) *QuoteHandlers {
	return &QuoteHandlers{manager: manager}
}

func (h *QuoteHandlers) SubscribeQuote(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.SubscribeQuotePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed subscribe_quote payload", err)
	}
	if err := h.manager.Subscribe(ctx, payload.Symbol); err != nil {
		return nil, err
	}
	return &bus.Response{Status: bus.StatusOK}, nil
}

func (h *QuoteHandlers) UnsubscribeQuote(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	var payload command.SubscribeQuotePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, errors.InvalidArgument("malformed unsubscribe_quote payload", err)
	}
	if err := h.manager.Unsubscribe(ctx, payload.Symbol); err != nil {
		return nil, err
	}
	return &bus.Response{Status: bus.StatusOK}, nil
}

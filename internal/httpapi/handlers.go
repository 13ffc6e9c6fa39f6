package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/streaming"
	apimw "github.com/ordergate/brokerd/pkg/api/middleware"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
	"github.com/ordergate/brokerd/pkg/validator"
)

var fieldValidator = validator.New()

// handlers groups the echo handler methods sharing one Facade and the
// WebSocket hub backing /ws/quotes.
type handlers struct {
	facade *Facade
	hub    *streaming.Hub
}

// simulationFlag reads the ?simulation=true query flag the command envelope
// carries alongside every submission.
func simulationFlag(c echo.Context) bool {
	return c.QueryParam("simulation") == "true"
}

// submit decodes payload (if non-nil), validates it, submits kind to the
// bus, and writes the worker's reply straight through.
func (h *handlers) submit(c echo.Context, kind command.Kind, payload any) error {
	if payload != nil {
		if err := fieldValidator.ValidateStruct(payload); err != nil {
			return httpError(c, errors.InvalidArgument("invalid request body", err))
		}
	}

	resp, err := h.facade.SubmitAndAwait(c.Request().Context(), kind, payload, simulationFlag(c))
	if err != nil {
		return httpError(c, err)
	}
	return writeResponse(c, resp)
}

func httpError(c echo.Context, err error) error {
	status := errors.HTTPStatus(err)
	return c.JSON(status, echo.Map{"error": err.Error()})
}

func (h *handlers) placeOrder(c echo.Context) error {
	var p command.PlaceOrderPayload
	if err := c.Bind(&p); err != nil {
		return httpError(c, errors.InvalidArgument("malformed request body", err))
	}
	if p.PriceType == "" {
		p.PriceType = command.PriceMarket
	}
	logger.L().InfoContext(c.Request().Context(), "order submitted", "subject", subjectOf(c), "symbol", p.Symbol, "direction", p.Direction)
	return h.submit(c, command.PlaceOrder, p)
}

func (h *handlers) cancelOrder(c echo.Context) error {
	p := command.CancelOrderPayload{OrderID: c.Param("id")}
	logger.L().InfoContext(c.Request().Context(), "order cancel requested", "subject", subjectOf(c), "order_id", p.OrderID)
	return h.submit(c, command.CancelOrder, p)
}

func (h *handlers) recheckOrder(c echo.Context) error {
	p := command.RecheckOrderPayload{OrderID: c.Param("id")}
	return h.submit(c, command.RecheckOrder, p)
}

func (h *handlers) listPositions(c echo.Context) error {
	return h.submit(c, command.ListPositions, nil)
}

func (h *handlers) queryMargin(c echo.Context) error {
	return h.submit(c, command.QueryMargin, nil)
}

func (h *handlers) queryProfitLoss(c echo.Context) error {
	return h.submit(c, command.QueryProfitLoss, nil)
}

func (h *handlers) listTrades(c echo.Context) error {
	return h.submit(c, command.ListTrades, nil)
}

func (h *handlers) listSettlements(c echo.Context) error {
	return h.submit(c, command.ListSettlements, nil)
}

func (h *handlers) listSymbols(c echo.Context) error {
	return h.submit(c, command.ListSymbols, nil)
}

func (h *handlers) symbolInfo(c echo.Context) error {
	p := command.SymbolInfoPayload{Symbol: c.Param("id")}
	return h.submit(c, command.SymbolInfo, p)
}

func (h *handlers) symbolSnapshot(c echo.Context) error {
	p := command.SymbolSnapshotPayload{Symbol: c.Param("id")}
	return h.submit(c, command.SymbolSnapshot, p)
}

func (h *handlers) queryUsage(c echo.Context) error {
	return h.submit(c, command.QueryUsage, nil)
}

// subjectOf reads the caller identity AuthMiddleware attached to the
// request context.
func subjectOf(c echo.Context) string {
	return apimw.GetSubject(c.Request().Context())
}

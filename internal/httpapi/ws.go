package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
)

var upgrader = websocket.Upgrader{
	// The gateway sits behind a reverse proxy that already enforces origin;
	// the socket itself carries no cookies, only the shared auth key
	// validated by AuthMiddleware before the upgrade is attempted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errNoHub = errors.Internal("websocket hub not configured", nil)

// wsQuotes upgrades /ws/quotes and hands the connection to the shared Hub.
func (h *handlers) wsQuotes(c echo.Context) error {
	if h.hub == nil {
		return httpError(c, errNoHub)
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.L().WarnContext(c.Request().Context(), "websocket upgrade failed", "error", err)
		return nil
	}
	h.hub.Serve(c.Request().Context(), conn)
	return nil
}

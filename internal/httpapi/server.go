package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/streaming"
	apimw "github.com/ordergate/brokerd/pkg/api/middleware"
	"github.com/ordergate/brokerd/pkg/api/ratelimit"
	"github.com/ordergate/brokerd/pkg/validator"
)

// ServerConfig configures the echo server wrapping a Facade.
type ServerConfig struct {
	AuthKey         string `env:"GATEWAY_AUTH_KEY" env-required:"true"`
	RateLimitPerMin int64  `env:"GATEWAY_RATE_LIMIT_PER_MIN" env-default:"120"`
}

// NewServer builds an *echo.Echo with the full security and observability
// middleware stack and every route in the facade mounted on it.
func NewServer(f *Facade, hub *streaming.Hub, limiter ratelimit.Limiter, scfg ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echo.WrapMiddleware(apimw.RequestIDMiddleware()))
	e.Use(echo.WrapMiddleware(apimw.SecureJSONMiddleware()))
	e.Use(echo.WrapMiddleware(apimw.SanitizeMiddleware(validator.NewSanitizer())))
	e.Use(echo.WrapMiddleware(apimw.RateLimitMiddleware(limiter, scfg.RateLimitPerMin, time.Minute)))
	e.Use(echo.WrapMiddleware(apimw.AuthMiddleware(apimw.SharedSecretVerifier{Key: scfg.AuthKey})))

	h := &handlers{facade: f, hub: hub}

	e.POST("/order", h.placeOrder)
	e.POST("/orders/:id/cancel", h.cancelOrder)
	e.POST("/orders/:id/recheck", h.recheckOrder)
	e.GET("/positions", h.listPositions)
	e.GET("/margin", h.queryMargin)
	e.GET("/profit-loss", h.queryProfitLoss)
	e.GET("/trades", h.listTrades)
	e.GET("/settlements", h.listSettlements)
	e.GET("/symbols", h.listSymbols)
	e.GET("/symbols/:id", h.symbolInfo)
	e.GET("/symbols/:id/snapshot", h.symbolSnapshot)
	e.GET("/usage", h.queryUsage)
	e.GET("/ws/quotes", h.wsQuotes)

	return e
}

// writeResponse maps a bus.Response's raw payload straight through as the
// HTTP body; handlers never re-encode what the worker already produced.
func writeResponse(c echo.Context, resp *bus.Response) error {
	if len(resp.Data) == 0 {
		return c.NoContent(http.StatusOK)
	}
	return c.JSONBlob(http.StatusOK, resp.Data)
}

// NewRequestID mints a request/client ID using UUID v4; pass as the idGen
// argument to New and streaming.New so both surfaces share one ID scheme.
func NewRequestID() string {
	return uuid.NewString()
}

// Package broker implements internal/upstream.Client against an HTTP+
// WebSocket trading venue: a REST leg for auth, catalog, orders and account
// queries, and a streaming leg for tick/bid-ask push.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/client/rest"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
)

// Config carries the credentials and endpoints for the upstream venue.
type Config struct {
	BaseURL   string        `env:"UPSTREAM_BASE_URL" env-required:"true"`
	StreamURL string        `env:"UPSTREAM_STREAM_URL" env-required:"true"`
	APIKey    string        `env:"UPSTREAM_API_KEY" env-required:"true"`
	APISecret string        `env:"UPSTREAM_API_SECRET" env-required:"true"`
	AccountID string        `env:"UPSTREAM_ACCOUNT_ID" env-required:"true"`
	Timeout   time.Duration `env:"UPSTREAM_TIMEOUT" env-default:"10s"`
}

// Client is the single credentialed venue connection. One instance is held
// by the worker's session.Manager for the life of the process.
type Client struct {
	cfg  Config
	http *rest.Client

	mu        sync.RWMutex
	token     string
	byHandle  map[string]upstream.Contract
	bySymbol  map[string]upstream.Contract
	contracts []upstream.Contract

	streamMu sync.Mutex
	conn     *websocket.Conn
	// cb is the single callback installed for the life of the stream
	// connection; every subscribed contract shares it (§4.E — the caller
	// resolves which alias a frame belongs to, this adapter only decodes
	// the wire and hands the Tick over). tickHandles/bidAskHandles are
	// just the wire bookkeeping for which subscribe/unsubscribe frames
	// have been sent, not a dispatch table.
	cb            upstream.TickCallback
	tickHandles   map[string]struct{}
	bidAskHandles map[string]struct{}
	streamDone    chan struct{}
}

// New builds a venue client. Login must be called before any other method.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: rest.New(rest.Config{
			Timeout: cfg.Timeout,
			Retries: 3,
		}),
		tickHandles:   make(map[string]struct{}),
		bidAskHandles: make(map[string]struct{}),
	}
}

type loginRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	AccountID string `json:"account_id"`
}

type loginResponse struct {
	Token     string             `json:"token"`
	Contracts []wireContract     `json:"contracts"`
}

type wireContract struct {
	Handle        string `json:"handle"`
	Symbol        string `json:"symbol"`
	ExchangeCode  string `json:"exchange_code"`
	ProductFamily string `json:"product_family"`
	DisplayName   string `json:"display_name"`
}

// Login authenticates and loads the contract catalog (§4.B step 1).
func (c *Client) Login(ctx context.Context) error {
	var resp loginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", loginRequest{
		APIKey:    c.cfg.APIKey,
		APISecret: c.cfg.APISecret,
		AccountID: c.cfg.AccountID,
	}, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.contracts = make([]upstream.Contract, 0, len(resp.Contracts))
	c.byHandle = make(map[string]upstream.Contract, len(resp.Contracts))
	c.bySymbol = make(map[string]upstream.Contract, len(resp.Contracts))
	for _, wc := range resp.Contracts {
		contract := upstream.Contract{
			Handle:        wc.Handle,
			Symbol:        wc.Symbol,
			ExchangeCode:  wc.ExchangeCode,
			ProductFamily: wc.ProductFamily,
			DisplayName:   wc.DisplayName,
		}
		c.contracts = append(c.contracts, contract)
		c.byHandle[contract.Handle] = contract
		c.bySymbol[contract.Symbol] = contract
	}
	c.mu.Unlock()

	logger.L().InfoContext(ctx, "upstream login succeeded", "contracts", len(resp.Contracts))
	return nil
}

// Logout tears down the session and any open stream.
func (c *Client) Logout(ctx context.Context) error {
	c.closeStream()
	err := c.call(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return err
}

func (c *Client) Contracts() []upstream.Contract {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]upstream.Contract, len(c.contracts))
	copy(out, c.contracts)
	return out
}

func (c *Client) ResolveSymbol(symbol string) (upstream.Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, ok := c.bySymbol[symbol]
	return contract, ok
}

var _ upstream.Client = (*Client)(nil)

type wirePrice struct {
	ContractHandle    string   `json:"contract_handle"`
	Side              string   `json:"side"`
	Quantity          float64  `json:"quantity"`
	Price             *float64 `json:"price,omitempty"`
	Limit             bool     `json:"limit"`
	FillOrKill        bool     `json:"fill_or_kill"`
	ImmediateOrCancel bool     `json:"immediate_or_cancel"`
	Simulation        bool     `json:"simulation"`
}

type orderAckWire struct {
	UpstreamOrderID string `json:"order_id"`
	Status          string `json:"status"`
}

func (c *Client) PlaceOrder(ctx context.Context, req upstream.OrderRequest) (upstream.OrderAck, error) {
	var resp orderAckWire
	err := c.call(ctx, http.MethodPost, "/orders", wirePrice{
		ContractHandle:    req.ContractHandle,
		Side:              string(req.Side),
		Quantity:          req.Quantity,
		Price:             req.Price,
		Limit:             req.Limit,
		FillOrKill:        req.FillOrKill,
		ImmediateOrCancel: req.ImmediateOrCancel,
		Simulation:        req.Simulation,
	}, &resp, true)
	if err != nil {
		return upstream.OrderAck{}, err
	}
	return upstream.OrderAck{UpstreamOrderID: resp.UpstreamOrderID, Status: resp.Status}, nil
}

func (c *Client) CancelOrder(ctx context.Context, upstreamOrderID string) error {
	return c.call(ctx, http.MethodDelete, "/orders/"+upstreamOrderID, nil, nil, true)
}

type orderStatusWire struct {
	UpstreamOrderID string    `json:"order_id"`
	Status          string    `json:"status"`
	FillQuantity    float64   `json:"fill_quantity"`
	FillPrice       *float64  `json:"fill_price,omitempty"`
	Deals           []dealWire `json:"deals,omitempty"`
}

type dealWire struct {
	DealID   string    `json:"deal_id"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	FilledAt time.Time `json:"filled_at"`
}

func (c *Client) OrderStatus(ctx context.Context, upstreamOrderID string) (upstream.OrderStatus, error) {
	var resp orderStatusWire
	if err := c.call(ctx, http.MethodGet, "/orders/"+upstreamOrderID, nil, &resp, true); err != nil {
		return upstream.OrderStatus{}, err
	}
	deals := make([]upstream.Deal, len(resp.Deals))
	for i, d := range resp.Deals {
		deals[i] = upstream.Deal{DealID: d.DealID, Quantity: d.Quantity, Price: d.Price, FilledAt: d.FilledAt}
	}
	return upstream.OrderStatus{
		UpstreamOrderID: resp.UpstreamOrderID,
		Status:          resp.Status,
		FillQuantity:    resp.FillQuantity,
		FillPrice:       resp.FillPrice,
		Deals:           deals,
	}, nil
}

type positionWire struct {
	ContractHandle string  `json:"contract_handle"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	AveragePrice   float64 `json:"average_price"`
}

func (c *Client) Positions(ctx context.Context) ([]upstream.Position, error) {
	var resp []positionWire
	if err := c.call(ctx, http.MethodGet, "/positions", nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]upstream.Position, len(resp))
	for i, p := range resp {
		out[i] = upstream.Position{
			ContractHandle: p.ContractHandle,
			Symbol:         p.Symbol,
			Side:           upstream.Side(p.Side),
			Quantity:       p.Quantity,
			AveragePrice:   p.AveragePrice,
		}
	}
	return out, nil
}

func (c *Client) Margin(ctx context.Context) (upstream.Margin, error) {
	var resp upstream.Margin
	err := c.call(ctx, http.MethodGet, "/account/margin", nil, &resp, true)
	return resp, err
}

func (c *Client) ProfitLoss(ctx context.Context) (upstream.ProfitLoss, error) {
	var resp upstream.ProfitLoss
	err := c.call(ctx, http.MethodGet, "/account/pnl", nil, &resp, true)
	return resp, err
}

func (c *Client) Trades(ctx context.Context) ([]upstream.Trade, error) {
	var resp []upstream.Trade
	err := c.call(ctx, http.MethodGet, "/account/trades", nil, &resp, true)
	return resp, err
}

func (c *Client) Settlements(ctx context.Context) ([]upstream.Settlement, error) {
	var resp []upstream.Settlement
	err := c.call(ctx, http.MethodGet, "/account/settlements", nil, &resp, true)
	return resp, err
}

func (c *Client) Usage(ctx context.Context) (upstream.Usage, error) {
	var resp upstream.Usage
	err := c.call(ctx, http.MethodGet, "/account/usage", nil, &resp, true)
	return resp, err
}

func (c *Client) MarketSnapshot(ctx context.Context, contractHandle string) (upstream.Tick, error) {
	var resp upstream.Tick
	err := c.call(ctx, http.MethodGet, "/market/"+contractHandle+"/snapshot", nil, &resp, true)
	return resp, err
}

func (c *Client) SubscribeTick(ctx context.Context, contractHandle string, cb upstream.TickCallback) error {
	return c.subscribe(ctx, "tick", contractHandle, cb)
}

func (c *Client) UnsubscribeTick(ctx context.Context, contractHandle string) error {
	return c.unsubscribe(ctx, "tick", contractHandle)
}

func (c *Client) SubscribeBidAsk(ctx context.Context, contractHandle string, cb upstream.TickCallback) error {
	return c.subscribe(ctx, "bidask", contractHandle, cb)
}

func (c *Client) UnsubscribeBidAsk(ctx context.Context, contractHandle string) error {
	return c.unsubscribe(ctx, "bidask", contractHandle)
}

// errorWire is the shape of an upstream error response; Code drives
// internal/upstream.ClassifyError.
type errorWire struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// call issues one REST request and decodes the JSON response, classifying
// non-2xx responses through upstream.ClassifyError rather than matching on
// status text.
func (c *Client) call(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.InvalidArgument("encode upstream request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errors.Internal("build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return upstream.ClassifyError("CONNECTION_RESET", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var ew errorWire
		_ = json.NewDecoder(resp.Body).Decode(&ew)
		if ew.Code == "" {
			ew.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		if ew.Message == "" {
			ew.Message = "upstream request failed"
		}
		return upstream.ClassifyError(ew.Code, fmt.Errorf("%s", ew.Message))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Internal("decode upstream response", err)
	}
	return nil
}

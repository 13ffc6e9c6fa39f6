// Package streaming implements the browser-facing WebSocket hub: per-client
// send channels, a central register/unregister loop, and a single pattern
// listener on the quote bus shared by the whole process.
package streaming

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/pkg/logger"
)

// IdleTimeout is how long a socket may go without any inbound frame
// (including ping) before the hub closes it.
const IdleTimeout = 60 * time.Second

const sendBuffer = 256

// inboundType enumerates the client→server message kinds (§4.F).
type inboundType string

const (
	inSubscribe   inboundType = "subscribe"
	inUnsubscribe inboundType = "unsubscribe"
	inPing        inboundType = "ping"
)

// outboundType enumerates the server→client message kinds.
type outboundType string

const (
	outConnected    outboundType = "connected"
	outSubscribed   outboundType = "subscribed"
	outUnsubscribed outboundType = "unsubscribed"
	outQuote        outboundType = "quote"
	outPong         outboundType = "pong"
	outError        outboundType = "error"
)

type inbound struct {
	Type       inboundType `json:"type"`
	Symbol     string      `json:"symbol"`
	Simulation bool        `json:"simulation"`
}

type outbound struct {
	Type    outboundType    `json:"type"`
	Symbol  string          `json:"symbol,omitempty"`
	Quote   json.RawMessage `json:"quote,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Requester is the subset of the facade's bus interaction the hub needs to
// drive subscribe_quote/unsubscribe_quote commands.
type Requester interface {
	SubmitAndAwait(ctx context.Context, kind command.Kind, payload any, simulation bool) (*bus.Response, error)
}

// client is one connected socket.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	aliases   map[string]bool
	mu        sync.Mutex
	lastFrame time.Time
}

// Hub maintains the set of connected clients and runs the single pattern
// listener shared by the whole process (§4.F).
type Hub struct {
	bus    bus.Bus
	req    Requester
	idGen  func() string

	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[*client]bool
}

// New builds a Hub. idGen mints client IDs; pass uuid.NewString in
// production.
func New(b bus.Bus, req Requester, idGen func() string) *Hub {
	return &Hub{
		bus:        b,
		req:        req,
		idGen:      idGen,
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
	}
}

// Run drives the registration loop and the quote pattern listener until ctx
// is cancelled. Exactly one of these runs per process.
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx, bus.QuotePattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-sub.Channel():
			h.deliver(msg)
		}
	}
}

// deliver parses the alias out of the channel name and fans the frame out
// only to clients whose subscription set contains it.
func (h *Hub) deliver(msg bus.Message) {
	alias := strings.TrimPrefix(msg.Channel, "quote.")
	frame, err := json.Marshal(outbound{Type: outQuote, Symbol: alias, Quote: json.RawMessage(msg.Payload)})
	if err != nil {
		logger.L().Error("marshal outbound quote frame failed", "alias", alias, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		subscribed := c.aliases[alias]
		c.mu.Unlock()
		if !subscribed {
			continue
		}
		select {
		case c.send <- frame:
		default:
			logger.L().Warn("client send buffer full, dropping quote frame", "client_id", c.id)
		}
	}
}

// Serve takes an already-upgraded conn and runs its read/write pumps until disconnect or
// idle timeout, then issues unsubscribe_quote for every alias it held.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	c := &client{
		id:        h.idGen(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		aliases:   make(map[string]bool),
		lastFrame: time.Now(),
	}
	h.register <- c

	connected, _ := json.Marshal(outbound{Type: outConnected})
	c.send <- connected

	go h.writePump(c)
	h.readPump(ctx, c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer h.teardown(ctx, c)

	idle := time.NewTicker(IdleTimeout / 4)
	defer idle.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			c.mu.Lock()
			c.lastFrame = time.Now()
			c.mu.Unlock()
			h.handleInbound(ctx, c, data)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-idle.C:
			c.mu.Lock()
			stale := time.Since(c.lastFrame) > IdleTimeout
			c.mu.Unlock()
			if stale {
				c.conn.Close()
				<-done
				return
			}
		}
	}
}

func (h *Hub) handleInbound(ctx context.Context, c *client, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.sendError(c, "malformed frame")
		return
	}

	switch in.Type {
	case inPing:
		pong, _ := json.Marshal(outbound{Type: outPong})
		h.trySend(c, pong)

	case inSubscribe:
		if in.Symbol == "" {
			h.sendError(c, "subscribe requires symbol")
			return
		}
		c.mu.Lock()
		alreadySubscribed := c.aliases[in.Symbol]
		c.mu.Unlock()
		if alreadySubscribed {
			frame, _ := json.Marshal(outbound{Type: outSubscribed, Symbol: in.Symbol})
			h.trySend(c, frame)
			return
		}
		_, err := h.req.SubmitAndAwait(ctx, command.SubscribeQuote, command.SubscribeQuotePayload{Symbol: in.Symbol}, in.Simulation)
		if err != nil {
			h.sendError(c, err.Error())
			return
		}
		c.mu.Lock()
		c.aliases[in.Symbol] = true
		c.mu.Unlock()
		frame, _ := json.Marshal(outbound{Type: outSubscribed, Symbol: in.Symbol})
		h.trySend(c, frame)

	case inUnsubscribe:
		if in.Symbol == "" {
			h.sendError(c, "unsubscribe requires symbol")
			return
		}
		h.unsubscribeOne(ctx, c, in.Symbol, true)

	default:
		h.sendError(c, "unknown message type")
	}
}

func (h *Hub) unsubscribeOne(ctx context.Context, c *client, alias string, notify bool) {
	c.mu.Lock()
	held := c.aliases[alias]
	delete(c.aliases, alias)
	c.mu.Unlock()
	if !held {
		return
	}

	_, err := h.req.SubmitAndAwait(ctx, command.UnsubscribeQuote, command.SubscribeQuotePayload{Symbol: alias}, false)
	if err != nil {
		logger.L().ErrorContext(ctx, "unsubscribe_quote command failed", "alias", alias, "error", err)
	}
	if notify {
		frame, _ := json.Marshal(outbound{Type: outUnsubscribed, Symbol: alias})
		h.trySend(c, frame)
	}
}

// teardown issues the symmetric unsubscribe for every alias the client
// held (§4.F: "Disconnect cleanup is mandatory").
func (h *Hub) teardown(ctx context.Context, c *client) {
	c.mu.Lock()
	aliases := make([]string, 0, len(c.aliases))
	for alias := range c.aliases {
		aliases = append(aliases, alias)
	}
	c.mu.Unlock()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, alias := range aliases {
		h.unsubscribeOne(cleanupCtx, c, alias, false)
	}

	h.unregister <- c
}

func (h *Hub) sendError(c *client, message string) {
	frame, _ := json.Marshal(outbound{Type: outError, Message: message})
	h.trySend(c, frame)
}

func (h *Hub) trySend(c *client, frame []byte) {
	defer func() { recover() }() // send on a closed channel if teardown raced us
	select {
	case c.send <- frame:
	default:
	}
}

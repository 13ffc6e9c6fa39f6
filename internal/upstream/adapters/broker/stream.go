package broker

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
)

type streamFrame struct {
	Type           string `json:"type"` // subscribe | unsubscribe | tick
	Channel        string `json:"channel"` // tick | bidask
	ContractHandle string `json:"contract_handle"`
	Tick           *upstream.Tick `json:"tick,omitempty"`
}

// subscribe registers contractHandle on channel and opens the stream
// connection on first use. cb is installed once, for the life of the
// connection, and shared by every subsequent subscribe call regardless of
// channel or contract — the upstream SDK invokes it on its own read
// goroutine; per design note, this adapter's job stops at handing the
// decoded Tick to cb. Routing that Tick to the alias it belongs to,
// including across a contract roll, is the quote manager's job, not this
// adapter's: it deliberately does not gate delivery on contractHandle still
// being a recognized key.
func (c *Client) subscribe(ctx context.Context, channel, contractHandle string, cb upstream.TickCallback) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if err := c.ensureStreamLocked(ctx); err != nil {
		return err
	}

	if c.cb == nil {
		c.cb = cb
	}

	handles := c.tickHandles
	if channel == "bidask" {
		handles = c.bidAskHandles
	}
	handles[contractHandle] = struct{}{}

	return c.sendFrameLocked(streamFrame{Type: "subscribe", Channel: channel, ContractHandle: contractHandle})
}

func (c *Client) unsubscribe(ctx context.Context, channel, contractHandle string) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.conn == nil {
		return nil
	}

	handles := c.tickHandles
	if channel == "bidask" {
		handles = c.bidAskHandles
	}
	delete(handles, contractHandle)

	err := c.sendFrameLocked(streamFrame{Type: "unsubscribe", Channel: channel, ContractHandle: contractHandle})

	if len(c.tickHandles) == 0 && len(c.bidAskHandles) == 0 {
		c.closeStreamLocked()
	}
	return err
}

// ensureStreamLocked opens the WebSocket connection and starts the reader
// goroutine if not already running. Callers hold streamMu.
func (c *Client) ensureStreamLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.StreamURL, nil)
	if err != nil {
		return upstream.ClassifyError("SOCKET_DROPPED", err)
	}
	c.conn = conn
	c.streamDone = make(chan struct{})
	go c.readLoop(c.conn, c.streamDone)
	return nil
}

func (c *Client) sendFrameLocked(frame streamFrame) error {
	if c.conn == nil {
		return errors.Unavailable("stream not connected", nil)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return upstream.ClassifyError("SOCKET_DROPPED", err)
	}
	return nil
}

// readLoop decodes tick frames and dispatches them to the registered
// callback. It runs for the lifetime of one WebSocket connection.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				logger.L().WarnContext(context.Background(), "upstream stream read failed", "error", err)
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "tick" || frame.Tick == nil {
			continue
		}

		c.streamMu.Lock()
		cb := c.cb
		c.streamMu.Unlock()
		if cb != nil {
			cb(*frame.Tick)
		}
	}
}

func (c *Client) closeStream() {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.closeStreamLocked()
}

func (c *Client) closeStreamLocked() {
	if c.conn == nil {
		return
	}
	close(c.streamDone)
	_ = c.conn.Close()
	c.conn = nil
	c.cb = nil
	c.tickHandles = make(map[string]struct{})
	c.bidAskHandles = make(map[string]struct{})
}

// Package dispatcher runs the single consumer loop that pulls requests off
// the bus and drives them through the command handler map.
package dispatcher

import (
	"context"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
)

// Handler executes one command kind against the live upstream session.
// The session argument is already known to be StateReady when Handle is
// called; handlers never need to check readiness themselves.
type Handler interface {
	Handle(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
	return f(ctx, sess, req)
}

// DefaultReplyTTL is used when a request carries no explicit ResponseTTL.
const DefaultReplyTTL = 30 * time.Second

// Dispatcher is the sole consumer of the request queue.
type Dispatcher struct {
	bus      bus.Bus
	session  *session.Manager
	handlers map[command.Kind]Handler
}

// New builds a Dispatcher with the given handler map.
func New(b bus.Bus, sess *session.Manager, handlers map[command.Kind]Handler) *Dispatcher {
	return &Dispatcher{bus: b, session: sess, handlers: handlers}
}

// Run blocks, consuming one request at a time, until ctx is cancelled.
// Invariant: every consumed request writes exactly one reply (§4.C).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		req, err := d.bus.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.L().ErrorContext(ctx, "dispatcher consume failed", "error", err)
			continue
		}

		resp := d.dispatch(ctx, req)
		if err := d.bus.Reply(ctx, resp, replyTTL(req)); err != nil {
			logger.L().ErrorContext(ctx, "dispatcher reply write failed", "request_id", req.RequestID, "error", err)
		}
	}
}

// dispatch never lets a handler panic escape: exceptions are caught,
// normalized into failed responses, and logged (§4.C).
func (d *Dispatcher) dispatch(ctx context.Context, req *bus.Request) (resp *bus.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().ErrorContext(ctx, "handler panic recovered", "request_id", req.RequestID, "command", req.Command, "panic", r)
			resp = failedResponse(req.RequestID, "internal error")
		}
	}()

	kind := command.Kind(req.Command)
	if !command.Valid(kind) {
		return failedResponse(req.RequestID, "unknown command: "+req.Command)
	}

	if !d.session.Ready() {
		return failedResponse(req.RequestID, "session not ready")
	}

	handler, ok := d.handlers[kind]
	if !ok {
		return failedResponse(req.RequestID, "no handler registered for command: "+req.Command)
	}

	resp, err := handler.Handle(ctx, d.session, req)
	if err != nil {
		d.session.ReportError(ctx, err)

		if errors.Is(err, errors.CodeNoAction) {
			return &bus.Response{RequestID: req.RequestID, Status: bus.StatusNoAction, Message: err.Error()}
		}
		return failedResponse(req.RequestID, err.Error())
	}
	if resp == nil {
		return failedResponse(req.RequestID, "handler returned no response")
	}
	resp.RequestID = req.RequestID
	return resp
}

func failedResponse(requestID, message string) *bus.Response {
	return &bus.Response{RequestID: requestID, Status: bus.StatusFailed, Message: message}
}

func replyTTL(req *bus.Request) time.Duration {
	if req.ResponseTTL > 0 {
		return req.ResponseTTL
	}
	return DefaultReplyTTL
}

// Package httpapi is the externally-reachable HTTP facade: one echo handler
// per command kind, sharing a single SubmitAndAwait path with the WebSocket
// hub so both surfaces enqueue onto the same Correlation Bus.
package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/pkg/errors"
)

// Config holds the facade's own tunables; transport and security middleware
// are configured separately in cmd/gateway.
type Config struct {
	// ReplyTimeout bounds how long SubmitAndAwait blocks waiting for the
	// worker's reply before surfacing a timed-out response.
	ReplyTimeout time.Duration `env:"GATEWAY_REPLY_TIMEOUT" env-default:"10s"`

	// ResponseTTL is how long a reply key survives after the worker writes
	// it, covering the gap between a slow poller and a fast one.
	ResponseTTL time.Duration `env:"GATEWAY_RESPONSE_TTL" env-default:"30s"`

	// MaxQueueDepth rejects new submissions once the backlog crosses this,
	// rather than accepting work the worker has no chance of draining in
	// time (§4.A back-pressure).
	MaxQueueDepth int64 `env:"GATEWAY_MAX_QUEUE_DEPTH" env-default:"500"`
}

// Facade wires incoming requests onto the bus and blocks for the worker's
// reply. It satisfies internal/streaming.Requester so the WebSocket hub can
// share the exact same submission path as the HTTP handlers.
type Facade struct {
	bus   bus.Bus
	cfg   Config
	idGen func() string
}

// New builds a Facade. idGen mints request IDs; pass uuid.NewString in
// production.
func New(b bus.Bus, cfg Config, idGen func() string) *Facade {
	return &Facade{bus: b, cfg: cfg, idGen: idGen}
}

// SubmitAndAwait enqueues kind/payload as a command envelope and blocks for
// the worker's reply, or until cfg.ReplyTimeout elapses. A queue already at
// MaxQueueDepth is rejected before it is ever enqueued.
func (f *Facade) SubmitAndAwait(ctx context.Context, kind command.Kind, payload any, simulation bool) (*bus.Response, error) {
	depth, err := f.bus.QueueDepth(ctx)
	if err != nil {
		return nil, errors.BusUnreachable("queue depth check failed", err)
	}
	if depth >= f.cfg.MaxQueueDepth {
		return nil, errors.Unavailable("request queue is saturated, try again shortly", nil)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.InvalidArgument("failed to encode payload", err)
	}

	req := &bus.Request{
		RequestID:   f.idGen(),
		Command:     string(kind),
		Payload:     raw,
		Simulation:  simulation,
		SubmittedAt: time.Now(),
		ResponseTTL: f.cfg.ResponseTTL,
	}

	if err := f.bus.Submit(ctx, req); err != nil {
		return nil, errors.BusUnreachable("failed to submit request", err)
	}

	resp, err := f.bus.AwaitResponse(ctx, req.RequestID, f.cfg.ReplyTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to await response")
	}
	if resp == nil {
		return nil, errors.TimedOut("worker did not reply in time")
	}
	if resp.Status == bus.StatusFailed {
		return resp, errors.Internal(resp.Message, nil)
	}
	return resp, nil
}

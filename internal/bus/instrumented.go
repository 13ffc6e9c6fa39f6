package bus

import (
	"context"
	"time"

	"github.com/ordergate/brokerd/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented wraps a Bus to add tracing and structured logging.
type Instrumented struct {
	next   Bus
	tracer trace.Tracer
}

func NewInstrumented(next Bus) *Instrumented {
	return &Instrumented{next: next, tracer: otel.Tracer("internal/bus")}
}

func (b *Instrumented) Submit(ctx context.Context, req *Request) error {
	ctx, span := b.tracer.Start(ctx, "bus.Submit", trace.WithAttributes(
		attribute.String("bus.command", req.Command),
		attribute.String("bus.request_id", req.RequestID),
	))
	defer span.End()

	err := b.next.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "bus submit failed", "command", req.Command, "error", err)
		return err
	}
	logger.L().DebugContext(ctx, "bus submit", "command", req.Command, "request_id", req.RequestID)
	return nil
}

func (b *Instrumented) Consume(ctx context.Context) (*Request, error) {
	req, err := b.next.Consume(ctx)
	if err != nil {
		return nil, err
	}
	logger.L().DebugContext(ctx, "bus consume", "command", req.Command, "request_id", req.RequestID)
	return req, nil
}

func (b *Instrumented) Reply(ctx context.Context, resp *Response, ttl time.Duration) error {
	ctx, span := b.tracer.Start(ctx, "bus.Reply", trace.WithAttributes(
		attribute.String("bus.request_id", resp.RequestID),
		attribute.String("bus.status", string(resp.Status)),
	))
	defer span.End()

	err := b.next.Reply(ctx, resp, ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "bus reply failed", "request_id", resp.RequestID, "error", err)
	}
	return err
}

func (b *Instrumented) AwaitResponse(ctx context.Context, requestID string, timeout time.Duration) (*Response, error) {
	ctx, span := b.tracer.Start(ctx, "bus.AwaitResponse", trace.WithAttributes(
		attribute.String("bus.request_id", requestID),
	))
	defer span.End()

	resp, err := b.next.AwaitResponse(ctx, requestID, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "bus await failed", "request_id", requestID, "error", err)
		return nil, err
	}
	if resp == nil {
		logger.L().DebugContext(ctx, "bus await timed out", "request_id", requestID)
	}
	return resp, nil
}

func (b *Instrumented) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, span := b.tracer.Start(ctx, "bus.Publish", trace.WithAttributes(
		attribute.String("bus.channel", channel),
	))
	defer span.End()

	err := b.next.Publish(ctx, channel, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "bus publish failed", "channel", channel, "error", err)
	}
	return err
}

func (b *Instrumented) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	ctx, span := b.tracer.Start(ctx, "bus.Subscribe", trace.WithAttributes(
		attribute.String("bus.pattern", pattern),
	))
	defer span.End()

	sub, err := b.next.Subscribe(ctx, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "bus subscribe failed", "pattern", pattern, "error", err)
		return nil, err
	}
	return sub, nil
}

func (b *Instrumented) QueueDepth(ctx context.Context) (int64, error) {
	return b.next.QueueDepth(ctx)
}

func (b *Instrumented) Close() error {
	return b.next.Close()
}

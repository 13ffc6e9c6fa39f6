// Package redis implements the Correlation Bus on top of a single Redis
// instance: RPUSH/BLPOP (FIFO) for the request queue, SETNX-guarded reply keys for
// at-most-once responses, and PSUBSCRIBE for quote fan-out.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Adapter is a bus.Bus backed by go-redis.
type Adapter struct {
	client *redis.Client
}

// New wraps an already-configured client and verifies connectivity with a
// PING before returning.
func New(client *redis.Client) (*Adapter, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.BusUnreachable("connect to redis bus", err)
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Submit(ctx context.Context, req *bus.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Internal("marshal request", err)
	}
	if err := a.client.RPush(ctx, bus.RequestQueueKey, data).Err(); err != nil {
		return errors.BusUnreachable("enqueue request", err)
	}
	return nil
}

func (a *Adapter) Consume(ctx context.Context) (*bus.Request, error) {
	result, err := a.client.BLPop(ctx, 0, bus.RequestQueueKey).Result()
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, err
		}
		return nil, errors.BusUnreachable("dequeue request", err)
	}
	// result[0] is the key name, result[1] is the payload.
	var req bus.Request
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return nil, errors.Internal("unmarshal request", err)
	}
	return &req, nil
}

// replyScript writes the reply value only if the key doesn't already hold
// one, making a duplicate Reply for the same RequestID a silent no-op.
var replyScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
else
	return 0
end
`)

func (a *Adapter) Reply(ctx context.Context, resp *bus.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Internal("marshal response", err)
	}
	key := bus.ReplyKey(resp.RequestID)
	if err := replyScript.Run(ctx, a.client, []string{key}, data, ttl.Milliseconds()).Err(); err != nil {
		return errors.BusUnreachable("write reply", err)
	}
	return nil
}

// awaitPollInterval bounds how often AwaitResponse checks the reply key
// between GETDEL attempts, since Redis has no blocking GET.
const awaitPollInterval = 50 * time.Millisecond

func (a *Adapter) AwaitResponse(ctx context.Context, requestID string, timeout time.Duration) (*bus.Response, error) {
	key := bus.ReplyKey(requestID)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		val, err := a.client.GetDel(ctx, key).Result()
		switch {
		case err == redis.Nil:
			// not yet delivered
		case err != nil:
			return nil, errors.BusUnreachable("read reply", err)
		default:
			var resp bus.Response
			if err := json.Unmarshal([]byte(val), &resp); err != nil {
				return nil, errors.Internal("unmarshal reply", err)
			}
			return &resp, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := a.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.BusUnreachable("publish", err)
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, pattern string) (bus.Subscription, error) {
	pubsub := a.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, errors.BusUnreachable("subscribe", err)
	}

	out := make(chan bus.Message, 256)
	sub := &subscription{pubsub: pubsub, out: out, closed: make(chan struct{})}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- bus.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-sub.closed:
				return
			}
		}
	}()

	return sub, nil
}

func (a *Adapter) QueueDepth(ctx context.Context) (int64, error) {
	n, err := a.client.LLen(ctx, bus.RequestQueueKey).Result()
	if err != nil {
		return 0, errors.BusUnreachable("queue depth", err)
	}
	return n, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan bus.Message
	closed chan struct{}
}

func (s *subscription) Channel() <-chan bus.Message {
	return s.out
}

func (s *subscription) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return s.pubsub.Close()
}

// Package memory implements bus.Bus in-process, for tests and single-binary
// demo deployments that don't run Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
)

// Adapter is a bus.Bus backed by an in-process queue and map.
type Adapter struct {
	mu      sync.Mutex
	queue   []*bus.Request
	notify  chan struct{}
	replies map[string]replyEntry

	subsMu sync.Mutex
	subs   []*subscription

	closed bool
}

type replyEntry struct {
	resp      *bus.Response
	expiresAt time.Time
}

// New returns a ready in-memory bus.
func New() *Adapter {
	return &Adapter{
		notify:  make(chan struct{}, 1),
		replies: make(map[string]replyEntry),
	}
}

func (a *Adapter) Submit(ctx context.Context, req *bus.Request) error {
	a.mu.Lock()
	a.queue = append(a.queue, req)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

func (a *Adapter) Consume(ctx context.Context) (*bus.Request, error) {
	for {
		a.mu.Lock()
		if len(a.queue) > 0 {
			req := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			return req, nil
		}
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.notify:
		}
	}
}

func (a *Adapter) Reply(ctx context.Context, resp *bus.Response, ttl time.Duration) error {
	key := bus.ReplyKey(resp.RequestID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.replies[key]; exists {
		return nil
	}
	a.replies[key] = replyEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (a *Adapter) AwaitResponse(ctx context.Context, requestID string, timeout time.Duration) (*bus.Response, error) {
	key := bus.ReplyKey(requestID)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		entry, ok := a.replies[key]
		if ok && time.Now().Before(entry.expiresAt) {
			delete(a.replies, key)
		} else if ok {
			delete(a.replies, key)
			ok = false
		}
		a.mu.Unlock()

		if ok {
			return entry.resp, nil
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
	a.subsMu.Lock()
	defer a.subsMu.Unlock()

	for _, s := range a.subs {
		if !s.matches(channel) {
			continue
		}
		select {
		case s.out <- bus.Message{Channel: channel, Payload: payload}:
		default:
			// slow subscriber; drop rather than block the publisher
		}
	}
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, pattern string) (bus.Subscription, error) {
	s := &subscription{
		pattern: pattern,
		out:     make(chan bus.Message, 256),
		adapter: a,
	}
	a.subsMu.Lock()
	a.subs = append(a.subs, s)
	a.subsMu.Unlock()
	return s, nil
}

func (a *Adapter) QueueDepth(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.queue)), nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) removeSub(s *subscription) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for i, other := range a.subs {
		if other == s {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			break
		}
	}
}

type subscription struct {
	pattern string
	out     chan bus.Message
	adapter *Adapter
}

// matches supports the single "quote.*" style prefix wildcard the bus uses;
// an exact pattern with no trailing "*" matches only that literal channel.
func (s *subscription) matches(channel string) bool {
	if n := len(s.pattern); n > 0 && s.pattern[n-1] == '*' {
		prefix := s.pattern[:n-1]
		return len(channel) >= len(prefix) && channel[:len(prefix)] == prefix
	}
	return s.pattern == channel
}

func (s *subscription) Channel() <-chan bus.Message {
	return s.out
}

func (s *subscription) Close() error {
	s.adapter.removeSub(s)
	return nil
}

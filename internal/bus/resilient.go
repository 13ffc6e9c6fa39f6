package bus

import (
	"context"
	"time"

	"github.com/ordergate/brokerd/pkg/resilience"
)

// Resilient wraps a Bus with circuit breaker and retry support, so a
// flapping broker degrades the session manager instead of cascading into
// every facade request.
type Resilient struct {
	bus      Bus
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// ResilientConfig configures the resilient bus wrapper.
type ResilientConfig struct {
	CircuitBreakerEnabled   bool          `env:"BUS_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"BUS_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"BUS_CB_TIMEOUT" env-default:"15s"`

	RetryEnabled     bool          `env:"BUS_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"BUS_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"BUS_RETRY_BACKOFF" env-default:"100ms"`
}

// NewResilient wraps bus with resilience features. Only the write-side
// operations (Submit, Reply, Publish) go through the circuit breaker and
// retry; Consume and AwaitResponse already carry their own blocking
// semantics and would otherwise double up on backoff.
func NewResilient(b Bus, cfg ResilientConfig) *Resilient {
	r := &Resilient{bus: b}

	if cfg.CircuitBreakerEnabled {
		r.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "bus",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		r.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		}
	}

	return r
}

func (r *Resilient) Submit(ctx context.Context, req *Request) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.bus.Submit(ctx, req)
	})
}

func (r *Resilient) Consume(ctx context.Context) (*Request, error) {
	return r.bus.Consume(ctx)
}

func (r *Resilient) Reply(ctx context.Context, resp *Response, ttl time.Duration) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.bus.Reply(ctx, resp, ttl)
	})
}

func (r *Resilient) AwaitResponse(ctx context.Context, requestID string, timeout time.Duration) (*Response, error) {
	return r.bus.AwaitResponse(ctx, requestID, timeout)
}

func (r *Resilient) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.bus.Publish(ctx, channel, payload)
	})
}

func (r *Resilient) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	return r.bus.Subscribe(ctx, pattern)
}

func (r *Resilient) QueueDepth(ctx context.Context) (int64, error) {
	return r.bus.QueueDepth(ctx)
}

func (r *Resilient) Close() error {
	return r.bus.Close()
}

func (r *Resilient) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if r.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return r.cb.Execute(ctx, cbFn)
		}
	}

	if r.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, r.retryCfg, operation)
	}

	return operation(ctx)
}

// Unwrap returns the underlying bus.
func (r *Resilient) Unwrap() Bus {
	return r.bus
}

// CircuitBreakerState returns the current circuit breaker state.
func (r *Resilient) CircuitBreakerState() resilience.State {
	if r.cb == nil {
		return ""
	}
	return r.cb.State()
}

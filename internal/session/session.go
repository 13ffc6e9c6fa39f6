// Package session owns the mutually exclusive upstream connection: a single
// credentialed session that is expensive to establish and must never be
// driven by more than one goroutine at a time.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/communication/chat"
	"github.com/ordergate/brokerd/pkg/concurrency/distlock"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
	"github.com/ordergate/brokerd/pkg/resilience"
)

// State is one node of the session lifecycle.
type State string

const (
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
	StateDegraded     State = "degraded"
)

// Config controls login retry and the degraded-state threshold.
type Config struct {
	LoginMaxAttempts  int           `env:"SESSION_LOGIN_MAX_ATTEMPTS" env-default:"5"`
	LoginBackoff      time.Duration `env:"SESSION_LOGIN_BACKOFF" env-default:"500ms"`
	LoginMaxBackoff   time.Duration `env:"SESSION_LOGIN_MAX_BACKOFF" env-default:"30s"`
	HealMaxAttempts   int           `env:"SESSION_HEAL_MAX_ATTEMPTS" env-default:"5"`
	LockTTL           time.Duration `env:"SESSION_LOCK_TTL" env-default:"30s"`
	LockKey           string        `env:"SESSION_LOCK_KEY" env-default:"session:worker-exclusive"`
}

// Manager owns the single upstream.Client instance and its state machine.
// The dispatcher is its only caller during steady state (§4.C); Manager
// itself only serializes state transitions, not command execution.
type Manager struct {
	cfg    Config
	client upstream.Client
	bus    bus.Bus
	locker distlock.Locker
	notify chat.Sender

	mu    sync.RWMutex
	state State
	lock  distlock.Lock
}

// New builds a Manager. The chat.Sender may be nil to disable operator
// alerts on degraded transitions.
func New(cfg Config, client upstream.Client, b bus.Bus, locker distlock.Locker, notify chat.Sender) *Manager {
	return &Manager{
		cfg:    cfg,
		client: client,
		bus:    b,
		locker: locker,
		notify: notify,
		state:  StateStarting,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the session currently accepts commands.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Client returns the held upstream client; callers must check Ready first.
func (m *Manager) Client() upstream.Client {
	return m.client
}

// Run establishes the session and then blocks, healing on transient
// failures reported via ReportError, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	lock := m.locker.NewLock(m.cfg.LockKey, m.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return errors.Internal("acquire session lock", err)
	}
	if !acquired {
		return errors.Unavailable("another worker already holds the session lock", nil)
	}
	m.lock = lock
	defer lock.Release(context.Background())

	if err := m.establish(ctx); err != nil {
		m.transition(ctx, StateDegraded)
		return err
	}
	m.transition(ctx, StateReady)

	<-ctx.Done()

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Logout(logoutCtx); err != nil {
		logger.L().ErrorContext(logoutCtx, "logout failed on shutdown", "error", err)
	}
	return ctx.Err()
}

// establish performs credentialed login with exponential backoff, per
// spec step 4.B.1.
func (m *Manager) establish(ctx context.Context) error {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    m.cfg.LoginMaxAttempts,
		InitialBackoff: m.cfg.LoginBackoff,
		MaxBackoff:     m.cfg.LoginMaxBackoff,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
	return resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
		return m.client.Login(ctx)
	})
}

// ReportError is called by the dispatcher when a handler's upstream call
// fails. A transient classification drives the heal cycle (§4.B.3); a
// business or validation classification leaves the session untouched.
func (m *Manager) ReportError(ctx context.Context, err error) {
	if !upstream.IsTransient(err) && !errors.Is(err, errors.CodeUpstreamTransient) {
		return
	}
	go m.heal(ctx)
}

// heal drains to reconnecting, retries login up to HealMaxAttempts, and
// either returns to ready or falls to degraded.
func (m *Manager) heal(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateReconnecting || m.state == StateDegraded {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.transition(ctx, StateReconnecting)

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    m.cfg.HealMaxAttempts,
		InitialBackoff: m.cfg.LoginBackoff,
		MaxBackoff:     m.cfg.LoginMaxBackoff,
		Multiplier:     2.0,
		Jitter:         0.2,
	}

	err := resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
		if err := m.client.Logout(ctx); err != nil {
			logger.L().WarnContext(ctx, "logout during heal failed, continuing", "error", err)
		}
		return m.client.Login(ctx)
	})

	if err != nil {
		m.transition(ctx, StateDegraded)
		return
	}
	m.transition(ctx, StateReady)
}

func (m *Manager) transition(ctx context.Context, to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}

	logger.L().InfoContext(ctx, "session state change", "from", from, "to", to)

	if m.bus != nil {
		if err := m.bus.Publish(ctx, bus.WorkerStatusChannel, []byte(to)); err != nil {
			logger.L().WarnContext(ctx, "failed to publish session status", "error", err)
		}
	}

	if to == StateDegraded && m.notify != nil {
		go func() {
			alertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.notify.Send(alertCtx, &chat.Message{
				Text: "worker session degraded: upstream reconnect attempts exhausted",
			})
		}()
	}
}

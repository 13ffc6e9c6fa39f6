package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordergate/brokerd/internal/bus"
	busmem "github.com/ordergate/brokerd/internal/bus/adapters/memory"
	"github.com/ordergate/brokerd/internal/command"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/concurrency/distlock"
	"github.com/ordergate/brokerd/pkg/errors"
)

// stubClient is the minimum viable upstream.Client: login/logout succeed
// immediately, everything else is untouched by these tests.
type stubClient struct{ upstream.Client }

func (stubClient) Login(ctx context.Context) error  { return nil }
func (stubClient) Logout(ctx context.Context) error { return nil }

type stubLock struct{}

func (stubLock) Acquire(ctx context.Context) (bool, error)           { return true, nil }
func (stubLock) Release(ctx context.Context) error                   { return nil }
func (stubLock) Extend(ctx context.Context, ttl time.Duration) error { return nil }
func (stubLock) IsHeld() bool                                        { return true }

type stubLocker struct{}

func (stubLocker) NewLock(key string, ttl time.Duration) distlock.Lock { return stubLock{} }
func (stubLocker) Close() error                                        { return nil }

// readySession brings a Manager to StateReady through its real Run loop
// rather than reaching into unexported state.
func readySession(t *testing.T) (*session.Manager, func()) {
	t.Helper()
	sess := session.New(session.Config{
		LoginMaxAttempts: 1,
		LoginBackoff:     time.Millisecond,
		LoginMaxBackoff:  time.Millisecond,
		HealMaxAttempts:  1,
		LockTTL:          time.Second,
		LockKey:          "test-session-lock",
	}, stubClient{}, busmem.New(), stubLocker{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for !sess.Ready() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("session never reached ready")
		}
		time.Sleep(time.Millisecond)
	}

	return sess, func() {
		cancel()
		<-done
	}
}

func notReadySession() *session.Manager {
	return session.New(session.Config{}, nil, nil, nil, nil)
}

func TestDispatchRejectsUnknownCommand(t *testing.T) {
	d := New(busmem.New(), notReadySession(), map[command.Kind]Handler{})
	resp := d.dispatch(context.Background(), &bus.Request{RequestID: "r1", Command: "not_a_real_command"})
	require.Equal(t, bus.StatusFailed, resp.Status)
}

func TestDispatchRejectsWhenSessionNotReady(t *testing.T) {
	handlers := map[command.Kind]Handler{
		command.ListPositions: HandlerFunc(func(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
			t.Fatal("handler must not run while the session is not ready")
			return nil, nil
		}),
	}
	d := New(busmem.New(), notReadySession(), handlers)
	resp := d.dispatch(context.Background(), &bus.Request{RequestID: "r2", Command: string(command.ListPositions)})
	require.Equal(t, bus.StatusFailed, resp.Status)
	require.Contains(t, resp.Message, "not ready")
}

func TestDispatchTranslatesNoActionToStatus(t *testing.T) {
	sess, stop := readySession(t)
	defer stop()

	handlers := map[command.Kind]Handler{
		command.CancelOrder: HandlerFunc(func(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
			return nil, errors.NoAction("order already terminal")
		}),
	}
	d := New(busmem.New(), sess, handlers)
	resp := d.dispatch(context.Background(), &bus.Request{RequestID: "r3", Command: string(command.CancelOrder)})
	require.Equal(t, bus.StatusNoAction, resp.Status)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	sess, stop := readySession(t)
	defer stop()

	handlers := map[command.Kind]Handler{
		command.ListPositions: HandlerFunc(func(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
			panic("boom")
		}),
	}
	d := New(busmem.New(), sess, handlers)
	resp := d.dispatch(context.Background(), &bus.Request{RequestID: "r4", Command: string(command.ListPositions)})
	require.Equal(t, bus.StatusFailed, resp.Status)
}

func TestDispatchStampsRequestIDOnSuccess(t *testing.T) {
	sess, stop := readySession(t)
	defer stop()

	handlers := map[command.Kind]Handler{
		command.ListPositions: HandlerFunc(func(ctx context.Context, sess *session.Manager, req *bus.Request) (*bus.Response, error) {
			return &bus.Response{Status: bus.StatusOK}, nil
		}),
	}
	d := New(busmem.New(), sess, handlers)
	resp := d.dispatch(context.Background(), &bus.Request{RequestID: "r5", Command: string(command.ListPositions)})
	require.Equal(t, "r5", resp.RequestID)
	require.Equal(t, bus.StatusOK, resp.Status)
}

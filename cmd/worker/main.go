// Command worker runs the single credentialed upstream session: it logs
// into the venue, drains the request queue, and normalizes ticks onto the
// quote bus. Exactly one instance may hold the session lock at a time.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ordergate/brokerd/internal/audit"
	auditgorm "github.com/ordergate/brokerd/internal/audit/adapters/gorm"
	auditmem "github.com/ordergate/brokerd/internal/audit/adapters/memory"
	"github.com/ordergate/brokerd/internal/bus"
	busmem "github.com/ordergate/brokerd/internal/bus/adapters/memory"
	busredis "github.com/ordergate/brokerd/internal/bus/adapters/redis"
	"github.com/ordergate/brokerd/internal/dispatcher"
	"github.com/ordergate/brokerd/internal/handlers"
	"github.com/ordergate/brokerd/internal/quote"
	"github.com/ordergate/brokerd/internal/session"
	"github.com/ordergate/brokerd/internal/upstream/adapters/broker"
	"github.com/ordergate/brokerd/pkg/cache"
	cachemem "github.com/ordergate/brokerd/pkg/cache/adapters/memory"
	cacheredis "github.com/ordergate/brokerd/pkg/cache/adapters/redis"
	"github.com/ordergate/brokerd/pkg/communication/chat"
	chatmem "github.com/ordergate/brokerd/pkg/communication/chat/adapters/memory"
	chatslack "github.com/ordergate/brokerd/pkg/communication/chat/adapters/slack"
	"github.com/ordergate/brokerd/pkg/concurrency/distlock"
	distlockmem "github.com/ordergate/brokerd/pkg/concurrency/distlock/adapters/memory"
	distlockredis "github.com/ordergate/brokerd/pkg/concurrency/distlock/adapters/redis"
	"github.com/ordergate/brokerd/pkg/config"
	"github.com/ordergate/brokerd/pkg/logger"
	"github.com/ordergate/brokerd/pkg/telemetry"
)

// appConfig is the worker's full environment surface; cleanenv walks the
// nested structs so each collaborator keeps its own env-tagged Config type.
type appConfig struct {
	Logger    logger.Config
	Telemetry telemetry.Config
	Session   session.Config
	Broker    broker.Config
	Resilient bus.ResilientConfig
	Chat      chat.Config
	Audit     auditgorm.Config
	Cache     cache.Config

	BusDriver     string `env:"BUS_DRIVER" env-default:"memory"`
	BusRedisAddr  string `env:"BUS_REDIS_ADDR" env-default:"localhost:6379"`
	LockDriver    string `env:"LOCK_DRIVER" env-default:"memory"`
	LockRedisAddr string `env:"LOCK_REDIS_ADDR" env-default:"localhost:6379"`
	AuditDriver   string `env:"AUDIT_DRIVER" env-default:"memory"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load worker config", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logger)
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		logger.L().Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.LockTTL)
		defer cancel()
		if err := shutdownTelemetry(shutCtx); err != nil {
			logger.L().Error("telemetry shutdown failed", "error", err)
		}
	}()

	b, err := buildBus(cfg)
	if err != nil {
		logger.L().Error("failed to build bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	locker, err := buildLocker(cfg)
	if err != nil {
		logger.L().Error("failed to build lock backend", "error", err)
		os.Exit(1)
	}

	notify, err := buildChatSender(cfg)
	if err != nil {
		logger.L().Error("failed to build chat sender", "error", err)
		os.Exit(1)
	}
	defer notify.Close()

	store, err := buildAudit(cfg)
	if err != nil {
		logger.L().Error("failed to build audit store", "error", err)
		os.Exit(1)
	}

	snapshots, err := buildCache(cfg)
	if err != nil {
		logger.L().Error("failed to build snapshot cache", "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	client := broker.New(cfg.Broker)
	sess := session.New(cfg.Session, client, b, locker, notify)
	quotes := quote.New(ctx, client, b)
	registry := handlers.Registry(store, quotes, snapshots)
	disp := dispatcher.New(b, sess, registry)

	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			logger.L().Error("session manager exited", "error", err)
		}
	}()

	logger.L().InfoContext(ctx, "worker started")
	if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
		logger.L().Error("dispatcher exited", "error", err)
		os.Exit(1)
	}
	logger.L().InfoContext(ctx, "worker shut down")
}

func buildBus(cfg appConfig) (bus.Bus, error) {
	var b bus.Bus
	switch cfg.BusDriver {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.BusRedisAddr})
		adapter, err := busredis.New(client)
		if err != nil {
			return nil, err
		}
		b = adapter
	default:
		b = busmem.New()
	}
	return bus.NewResilient(bus.NewInstrumented(b), cfg.Resilient), nil
}

func buildLocker(cfg appConfig) (distlock.Locker, error) {
	if cfg.LockDriver == "redis" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.LockRedisAddr})
		return distlockredis.New(client, "brokerd:"), nil
	}
	return distlockmem.New(), nil
}

// buildCache picks the symbol_snapshot cache-aside backend, per cfg.Cache.Driver.
func buildCache(cfg appConfig) (cache.Cache, error) {
	if cfg.Cache.Driver == "redis" {
		return cacheredis.New(cfg.Cache)
	}
	return cachemem.New(), nil
}

func buildAudit(cfg appConfig) (audit.Store, error) {
	if cfg.AuditDriver == "postgres" {
		return auditgorm.New(cfg.Audit)
	}
	return auditmem.New(), nil
}

// buildChatSender picks the degraded-session alert backend and wraps it
// with tracing, per cfg.Chat.Driver.
func buildChatSender(cfg appConfig) (chat.Sender, error) {
	var sender chat.Sender
	if cfg.Chat.Driver == "slack" {
		s, err := chatslack.New(cfg.Chat)
		if err != nil {
			return nil, err
		}
		sender = s
	} else {
		sender = chatmem.New()
	}
	return chat.NewInstrumentedSender(sender), nil
}

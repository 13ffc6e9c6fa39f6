// Command gateway runs the externally-reachable surface: the HTTP facade
// and the WebSocket quote hub. It never talks to the upstream venue
// directly, only through the Correlation Bus the worker also shares.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ordergate/brokerd/internal/bus"
	busmem "github.com/ordergate/brokerd/internal/bus/adapters/memory"
	busredis "github.com/ordergate/brokerd/internal/bus/adapters/redis"
	"github.com/ordergate/brokerd/internal/httpapi"
	"github.com/ordergate/brokerd/internal/streaming"
	ratelimitredis "github.com/ordergate/brokerd/pkg/api/ratelimit/adapters/redis"
	"github.com/ordergate/brokerd/pkg/config"
	"github.com/ordergate/brokerd/pkg/logger"
	"github.com/ordergate/brokerd/pkg/telemetry"
)

type appConfig struct {
	Logger    logger.Config
	Telemetry telemetry.Config
	Resilient bus.ResilientConfig
	Facade    httpapi.Config
	Server    httpapi.ServerConfig

	Addr          string `env:"GATEWAY_ADDR" env-default:":8080"`
	BusDriver     string `env:"BUS_DRIVER" env-default:"memory"`
	BusRedisAddr  string `env:"BUS_REDIS_ADDR" env-default:"localhost:6379"`
	RateRedisAddr string `env:"RATE_LIMIT_REDIS_ADDR" env-default:"localhost:6379"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load gateway config", "error", err)
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

	b, err := buildBus(cfg)
	if err != nil {
		logger.L().Error("failed to build bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	rateClient := goredis.NewClient(&goredis.Options{Addr: cfg.RateRedisAddr})
	limiter := ratelimitredis.New(rateClient, ratelimitredis.StrategyTokenBucket)

	facade := httpapi.New(b, cfg.Facade, httpapi.NewRequestID)
	hub := streaming.New(b, facade, httpapi.NewRequestID)

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && hubCtx.Err() == nil {
			logger.L().Error("streaming hub exited", "error", err)
		}
	}()

	e := httpapi.NewServer(facade, hub, limiter, cfg.Server)

	srv := &http.Server{Addr: cfg.Addr, Handler: e}
	go func() {
		logger.L().InfoContext(ctx, "gateway started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Error("gateway server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.L().Info("gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L().Error("gateway graceful shutdown failed", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.L().Error("telemetry shutdown failed", "error", err)
	}
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

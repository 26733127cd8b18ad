package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relayspring/gatehouse/internal/admission"
	"github.com/relayspring/gatehouse/internal/audit"
	"github.com/relayspring/gatehouse/internal/config"
	"github.com/relayspring/gatehouse/internal/gateway"
	"github.com/relayspring/gatehouse/internal/handlers"
	"github.com/relayspring/gatehouse/internal/logger"
	"github.com/relayspring/gatehouse/internal/replay"
	"github.com/relayspring/gatehouse/internal/runtime"
	"github.com/relayspring/gatehouse/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideReplayCache,
			provideLimiter,
			provideAuditLog,
			provideRuntimeClient,
			provideGatewayService,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewInboundHandler),
			provideServerHandler(handlers.NewOpsHandler),
			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideReplayCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *replay.Cache {
	cache := replay.New(replay.Options{
		Window:        cfg.Replay.Window(),
		SweepInterval: cfg.Replay.SweepInterval(),
		FlushDelay:    cfg.Replay.FlushDelay(),
		SnapshotPath:  cfg.Replay.SnapshotPath,
		Logger:        log,
	})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		cache.Destroy(false)
		return nil
	}})
	return cache
}

func provideLimiter(log *slog.Logger, cfg config.Config) *admission.Limiter {
	return admission.New(log, cfg.RateLimit.MaxTrackedKeys)
}

func provideAuditLog(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*audit.Log, error) {
	auditLog, err := audit.New(audit.Options{
		Path:      cfg.Audit.Path,
		MaxBytes:  cfg.Audit.MaxBytes,
		Retention: cfg.Audit.Retention,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("audit log init: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		auditLog.Close()
		return nil
	}})
	return auditLog, nil
}

func provideRuntimeClient(log *slog.Logger, cfg config.Config) (runtime.Sender, error) {
	client, err := runtime.NewClient(runtime.Options{
		BaseURL:     cfg.Runtime.BaseURL,
		Timeout:     cfg.Runtime.Timeout(),
		RetryMax:    cfg.Runtime.RetryMax,
		BackoffBase: cfg.Runtime.Backoff(),
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime client init: %w", err)
	}
	return client, nil
}

func provideGatewayService(log *slog.Logger, cfg config.Config, cache *replay.Cache, limiter *admission.Limiter, auditLog *audit.Log, sender runtime.Sender) *gateway.Service {
	return gateway.NewService(log, gateway.Config{
		Secrets:       cfg.Channels,
		UserLimit:     cfg.RateLimit.UserLimit,
		UserWindow:    cfg.RateLimit.UserWindow(),
		ChannelLimit:  cfg.RateLimit.ChannelLimit,
		ChannelWindow: cfg.RateLimit.ChannelWindow(),
	}, cache, limiter, auditLog, sender)
}

func providePingHandler(log *slog.Logger, cfg config.Config) *handlers.PingHandler {
	return handlers.NewPingHandler(log, cfg.Server.Service)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config, params.Handlers)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

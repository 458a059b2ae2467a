package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/handlers"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/logger"
	"github.com/bridgeworks/linegw/internal/server"
	"github.com/bridgeworks/linegw/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLangManager,
			provideSessionStore,
			provideTokenStore,
			provideBotClient,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideLangManager(cfg config.Config) *lang.Manager {
	return lang.NewManager(cfg.Conversation.Translations)
}

func provideSessionStore() session.Store {
	return session.NewMemoryStore()
}

func provideTokenStore(cfg config.Config) line.TokenStore {
	return line.NewFileTokenStore(cfg.Line.TokenCacheDir)
}

func provideBotClient(log *slog.Logger, cfg config.Config) bot.Client {
	timeout := time.Duration(cfg.Bot.TimeoutSeconds) * time.Second
	return bot.NewHTTPClient(log, cfg.Bot.BaseURL, cfg.Bot.APIKey, timeout)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, langs *lang.Manager, sessions session.Store, tokens line.TokenStore, backend bot.Client) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, cfg, langs, sessions, tokens, backend, nil)
}

func provideServer(cfg config.Config, log *slog.Logger, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr,
		handlers.NewPingHandler(log),
		webhookHandler,
	)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
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

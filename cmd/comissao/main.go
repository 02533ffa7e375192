package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"comissao/internal/amqp"
	"comissao/internal/auth"
	"comissao/internal/authz"
	"comissao/internal/backend"
	"comissao/internal/cache"
	"comissao/internal/cli"
	"comissao/internal/config"
	"comissao/internal/core"
	"comissao/internal/dupcheck"
	apphttp "comissao/internal/http"
	"comissao/internal/log"
	"comissao/internal/metrics"
	"comissao/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	cacheSweep      = 5 * time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	loc, _ := cfg.Location()
	prices, _ := cfg.Prices()
	clock := core.SystemClock{}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger, clock).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize data backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	policy, err := authz.New()
	if err != nil {
		logger.Error("Failed to load access policy", log.FieldError, err)
		os.Exit(1)
	}

	m := metrics.New()
	dup := dupcheck.New(be.Store, dupcheck.Config{Debounce: cfg.DuplicateDebounce})

	var (
		publisher  services.EventPublisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		publisher = amqpClient
		logger.Info("Publishing service events", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - spreadsheet export will not receive events")
	}

	mgr := services.NewServiceManager(be.Store, policy, dup, publisher, m, services.Config{
		Prices:   prices,
		Location: loc,
		Clock:    clock,
	})

	authenticator, err := auth.New(auth.Config{
		JWKSURL:   cfg.AuthJWKSURL,
		Secret:    cfg.AuthJWTSecret,
		Issuer:    cfg.AuthIssuer,
		AdminRole: cfg.AdminRole,
	})
	if err != nil {
		logger.Error("Failed to initialize authenticator", log.FieldError, err)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		SignInURL:          cfg.AuthSignInURL,
		SignOutURL:         cfg.AuthSignOutURL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, apphttp.Deps{
		Services:   mgr,
		Duplicates: dup,
		Policy:     policy,
		Auth:       authenticator,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	caches := cache.NewManager()
	caches.Register("duplicate_sessions", dup.Sessions())
	caches.Register("identities", authenticator.Identities())
	caches.Register("rate_limit_clients", srv.RateLimitClients())

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		authenticator.Close()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err)
			}
		}
	})

	authenticator.Start(ctx)
	caches.StartCleanup(ctx, cacheSweep)

	logger.Info("Starting comissao server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"timezone", loc.String(),
		"jwks", cfg.AuthJWKSURL != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

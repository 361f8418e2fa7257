package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portal-onboarding/internal/apiclient"
	"portal-onboarding/internal/common/config"
	"portal-onboarding/internal/common/database"
	commonhttp "portal-onboarding/internal/common/http"
	"portal-onboarding/internal/common/logger"
	"portal-onboarding/internal/common/observability"
	"portal-onboarding/internal/drafts"
	"portal-onboarding/internal/flows/membership"
	"portal-onboarding/internal/httpapi"
	"portal-onboarding/internal/session"
	"portal-onboarding/internal/verification"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// serverConfig maps the loaded configuration onto the HTTP surface settings.
func serverConfig(cfg *config.Config) *httpapi.Config {
	return &httpapi.Config{
		CookieName:    cfg.Session.CookieName,
		SecureCookies: cfg.Server.SecureCookies,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
		FlowTTL:       config.GetDuration(cfg.Session.FlowTTL),
		Membership: &membership.Config{
			MinimumFee:        cfg.Membership.MinimumFee,
			PasswordMinLength: cfg.Membership.PasswordMinLen,
			DashboardRoute:    cfg.Membership.DashboardRoute,
			LoginRoute:        cfg.Membership.LoginRoute,
		},
		Payment: &verification.PaymentConfig{
			MinimumFee:      cfg.Membership.MinimumFee,
			Currency:        cfg.Membership.Currency,
			CheckoutTimeout: config.GetDuration(cfg.Membership.CheckoutTimeout),
		},
		Code: &verification.CodeConfig{CodeLength: cfg.Auth.CodeLength},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting portal BFF...", zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Stores ---
	draftStore := drafts.NewPostgresStore(pg.DB, "", log)
	if err := draftStore.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("draft schema setup failed", zap.Error(err))
	}

	sessions := session.NewEstablisher(session.ServiceDependencies{
		Store:  session.NewRedisStore(redis.Client, cfg.Session.KeyPrefix),
		Logger: log,
	}, &session.Config{
		TTL:       config.GetDuration(cfg.Session.TTL),
		KeyPrefix: cfg.Session.KeyPrefix,
	})

	// --- Backend client ---
	api := apiclient.New(
		cfg.API.BaseURL,
		commonhttp.NewClient(config.GetDuration(cfg.API.Timeout)),
		log,
		obs,
	)

	srv, err := httpapi.NewServer(httpapi.ServiceDependencies{
		Backend:  func(token string) httpapi.BackendAPI { return api.WithToken(token) },
		Sessions: sessions,
		Drafts:   draftStore,
		Health: map[string]database.Pinger{
			"postgres": pg,
			"redis":    redis,
		},
		Logger: log,
	}, serverConfig(cfg))
	if err != nil {
		zapLog.Fatal("http surface setup failed", zap.Error(err))
	}
	srv.StartSweeper(time.Minute)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Router(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	srv.Close()

	zapLog.Info("Portal BFF stopped gracefully")
}

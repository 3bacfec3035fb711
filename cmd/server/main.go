// Command server runs the workflow automation API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/flowmesh/flowmesh/internal/app"
	"github.com/flowmesh/flowmesh/internal/app/ai"
	"github.com/flowmesh/flowmesh/internal/app/httpapi"
	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/internal/app/storage/postgres"
	"github.com/flowmesh/flowmesh/internal/app/storage/redisstore"
	"github.com/flowmesh/flowmesh/internal/config"
	"github.com/flowmesh/flowmesh/internal/middleware"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New("server", cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores := app.Stores{}
	deps := app.Dependencies{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("open postgres store")
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Error("ensure postgres schema")
			os.Exit(1)
		}
		stores.Workflows = pg
		stores.Executions = pg
		deps.DB = pg.DB()
		log.Info("using postgres store")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
	}

	if cfg.RedisAddr != "" {
		rs, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Error("open redis store")
			os.Exit(1)
		}
		defer rs.Close()
		stores.Registrations = rs
		log.Info("using redis registration store")
	}

	if cfg.AIBaseURL != "" {
		deps.Completer = ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, log)
	} else {
		log.Warn("AI_BASE_URL not set; AI nodes disabled")
	}

	application, err := app.New(stores, deps, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	cors := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)
	limiter.StartCleanup(10 * time.Minute)

	handler := metrics.InstrumentHandler(cors.Handler(limiter.Handler(httpapi.NewHandler(application))))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("server stopped")
}

// Package main is the entrypoint for the content generation API server and job runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tommypj/ai-content-saas-backend/internal/ai"
	"github.com/tommypj/ai-content-saas-backend/internal/api"
	"github.com/tommypj/ai-content-saas-backend/internal/api/handler"
	mw "github.com/tommypj/ai-content-saas-backend/internal/api/middleware"
	"github.com/tommypj/ai-content-saas-backend/internal/cache"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/internal/events"
	"github.com/tommypj/ai-content-saas-backend/internal/jobs"
	"github.com/tommypj/ai-content-saas-backend/internal/logger"
	"github.com/tommypj/ai-content-saas-backend/internal/runner"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	jobViewTTL      = time.Hour
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	log.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"env", cfg.Server.Env,
		"instance_id", cfg.Worker.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)

	// 4. Optional Redis cache
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_URL not set, job view cache and rate limiting disabled")
	}

	// 5. Optional job event publisher
	var publisher events.Publisher = events.Noop{}
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer amqpPub.Close()
		publisher = amqpPub
		log.Info("amqp publisher ready", "exchange", cfg.AMQP.Exchange)
	}

	// 6. Create AI provider and adapter
	aiProvider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	temperature := cfg.AI.Temperature
	content := ai.NewContentService(aiProvider, ai.Options{
		Timeout:       cfg.AI.Timeout,
		MaxAttempts:   cfg.AI.RetryMax,
		RetryBase:     cfg.AI.RetryBase,
		Temperature:   &temperature,
		DefaultLocale: cfg.Worker.DefaultLocale,
		Logger:        log,
	})
	log.Info("AI provider initialized", "provider", aiProvider.Name())

	// 7. Start the job runner
	runCtx, cancelRunner := context.WithCancel(context.Background())
	defer cancelRunner()
	runnerDone := make(chan struct{})
	if cfg.Worker.Enabled {
		opts := runner.Options{
			InstanceID:      cfg.Worker.InstanceID,
			MaxAttempts:     cfg.Worker.MaxAttempts,
			PollInterval:    cfg.Worker.PollInterval,
			ReleaseInterval: cfg.Worker.ReleaseInterval,
			Publisher:       publisher,
			CacheTTL:        jobViewTTL,
			Logger:          log,
		}
		if redisCache != nil {
			opts.Cache = redisCache
		}
		jobRunner := runner.New(pgStore, content, opts)
		go func() {
			defer close(runnerDone)
			jobRunner.Run(runCtx)
		}()
		log.Info("job runner started", "poll_interval", cfg.Worker.PollInterval)
	} else {
		close(runnerDone)
		log.Info("job runner disabled")
	}

	// 8. Build router with dependencies
	var (
		viewCache jobs.ViewCache
		counter   mw.Counter
		cachePing handler.Pinger
	)
	if redisCache != nil {
		viewCache, counter, cachePing = redisCache, redisCache, redisCache
	}
	svc := jobs.NewService(pgStore, viewCache, jobViewTTL, log)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		RateLimit: mw.NewRateLimit(counter, cfg.Redis.RateLimitPerMinute),

		HealthHandler:    handler.Health,
		ReadyHandler:     handler.NewReadyHandler(pgStore, cachePing),
		SubmitJobHandler: handler.NewSubmitJobHandler(svc),
		GetJobHandler:    handler.NewGetJobHandler(svc),
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections...")
	}

	return shutdown(srv, cancelRunner, runnerDone, serveErr)
}

// shutdown stops accepting requests, then stops the runner and waits for its
// in-flight job before the deferred pool close runs.
func shutdown(srv *http.Server, cancelRunner context.CancelFunc, runnerDone <-chan struct{}, serveErr error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("server error: %w", serveErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	cancelRunner()
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		errs = append(errs, errors.New("runner did not stop before shutdown timeout"))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

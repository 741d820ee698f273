package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/labcase-api/internal/config"
	"github.com/jwalitptl/labcase-api/internal/handler/health"
	promHandler "github.com/jwalitptl/labcase-api/internal/handler/prometheus"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/notification"
	"github.com/jwalitptl/labcase-api/internal/repository/postgres"
	cleanup "github.com/jwalitptl/labcase-api/internal/worker"
	"github.com/jwalitptl/labcase-api/pkg/logger"
	"github.com/jwalitptl/labcase-api/pkg/messaging/redis"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
	"github.com/jwalitptl/labcase-api/pkg/worker"
)

const cleanupInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
	log.Info().Msg("worker exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create Redis broker: %w", err)
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	repos := postgres.NewRepositories(db)
	processor, err := worker.NewOutboxProcessor(
		repos.Outbox,
		broker,
		worker.OutboxProcessorConfig{
			Channel:       cfg.Redis.Channel,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			MaxRetries:    cfg.Outbox.MaxRetries,
		},
		logger.NewLogger(&logger.Config{
			Level:      logger.ParseLevel(cfg.Log.Level),
			TimeFormat: time.RFC3339,
			Output:     os.Stdout,
			Pretty:     cfg.Log.Pretty,
		}),
		m,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox processor: %w", err)
	}

	if cfg.Notification.Enabled {
		notifier, err := notification.NewDeliveryNotifier(cfg.Notification)
		if err != nil {
			return err
		}
		processor.Handle(model.EventCaseDelivered, notifier.HandleDelivered)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(db).RegisterRoutes(engine)
	engine.GET("/metrics", promHandler.New(reg, m).Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return cleanup.NewOutboxCleanupWorker(repos.Outbox, cfg.Outbox.Retention, cleanupInterval).Start(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info().Int("port", cfg.Worker.Port).Str("channel", cfg.Redis.Channel).Msg("worker started")
	return g.Wait()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heliconai/salesdesk/internal/activities"
	"github.com/heliconai/salesdesk/internal/config"
	"github.com/heliconai/salesdesk/internal/db"
	"github.com/heliconai/salesdesk/internal/memory"
	"github.com/heliconai/salesdesk/internal/registry"
	"github.com/heliconai/salesdesk/internal/server"
	"github.com/heliconai/salesdesk/internal/session"
	"github.com/heliconai/salesdesk/internal/tracing"
	"github.com/heliconai/salesdesk/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "path to features.yaml (defaults to ./config, /etc/salesdesk)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator exited", zap.Error(err))
	}
}

func run(cfg *config.Features, logger *zap.Logger) error {
	ctx := context.Background()

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracingEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(ctx)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	sessions := session.NewManager(session.NewRedisStore(redisClient), logger)
	mem := memory.NewStore(redisClient, logger)
	workerRegistry := workers.NewRegistry(cfg.Workers.Endpoints, logger)
	dispatcher := workers.NewClient(workerRegistry, logger)

	routerCfg, err := cfg.RoutingConfig(workerRegistry.Names())
	if err != nil {
		return err
	}

	var store *db.Client
	if cfg.Database.Enabled {
		store, err = db.NewClient(cfg.Database.DSN, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer store.Close()
		logger.Info("turn persistence enabled")
	} else {
		logger.Info("turn persistence disabled")
	}

	acts := activities.New(activities.Config{
		Sessions:      sessions,
		Memory:        mem,
		Registry:      workerRegistry,
		Dispatcher:    dispatcher,
		Router:        routerCfg,
		Store:         store,
		ClassifierURL: cfg.Workers.ClassifierURL,
		Logger:        logger,
	})

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connect temporal at %s: %w", cfg.Temporal.HostPort, err)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	registry.RegisterWorkflows(w)
	registry.RegisterActivities(w, acts)

	workerStop := make(chan interface{})
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(workerStop)
	}()
	logger.Info("temporal worker started",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue))

	svc := server.New(temporalClient, cfg.Temporal.TaskQueue, logger)
	apiMux := http.NewServeMux()
	apiMux.Handle("/", svc.Handler())
	apiMux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		hctx, hcancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer hcancel()
		if err := redisClient.Ping(hctx).Err(); err != nil {
			http.Error(rw, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		if store != nil {
			if err := store.HealthCheck(hctx); err != nil {
				http.Error(rw, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: apiMux,
	}
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics listening", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err := <-workerDone:
		if err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		return nil
	}

	close(workerStop)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
	<-workerDone
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

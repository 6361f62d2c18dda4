package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/councilcast/internal/adapter/httpserver"
	"github.com/pscheid92/councilcast/internal/adapter/memory"
	"github.com/pscheid92/councilcast/internal/adapter/metrics"
	"github.com/pscheid92/councilcast/internal/adapter/postgres"
	"github.com/pscheid92/councilcast/internal/adapter/redis"
	"github.com/pscheid92/councilcast/internal/adapter/websocket"
	"github.com/pscheid92/councilcast/internal/app"
	"github.com/pscheid92/councilcast/internal/broadcast"
	"github.com/pscheid92/councilcast/internal/domain"
	"github.com/pscheid92/councilcast/internal/platform/config"
	"github.com/pscheid92/councilcast/internal/platform/logging"
	"github.com/pscheid92/councilcast/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const circuitBreakerDelay = 30 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, reg prometheus.Registerer) *pgxpool.Pool {
	if !cfg.NeedsDatabase() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(metrics.NewDatabaseMetrics(reg)))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, reg prometheus.Registerer, breakerMetrics *metrics.CircuitBreakerMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(metrics.NewRedisMetrics(reg)),
		redis.NewCircuitBreakerHook(breakerMetrics, circuitBreakerDelay),
	)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupRegistry(cfg *config.Config, rdb *goredis.Client, pool *pgxpool.Pool) domain.ConnectionRegistry {
	switch cfg.RegistryBackend {
	case config.RegistryPostgres:
		return postgres.NewConnectionRegistry(pool)
	case config.RegistryMemory:
		slog.Warn("Using in-memory connection registry; connections are not shared across instances")
		return memory.NewConnectionRegistry()
	default:
		return redis.NewConnectionRegistry(rdb)
	}
}

func healthChecks(rdb *goredis.Client, pool *pgxpool.Pool) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if pool != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, gateway *websocket.Gateway, stopConsumer context.CancelFunc, consumerDone *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Stop reading new batches first; the in-flight batch finishes and is acknowledged
		stopConsumer()
		consumerDone.Wait()

		if gateway != nil {
			gateway.Shutdown(shutdownCtx)
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting",
		"env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit,
		"registry", cfg.RegistryBackend)

	reg := metrics.NewRegistry()
	breakerMetrics := metrics.NewCircuitBreakerMetrics(reg)

	pool := setupDB(cfg, reg)
	if pool != nil {
		defer pool.Close()
	}

	redisClient := setupRedis(cfg, reg, breakerMetrics)
	defer func() { _ = redisClient.Close() }()

	registry := setupRegistry(cfg, redisClient, pool)

	// Deliver through a remote gateway when one is configured, otherwise serve
	// WebSocket clients in this process and route to peers by connection owner
	var (
		connections *app.ConnectionService
		gateway     *websocket.Gateway
		router      *websocket.Router
	)
	if cfg.DeliveryEndpoint != "" {
		connections = app.NewConnectionService(registry, clock)
		router = websocket.NewRouter(websocket.RouterConfig{
			Fallback: websocket.NewManagementClient(cfg.DeliveryEndpoint, nil, breakerMetrics),
			Metrics:  breakerMetrics,
		})
		slog.Info("Delivering through remote gateway", "endpoint", cfg.DeliveryEndpoint)
	} else {
		connections = app.NewConnectionService(registry, clock, app.WithEndpoint(cfg.InstanceEndpoint))
		limits := websocket.NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.ConnectionsPerSecond, cfg.ConnectionBurst, clock)
		checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction())
		gateway = websocket.NewGateway(connections, checkOrigin, limits, metrics.NewWebSocketMetrics(reg), clock)
		router = websocket.NewRouter(websocket.RouterConfig{
			Self:    cfg.InstanceEndpoint,
			Local:   gateway,
			Metrics: breakerMetrics,
		})
		slog.Info("Serving WebSocket clients", "instance_endpoint", cfg.InstanceEndpoint)
	}

	dispatcher := broadcast.NewDispatcher(registry, router, metrics.NewBroadcastMetrics(reg), clock, broadcast.Config{
		Concurrency:     cfg.DeliveryWorkers,
		RegistryTimeout: cfg.RegistryTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	changeFeedMetrics := metrics.NewChangeFeedMetrics(reg)
	publisher := redis.NewChangeFeedPublisher(redisClient, cfg.ChangefeedStream, changeFeedMetrics)

	var store domain.MessageRepository
	if cfg.MessageStoreEnabled {
		store = postgres.NewMessageRepo(pool)
	}
	messages := app.NewMessageService(store, publisher, clock)

	consumer := redis.NewChangeFeedConsumer(redisClient, redis.ConsumerConfig{
		Stream:    cfg.ChangefeedStream,
		Group:     cfg.ChangefeedGroup,
		Consumer:  cfg.ChangefeedConsumer,
		BatchSize: cfg.ChangefeedBatchSize,
		Block:     cfg.ChangefeedBlock,
	}, func(ctx context.Context, events []domain.ChangeEvent) {
		dispatcher.ProcessBatch(ctx, events)
	}, changeFeedMetrics, clock)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		if err := consumer.Run(consumerCtx); err != nil {
			slog.Error("Change-feed consumer stopped", "error", err)
		}
	}()

	deps := httpserver.Dependencies{
		Connections:  connections,
		Messages:     messages,
		Dispatcher:   dispatcher,
		HealthChecks: append(healthChecks(redisClient, pool), httpserver.HealthCheck{Name: "changefeed", Check: consumer.Check}),
		Registry:     reg,
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Clock:        clock,
	}
	// Assign only when set to avoid a typed-nil interface
	if gateway != nil {
		deps.Gateway = gateway
	}
	srv := httpserver.NewServer(cfg, deps)

	done := runGracefulShutdown(srv, gateway, stopConsumer, &consumerDone)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

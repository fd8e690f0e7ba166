package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/api"
	"availability-engine/internal/clock"
	"availability-engine/internal/config"
	"availability-engine/internal/interfaces"
	"availability-engine/internal/kafka"
	"availability-engine/internal/metrics"
	"availability-engine/internal/notify"
	"availability-engine/internal/rabbitmq"
	redisCache "availability-engine/internal/redis"
	"availability-engine/internal/repository"
	"availability-engine/internal/service"
)

// setupLogging configures structured logging
func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("component", "sweeper").Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	if cfg.RunMigrations {
		if err := repository.RunMigrations(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeSinks connects the transports expiry events are published on
func initializeSinks(cfg *config.Config) ([]interfaces.ChangeSink, []func() error) {
	var (
		sinks   []interfaces.ChangeSink
		closers []func() error
	)
	settings := notify.DefaultBreakerSettings()

	if cfg.HasSink(config.SinkKafka) {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaChangesTopic)
		sinks = append(sinks, notify.NewBreakerSink(publisher, settings))
		closers = append(closers, publisher.Close)
	}
	if cfg.HasSink(config.SinkRedis) {
		client := redisCache.NewUniversalClient(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisClusterMode)
		sinks = append(sinks, notify.NewBreakerSink(redisCache.NewChangePublisher(client, cfg.RedisKeyPrefix), settings))
		closers = append(closers, client.Close)
	}
	if cfg.HasSink(config.SinkRabbitMQ) {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.ServiceName)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to RabbitMQ, sink disabled")
		} else {
			sinks = append(sinks, notify.NewBreakerSink(publisher, settings))
			closers = append(closers, publisher.Close)
		}
	}
	return sinks, closers
}

// createSweeper wires the engine and the cross-instance sweep lock
func createSweeper(cfg *config.Config, notifier interfaces.Notifier, m *metrics.Metrics) (*service.Sweeper, func()) {
	db := initializeDatabase(cfg)
	listings := repository.NewListingRepository(db, cfg.LockTimeout)
	holds := repository.NewHoldRepository(db)
	staff := repository.NewStaffRepository(db)
	locker := repository.NewSweepLockRepository(db, cfg.SweepLockKey)
	cleanup := func() { db.Close() }

	engine, err := service.NewEngine(listings, holds, staff, notifier, clock.NewSystem(), m, cfg.EngineConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create availability engine")
	}

	sweeper, err := service.NewSweeper(engine, locker, cfg.SweepInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sweeper")
	}

	log.Info().
		Dur("interval", cfg.SweepInterval).
		Int("batch_size", cfg.SweepBatchSize).
		Int64("lock_key", cfg.SweepLockKey).
		Msg("Sweeper configured")

	return sweeper, cleanup
}

// startHTTPServer serves health, the manual trigger and metrics
func startHTTPServer(cfg *config.Config, sweeper *service.Sweeper, reg *prometheus.Registry) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewSweeperHandler(sweeper).SetupSweeperRoutes()
	if cfg.EnableMetrics {
		api.MountMetrics(router, reg)
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Sweeper HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, done <-chan struct{}, server *http.Server, dispatcher *notify.Dispatcher, closers []func() error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Sweeper...")

	// Stop the ticker first so no sweep starts during shutdown
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	dispatcher.Close()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("Failed to close change sink")
		}
	}

	log.Info().Msg("Sweeper stopped")
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.IsMemory() {
		log.Fatal().Msg("The memory store is private to cmd/engine, which runs its own sweeper")
	}
	log.Info().Str("instance_id", cfg.InstanceID).Msg("Starting Sweeper...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "availability")

	sinks, closers := initializeSinks(cfg)
	dispatcher := notify.NewDispatcher(sinks, notify.DispatcherConfig{
		Buffer:  cfg.NotifierBuffer,
		Workers: cfg.NotifierWorkers,
		Timeout: cfg.NotifierTimeout,
	}, m)

	sweeper, cleanup := createSweeper(cfg, dispatcher, m)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	server := startHTTPServer(cfg, sweeper, reg)

	log.Info().Msg("Sweeper started")

	gracefulShutdown(cancel, done, server, dispatcher, closers)
}

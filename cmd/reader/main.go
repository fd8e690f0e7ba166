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
	"availability-engine/internal/models"
	"availability-engine/internal/notify"
	redisCache "availability-engine/internal/redis"
	"availability-engine/internal/repository"
	"availability-engine/internal/service"
)

// changeFanout hands every consumed change to each handler in turn
type changeFanout []interfaces.ChangeHandler

func (f changeFanout) HandleChange(ctx context.Context, event *models.AvailabilityChangeEvent) error {
	var errs []error
	for _, h := range f {
		if err := h.HandleChange(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setupLogging configures structured logging
func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// initializeSource builds the uncached read path on top of PostgreSQL. The
// reader never mutates holds, so it runs without a notifier.
func initializeSource(cfg *config.Config, m *metrics.Metrics) (*service.Engine, *sqlx.DB) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	engine, err := service.NewEngine(
		repository.NewListingRepository(db, cfg.LockTimeout),
		repository.NewHoldRepository(db),
		repository.NewStaffRepository(db),
		nil, clock.NewSystem(), m, cfg.EngineConfig(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create read source")
	}
	return engine, db
}

// initializeCache sets up the Redis view cache with cluster support
func initializeCache(cfg *config.Config) (*redisCache.CacheClient, *redisCache.ChangeSubscriber) {
	client := redisCache.NewUniversalClient(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisClusterMode)
	cache := redisCache.NewCacheClient(client, cfg.RedisTTL, cfg.RedisKeyPrefix)

	// Test cache connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	log.Info().Strs("addrs", cfg.RedisAddrs).Dur("ttl", cfg.RedisTTL).Msg("Redis connection established")
	return cache, redisCache.NewChangeSubscriber(client, cfg.RedisKeyPrefix)
}

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, reader interfaces.AvailabilityReader, hub *notify.Hub, reg *prometheus.Registry) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewReaderHandler(reader, hub).SetupReaderRoutes()
	if cfg.EnableMetrics {
		api.MountMetrics(router, reg)
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout, the events stream stays open.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reader Service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startChangeConsumers keeps the cache and live streams current. Kafka is the
// durable feed for invalidation when configured; Redis pub/sub always feeds
// the events hub.
func startChangeConsumers(ctx context.Context, cfg *config.Config, reader *service.CachedReader, hub *notify.Hub, subscriber *redisCache.ChangeSubscriber) *kafka.Consumer {
	var consumer *kafka.Consumer

	redisHandlers := changeFanout{hub}
	if cfg.HasSink(config.SinkKafka) {
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaChangesTopic)
		kafkaHandlers := changeFanout{reader}
		if !cfg.HasSink(config.SinkRedis) {
			kafkaHandlers = append(kafkaHandlers, hub)
		}

		go func() {
			log.Info().Str("topic", cfg.KafkaChangesTopic).Msg("Starting to consume availability changes")
			if err := consumer.ConsumeChanges(ctx, kafkaHandlers); err != nil {
				log.Error().Err(err).Msg("Change consumption stopped")
			}
		}()
	} else {
		redisHandlers = append(redisHandlers, reader)
	}

	if cfg.HasSink(config.SinkRedis) {
		go func() {
			if err := subscriber.Run(ctx, redisHandlers); err != nil {
				log.Error().Err(err).Msg("Availability subscription stopped")
			}
		}()
	} else if !cfg.HasSink(config.SinkKafka) {
		log.Warn().Msg("No change feed configured, cached views expire by TTL only")
	}

	return consumer
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Reader Service...")

	// Cancel context to stop change consumption and open streams
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reader Service stopped")
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.IsMemory() {
		log.Fatal().Msg("The memory store is private to cmd/engine, which serves the read views itself")
	}
	log.Info().Str("instance_id", cfg.InstanceID).Msg("Starting Reader Service...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "availability")

	source, db := initializeSource(cfg, m)
	defer db.Close()

	cache, subscriber := initializeCache(cfg)
	defer cache.Close()

	reader := service.NewCachedReader(source, cache, m, cfg.CacheTimeout)
	hub := notify.NewHub(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := startChangeConsumers(ctx, cfg, reader, hub, subscriber)
	if consumer != nil {
		defer consumer.Close()
	}

	server := startHTTPServer(cfg, reader, hub, reg)

	log.Info().Msg("Reader Service started")

	gracefulShutdown(cancel, server)
}

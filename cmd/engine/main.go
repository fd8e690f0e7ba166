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

// storage bundles the repositories the engine runs on
type storage struct {
	listings interfaces.ListingRepository
	holds    interfaces.HoldRepository
	staff    interfaces.StaffDirectory
	db       *sqlx.DB
	memory   *repository.MemoryStore
}

func (s *storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
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

// initializeStorage connects to PostgreSQL, or builds the in-memory store
// loaded from the seed file
func initializeStorage(cfg *config.Config) *storage {
	if cfg.IsMemory() {
		log.Warn().Msg("Using in-memory storage, holds will not survive a restart")
		store := repository.NewMemoryStore()

		if cfg.SeedFile == "" {
			log.Warn().Msg("No SEED_FILE set, the memory store starts without listings")
		} else if _, err := repository.LoadSeedFile(context.Background(), cfg.SeedFile, store); err != nil {
			log.Fatal().Err(err).Str("seed_file", cfg.SeedFile).Msg("Failed to load seed")
		}
		return &storage{listings: store, holds: store, staff: store, memory: store}
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	// Test database connection
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	if cfg.RunMigrations {
		if err := repository.RunMigrations(db); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	log.Info().Int("max_conns", cfg.DatabaseMaxConns).Msg("Database connection established")
	return &storage{
		listings: repository.NewListingRepository(db, cfg.LockTimeout),
		holds:    repository.NewHoldRepository(db),
		staff:    repository.NewStaffRepository(db),
		db:       db,
	}
}

// initializeSinks builds one breaker-wrapped sink per configured transport.
// The returned closers release the transports on shutdown.
func initializeSinks(cfg *config.Config) ([]interfaces.ChangeSink, []func() error) {
	var (
		sinks   []interfaces.ChangeSink
		closers []func() error
	)
	settings := notify.DefaultBreakerSettings()

	if cfg.HasSink(config.SinkKafka) {
		log.Info().Strs("kafka_brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaChangesTopic).Msg("Initializing Kafka change publisher")
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
			// Delivery is best effort, the engine keeps serving without this sink.
			log.Error().Err(err).Msg("Failed to connect to RabbitMQ, sink disabled")
		} else {
			sinks = append(sinks, notify.NewBreakerSink(publisher, settings))
			closers = append(closers, publisher.Close)
		}
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	log.Info().Strs("sinks", names).Msg("Change notifier sinks configured")

	return sinks, closers
}

// createEngine creates and configures the availability engine
func createEngine(store *storage, notifier interfaces.Notifier, m *metrics.Metrics, cfg *config.Config) *service.Engine {
	engineConfig := cfg.EngineConfig()

	log.Info().
		Dur("default_hold_duration", engineConfig.DefaultHoldDuration).
		Dur("max_hold_duration", engineConfig.MaxHoldDuration).
		Int("max_quantity", engineConfig.MaxQuantity).
		Int("max_booked_window_days", engineConfig.MaxBookedWindowDays).
		Msg("Engine configuration loaded")

	engine, err := service.NewEngine(store.listings, store.holds, store.staff, notifier, clock.NewSystem(), m, engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create availability engine")
	}
	return engine
}

// initializeMetrics creates the registry backing /metrics
func initializeMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.New(reg, "availability")
}

// startLocalSweeper runs expiry in this process when the store is not
// shared with a separate sweeper. The returned channel closes when it stops.
func startLocalSweeper(ctx context.Context, cfg *config.Config, engine *service.Engine, store *repository.MemoryStore) <-chan struct{} {
	done := make(chan struct{})
	if store == nil {
		close(done)
		return done
	}

	sweeper, err := service.NewSweeper(engine, store, cfg.SweepInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sweeper")
	}

	go func() {
		defer close(done)
		log.Info().Dur("interval", cfg.SweepInterval).Msg("In-process sweeper started")
		sweeper.Run(ctx)
	}()
	return done
}

// startHTTPServer starts the HTTP server. With a hub the read views and the
// events stream are served from the same process.
func startHTTPServer(cfg *config.Config, engine *service.Engine, hub *notify.Hub, reg *prometheus.Registry) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewEngineHandler(engine).SetupEngineRoutes()
	if hub != nil {
		api.NewReaderHandler(engine, hub).RegisterRoutes(router.Group("/api/v1"))
	}
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
	if hub != nil {
		// Events streams stay open past any write deadline.
		server.WriteTimeout = 0
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Availability Engine HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// gracefulShutdown stops accepting requests, then drains the notifier
func gracefulShutdown(cancel context.CancelFunc, sweepDone <-chan struct{}, server *http.Server, dispatcher *notify.Dispatcher, closers []func() error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Availability Engine...")

	// Stop the local sweeper and open event streams
	cancel()
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	dispatcher.Close()
	if dropped := dispatcher.Dropped(); dropped > 0 {
		log.Warn().Int64("dropped", dropped).Msg("Change events dropped during this run")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("Failed to close change sink")
		}
	}

	log.Info().Msg("Availability Engine stopped")
}

func main() {
	cfg := config.LoadConfig()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("instance_id", cfg.InstanceID).
		Str("environment", cfg.Environment).
		Str("storage", cfg.StorageDriver).
		Msg("Starting Availability Engine...")

	store := initializeStorage(cfg)
	defer store.Close()

	reg, m := initializeMetrics()

	sinks, closers := initializeSinks(cfg)

	// A memory store is invisible to the reader binary, so live updates are
	// served here from an in-process hub.
	var hub *notify.Hub
	if store.memory != nil {
		hub = notify.NewHub(0)
		sinks = append(sinks, hub)
	}

	dispatcher := notify.NewDispatcher(sinks, notify.DispatcherConfig{
		Buffer:  cfg.NotifierBuffer,
		Workers: cfg.NotifierWorkers,
		Timeout: cfg.NotifierTimeout,
	}, m)

	engine := createEngine(store, dispatcher, m, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepDone := startLocalSweeper(ctx, cfg, engine, store.memory)
	server := startHTTPServer(cfg, engine, hub, reg)

	log.Info().Msg("Availability Engine started")

	gracefulShutdown(cancel, sweepDone, server, dispatcher, closers)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/api"
	"github.com/sensorfleet/deploy-console/internal/cache"
	"github.com/sensorfleet/deploy-console/internal/config"
	"github.com/sensorfleet/deploy-console/internal/geocoding"
	"github.com/sensorfleet/deploy-console/internal/health"
	"github.com/sensorfleet/deploy-console/internal/lifecycle"
	"github.com/sensorfleet/deploy-console/internal/registry"
	"github.com/sensorfleet/deploy-console/internal/server"
	"github.com/sensorfleet/deploy-console/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/deploy-console.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg.LogSummary()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(ctx, cfg)
	defer store.Close()

	registryClient := registry.NewClient(registry.Options{
		BaseURL: cfg.Registry.URL,
		Token:   cfg.Registry.Token,
		Timeout: cfg.Registry.Timeout,
	})

	backend, closeBackend := openCacheBackend(ctx, cfg)
	defer closeBackend()
	fleet := cache.NewFleet(registryClient, backend, cfg.Cache.TTL).WithPrefix(cfg.Cache.Prefix)

	geocoder := geocoding.NewClient(geocoding.ClientOptions{
		BaseURL:   cfg.Geocoder.URL,
		UserAgent: cfg.Geocoder.UserAgent,
		Email:     cfg.Geocoder.Email,
		Timeout:   cfg.Geocoder.Timeout,
	})

	// WaitGroup for services
	var wg sync.WaitGroup

	var publisher lifecycle.Publisher = server.NopPublisher{}

	// Optional: NATS fan-out between console instances
	if cfg.NATS.URL != "" {
		origin := uuid.New().String()
		log.Info().Str("url", cfg.NATS.URL).Str("origin", origin).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(natsClientName(cfg)),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")

			publisher = server.NewNATSPublisher(nc, origin)
			subscriber := server.NewNATSSubscriber(nc, fleet, origin)

			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("Starting NATS subscriber")
				if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("NATS subscriber stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	controller := lifecycle.NewController(registryClient, fleet, store,
		lifecycle.WithPublisher(publisher),
		lifecycle.WithRules(healthRules(cfg.Health)),
		lifecycle.WithRefreshTimeout(cfg.Health.RefreshTimeout),
	)

	apiServer := api.NewRESTServer(cfg, controller, fleet, store, geocoder)

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shutdown API server
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services and pending fleet refreshes
	wg.Wait()
	controller.Wait()

	log.Info().Msg("Deploy console stopped")
}

// openStore connects to Postgres when a DSN is configured, else keeps state in memory
func openStore(ctx context.Context, cfg *config.Config) storage.Store {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("Database not configured, lifecycle records are kept in memory")
		return storage.NewMemoryStore()
	}

	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	store.SetPoolLimits(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	log.Info().Msg("Connected to database")
	return store
}

// openCacheBackend shares the fleet cache through Redis when configured
func openCacheBackend(ctx context.Context, cfg *config.Config) (cache.Backend, func()) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("Redis not configured, using in-process fleet cache")
		return cache.NewMemoryBackend(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, using in-process fleet cache")
		client.Close()
		return cache.NewMemoryBackend(), func() {}
	}

	log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	return cache.NewRedisBackend(client), func() { client.Close() }
}

// healthRules layers configured channel overrides on top of the default table
func healthRules(cfg config.HealthConfig) health.Rules {
	if len(cfg.Channels) == 0 {
		return health.DefaultRules
	}

	overrides := make(health.Rules, len(cfg.Channels))
	for key, rule := range cfg.Channels {
		overrides[key] = health.Bounded(rule.Label, rule.Min, rule.Max, rule.Excluded...)
	}
	return health.DefaultRules.Merge(overrides)
}

func natsClientName(cfg *config.Config) string {
	if cfg.NATS.ClientID != "" {
		return cfg.NATS.ClientID
	}
	return "deploy-console"
}

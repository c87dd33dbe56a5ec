package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultDebounce       = 300 * time.Millisecond
	DefaultSearchLimit    = 5
	DefaultCacheTTL       = 10 * time.Minute
	DefaultCachePrefix    = "deploy-console:fleet"
	DefaultGeocoderURL    = "https://nominatim.openstreetmap.org"
	DefaultGeocoderAgent  = "deploy-console"
	DefaultAPIPort        = 8090
	DefaultMaxOpenConns   = 10
	DefaultMaxIdleConns   = 5
	DefaultMaxReconnects  = 10
	DefaultReconnectDelay = 2 * time.Second
)

// ErrMissingRegistryURL is returned by Validate when no registry endpoint is configured
var ErrMissingRegistryURL = errors.New("registry url is required")

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Registry RegistryConfig `yaml:"registry"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Health   HealthConfig   `yaml:"health"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RegistryConfig points at the remote device registry
type RegistryConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeocoderConfig points at a Nominatim-compatible geocoding service
type GeocoderConfig struct {
	URL         string        `yaml:"url"`
	UserAgent   string        `yaml:"user_agent"`
	Email       string        `yaml:"email"`
	Timeout     time.Duration `yaml:"timeout"`
	Debounce    time.Duration `yaml:"debounce"`
	SearchLimit int           `yaml:"search_limit"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the shared fleet cache
type CacheConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChannelRule overrides the healthy range of one telemetry channel
type ChannelRule struct {
	Label    string    `yaml:"label"`
	Min      float64   `yaml:"min"`
	Max      float64   `yaml:"max"`
	Excluded []float64 `yaml:"excluded"`
}

// HealthConfig tunes the device health test and post-operation refresh
type HealthConfig struct {
	RefreshTimeout time.Duration          `yaml:"refresh_timeout"`
	Channels       map[string]ChannelRule `yaml:"channels"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if registryURL := os.Getenv("REGISTRY_URL"); registryURL != "" {
		c.Registry.URL = registryURL
	}

	if registryToken := os.Getenv("REGISTRY_TOKEN"); registryToken != "" {
		c.Registry.Token = registryToken
	}

	if geocoderURL := os.Getenv("GEOCODER_URL"); geocoderURL != "" {
		c.Geocoder.URL = geocoderURL
	}
}

func (c *Config) setDefaults() {
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}

	if c.Registry.Timeout == 0 {
		c.Registry.Timeout = DefaultTimeout
	}

	if c.Geocoder.URL == "" {
		c.Geocoder.URL = DefaultGeocoderURL
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = DefaultGeocoderAgent
	}
	if c.Geocoder.Timeout == 0 {
		c.Geocoder.Timeout = DefaultTimeout
	}
	if c.Geocoder.Debounce == 0 {
		c.Geocoder.Debounce = DefaultDebounce
	}
	if c.Geocoder.SearchLimit <= 0 {
		c.Geocoder.SearchLimit = DefaultSearchLimit
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = DefaultMaxIdleConns
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = DefaultCachePrefix
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = DefaultMaxReconnects
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = DefaultReconnectDelay
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Health.RefreshTimeout == 0 {
		c.Health.RefreshTimeout = DefaultTimeout
	}
}

// Validate checks the settings the console cannot run without
func (c *Config) Validate() error {
	if c.Registry.URL == "" {
		return ErrMissingRegistryURL
	}
	for key, rule := range c.Health.Channels {
		if rule.Min > rule.Max {
			return fmt.Errorf("health channel %s: min %.2f exceeds max %.2f", key, rule.Min, rule.Max)
		}
	}
	return nil
}

// LogSummary writes the effective configuration, without secrets
func (c *Config) LogSummary() {
	log.Info().
		Str("name", c.Server.Name).
		Str("version", c.Server.Version).
		Str("registry", c.Registry.URL).
		Str("geocoder", c.Geocoder.URL).
		Bool("postgres", c.Database.DSN != "").
		Bool("redis", c.Redis.Addr != "").
		Bool("nats", c.NATS.URL != "").
		Bool("jwt", c.JWT.Secret != "").
		Dur("cache_ttl", c.Cache.TTL).
		Int("health_overrides", len(c.Health.Channels)).
		Msg("Configuration loaded")
}

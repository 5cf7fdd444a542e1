package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Search cache backends accepted by SEARCH_CACHE_BACKEND.
const (
	CacheRedis = "redis"
	CacheLocal = "local"
	CacheNone  = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Server         ServerConfig
	StorageBackend string
	Postgres       PostgresConfig
	Redis          RedisConfig
	AMQP           AMQPConfig
	Search         SearchConfig
	Booking        BookingConfig
	Fare           FareConfig
	AdminToken     string
	SeedFile       string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings. AdminUser, when set,
// opens a second pool that runs administrative operations.
type PostgresConfig struct {
	Host          string `mapstructure:"POSTGRES_HOST"`
	Port          int    `mapstructure:"POSTGRES_PORT"`
	User          string `mapstructure:"POSTGRES_USER"`
	Password      string `mapstructure:"POSTGRES_PASSWORD"`
	AdminUser     string `mapstructure:"POSTGRES_ADMIN_USER"`
	AdminPassword string `mapstructure:"POSTGRES_ADMIN_PASSWORD"`
	DBName        string `mapstructure:"POSTGRES_DB"`
	SSLMode       string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns      int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns      int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// AMQPConfig holds RabbitMQ settings. An empty URL disables publishing.
type AMQPConfig struct {
	URL         string `mapstructure:"AMQP_URL"`
	TicketQueue string `mapstructure:"AMQP_TICKET_QUEUE"`
}

// SearchConfig bounds itinerary searches and their result cache.
type SearchConfig struct {
	MaxChanges     int           `mapstructure:"SEARCH_MAX_CHANGES"`
	HorizonDays    int           `mapstructure:"SEARCH_HORIZON_DAYS"`
	MaxServiceDays int           `mapstructure:"SEARCH_MAX_SERVICE_DAYS"` // service days materialized per search step
	MaxResults     int           `mapstructure:"SEARCH_MAX_RESULTS"`
	CacheBackend   string        `mapstructure:"SEARCH_CACHE_BACKEND"`
	CacheTTL       time.Duration `mapstructure:"SEARCH_CACHE_TTL"`
	CacheSize      int           `mapstructure:"SEARCH_CACHE_SIZE"`
}

// BookingConfig holds ticket purchase settings.
type BookingConfig struct {
	TxTimeout  time.Duration `mapstructure:"BOOKING_TX_TIMEOUT"`
	MaxRetries int           `mapstructure:"BOOKING_MAX_RETRIES"`
}

// FareConfig holds the estimated price components, in cents.
type FareConfig struct {
	BaseCents      int64 `mapstructure:"FARE_BASE_CENTS"`
	PerMinuteCents int64 `mapstructure:"FARE_PER_MINUTE_CENTS"`
	PerKmCents     int64 `mapstructure:"FARE_PER_KM_CENTS"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return p.dsn(p.User, p.Password)
}

// AdminDSN returns the connection string for the admin pool, or "" when no
// admin user is configured.
func (p *PostgresConfig) AdminDSN() string {
	if p.AdminUser == "" {
		return ""
	}
	return p.dsn(p.AdminUser, p.AdminPassword)
}

func (p *PostgresConfig) dsn(user, password string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("STORAGE_BACKEND", StoragePostgres)

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "traits")
	viper.SetDefault("POSTGRES_PASSWORD", "traits_secret")
	viper.SetDefault("POSTGRES_ADMIN_USER", "")
	viper.SetDefault("POSTGRES_ADMIN_PASSWORD", "")
	viper.SetDefault("POSTGRES_DB", "traits_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)

	viper.SetDefault("AMQP_URL", "")
	viper.SetDefault("AMQP_TICKET_QUEUE", "tickets.events")

	viper.SetDefault("ADMIN_TOKEN", "")

	viper.SetDefault("SEARCH_MAX_CHANGES", 5)
	viper.SetDefault("SEARCH_HORIZON_DAYS", 30)
	viper.SetDefault("SEARCH_MAX_SERVICE_DAYS", 62)
	viper.SetDefault("SEARCH_MAX_RESULTS", 500)
	viper.SetDefault("SEARCH_CACHE_BACKEND", CacheRedis)
	viper.SetDefault("SEARCH_CACHE_TTL", "30s")
	viper.SetDefault("SEARCH_CACHE_SIZE", 1024)

	viper.SetDefault("BOOKING_TX_TIMEOUT", "5s")
	viper.SetDefault("BOOKING_MAX_RETRIES", 3)

	viper.SetDefault("FARE_BASE_CENTS", 250)
	viper.SetDefault("FARE_PER_MINUTE_CENTS", 12)
	viper.SetDefault("FARE_PER_KM_CENTS", 8)

	viper.SetDefault("SEED_FILE", "")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{
		StorageBackend: viper.GetString("STORAGE_BACKEND"),
		AdminToken:     viper.GetString("ADMIN_TOKEN"),
		SeedFile:       viper.GetString("SEED_FILE"),
	}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:          viper.GetString("POSTGRES_HOST"),
		Port:          viper.GetInt("POSTGRES_PORT"),
		User:          viper.GetString("POSTGRES_USER"),
		Password:      viper.GetString("POSTGRES_PASSWORD"),
		AdminUser:     viper.GetString("POSTGRES_ADMIN_USER"),
		AdminPassword: viper.GetString("POSTGRES_ADMIN_PASSWORD"),
		DBName:        viper.GetString("POSTGRES_DB"),
		SSLMode:       viper.GetString("POSTGRES_SSLMODE"),
		MaxConns:      viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns:      viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	// ── AMQP ────────────────────────────────────────────
	cfg.AMQP = AMQPConfig{
		URL:         viper.GetString("AMQP_URL"),
		TicketQueue: viper.GetString("AMQP_TICKET_QUEUE"),
	}

	// ── Search ──────────────────────────────────────────
	cfg.Search = SearchConfig{
		MaxChanges:     viper.GetInt("SEARCH_MAX_CHANGES"),
		HorizonDays:    viper.GetInt("SEARCH_HORIZON_DAYS"),
		MaxServiceDays: viper.GetInt("SEARCH_MAX_SERVICE_DAYS"),
		MaxResults:     viper.GetInt("SEARCH_MAX_RESULTS"),
		CacheBackend:   viper.GetString("SEARCH_CACHE_BACKEND"),
		CacheTTL:       viper.GetDuration("SEARCH_CACHE_TTL"),
		CacheSize:      viper.GetInt("SEARCH_CACHE_SIZE"),
	}

	// ── Booking & fares ─────────────────────────────────
	cfg.Booking = BookingConfig{
		TxTimeout:  viper.GetDuration("BOOKING_TX_TIMEOUT"),
		MaxRetries: viper.GetInt("BOOKING_MAX_RETRIES"),
	}
	cfg.Fare = FareConfig{
		BaseCents:      viper.GetInt64("FARE_BASE_CENTS"),
		PerMinuteCents: viper.GetInt64("FARE_PER_MINUTE_CENTS"),
		PerKmCents:     viper.GetInt64("FARE_PER_KM_CENTS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("config: STORAGE_BACKEND must be %q or %q, got %q",
			StoragePostgres, StorageMemory, c.StorageBackend)
	}
	switch c.Search.CacheBackend {
	case CacheRedis, CacheLocal, CacheNone:
	default:
		return fmt.Errorf("config: SEARCH_CACHE_BACKEND must be %q, %q or %q, got %q",
			CacheRedis, CacheLocal, CacheNone, c.Search.CacheBackend)
	}
	if c.Search.MaxChanges < 0 || c.Search.HorizonDays <= 0 || c.Search.MaxResults <= 0 {
		return fmt.Errorf("config: search bounds must be positive")
	}
	if c.Booking.MaxRetries < 0 {
		return fmt.Errorf("config: BOOKING_MAX_RETRIES must not be negative")
	}
	return nil
}

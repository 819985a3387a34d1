package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"

	OrderModeSaga        = "saga"
	OrderModeTransaction = "transaction"
)

// Config is read from the environment at startup.
type Config struct {
	Port        string
	ServiceName string
	LogLevel    string

	StoreDriver      string
	OrderMode        string
	StoreCallTimeout time.Duration

	DatabaseUser     string
	DatabasePassword string
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string

	MongoURI      string
	MongoDatabase string

	RedisAddr      string
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration

	// IdempotencyPendingTTL bounds how long an unfinished claim blocks retries.
	IdempotencyPendingTTL time.Duration

	KafkaBrokers     string
	KafkaOrdersTopic string

	RequirePhoneNumber bool
	ImagesDir          string

	OtelEnabled  bool
	OtlpEndpoint string
}

// LoadConfig reads and validates the configuration.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "3000"),
		ServiceName: getEnv("SERVICE_NAME", "webstore"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		OrderMode:   strings.ToLower(getEnv("ORDER_MODE", OrderModeSaga)),

		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseName:     getEnv("DATABASE_NAME", "webstore"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "Webstore"),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaOrdersTopic: getEnv("KAFKA_ORDERS_TOPIC", "orders.placed"),

		ImagesDir:    getEnv("IMAGES_DIR", "./images"),
		OtlpEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	var err error
	if cfg.StoreCallTimeout, err = getDuration("STORE_CALL_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyPendingTTL, err = getDuration("IDEMPOTENCY_PENDING_TTL", defaultPendingTTL(cfg.StoreCallTimeout)); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyPendingTTL <= 0 {
		return cfg, fmt.Errorf("IDEMPOTENCY_PENDING_TTL must be positive")
	}
	if cfg.RequirePhoneNumber, err = getBool("REQUIRE_PHONE_NUMBER", false); err != nil {
		return cfg, err
	}
	if cfg.OtelEnabled, err = getBool("OTEL_ENABLED", true); err != nil {
		return cfg, err
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return cfg, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.OrderMode {
	case OrderModeSaga:
	case OrderModeTransaction:
		if cfg.StoreDriver == StoreDriverMemory {
			return cfg, fmt.Errorf("ORDER_MODE=transaction is not supported by the memory store")
		}
	default:
		return cfg, fmt.Errorf("unknown ORDER_MODE %q", cfg.OrderMode)
	}

	return cfg, nil
}

// defaultPendingTTL leaves room for a placement that walks a long order
// through several store calls before the claim is considered abandoned.
func defaultPendingTTL(callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 {
		return 30 * time.Second
	}
	return 15 * callTimeout
}

// PostgresDSN builds the pgx connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=25&pool_min_conns=5",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

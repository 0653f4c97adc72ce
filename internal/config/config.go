package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Webhook verification modes
const (
	VerifyModeEnforce = "enforce"
	VerifyModeSkip    = "skip"
)

// Realtime relay backends
const (
	RelayNone = "none"
	RelayAMQP = "amqp"
	RelayNATS = "nats"
)

// Gateway modes
const (
	GatewayModeTelnyx    = "telnyx"
	GatewayModeSimulated = "simulated"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Webhook   WebhookConfig
	Realtime  RealtimeConfig
	RabbitMQ  RabbitMQConfig
	NATS      NATSConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Env       string
	LogLevel  string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxOpen  int
	MaxIdle  int
}

// GatewayConfig is the messaging provider account used for every send.
// It is built once at start-up and injected into the dispatcher.
type GatewayConfig struct {
	Mode               string
	BaseURL            string
	APIKey             string
	FromNumber         string
	MessagingProfileID string
	Timeout            time.Duration
	DefaultCountryCode string
	SimulatedSuccess   float64
	BulkDelay          time.Duration
}

// WebhookConfig controls inbound callback authentication
type WebhookConfig struct {
	PublicKey  string
	VerifyMode string
	Tolerance  time.Duration
	LedgerTTL  time.Duration
}

// RealtimeConfig controls the fan-out bus and its cross-process relay
type RealtimeConfig struct {
	Relay             string
	SubscriberBuffer  int
	HeartbeatInterval time.Duration
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Exchange string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Subject string
}

// RedisConfig holds the webhook delivery ledger connection. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds bearer-token verification settings
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig bounds send requests per client
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// WorkerConfig controls the pending-status sweeper
type WorkerConfig struct {
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
}

const developmentJWTSecret = "development-secret-change-me"

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "smsinbox"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "smsinbox"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpen:  getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdle:  getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Gateway: GatewayConfig{
			Mode:               getEnv("GATEWAY_MODE", GatewayModeTelnyx),
			BaseURL:            getEnv("TELNYX_BASE_URL", "https://api.telnyx.com/v2"),
			APIKey:             getEnv("TELNYX_API_KEY", ""),
			FromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
			MessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
			Timeout:            getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
			DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "1"),
			SimulatedSuccess:   getEnvAsFloat("GATEWAY_SIMULATED_SUCCESS_RATE", 0.95),
			BulkDelay:          getEnvAsDuration("BULK_SEND_DELAY", time.Second),
		},
		Webhook: WebhookConfig{
			PublicKey:  getEnv("TELNYX_PUBLIC_KEY", ""),
			VerifyMode: getEnv("WEBHOOK_VERIFY_MODE", VerifyModeEnforce),
			Tolerance:  getEnvAsDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			LedgerTTL:  getEnvAsDuration("WEBHOOK_LEDGER_TTL", 24*time.Hour),
		},
		Realtime: RealtimeConfig{
			Relay:             getEnv("REALTIME_RELAY", RelayNone),
			SubscriberBuffer:  getEnvAsInt("REALTIME_SUBSCRIBER_BUFFER", 64),
			HeartbeatInterval: getEnvAsDuration("SSE_HEARTBEAT_INTERVAL", 15*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			Exchange: getEnv("RABBITMQ_EVENTS_EXCHANGE", "smsinbox.events"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Subject: getEnv("NATS_EVENTS_SUBJECT", "smsinbox.events"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Worker: WorkerConfig{
			Schedule:   getEnv("WORKER_SCHEDULE", "@every 1m"),
			StaleAfter: getEnvAsDuration("WORKER_STALE_AFTER", 5*time.Minute),
			BatchSize:  getEnvAsInt("WORKER_BATCH_SIZE", 100),
		},
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if config.IsDevelopment() && config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = developmentJWTSecret
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks required fields and the production-only rules
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}

	switch c.Webhook.VerifyMode {
	case VerifyModeEnforce:
		if c.Webhook.PublicKey == "" {
			return fmt.Errorf("TELNYX_PUBLIC_KEY is required when WEBHOOK_VERIFY_MODE=%s", VerifyModeEnforce)
		}
	case VerifyModeSkip:
		if !c.IsDevelopment() {
			return fmt.Errorf("WEBHOOK_VERIFY_MODE=%s is only allowed when ENV=development", VerifyModeSkip)
		}
	default:
		return fmt.Errorf("unknown WEBHOOK_VERIFY_MODE %q", c.Webhook.VerifyMode)
	}

	switch c.Gateway.Mode {
	case GatewayModeTelnyx:
		if c.Gateway.APIKey == "" {
			return fmt.Errorf("TELNYX_API_KEY is required when GATEWAY_MODE=%s", GatewayModeTelnyx)
		}
		if c.Gateway.FromNumber == "" {
			return fmt.Errorf("TELNYX_FROM_NUMBER is required")
		}
	case GatewayModeSimulated:
		if !c.IsDevelopment() {
			return fmt.Errorf("GATEWAY_MODE=%s is only allowed when ENV=development", GatewayModeSimulated)
		}
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", c.Gateway.Mode)
	}

	switch c.Realtime.Relay {
	case RelayNone, RelayAMQP, RelayNATS:
	default:
		return fmt.Errorf("unknown REALTIME_RELAY %q", c.Realtime.Relay)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	return nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SkipsSignatureCheck reports whether inbound callbacks are accepted unverified
func (c *Config) SkipsSignatureCheck() bool {
	return c.Webhook.VerifyMode == VerifyModeSkip
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

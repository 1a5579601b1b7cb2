package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Services ServicesConfig
	Auth     AuthConfig
	Delivery DeliveryConfig
	Kafka    KafkaConfig
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Enabled turns off the summary cache and attempt limiter when false.
	Enabled bool
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ServicesConfig struct {
	OrderService ServiceConfig
}

type ServiceConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (c ServiceConfig) Target() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type DeliveryConfig struct {
	CredentialTTL       time.Duration
	SummaryCacheTTL     time.Duration
	SecretAttemptLimit  int
	SecretAttemptWindow time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

var defaults = map[string]any{
	"HTTP_ADDR":             ":8081",
	"GRPC_ADDR":             ":50052",
	"LOG_LEVEL":             "info",
	"STORE_DRIVER":          "postgres",
	"DB_HOST":               "localhost",
	"DB_PORT":               5432,
	"DB_USER":               "postgres",
	"DB_PASSWORD":           "postgres",
	"DB_NAME":               "delivery_db",
	"DB_SSLMODE":            "disable",
	"DB_MAX_CONNS":          20,
	"REDIS_ENABLED":         true,
	"REDIS_HOST":            "localhost",
	"REDIS_PORT":            6379,
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"ORDER_SERVICE_HOST":    "localhost",
	"ORDER_SERVICE_PORT":    50051,
	"ORDER_SERVICE_TIMEOUT": "3s",
	"JWT_SECRET":            "",
	"JWT_ISSUER":            "",
	"CREDENTIAL_TTL":        "24h",
	"SUMMARY_CACHE_TTL":     "5m",
	"SECRET_ATTEMPT_LIMIT":  0,
	"SECRET_ATTEMPT_WINDOW": "15m",
	"KAFKA_BROKERS":         "",
	"KAFKA_TOPIC":           "delivery.events",
}

// Load resolves configuration from defaults, an optional YAML file and the environment,
// in that order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr: v.GetString("HTTP_ADDR"),
		GRPCAddr: v.GetString("GRPC_ADDR"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Services: ServicesConfig{
			OrderService: ServiceConfig{
				Host:    v.GetString("ORDER_SERVICE_HOST"),
				Port:    v.GetInt("ORDER_SERVICE_PORT"),
				Timeout: v.GetDuration("ORDER_SERVICE_TIMEOUT"),
			},
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},
		Delivery: DeliveryConfig{
			CredentialTTL:       v.GetDuration("CREDENTIAL_TTL"),
			SummaryCacheTTL:     v.GetDuration("SUMMARY_CACHE_TTL"),
			SecretAttemptLimit:  v.GetInt("SECRET_ATTEMPT_LIMIT"),
			SecretAttemptWindow: v.GetDuration("SECRET_ATTEMPT_WINDOW"),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Delivery.CredentialTTL <= 0 {
		return errors.New("CREDENTIAL_TTL must be positive")
	}
	if c.Delivery.SecretAttemptLimit < 0 {
		return errors.New("SECRET_ATTEMPT_LIMIT must not be negative")
	}
	if c.Delivery.SecretAttemptLimit > 0 && c.Delivery.SecretAttemptWindow <= 0 {
		return errors.New("SECRET_ATTEMPT_WINDOW must be positive when the limiter is enabled")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

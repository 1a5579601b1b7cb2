package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("expected default http addr :8081, got %q", cfg.HTTPAddr)
	}
	if cfg.Delivery.CredentialTTL != 24*time.Hour {
		t.Errorf("expected 24h credential ttl, got %s", cfg.Delivery.CredentialTTL)
	}
	if cfg.Delivery.SecretAttemptLimit != 0 {
		t.Errorf("expected attempt limiter disabled by default, got %d", cfg.Delivery.SecretAttemptLimit)
	}
	if cfg.Services.OrderService.Target() != "localhost:50051" {
		t.Errorf("unexpected order service target %q", cfg.Services.OrderService.Target())
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "http_addr: \":9000\"\ncredential_ttl: 2h\ndb_host: db.internal\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREDENTIAL_TTL", "30m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("expected file http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("expected file db host, got %q", cfg.Database.Host)
	}
	if cfg.Delivery.CredentialTTL != 30*time.Minute {
		t.Errorf("expected env ttl to win, got %s", cfg.Delivery.CredentialTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store:    StoreConfig{Driver: "memory"},
			Auth:     AuthConfig{JWTSecret: "s3cret"},
			Delivery: DeliveryConfig{CredentialTTL: time.Hour},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Delivery.CredentialTTL = 0 }, wantErr: true},
		{name: "limiter without window", mutate: func(c *Config) { c.Delivery.SecretAttemptLimit = 3 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h port=1 user=u password=p dbname=d sslmode=disable"
	if got := c.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

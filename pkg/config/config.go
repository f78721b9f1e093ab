// Package config provides the layered configuration loader used by
// cmd/modestd: environment variables and an optional YAML file, decoded onto
// typed structs with sane defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the demo HTTP servicer in cmd/modestd.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Connection/Statement pool (infrastructure/dbconn).
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	URL             string `json:"url" yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls pkg/logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// PoolConfig controls system/modest's ThreadPool.
type PoolConfig struct {
	Size          int `json:"size" yaml:"size" env:"POOL_SIZE"`
	IdleExpireMs  int `json:"idle_expire_ms" yaml:"idle_expire_ms" env:"POOL_IDLE_EXPIRE_MS"`
	ThreadStackKB int `json:"thread_stack_kb" yaml:"thread_stack_kb" env:"POOL_THREAD_STACK_KB"`
}

// TLSConfig controls pkg/tlssocket.
type TLSConfig struct {
	CertFile        string   `json:"cert_file" yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile         string   `json:"key_file" yaml:"key_file" env:"TLS_KEY_FILE"`
	VerifyCommonNames []string `json:"verify_common_names" yaml:"verify_common_names"`
	VirtualHost     string   `json:"virtual_host" yaml:"virtual_host" env:"TLS_VIRTUAL_HOST"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Pool     PoolConfig     `json:"pool" yaml:"pool"`
	TLS      TLSConfig      `json:"tls" yaml:"tls"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "modest",
		},
		Pool: PoolConfig{
			Size:          8,
			IdleExpireMs:  30_000,
			ThreadStackKB: 0,
		},
	}
}

// ConnMaxLifetimeDuration returns ConnMaxLifetime as a time.Duration (seconds).
func (c DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// Load loads configuration from an optional file plus environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, applying defaults first.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Snapshot returns the current configuration state as a plain map, the small
// getter the configuration-manager collaborator contract (spec §6) expects
// the rest of the core to consume it through.
func (c *Config) Snapshot() map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"server.host":    c.Server.Host,
		"server.port":    c.Server.Port,
		"database.driver": c.Database.Driver,
		"database.url":   c.Database.URL,
		"logging.level":  c.Logging.Level,
		"pool.size":      c.Pool.Size,
		"pool.idle_expire_ms": c.Pool.IdleExpireMs,
		"tls.virtual_host": c.TLS.VirtualHost,
	}
}

// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Ingest        IngestConfig
	Sweep         SweepConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	AllowedOrigins     []string
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxUploadBytes     int64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type IngestConfig struct {
	PluginDir    string
	Strict       bool
	EpsilonCents int64
	Workers      int
}

type SweepConfig struct {
	InboxDir        string
	ArchiveDir      string
	HardFail        bool
	Schedule        string
	RefreshSchedule string
	// NotifyURL receives a JSON summary of sweeps that rejected a file.
	NotifyURL string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

// Load reads configuration from environment variables. Variables from a
// .env file in the working directory are applied first when it exists;
// the process environment wins over them.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:     getEnvAsList("SERVER_ALLOWED_ORIGINS", nil),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_BYTES", 64<<20)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "ledger"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Ingest: IngestConfig{
			PluginDir:    getEnv("PLUGIN_DIR", "./plugins"),
			Strict:       getEnvAsBool("INGEST_STRICT", false),
			EpsilonCents: int64(getEnvAsInt("INGEST_EPSILON_CENTS", 1)),
			Workers:      getEnvAsInt("INGEST_WORKERS", 0),
		},
		Sweep: SweepConfig{
			InboxDir:        getEnv("INBOX_DIR", "./inbox"),
			ArchiveDir:      getEnv("ARCHIVE_DIR", "./archive"),
			HardFail:        getEnvAsBool("SWEEP_HARD_FAIL", false),
			Schedule:        getEnv("SWEEP_SCHEDULE", ""),
			RefreshSchedule: getEnv("REFRESH_SCHEDULE", "*/15 * * * *"),
			NotifyURL:       getEnv("SWEEP_NOTIFY_URL", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.EpsilonCents < 0 {
		errs = append(errs, errors.New("INGEST_EPSILON_CENTS must not be negative"))
	}
	if c.Ingest.Workers < 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.Server.Port))
	}
	if c.Sweep.InboxDir != "" && c.Sweep.InboxDir == c.Sweep.ArchiveDir {
		errs = append(errs, errors.New("INBOX_DIR and ARCHIVE_DIR must differ"))
	}
	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mimir/internal/loader"
)

// Config holds the configuration for the HTTP API, the PG-wire listener and
// the semantic layer engine.
type Config struct {
	ConfigPath   string // definitions location: directory or s3://, gs://, az:// URI (default "configs")
	SecretsPath  string // connection descriptor location (default "secrets"); "" disables secrets
	ListenAddr   string // HTTP listen address (default ":8090")
	PGListen     string // PG-wire listen address (default ":5432"); "off" disables the listener
	FlightListen string // Arrow Flight SQL listen address (default "off")
	LogLevel     string // log level: debug, info, warn, error (default "info")

	MaxConcurrency int           // concurrent source queries per inquiry (default 8)
	QueryTimeout   time.Duration // per-inquiry deadline (default 5m); 0 disables
	ReloadSchedule string        // cron spec for periodic reload; empty disables
	ConnectionHost string        // overrides host in every connection descriptor

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	PGRequirePassword bool // ask PG clients for a cleartext password (not checked)

	// Object store credentials, optional. The S3 names match the ones used
	// for DuckDB's httpfs secrets.
	S3KeyID          string
	S3Secret         string
	S3Endpoint       string
	S3Region         string
	S3URLStyle       string
	GCSKeyFile       string
	AzureAccountName string
	AzureAccountKey  string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PGEnabled reports whether the PG-wire listener should start.
func (c *Config) PGEnabled() bool {
	return c.PGListen != "" && !strings.EqualFold(c.PGListen, "off")
}

// FlightEnabled reports whether the Flight SQL listener should start.
func (c *Config) FlightEnabled() bool {
	return c.FlightListen != "" && !strings.EqualFold(c.FlightListen, "off")
}

// StoreOptions returns the object store credentials for the loader.
func (c *Config) StoreOptions() loader.StoreOptions {
	return loader.StoreOptions{
		S3KeyID:          c.S3KeyID,
		S3Secret:         c.S3Secret,
		S3Endpoint:       c.S3Endpoint,
		S3Region:         c.S3Region,
		S3URLStyle:       c.S3URLStyle,
		GCSKeyFile:       c.GCSKeyFile,
		AzureAccountName: c.AzureAccountName,
		AzureAccountKey:  c.AzureAccountKey,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Malformed numeric values fall back to their defaults with a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ConfigPath:        os.Getenv("MIMIR_CONFIG_PATH"),
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		PGListen:          os.Getenv("PG_LISTEN_ADDR"),
		FlightListen:      os.Getenv("FLIGHT_SQL_LISTEN_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		ReloadSchedule:    strings.TrimSpace(os.Getenv("RELOAD_SCHEDULE")),
		ConnectionHost:    strings.TrimSpace(os.Getenv("CONNECTION_HOST")),
		PGRequirePassword: parseBoolEnvDefault("MIMIR_PG_REQUIRE_PASSWORD", false),
		S3KeyID:           os.Getenv("KEY_ID"),
		S3Secret:          os.Getenv("SECRET"),
		S3Endpoint:        os.Getenv("ENDPOINT"),
		S3Region:          os.Getenv("REGION"),
		S3URLStyle:        os.Getenv("URL_STYLE"),
		GCSKeyFile:        os.Getenv("GCS_KEY_FILE"),
		AzureAccountName:  os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:   os.Getenv("AZURE_ACCOUNT_KEY"),
	}

	// An explicitly empty MIMIR_SECRETS_PATH disables secrets.
	if v, ok := os.LookupEnv("MIMIR_SECRETS_PATH"); ok {
		cfg.SecretsPath = v
	} else {
		cfg.SecretsPath = "secrets"
	}

	cfg.MaxConcurrency = 8
	cfg.QueryTimeout = 5 * time.Minute
	if v := os.Getenv("MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrency = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid MAX_CONCURRENCY %q", v))
		}
	}
	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.QueryTimeout = d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid QUERY_TIMEOUT %q", v))
		}
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "configs"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.PGListen == "" {
		cfg.PGListen = ":5432"
	}
	if cfg.FlightListen == "" {
		cfg.FlightListen = "off"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ReloadSchedule); err != nil {
			return nil, fmt.Errorf("invalid RELOAD_SCHEDULE %q: %w", cfg.ReloadSchedule, err)
		}
	}
	if cfg.RateLimitRPS < 0 || cfg.RateLimitBurst < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if (cfg.S3KeyID == "") != (cfg.S3Secret == "") {
		cfg.Warnings = append(cfg.Warnings, "only one of KEY_ID and SECRET is set; S3 requests use the default credential chain")
	}
	if cfg.SecretsPath == "" {
		cfg.Warnings = append(cfg.Warnings, "MIMIR_SECRETS_PATH is empty; connections without provided handles cannot execute")
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

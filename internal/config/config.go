// Package config defines the configuration of the auction service and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIOND_* environment variables.
type Config struct {
	Runtime  RuntimeConfig  `toml:"runtime"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	NATS     NATSConfig     `toml:"nats"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Runtime backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Process modes.
const (
	ModeServer   = "server"
	ModeArchiver = "archiver"
	ModeFull     = "full"
)

// RuntimeConfig tunes the coordination engine.
type RuntimeConfig struct {
	// Backend selects where runtime state, leases and the schedule live.
	// "memory" is single-instance only.
	Backend string `toml:"backend"`

	LeaseTTL  duration `toml:"lease_ttl"`
	Tick      duration `toml:"tick"`
	// RecordTTL expires runtime records in Redis when positive. Zero, the
	// default, leaves eviction to finalization.
	RecordTTL duration `toml:"record_ttl"`

	AntiSnipeThreshold duration `toml:"anti_snipe_threshold"`
	AntiSnipeExtension duration `toml:"anti_snipe_extension"`

	// Per-user bid budget. Zero disables it.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NATSConfig holds the bid journal connection. An empty URL disables the
// journal stream; bids are then written to Postgres directly.
type NATSConfig struct {
	URL    string   `toml:"url"`
	MaxAge duration `toml:"max_age"`
}

// Enabled reports whether the JetStream journal is configured.
func (n NATSConfig) Enabled() bool {
	return strings.TrimSpace(n.URL) != ""
}

// S3Config holds S3-compatible object storage parameters for the result
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveBids    bool   `toml:"archive_bids"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// AuthConfig holds the shared secret used to verify identity tokens.
type AuthConfig struct {
	TokenSecret string `toml:"token_secret"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values. Runtime
// records carry no expiry; the finalizer evicts them. Bids take a 5s lease
// and snipes within 30s of the deadline push it back by 30s.
func Defaults() Config {
	return Config{
		Runtime: RuntimeConfig{
			Backend:            BackendRedis,
			LeaseTTL:           duration{5 * time.Second},
			Tick:               duration{time.Second},
			AntiSnipeThreshold: duration{30 * time.Second},
			AntiSnipeExtension: duration{30 * time.Second},
			BidRateLimit:       10,
			BidRateWindow:      duration{time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctions",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		NATS: NATSConfig{
			MaxAge: duration{72 * time.Hour},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "auction-results",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       100,
			RateLimitWindow: duration{time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServer:   true,
	ModeArchiver: true,
	ModeFull:     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesTraffic reports whether the mode runs the engine and HTTP server.
func (c *Config) ServesTraffic() bool {
	return c.Mode == ModeServer || c.Mode == ModeFull
}

// Validate checks Config for obviously invalid or missing values and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archiver, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Runtime
	switch c.Runtime.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("runtime: unknown backend %q (valid: memory, redis)", c.Runtime.Backend))
	}
	if c.Runtime.LeaseTTL.Duration <= 0 {
		errs = append(errs, "runtime: lease_ttl must be > 0")
	}
	if c.Runtime.Tick.Duration <= 0 {
		errs = append(errs, "runtime: tick must be > 0")
	}
	if c.Runtime.AntiSnipeThreshold.Duration < 0 || c.Runtime.AntiSnipeExtension.Duration < 0 {
		errs = append(errs, "runtime: anti-snipe threshold and extension must be >= 0")
	}
	if c.Runtime.BidRateLimit < 0 {
		errs = append(errs, "runtime: bid_rate_limit must be >= 0")
	}
	if c.Runtime.BidRateLimit > 0 && c.Runtime.BidRateWindow.Duration <= 0 {
		errs = append(errs, "runtime: bid_rate_window must be > 0 when bid_rate_limit is set")
	}

	// Postgres is the durable collaborator for every mode.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Runtime.Backend == BackendRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// NATS
	if c.Mode == ModeArchiver && !c.NATS.Enabled() {
		errs = append(errs, "nats: url is required for mode archiver")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server and auth apply only when the engine serves traffic.
	if c.ServesTraffic() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Auth.TokenSecret) < 16 {
			errs = append(errs, "auth: token_secret must be at least 16 characters")
		}
	}

	// Notify: Telegram needs both token and chat id.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package config loads the service configuration from the environment.
//
// SOURCES, IN ORDER OF PRECEDENCE:
//  1. real environment variables
//  2. a .env file in the working directory (local development only)
//  3. the defaults registered below
//
// godotenv copies .env into the process environment without overwriting
// variables that are already set; viper then reads everything through
// AutomaticEnv and decodes it into Config. Durations accept Go syntax
// ("5s", "1m30s").
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/snippet-manager/internal/queue"
)

// Backends.
const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "pgx"

	ContentAsset = "asset"
	ContentS3    = "s3"

	QueueRedis  = "redis"
	QueueMemory = "memory"
)

type Config struct {
	Port      int    `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// --- Database ---
	DBDriver string `mapstructure:"DB_DRIVER"`
	DBDSN    string `mapstructure:"DB_DSN"`

	// --- Auth ---
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	AuthServerURI    string `mapstructure:"AUTH_SERVER_URI"`
	AuthClientID     string `mapstructure:"AUTH_CLIENT_ID"`
	AuthClientSecret string `mapstructure:"AUTH_CLIENT_SECRET"`
	AuthAudience     string `mapstructure:"AUTH_AUDIENCE"`

	// --- Content store ---
	ContentBackend string        `mapstructure:"CONTENT_BACKEND"`
	BucketURL      string        `mapstructure:"BUCKET_URL"`
	ContentTimeout time.Duration `mapstructure:"CONTENT_TIMEOUT"`
	S3Endpoint     string        `mapstructure:"S3_ENDPOINT"`
	S3Region       string        `mapstructure:"S3_REGION"`
	S3Bucket       string        `mapstructure:"S3_BUCKET"`
	S3AccessKey    string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string        `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL       bool          `mapstructure:"S3_USE_SSL"`

	// --- Queues ---
	QueueBackend          string        `mapstructure:"QUEUE_BACKEND"`
	RedisAddr             string        `mapstructure:"REDIS_ADDR"`
	RedisPassword         string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int           `mapstructure:"REDIS_DB"`
	QueueSCA              string        `mapstructure:"QUEUE_SCA"`
	QueueFormat           string        `mapstructure:"QUEUE_FORMAT"`
	QueueSCASingle        string        `mapstructure:"QUEUE_SCA_SINGLE"`
	QueueStatus           string        `mapstructure:"QUEUE_STATUS"`
	ReconcilerPollTimeout time.Duration `mapstructure:"RECONCILER_POLL_TIMEOUT"`
	ReconcilerBatch       int           `mapstructure:"RECONCILER_BATCH"`
}

var defaults = map[string]any{
	"PORT":                    8080,
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"DB_DRIVER":               DBDriverSQLite,
	"DB_DSN":                  "data/snippets.db",
	"JWT_SECRET":              "",
	"JWT_ISSUER":              "",
	"AUTH_SERVER_URI":         "",
	"AUTH_CLIENT_ID":          "",
	"AUTH_CLIENT_SECRET":      "",
	"AUTH_AUDIENCE":           "",
	"CONTENT_BACKEND":         ContentAsset,
	"BUCKET_URL":              "",
	"CONTENT_TIMEOUT":         "10s",
	"S3_ENDPOINT":             "",
	"S3_REGION":               "us-east-1",
	"S3_BUCKET":               "snippets",
	"S3_ACCESS_KEY":           "",
	"S3_SECRET_KEY":           "",
	"S3_USE_SSL":              false,
	"QUEUE_BACKEND":           QueueRedis,
	"REDIS_ADDR":              "localhost:6379",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"QUEUE_SCA":               queue.DefaultSCAQueue,
	"QUEUE_FORMAT":            queue.DefaultFormatQueue,
	"QUEUE_SCA_SINGLE":        queue.DefaultSCASingleQueue,
	"QUEUE_STATUS":            queue.DefaultStatusQueue,
	"RECONCILER_POLL_TIMEOUT": "5s",
	"RECONCILER_BATCH":        1,
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: loading .env: %w", err)
		}
	}

	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once rather than the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		add("LOG_LEVEL: %v", err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		add("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	switch c.DBDriver {
	case DBDriverSQLite, DBDriverPostgres:
	default:
		add("DB_DRIVER must be %q or %q, got %q", DBDriverSQLite, DBDriverPostgres, c.DBDriver)
	}
	if c.DBDSN == "" {
		add("DB_DSN is required")
	}

	if c.JWTSecret == "" {
		add("JWT_SECRET is required")
	}

	switch c.ContentBackend {
	case ContentAsset:
		if c.BucketURL == "" {
			add("BUCKET_URL is required when CONTENT_BACKEND=%s", ContentAsset)
		}
	case ContentS3:
		if c.S3Endpoint == "" {
			add("S3_ENDPOINT is required when CONTENT_BACKEND=%s", ContentS3)
		}
		if c.S3Bucket == "" {
			add("S3_BUCKET is required when CONTENT_BACKEND=%s", ContentS3)
		}
	default:
		add("CONTENT_BACKEND must be %q or %q, got %q", ContentAsset, ContentS3, c.ContentBackend)
	}
	if c.ContentTimeout <= 0 {
		add("CONTENT_TIMEOUT must be positive")
	}

	switch c.QueueBackend {
	case QueueRedis:
		if c.RedisAddr == "" {
			add("REDIS_ADDR is required when QUEUE_BACKEND=%s", QueueRedis)
		}
	case QueueMemory:
	default:
		add("QUEUE_BACKEND must be %q or %q, got %q", QueueRedis, QueueMemory, c.QueueBackend)
	}
	if c.ReconcilerPollTimeout <= 0 {
		add("RECONCILER_POLL_TIMEOUT must be positive")
	}
	if c.ReconcilerBatch < 1 {
		add("RECONCILER_BATCH must be at least 1")
	}

	if c.AuthServerURI != "" && (c.AuthClientID == "" || c.AuthClientSecret == "") {
		add("AUTH_CLIENT_ID and AUTH_CLIENT_SECRET are required with AUTH_SERVER_URI")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses LOG_LEVEL (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// DirectoryEnabled reports whether the user directory can be queried.
func (c *Config) DirectoryEnabled() bool {
	return c.AuthServerURI != ""
}

// String prints the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	line := func(name string, value any) {
		fmt.Fprintf(&sb, "  %s: %v\n", name, value)
	}

	sb.WriteString("\n")
	line("Port", c.Port)
	line("LogLevel", c.LogLevel)
	line("LogFormat", c.LogFormat)
	line("DBDriver", c.DBDriver)
	line("DBDSN", maskDSN(c.DBDSN))
	line("JWTSecret", mask(c.JWTSecret))
	line("JWTIssuer", c.JWTIssuer)
	line("AuthServerURI", c.AuthServerURI)
	line("AuthClientID", c.AuthClientID)
	line("AuthClientSecret", mask(c.AuthClientSecret))
	line("ContentBackend", c.ContentBackend)
	line("BucketURL", c.BucketURL)
	line("ContentTimeout", c.ContentTimeout)
	line("S3Endpoint", c.S3Endpoint)
	line("S3Bucket", c.S3Bucket)
	line("S3AccessKey", mask(c.S3AccessKey))
	line("S3SecretKey", mask(c.S3SecretKey))
	line("QueueBackend", c.QueueBackend)
	line("RedisAddr", c.RedisAddr)
	line("RedisPassword", mask(c.RedisPassword))
	line("Queues", strings.Join([]string{c.QueueSCA, c.QueueFormat, c.QueueSCASingle, c.QueueStatus}, ","))
	line("ReconcilerPollTimeout", c.ReconcilerPollTimeout)
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}

// maskDSN hides the password of a URL-style DSN (postgres://user:pw@host).
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":********" + dsn[at:]
	}
	return dsn
}

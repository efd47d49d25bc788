// Package config resolves runtime settings. Precedence, lowest first:
// built-in defaults, a .env file, the process environment, command-line flags.
package config

import (
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	Addr              string
	BaseURL           string
	DatabaseURL       string
	DataPath          string
	AdminPassword     string
	AdminPasswordHash string
	SessionSecret     string
	SessionTTL        time.Duration
	MaxBytes          int
	PageSize          int
	BehindProxy       bool
	LogLevel          string
	LogFormat         string
	RedisURL          string
	CacheSize         int
	StatsInterval     time.Duration
}

var defaults = map[string]any{
	"ADDR":                ":8080",
	"BASE_URL":            "",
	"DATABASE_URL":        "",
	"DATA_PATH":           "./tinypaste.db",
	"ADMIN_PASSWORD":      "",
	"ADMIN_PASSWORD_HASH": "",
	"SESSION_SECRET":      "",
	"SESSION_TTL":         12 * time.Hour,
	"MAX_BYTES":           1_048_576,
	"PAGE_SIZE":           20,
	"BEHIND_PROXY":        false,
	"LOG_LEVEL":           "info",
	"LOG_FORMAT":          "json",
	"REDIS_URL":           "",
	"CACHE_SIZE":          512,
	"STATS_INTERVAL":      time.Minute,
}

// Load reads the .env file named by envFile (skipped when missing), the
// environment, and then args as command-line flags.
func Load(envFile string, args []string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Addr:              v.GetString("ADDR"),
		BaseURL:           v.GetString("BASE_URL"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DataPath:          v.GetString("DATA_PATH"),
		AdminPassword:     v.GetString("ADMIN_PASSWORD"),
		AdminPasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
		SessionSecret:     v.GetString("SESSION_SECRET"),
		SessionTTL:        v.GetDuration("SESSION_TTL"),
		MaxBytes:          v.GetInt("MAX_BYTES"),
		PageSize:          v.GetInt("PAGE_SIZE"),
		BehindProxy:       v.GetBool("BEHIND_PROXY"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		RedisURL:          v.GetString("REDIS_URL"),
		CacheSize:         v.GetInt("CACHE_SIZE"),
		StatsInterval:     v.GetDuration("STATS_INTERVAL"),
	}

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	cfg.DatabaseURL = normalizeDatabaseURL(cfg.DatabaseURL)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseFlags applies only the flags present in args, so unset flags never
// mask environment values.
func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("tinypaste", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var f Config
	fs.StringVar(&f.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&f.DataPath, "data", c.DataPath, "path to the bbolt data file")
	fs.StringVar(&f.DatabaseURL, "database-url", c.DatabaseURL, "postgres://, libsql:// or sqlite: DSN; overrides -data")
	fs.StringVar(&f.BaseURL, "base-url", c.BaseURL, "canonical base URL (optional)")
	fs.IntVar(&f.MaxBytes, "max-bytes", c.MaxBytes, "maximum paste size in bytes")
	fs.IntVar(&f.PageSize, "page-size", c.PageSize, "admin list page size")
	fs.BoolVar(&f.BehindProxy, "behind-proxy", c.BehindProxy, "trust proxy headers for client IP and scheme")
	fs.StringVar(&f.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&f.RedisURL, "redis-url", c.RedisURL, "redis:// URL for the shared cache (optional)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parse flags")
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			c.Addr = f.Addr
		case "data":
			c.DataPath = f.DataPath
		case "database-url":
			c.DatabaseURL = f.DatabaseURL
		case "base-url":
			c.BaseURL = f.BaseURL
		case "max-bytes":
			c.MaxBytes = f.MaxBytes
		case "page-size":
			c.PageSize = f.PageSize
		case "behind-proxy":
			c.BehindProxy = f.BehindProxy
		case "log-level":
			c.LogLevel = f.LogLevel
		case "redis-url":
			c.RedisURL = f.RedisURL
		}
	})
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH must be set")
	}
	if c.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.DatabaseURL == "" && c.DataPath == "" {
		return errors.New("DATA_PATH or DATABASE_URL must be set")
	}
	if c.MaxBytes <= 0 {
		return errors.New("max-bytes must be positive")
	}
	if c.PageSize <= 0 {
		return errors.New("page-size must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("CACHE_SIZE must not be negative")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// normalizeDatabaseURL rewrites the legacy postgres:// scheme, as issued by
// many hosting providers, to postgresql://.
func normalizeDatabaseURL(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(dsn, "postgres://")
	}
	return dsn
}

// Package config loads the server configuration from flags, environment
// variables and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Supported message stores.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Supported message caches.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config stores all the configuration of the application.
type Config struct {
	Host string
	Port int

	// DatabaseURL, when set, is used verbatim and the connection requires
	// TLS without certificate verification.
	DatabaseURL      string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUsername string
	DatabasePassword string
	DatabaseName     string

	Store          string
	SQLitePath     string
	MemoryCapacity int

	// Cache is resolved at load time. An unset value picks redis when
	// RedisAddress is set and none otherwise.
	Cache        string
	RedisAddress string
	CacheSize    int
	CacheTTL     time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// A setting binds one flag to one environment variable.
type setting struct {
	key   string // viper key; the env var is its upper-case form
	flag  string
	def   any
	usage string
}

var settings = []setting{
	{"host", "host", "0.0.0.0", "HTTP listen host"},
	{"port", "port", 8080, "HTTP listen port"},
	{"database_url", "database-url", "", "Postgres connection URL; overrides the other database settings"},
	{"database_host", "database-host", "localhost", "Postgres host"},
	{"database_port", "database-port", 5432, "Postgres port"},
	{"database_username", "database-username", "vapor", "Postgres user"},
	{"database_password", "database-password", "vapor", "Postgres password"},
	{"database_name", "database-name", "vapor", "Postgres database"},
	{"store", "store", StorePostgres, "message store: postgres, sqlite or memory"},
	{"sqlite_path", "sqlite-path", "messages.db", "SQLite database file"},
	{"memory_capacity", "memory-capacity", 0, "messages kept by the memory store; 0 is unbounded, 1 keeps only the latest"},
	{"cache", "cache", "", "message cache: none, memory or redis; unset picks redis when an address is given"},
	{"redis_address", "redis-address", "", "Redis endpoint"},
	{"cache_size", "cache-size", 10, "messages kept in the cache"},
	{"cache_ttl", "cache-ttl", time.Hour, "lifetime of cache entries and deletion markers"},
	{"log_level", "log-level", "info", "log level: debug, info, warn or error"},
	{"log_format", "log-format", "text", "log format: text or json"},
}

// Load parses args, reads the environment and, if present, envFile. An
// empty envFile skips the file.
func Load(args []string, envFile string) (*Config, error) {
	fs := pflag.NewFlagSet("message-api", pflag.ContinueOnError)
	for _, s := range settings {
		switch def := s.def.(type) {
		case string:
			fs.String(s.flag, def, s.usage)
		case int:
			fs.Int(s.flag, def, s.usage)
		case time.Duration:
			fs.Duration(s.flag, def, s.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	for _, s := range settings {
		if err := v.BindPFlag(s.key, fs.Lookup(s.flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", s.flag, err)
		}
	}
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	c := &Config{
		Host:             v.GetString("host"),
		Port:             v.GetInt("port"),
		DatabaseURL:      v.GetString("database_url"),
		DatabaseHost:     v.GetString("database_host"),
		DatabasePort:     v.GetInt("database_port"),
		DatabaseUsername: v.GetString("database_username"),
		DatabasePassword: v.GetString("database_password"),
		DatabaseName:     v.GetString("database_name"),
		Store:            strings.ToLower(v.GetString("store")),
		SQLitePath:       v.GetString("sqlite_path"),
		MemoryCapacity:   v.GetInt("memory_capacity"),
		Cache:            strings.ToLower(v.GetString("cache")),
		RedisAddress:     v.GetString("redis_address"),
		CacheSize:        v.GetInt("cache_size"),
		CacheTTL:         v.GetDuration("cache_ttl"),
		LogFormat:        strings.ToLower(v.GetString("log_format")),
	}
	if err := c.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if c.Cache == "" {
		c.Cache = CacheNone
		if c.RedisAddress != "" {
			c.Cache = CacheRedis
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL != "" {
			if err := checkDatabaseURL(c.DatabaseURL); err != nil {
				errs = append(errs, err)
			}
		} else if c.DatabasePort < 1 || c.DatabasePort > 65535 {
			errs = append(errs, fmt.Errorf("database port %d out of range", c.DatabasePort))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path is empty"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("memory capacity %d is negative", c.MemoryCapacity))
	}
	switch c.Cache {
	case CacheNone:
	case CacheMemory, CacheRedis:
		if c.Cache == CacheRedis && c.RedisAddress == "" {
			errs = append(errs, errors.New("redis cache needs a redis address"))
		}
		if c.CacheSize < 1 {
			errs = append(errs, fmt.Errorf("cache size %d must be at least 1", c.CacheSize))
		}
		if c.CacheTTL < time.Second {
			errs = append(errs, fmt.Errorf("cache ttl %s is shorter than a second", c.CacheTTL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache %q", c.Cache))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// checkDatabaseURL rejects URLs the Postgres driver cannot parse.
func checkDatabaseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("database url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("database url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("database url: missing host")
	}
	switch mode := u.Query().Get("sslmode"); mode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("database url: unsupported sslmode %q", mode)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DatabaseUsername, c.DatabasePassword),
		Host:     net.JoinHostPort(c.DatabaseHost, strconv.Itoa(c.DatabasePort)),
		Path:     "/" + c.DatabaseName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// InsecureTLS reports whether the Postgres connection should use TLS
// without verifying the server certificate.
func (c *Config) InsecureTLS() bool {
	return c.DatabaseURL != ""
}

// Logger returns a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreSQLite StoreKind = "sqlite"
	StoreRedis  StoreKind = "redis"
)

type Config struct {
	Port           string
	LogLevel       slog.Level
	Store          StoreKind
	SQLitePath     string
	RedisURL       string
	StaticDir      string
	MDNS           bool
	RequestTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to parse env file: %w", err)
		}
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Port:       getenv("PORT", "8080"),
		Store:      StoreKind(getenv("STORE", string(StoreMemory))),
		SQLitePath: getenv("SQLITE_PATH", "canvas.sqlite3"),
		RedisURL:   getenv("REDIS_URL", "redis://localhost:6379/0"),
		StaticDir:  os.Getenv("STATIC_DIR"),
	}

	level, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	switch cfg.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}

	if v := os.Getenv("MDNS"); v != "" {
		if cfg.MDNS, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid MDNS: %w", err)
		}
	}

	cfg.RequestTimeout = 5 * time.Second
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if cfg.RequestTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		if cfg.RequestTimeout <= 0 {
			return Config{}, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", cfg.RequestTimeout)
		}
	}
	return cfg, nil
}

func (c Config) PortNumber() (int, error) {
	return strconv.Atoi(c.Port)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

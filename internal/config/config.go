package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"splat-notifyer/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	RemoteAPIURL string
	ServerPort   string
	LogLevel     string
	CacheTTL     time.Duration

	SessionStore  string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DisplayTZ  string
	PadHour    bool
	SlotFormat string

	DevAPIPort     string
	DBPath         string
	ProbeWebhooks  bool
	AllowedOrigins []string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		RemoteAPIURL:   getEnv("REMOTE_API_URL", ""),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SessionStore:   getEnv("SESSION_STORE", "memory"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		DisplayTZ:      getEnv("DISPLAY_TZ", "Local"),
		SlotFormat:     getEnv("SLOT_FORMAT", "range"),
		DevAPIPort:     getEnv("DEVAPI_PORT", "8090"),
		DBPath:         getEnv("DB_PATH", "splat-notifyer.db"),
		AllowedOrigins: []string{getEnv("ALLOWED_ORIGIN", "*")},
	}

	var err error
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", constants.ReferenceCacheTTL); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", constants.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.PadHour, err = getBool("PAD_HOUR", false); err != nil {
		return nil, err
	}
	if cfg.ProbeWebhooks, err = getBool("DEVAPI_PROBE_WEBHOOKS", false); err != nil {
		return nil, err
	}

	if cfg.SessionStore != "memory" && cfg.SessionStore != "redis" {
		return nil, fmt.Errorf("SESSION_STORE must be memory or redis, got %q", cfg.SessionStore)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("remote_api_url", cfg.RemoteAPIURL).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("session_store", cfg.SessionStore).
		Str("display_tz", cfg.DisplayTZ).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("configuration loaded")

	return cfg, nil
}

// Location resolves DISPLAY_TZ. "Local" means the host's zone.
func (c *Config) Location() (*time.Location, error) {
	if c.DisplayTZ == "" || c.DisplayTZ == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return nil, fmt.Errorf("failed to load DISPLAY_TZ %q: %w", c.DisplayTZ, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

var Module = fx.Provide(Load)

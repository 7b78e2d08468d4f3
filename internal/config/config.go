// Package config loads runtime settings from an optional .env file and
// LEARNSYNC_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath       string
	SyncInfoPath string
	BaseURL      string

	LogLevel  string
	LogFormat string

	MaxConcurrent  int
	MaxQueueSize   int
	PreloadDelay   time.Duration
	StrategiesFile string

	SettleDelay      time.Duration
	BehaviorDebounce time.Duration
	ProbeInterval    time.Duration
	InitiallyOnline  bool

	ReplayRPS      float64
	HintRPS        float64
	HintGrace      time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration

	ListenAddr string
	HostURL    string
}

// Load reads .env files (missing files are ignored) and then the environment.
// With no arguments it looks for ./.env.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load env file", "err", err)
	}

	dataDir := getEnv("LEARNSYNC_DATA_DIR", defaultDataDir())

	return Config{
		DBPath:       getEnv("LEARNSYNC_DB", filepath.Join(dataDir, "offline.db")),
		SyncInfoPath: getEnv("LEARNSYNC_SYNCINFO", filepath.Join(dataDir, "lastsync")),
		BaseURL:      getEnv("LEARNSYNC_BASE_URL", "http://localhost:8080"),

		LogLevel:  getEnv("LEARNSYNC_LOG_LEVEL", "info"),
		LogFormat: getEnv("LEARNSYNC_LOG_FORMAT", "json"),

		MaxConcurrent:  getEnvInt("LEARNSYNC_MAX_CONCURRENT", 3),
		MaxQueueSize:   getEnvInt("LEARNSYNC_MAX_QUEUE", 100),
		PreloadDelay:   getEnvDuration("LEARNSYNC_PRELOAD_DELAY", 100*time.Millisecond),
		StrategiesFile: getEnv("LEARNSYNC_STRATEGIES", ""),

		SettleDelay:      getEnvDuration("LEARNSYNC_SETTLE_DELAY", time.Second),
		BehaviorDebounce: getEnvDuration("LEARNSYNC_BEHAVIOR_DEBOUNCE", 2*time.Second),
		ProbeInterval:    getEnvDuration("LEARNSYNC_PROBE_INTERVAL", 30*time.Second),
		InitiallyOnline:  getEnvBool("LEARNSYNC_ONLINE", true),

		ReplayRPS:      getEnvFloat("LEARNSYNC_REPLAY_RPS", 5),
		HintRPS:        getEnvFloat("LEARNSYNC_HINT_RPS", 2),
		HintGrace:      getEnvDuration("LEARNSYNC_HINT_GRACE", 10*time.Second),
		BackoffBase:    getEnvDuration("LEARNSYNC_BACKOFF_BASE", time.Minute),
		BackoffMax:     getEnvDuration("LEARNSYNC_BACKOFF_MAX", time.Hour),
		RequestTimeout: getEnvDuration("LEARNSYNC_REQUEST_TIMEOUT", 30*time.Second),

		ListenAddr: getEnv("LEARNSYNC_LISTEN", ":7420"),
		HostURL:    getEnv("LEARNSYNC_HOST_URL", ""),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".learnsync"
	}
	return filepath.Join(home, ".learnsync")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		slog.Warn("ignoring invalid number setting", "key", key, "value", v)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", v)
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", v)
		return fallback
	}
	return b
}

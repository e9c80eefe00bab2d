package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ParseIntEnv reads an integer environment variable, falling back on
// missing or unparseable values.
func ParseIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// ParseBoolString interprets common truthy and falsy spellings.
func ParseBoolString(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// Transport and strategy selectors.
const (
	TransportWS    = "ws"
	TransportRedis = "redis"

	StrategyPush = "push"
	StrategyPoll = "poll"
)

// Config is the process configuration, sourced from TKR_* environment
// variables with workable defaults for a local engine.
type Config struct {
	Transport string
	EngineURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	Strategy     string
	PollAttempts int
	PollInterval time.Duration

	HistoryPath string
	Tracing     bool
}

// FromEnv builds a Config from the environment.
func FromEnv() Config {
	cfg := Config{
		Transport:     strings.TrimSpace(os.Getenv("TKR_TRANSPORT")),
		EngineURL:     strings.TrimSpace(os.Getenv("TKR_ENGINE_URL")),
		RedisAddr:     strings.TrimSpace(os.Getenv("TKR_REDIS_ADDR")),
		RedisPassword: os.Getenv("TKR_REDIS_PASSWORD"),
		RedisDB:       ParseIntEnv("TKR_REDIS_DB", 0),
		RedisPrefix:   strings.TrimSpace(os.Getenv("TKR_REDIS_PREFIX")),
		Strategy:      strings.TrimSpace(os.Getenv("TKR_STRATEGY")),
		PollAttempts:  ParseIntEnv("TKR_POLL_ATTEMPTS", 30),
		PollInterval:  time.Duration(ParseIntEnv("TKR_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		HistoryPath:   strings.TrimSpace(os.Getenv("TKR_HISTORY_PATH")),
		Tracing:       ParseBoolString(os.Getenv("TKR_TRACING"), false),
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportWS
	}
	if cfg.EngineURL == "" {
		cfg.EngineURL = "ws://127.0.0.1:8765/ws"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "127.0.0.1:6379"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPush
	}
	if cfg.HistoryPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HistoryPath = filepath.Join(home, ".ticketrush", "history.db")
		}
	}
	return cfg
}

// Validate rejects selector values the wiring cannot honor.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWS, TransportRedis:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportWS, TransportRedis)
	}
	switch c.Strategy {
	case StrategyPush, StrategyPoll:
	default:
		return fmt.Errorf("unknown strategy %q (want %s or %s)", c.Strategy, StrategyPush, StrategyPoll)
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("poll attempts must be positive, got %d", c.PollAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

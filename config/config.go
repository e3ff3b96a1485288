package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Broker bridge credentials
	BridgeBaseURL    string
	BridgeStreamURL  string
	BridgeClientID   string
	BridgeAPIKey     string
	BridgeTOTPSecret string

	// Gateway API
	ListenAddr string
	APIKey     string // empty disables auth

	// Risk limits
	MaxContracts int64
	MaxDailyLoss float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Notifications (all optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Symbols to subscribe to on connect (comma-separated)
	Symbols string

	HeartbeatInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BridgeBaseURL:    mustEnv("BRIDGE_BASE_URL"),
		BridgeStreamURL:  mustEnv("BRIDGE_STREAM_URL"),
		BridgeClientID:   mustEnv("BRIDGE_CLIENT_ID"),
		BridgeAPIKey:     mustEnv("BRIDGE_API_KEY"),
		BridgeTOTPSecret: mustEnv("BRIDGE_TOTP_SECRET"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
		APIKey:     getEnv("API_KEY", ""),

		MaxContracts: getEnvInt64("MAX_CONTRACTS", 5),
		MaxDailyLoss: getEnvFloat("MAX_DAILY_LOSS", 1500),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/tradegate.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		Symbols: getEnv("SYMBOLS", "MNQ"),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
	}
}

// ParseSymbols splits the Symbols string into a clean slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
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
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %.2f", key, v, fallback)
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
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	APISecret string

	// Redis configuration. Set REDIS_URL=memory to run on the in-process
	// store (local development, tests).
	RedisURL string
	RedisDB  int

	// TTLs for persisted state. Every TTL must exceed HeartbeatTimeout by a
	// safety margin so a live session's data cannot expire out from under it.
	ActivityTTL  time.Duration
	StatusTTL    time.Duration
	SessionGrace time.Duration

	// Liveness detection.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Ingestion gates.
	RateLimitCooldown time.Duration
	DedupWindow       time.Duration
	LineTolerance     int
	ColumnTolerance   int

	// Subscriber keepalive.
	KeepaliveInterval time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		APISecret: getEnv("API_SECRET", "dev-secret"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisDB:  getEnvAsInt("REDIS_DB", 0),

		ActivityTTL:  getEnvAsSeconds("ACTIVITY_TTL_SECONDS", 600),
		StatusTTL:    getEnvAsSeconds("STATUS_TTL_SECONDS", 86400),
		SessionGrace: getEnvAsSeconds("SESSION_GRACE_SECONDS", 300),

		HeartbeatInterval: getEnvAsSeconds("HEARTBEAT_INTERVAL_SECONDS", 5),
		HeartbeatTimeout:  getEnvAsSeconds("HEARTBEAT_TIMEOUT_SECONDS", 30),

		RateLimitCooldown: getEnvAsMillis("RATE_LIMIT_COOLDOWN_MS", 2000),
		DedupWindow:       getEnvAsMillis("DEDUP_WINDOW_MS", 3000),
		LineTolerance:     getEnvAsInt("LINE_TOLERANCE", 5),
		ColumnTolerance:   getEnvAsInt("COLUMN_TOLERANCE", 20),

		KeepaliveInterval: getEnvAsSeconds("KEEPALIVE_INTERVAL_SECONDS", 30),
	}

	// Keep the TTL safety margin even under misconfiguration.
	if cfg.ActivityTTL <= 2*cfg.HeartbeatTimeout {
		cfg.ActivityTTL = 2*cfg.HeartbeatTimeout + time.Minute
	}
	if cfg.SessionGrace <= cfg.HeartbeatTimeout {
		cfg.SessionGrace = cfg.HeartbeatTimeout + time.Minute
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

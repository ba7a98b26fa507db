// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                 string
	DatabasePath         string
	JWTSecret            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	LoginRateLimit       int
	CORSAllowedOrigins   []string
	TrustedProxies       []string
	SentryDSN            string
	SentryEnvironment    string

	// Seed account created when the users table is empty.
	AdminEmail    string
	AdminPassword string
	AdminName     string

	// RedisURL selects the shared broker. Empty means the in-process broker.
	RedisURL                 string
	RealtimePollInterval     time.Duration
	RealtimeSendTimeout      time.Duration
	RealtimeSubscribeTimeout time.Duration
	RealtimePublishTimeout   time.Duration
	RealtimePublishQueue     int

	WSPingInterval time.Duration
	WSPongWait     time.Duration
	WSWriteTimeout time.Duration
	WSSendBuffer   int
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:                 getEnv("PORT", "8000"),
		DatabasePath:         getEnv("DATABASE_PATH", "./zyro.db"),
		JWTSecret:            getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		AccessTokenDuration:  getDurationEnv("ACCESS_TOKEN_DURATION", 30*time.Minute),
		RefreshTokenDuration: getDurationEnv("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
		LoginRateLimit:       getIntEnv("LOGIN_RATE_LIMIT_PER_MINUTE", 10),
		CORSAllowedOrigins:   getStringSliceEnvDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:       getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:            getEnv("SENTRY_DSN", ""),
		SentryEnvironment:    getEnv("SENTRY_ENVIRONMENT", "production"),

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@zyro.local"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"), // #nosec G101 -- intentional dev default
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),

		RedisURL:                 getEnv("REDIS_URL", ""),
		RealtimePollInterval:     getDurationEnv("REALTIME_POLL_INTERVAL", time.Second),
		RealtimeSendTimeout:      getDurationEnv("REALTIME_SEND_TIMEOUT", 5*time.Second),
		RealtimeSubscribeTimeout: getDurationEnv("REALTIME_SUBSCRIBE_TIMEOUT", 3*time.Second),
		RealtimePublishTimeout:   getDurationEnv("REALTIME_PUBLISH_TIMEOUT", 2*time.Second),
		RealtimePublishQueue:     getIntEnv("REALTIME_PUBLISH_QUEUE", 256),

		WSPingInterval: getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
		WSPongWait:     getDurationEnv("WS_PONG_WAIT", 60*time.Second),
		WSWriteTimeout: getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
		WSSendBuffer:   getIntEnv("WS_SEND_BUFFER", 64),
	}
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getStringSliceEnvDefault(key string, defaultValue []string) []string {
	if values := getStringSliceEnv(key); len(values) > 0 {
		return values
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

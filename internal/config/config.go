package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries all runtime settings, loaded from the environment with
// sane development defaults.
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPPort  string

	JWTSecret    string
	HostUsername string
	HostPassword string

	// SessionRetention is the inactivity window before the sweep
	// deletes a session and everything under it.
	SessionRetention time.Duration
	// SweepInterval is the cadence of the expiry sweep.
	SweepInterval time.Duration

	LogLevel string
}

// Load reads configuration from the environment, honoring a local .env
// file when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "classpulse"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:  getEnv("PORT", "8080"),

		JWTSecret:    getEnv("JWT_SECRET", "super-secret-key-change-in-production"),
		HostUsername: getEnv("HOST_USERNAME", "admin"),
		HostPassword: getEnv("HOST_PASSWORD", "password123"),

		SessionRetention: getDuration("SESSION_RETENTION", 7*24*time.Hour),
		SweepInterval:    getDuration("SWEEP_INTERVAL", 24*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	// Plain numbers are read as hours for operator convenience.
	if h, err := strconv.Atoi(val); err == nil {
		return time.Duration(h) * time.Hour
	}
	log.Warn().Str("key", key).Str("value", val).Msg("unparsable duration, using default")
	return defaultVal
}

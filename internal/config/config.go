package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string
	CORSOrigin     string
	IdentitySecret string
	// RedisURL selects the Redis keyspace backend; empty means the
	// in-process keyspace (single-instance deployments and tests).
	RedisURL string

	// Presence tuning.
	FreshFor         time.Duration
	GoneAfter        time.Duration
	SweepEvery       time.Duration
	TypingTimeout    time.Duration
	DeadBandPercent  float64
	PublishPerSecond float64

	// EnforceAuthorship turns on server-side author checks for comment,
	// reply, and chat deletes. Off by default: the original trust model
	// only hides the affordance client-side.
	EnforceAuthorship bool
}

func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		Addr:           getenv("API_ADDR", ":8791"),
		CORSOrigin:     getenv("PAIRPAD_CORS_ORIGIN", "*"),
		IdentitySecret: getenv("PAIRPAD_IDENTITY_SECRET", "pairpad-dev-secret"),
		RedisURL:       getenv("REDIS_URL", ""),

		FreshFor:         time.Duration(getenvInt("PAIRPAD_FRESH_MS", 15000)) * time.Millisecond,
		GoneAfter:        time.Duration(getenvInt("PAIRPAD_GONE_MS", 30000)) * time.Millisecond,
		SweepEvery:       time.Duration(getenvInt("PAIRPAD_SWEEP_MS", 5000)) * time.Millisecond,
		TypingTimeout:    time.Duration(getenvInt("PAIRPAD_TYPING_MS", 2000)) * time.Millisecond,
		DeadBandPercent:  getenvFloat("PAIRPAD_DEADBAND_PCT", 0.1),
		PublishPerSecond: getenvFloat("PAIRPAD_PUBLISH_PER_SECOND", 60),

		EnforceAuthorship: getenvBool("PAIRPAD_ENFORCE_AUTHORSHIP", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

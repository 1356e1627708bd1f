package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env  string
	Port int

	// StoreDriver selects the persistence backend: memory | postgres | redis
	StoreDriver string
	DBURL       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string

	// CASMaxAttempts bounds the engine's optimistic-write retry loop.
	CASMaxAttempts int

	RateLimit       int
	RateLimitWindow time.Duration

	CacheTTL time.Duration

	CORSOrigins []string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 8080)

	return Config{
		Env:             env,
		Port:            port,
		StoreDriver:     getEnv("STORE_DRIVER", "memory"),
		DBURL:           buildDBURL(),
		RedisAddr:       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		CASMaxAttempts:  getEnvInt("CAS_MAX_ATTEMPTS", 5),
		RateLimit:       getEnvInt("RATE_LIMIT", 30),
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		CacheTTL:        time.Duration(getEnvInt("CACHE_TTL_SECONDS", 5)) * time.Second,
		CORSOrigins:     splitCSV(getEnv("CORS_ORIGINS", "")),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "waitroom")
	pass := getEnv("DB_PASSWORD", "waitroom")
	name := getEnv("DB_NAME", "waitroom")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
		}

		return num
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

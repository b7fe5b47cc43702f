package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// CORS
	CORSAllowedOrigins []string

	// Executor Service
	ExecutorAddr    string
	ExecutorTimeout time.Duration

	// Matchmaking
	BaseTolerance      int
	TolerancePerSecond int
	PollInterval       time.Duration
	MaxQueueTime       time.Duration

	// Match lifecycle
	JoinTimeout      time.Duration
	ReconnectTimeout time.Duration
	DeadlineSweep    time.Duration
	GameStateTTL     time.Duration
	RatingKFactor    float64

	// Grading
	WorkerConcurrency int
	JobMaxAttempts    int
	JobBackoffBase    time.Duration
	JobQueueWait      time.Duration
	RunTimeout        time.Duration
	RunTimeBudget     time.Duration
	CaseTimeout       time.Duration

	// Rate limiting of run and submit, per user per minute
	RateLimitPerMinute int
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		MigrateOnStart:     getEnvBool("MIGRATE_ON_START", false),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		ExecutorAddr:       getEnv("EXECUTOR_ADDR", "localhost:50051"),
		ExecutorTimeout:    getEnvDuration("EXECUTOR_TIMEOUT", 30*time.Second),
		BaseTolerance:      getEnvInt("MATCHMAKING_BASE_TOLERANCE", 200),
		TolerancePerSecond: getEnvInt("MATCHMAKING_TOLERANCE_PER_SECOND", 10),
		PollInterval:       getEnvDuration("MATCHMAKING_POLL_INTERVAL", 5*time.Second),
		MaxQueueTime:       getEnvDuration("MATCHMAKING_MAX_QUEUE_TIME", 30*time.Second),
		JoinTimeout:        getEnvDuration("MATCH_JOIN_TIMEOUT", 60*time.Second),
		ReconnectTimeout:   getEnvDuration("MATCH_RECONNECT_TIMEOUT", 60*time.Second),
		DeadlineSweep:      getEnvDuration("MATCH_DEADLINE_SWEEP_INTERVAL", 5*time.Second),
		GameStateTTL:       getEnvDuration("GAME_STATE_TTL", time.Hour),
		RatingKFactor:      float64(getEnvInt("RATING_K_FACTOR", 32)),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 32),
		JobMaxAttempts:     getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:     getEnvDuration("JOB_BACKOFF_BASE", time.Second),
		JobQueueWait:       getEnvDuration("JOB_QUEUE_WAIT", 2*time.Minute),
		RunTimeout:         getEnvDuration("RUN_TIMEOUT", 15*time.Second),
		RunTimeBudget:      getEnvDuration("RUN_TIME_BUDGET", 5*time.Second),
		CaseTimeout:        getEnvDuration("GRADE_CASE_TIMEOUT", 60*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

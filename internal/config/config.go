package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the posture service.
type Config struct {
	HTTPAddr            string        `validate:"required"`
	DatabaseDSN         string        `validate:"required"`
	RedisAddr           string        `validate:"required,hostname_port"`
	PoseEstimatorAddr   string        `validate:"required,hostname_port"`
	JWTSecret           string        `validate:"required"`
	JWTAudience         string
	SessionIdleTimeout  time.Duration `validate:"gt=0"`
	SessionReapInterval time.Duration `validate:"gt=0"`
	FrameRateLimit      float64       `validate:"gt=0"`
	FrameRateBurst      int           `validate:"gte=1"`
	ShutdownTimeout     time.Duration `validate:"gt=0"`
	LogFile             string
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var vars envReader
	cfg := Config{
		HTTPAddr:            env("HTTP_ADDR", ":8080"),
		DatabaseDSN:         env("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=posture port=5432 sslmode=disable"),
		RedisAddr:           env("REDIS_ADDR", "redis:6379"),
		PoseEstimatorAddr:   env("POSE_ESTIMATOR_ADDR", "pose-service:50051"),
		JWTSecret:           env("JWT_SECRET", "dev-secret"),
		JWTAudience:         os.Getenv("JWT_AUDIENCE"),
		SessionIdleTimeout:  vars.duration("SESSION_IDLE_TIMEOUT", 5*time.Minute),
		SessionReapInterval: vars.duration("SESSION_REAP_INTERVAL", 30*time.Second),
		FrameRateLimit:      vars.number("FRAME_RATE_LIMIT", 30),
		FrameRateBurst:      vars.integer("FRAME_RATE_BURST", 60),
		ShutdownTimeout:     vars.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogFile:             os.Getenv("LOG_FILE"),
	}
	if err := errors.Join(vars.errs...); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// envReader parses typed variables and keeps every malformed value it meets.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (r *envReader) fail(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return parsed
}

func (r *envReader) integer(key string, fallback int) int {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return parsed
}

func (r *envReader) number(key string, fallback float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return parsed
}

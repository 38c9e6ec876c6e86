package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	NatsURL     string
	NatsToken   string

	// Text generation provider (openai-compatible or anthropic).
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	HTTPTimeout time.Duration

	// Screenshot path. "openai" reuses APIKey/BaseURL, "gemini" needs GeminiAPIKey.
	VisionProvider string
	VisionModel    string
	GeminiAPIKey   string

	RetryBackoff time.Duration
	MaxInflight  int

	JWTSecret    string
	CaptchaSweep time.Duration
	CORSOrigins  []string
}

func Load() Config {
	return Config{
		Port:           envInt("PARLEY_PORT", 8760),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DatabaseURL:    envStr("DATABASE_URL", "sqlite://./data/parley.db"),
		RedisURL:       envStr("REDIS_URL", ""),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		Provider:       envStr("PARLEY_PROVIDER", "openai"),
		APIKey:         envStr("PARLEY_API_KEY", ""),
		BaseURL:        envStr("PARLEY_BASE_URL", "https://api.siliconflow.cn/v1"),
		Model:          envStr("PARLEY_MODEL", "Qwen/Qwen2.5-72B-Instruct"),
		HTTPTimeout:    envDuration("PARLEY_HTTP_TIMEOUT", 60*time.Second),
		VisionProvider: envStr("PARLEY_VISION_PROVIDER", "openai"),
		VisionModel:    envStr("PARLEY_VISION_MODEL", "Qwen/Qwen2-VL-72B-Instruct"),
		GeminiAPIKey:   envStr("GEMINI_API_KEY", ""),
		RetryBackoff:   envDuration("PARLEY_RETRY_BACKOFF", 2*time.Second),
		MaxInflight:    envInt("PARLEY_MAX_INFLIGHT", 16),
		JWTSecret:      envStr("PARLEY_JWT_SECRET", ""),
		CaptchaSweep:   envDuration("PARLEY_CAPTCHA_SWEEP", time.Minute),
		CORSOrigins:    envList("PARLEY_CORS_ORIGINS", []string{"*"}),
	}
}

// Validate reports every missing or contradictory setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PARLEY_PORT out of range: %d", c.Port))
	}
	switch c.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("PARLEY_PROVIDER must be openai or anthropic, got %q", c.Provider))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("PARLEY_API_KEY is required"))
	}
	switch c.VisionProvider {
	case "openai":
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when PARLEY_VISION_PROVIDER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("PARLEY_VISION_PROVIDER must be openai or gemini, got %q", c.VisionProvider))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("PARLEY_JWT_SECRET is required"))
	}
	if c.MaxInflight <= 0 {
		errs = append(errs, fmt.Errorf("PARLEY_MAX_INFLIGHT must be positive, got %d", c.MaxInflight))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

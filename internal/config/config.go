// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/lastlight/internal/domain"
)

// Config holds all application configuration. Values are static for the
// process lifetime.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	GeminiAPIKey string
	GeminiModel  string

	MaxDays            int
	InitialHealth      int
	InitialPower       int
	PowerCap           int
	MessagesPerDay     int
	WinHealthThreshold int
	RetryBudget        int

	GeneratorTimeout  time.Duration
	KeepAliveInterval time.Duration

	Checkpoints []domain.Checkpoint
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	checkpoints, err := parseCheckpoints(getEnv("CHECKPOINTS", "2:40:30,4:60:50"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKPOINTS: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/lastlight.db"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-pro"),

		MaxDays:            getEnvInt("MAX_DAYS", 5),
		InitialHealth:      getEnvInt("INITIAL_HEALTH", 100),
		InitialPower:       getEnvInt("INITIAL_POWER", 10),
		PowerCap:           getEnvInt("POWER_CAP", 100),
		MessagesPerDay:     getEnvInt("MESSAGES_PER_DAY", 10),
		WinHealthThreshold: getEnvInt("WIN_HEALTH_THRESHOLD", 50),
		RetryBudget:        getEnvInt("RETRY_BUDGET", 3),

		GeneratorTimeout:  getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
		KeepAliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 20*time.Second),

		Checkpoints: checkpoints,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and in range.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxDays < 1 {
		return fmt.Errorf("MAX_DAYS must be >= 1")
	}
	if c.MessagesPerDay < 1 {
		return fmt.Errorf("MESSAGES_PER_DAY must be >= 1")
	}
	if c.RetryBudget < 1 {
		return fmt.Errorf("RETRY_BUDGET must be >= 1")
	}
	if c.PowerCap < 1 {
		return fmt.Errorf("POWER_CAP must be >= 1")
	}
	if c.InitialHealth < 0 || c.InitialHealth > 100 {
		return fmt.Errorf("INITIAL_HEALTH must be in [0,100]")
	}
	if c.InitialPower < 0 || c.InitialPower > c.PowerCap {
		return fmt.Errorf("INITIAL_POWER must be in [0,POWER_CAP]")
	}
	for _, cp := range c.Checkpoints {
		if cp.Day < 1 || cp.Day > c.MaxDays {
			return fmt.Errorf("checkpoint day %d outside [1,%d]", cp.Day, c.MaxDays)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// parseCheckpoints parses a "day:bossHealth:bossPower" comma-separated list.
func parseCheckpoints(raw string) ([]domain.Checkpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var checkpoints []domain.Checkpoint
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("checkpoint %q: want day:bossHealth:bossPower", entry)
		}
		nums := make([]int, 3)
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("checkpoint %q: %w", entry, err)
			}
			nums[i] = n
		}
		checkpoints = append(checkpoints, domain.Checkpoint{
			Day:        nums[0],
			BossHealth: nums[1],
			BossPower:  nums[2],
		})
	}
	return checkpoints, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

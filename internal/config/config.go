package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration values.
type Config struct {
	LivenessConcurrency  int      `yaml:"livenessConcurrency"`
	LivenessTimeout      Duration `yaml:"livenessTimeout"`
	LivenessPerHost      int      `yaml:"livenessPerHost"`
	ArchiveThrottleDelay Duration `yaml:"archiveThrottleDelay"`
	ArchiveTimeout       Duration `yaml:"archiveTimeout"`
	ArchiveRatePerMinute int      `yaml:"archiveRatePerMinute"`
	ArchiveEndpoint      string   `yaml:"archiveEndpoint"`
	LivenessTTL          Duration `yaml:"livenessTTL"`
	ArchiveTTL           Duration `yaml:"archiveTTL"`
	ArchiveFailureTTL    Duration `yaml:"archiveFailureTTL"`
	MaxURLsPerRun        int      `yaml:"maxURLsPerRun"`
	CacheDriver          string   `yaml:"cacheDriver"`
	CacheURL             string   `yaml:"cacheURL"`
	CacheSweepInterval   Duration `yaml:"cacheSweepInterval"`
	HTTPPort             string   `yaml:"httpPort"`
	ShutdownGrace        Duration `yaml:"shutdownGrace"`
	UserAgent            string   `yaml:"userAgent"`
	LogLevel             string   `yaml:"logLevel"`
	LogFormat            string   `yaml:"logFormat"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LivenessConcurrency:  6,
		LivenessTimeout:      Duration{8 * time.Second},
		LivenessPerHost:      2,
		ArchiveThrottleDelay: Duration{350 * time.Millisecond},
		ArchiveTimeout:       Duration{10 * time.Second},
		ArchiveEndpoint:      "https://archive.org/wayback/available",
		LivenessTTL:          Duration{24 * time.Hour},
		ArchiveTTL:           Duration{7 * 24 * time.Hour},
		ArchiveFailureTTL:    Duration{time.Hour},
		MaxURLsPerRun:        30,
		CacheDriver:          "sqlite",
		CacheURL:             "linkrescue.db",
		CacheSweepInterval:   Duration{time.Hour},
		HTTPPort:             "8080",
		ShutdownGrace:        Duration{10 * time.Second},
		UserAgent:            "linkrescue/1.0",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LivenessConcurrency = getEnvInt("LIVENESS_CONCURRENCY", c.LivenessConcurrency)
	c.LivenessTimeout.Duration = getEnvDuration("LIVENESS_TIMEOUT", c.LivenessTimeout.Duration)
	c.LivenessPerHost = getEnvInt("LIVENESS_PER_HOST", c.LivenessPerHost)
	c.ArchiveThrottleDelay.Duration = getEnvDuration("ARCHIVE_THROTTLE_DELAY", c.ArchiveThrottleDelay.Duration)
	c.ArchiveTimeout.Duration = getEnvDuration("ARCHIVE_TIMEOUT", c.ArchiveTimeout.Duration)
	c.ArchiveRatePerMinute = getEnvInt("ARCHIVE_RATE_PER_MINUTE", c.ArchiveRatePerMinute)
	c.ArchiveEndpoint = getEnv("ARCHIVE_ENDPOINT", c.ArchiveEndpoint)
	c.LivenessTTL.Duration = getEnvDuration("LIVENESS_TTL", c.LivenessTTL.Duration)
	c.ArchiveTTL.Duration = getEnvDuration("ARCHIVE_TTL", c.ArchiveTTL.Duration)
	c.ArchiveFailureTTL.Duration = getEnvDuration("ARCHIVE_FAILURE_TTL", c.ArchiveFailureTTL.Duration)
	c.MaxURLsPerRun = getEnvInt("MAX_URLS_PER_RUN", c.MaxURLsPerRun)
	c.CacheDriver = getEnv("CACHE_DRIVER", c.CacheDriver)
	c.CacheURL = getEnv("CACHE_URL", c.CacheURL)
	c.CacheSweepInterval.Duration = getEnvDuration("CACHE_SWEEP_INTERVAL", c.CacheSweepInterval.Duration)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.ShutdownGrace.Duration = getEnvDuration("SHUTDOWN_GRACE", c.ShutdownGrace.Duration)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate rejects values the checker cannot run with.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		ok   bool
	}{
		{"livenessConcurrency", c.LivenessConcurrency > 0},
		{"livenessTimeout", c.LivenessTimeout.Duration > 0},
		{"archiveTimeout", c.ArchiveTimeout.Duration > 0},
		{"livenessTTL", c.LivenessTTL.Duration > 0},
		{"archiveTTL", c.ArchiveTTL.Duration > 0},
		{"archiveFailureTTL", c.ArchiveFailureTTL.Duration > 0},
		{"maxURLsPerRun", c.MaxURLsPerRun > 0},
		{"cacheSweepInterval", c.CacheSweepInterval.Duration > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, p.name)
		}
	}
	if c.ArchiveThrottleDelay.Duration < 0 || c.ArchiveRatePerMinute < 0 || c.LivenessPerHost < 0 {
		return fmt.Errorf("%w: throttle delay, rate and per-host limit cannot be negative", ErrInvalid)
	}
	switch c.CacheDriver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%w: unknown cache driver %q", ErrInvalid, c.CacheDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

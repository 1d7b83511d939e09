// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livedatabots/botrelay/pkg/completion"
	"github.com/livedatabots/botrelay/pkg/quota"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Storage backends
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// unsetLimit marks a daily limit that was never configured
const unsetLimit = -1

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	AI      AIConfig      `yaml:"ai"`
	Quota   QuotaConfig   `yaml:"quota"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	ClientURL string `yaml:"clientURL"` // allowed CORS origin; empty disables CORS headers
}

type AIConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Deployment string        `yaml:"deployment"`
	APIVersion string        `yaml:"apiVersion"`
	Timeout    time.Duration `yaml:"timeout"` // per provider request
}

type QuotaConfig struct {
	DailyLimit     int    `yaml:"dailyLimit"`
	Mode           string `yaml:"mode"` // after_success or atomic
	CircuitBreaker bool   `yaml:"circuitBreaker"`
}

type StorageConfig struct {
	Backend            string        `yaml:"backend"`
	DatabaseURL        string        `yaml:"databaseURL"`
	RedisAddr          string        `yaml:"redisAddr"`
	FirestoreProjectID string        `yaml:"firestoreProjectID"`
	StatusTimeout      time.Duration `yaml:"statusTimeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or console (default: json)
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 5000,
		},
		AI: AIConfig{
			Deployment: completion.DefaultDeployment,
			APIVersion: completion.DefaultAPIVersion,
			Timeout:    completion.DefaultTimeout,
		},
		Quota: QuotaConfig{
			DailyLimit: unsetLimit,
			Mode:       string(quota.ModeAfterSuccess),
		},
		Storage: StorageConfig{
			Backend:       BackendPostgres,
			StatusTimeout: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) on top of the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config not found: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("AZURE_AI_URL", &c.AI.Endpoint)
	str("AZURE_AI_KEY", &c.AI.APIKey)
	str("AZURE_AI_DEPLOYMENT", &c.AI.Deployment)
	str("AZURE_AI_API_VERSION", &c.AI.APIVersion)
	str("QUOTA_MODE", &c.Quota.Mode)
	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("DATABASE_URL", &c.Storage.DatabaseURL)
	str("REDIS_ADDR", &c.Storage.RedisAddr)
	str("FIRESTORE_PROJECT_ID", &c.Storage.FirestoreProjectID)
	str("CLIENT_URL", &c.Server.ClientURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	ints := []struct {
		key string
		dst *int
	}{
		{"DAILY_CHAT_LIMIT", &c.Quota.DailyLimit},
		{"PORT", &c.Server.Port},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.key, err)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AI_REQUEST_TIMEOUT", &c.AI.Timeout},
		{"STATUS_CHECK_TIMEOUT", &c.Storage.StatusTimeout},
	}
	for _, e := range durations {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.key, err)
		}
		*e.dst = d
	}

	if v, ok := lookup("CIRCUIT_BREAKER_ENABLED"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: CIRCUIT_BREAKER_ENABLED: %v", ErrInvalidConfig, err)
		}
		c.Quota.CircuitBreaker = b
	}

	return nil
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30")
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks that the configuration is complete
func (c *Config) Validate() error {
	var problems []string

	if c.AI.Endpoint == "" {
		problems = append(problems, "AZURE_AI_URL is required")
	}
	if c.AI.APIKey == "" {
		problems = append(problems, "AZURE_AI_KEY is required")
	}
	if c.AI.Timeout <= 0 {
		problems = append(problems, "AI request timeout must be positive")
	}
	if c.Quota.DailyLimit == unsetLimit {
		problems = append(problems, "DAILY_CHAT_LIMIT is required")
	} else if c.Quota.DailyLimit < 0 {
		problems = append(problems, "DAILY_CHAT_LIMIT must not be negative")
	}
	switch quota.Mode(c.Quota.Mode) {
	case quota.ModeAfterSuccess, quota.ModeAtomic:
	default:
		problems = append(problems, fmt.Sprintf("unknown quota mode %q", c.Quota.Mode))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Server.Port))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis backend")
		}
	case BackendFirestore:
		if c.Storage.FirestoreProjectID == "" {
			problems = append(problems, "FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.StatusTimeout <= 0 {
		problems = append(problems, "status check timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// QuotaMode returns the configured increment policy
func (c *Config) QuotaMode() quota.Mode {
	return quota.Mode(c.Quota.Mode)
}

// Completion returns the completion client settings
func (c *Config) Completion() completion.Config {
	return completion.Config{
		Endpoint:   c.AI.Endpoint,
		APIKey:     c.AI.APIKey,
		Deployment: c.AI.Deployment,
		APIVersion: c.AI.APIVersion,
		Timeout:    c.AI.Timeout,
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

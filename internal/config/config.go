// Package config loads the service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service settings
type Config struct {
	Port int

	// DatabaseURL selects PostgreSQL stores; empty keeps everything in memory
	DatabaseURL string

	// RedisURL selects the shared goals cache; empty uses an in-process cache
	RedisURL string

	// GoalCacheTTL expires cached goals; zero relies on invalidation only
	GoalCacheTTL time.Duration

	MultiLevelReferrals bool

	// EligibilityPolicy is "lenient" or "strict"
	EligibilityPolicy string

	ShutdownTimeout time.Duration
}

// Default returns configuration with default values
func Default() *Config {
	return &Config{
		Port:              8080,
		GoalCacheTTL:      0,
		EligibilityPolicy: "lenient",
		ShutdownTimeout:   10 * time.Second,
	}
}

// Load reads configuration with precedence environment > config file >
// defaults. configPath may be empty.
func Load(configPath string) (*Config, error) {
	def := Default()
	v := viper.New()

	v.SetDefault("port", def.Port)
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("redis_url", def.RedisURL)
	v.SetDefault("goal_cache_ttl", def.GoalCacheTTL)
	v.SetDefault("multi_level_referrals", def.MultiLevelReferrals)
	v.SetDefault("eligibility_policy", def.EligibilityPolicy)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)

	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:                v.GetInt("port"),
		DatabaseURL:         v.GetString("database_url"),
		RedisURL:            v.GetString("redis_url"),
		GoalCacheTTL:        v.GetDuration("goal_cache_ttl"),
		MultiLevelReferrals: v.GetBool("multi_level_referrals"),
		EligibilityPolicy:   strings.ToLower(strings.TrimSpace(v.GetString("eligibility_policy"))),
		ShutdownTimeout:     v.GetDuration("shutdown_timeout"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.GoalCacheTTL < 0 {
		return fmt.Errorf("goal_cache_ttl must not be negative, got %v", cfg.GoalCacheTTL)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", cfg.ShutdownTimeout)
	}
	switch cfg.EligibilityPolicy {
	case "lenient", "strict":
	default:
		return fmt.Errorf("eligibility_policy must be lenient or strict, got %q", cfg.EligibilityPolicy)
	}
	return nil
}

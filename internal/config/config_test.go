package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnv = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "GOAL_CACHE_TTL",
	"MULTI_LEVEL_REFERRALS", "ELIGIBILITY_POLICY", "SHUTDOWN_TIMEOUT",
}

// clearEnv blanks the config variables; viper treats empty as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := Default()
	if *cfg != *want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr() = %s, want :8080", cfg.Addr())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://localhost/affiliate")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GOAL_CACHE_TTL", "30s")
	t.Setenv("MULTI_LEVEL_REFERRALS", "true")
	t.Setenv("ELIGIBILITY_POLICY", "STRICT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://localhost/affiliate" {
		t.Errorf("DatabaseURL = %s", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.GoalCacheTTL != 30*time.Second {
		t.Errorf("GoalCacheTTL = %v, want 30s", cfg.GoalCacheTTL)
	}
	if !cfg.MultiLevelReferrals {
		t.Error("MultiLevelReferrals = false, want true")
	}
	if cfg.EligibilityPolicy != "strict" {
		t.Errorf("EligibilityPolicy = %s, want strict", cfg.EligibilityPolicy)
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "affiliate.yaml")
	content := "port: 7070\neligibility_policy: strict\ngoal_cache_ttl: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("PORT", "7171")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 7171 {
		t.Errorf("Port = %d, want environment value 7171", cfg.Port)
	}
	if cfg.EligibilityPolicy != "strict" {
		t.Errorf("EligibilityPolicy = %s, want file value strict", cfg.EligibilityPolicy)
	}
	if cfg.GoalCacheTTL != time.Minute {
		t.Errorf("GoalCacheTTL = %v, want 1m", cfg.GoalCacheTTL)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with a missing file should fail")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port zero", "PORT", "0"},
		{"port too large", "PORT", "70000"},
		{"negative cache ttl", "GOAL_CACHE_TTL", "-1s"},
		{"zero shutdown timeout", "SHUTDOWN_TIMEOUT", "0s"},
		{"unknown policy", "ELIGIBILITY_POLICY", "optimistic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(""); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.key, tt.value)
			}
		})
	}
}

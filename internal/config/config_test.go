package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CODETUTOR_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Tutor.MaxHintLevel != 4 {
		t.Errorf("MaxHintLevel = %d, want 4", cfg.Tutor.MaxHintLevel)
	}
	if cfg.Tutor.RateLimits["hint"] != 15 || cfg.Tutor.RateLimits[DefaultBudgetKey] != 20 {
		t.Errorf("RateLimits = %v", cfg.Tutor.RateLimits)
	}
	if cfg.Tutor.RetryMaxDelay != 10*time.Second {
		t.Errorf("RetryMaxDelay = %v", cfg.Tutor.RetryMaxDelay)
	}
	if cfg.Provider.Addr != "" {
		t.Errorf("Provider.Addr = %q, want empty", cfg.Provider.Addr)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CODETUTOR_CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("MAX_HINT_LEVEL", "6")
	t.Setenv("HINT_SESSION_TTL", "10m")
	t.Setenv("RATE_LIMIT_HINT", "3")
	t.Setenv("RATE_LIMIT_DEFAULT", "7")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("PROVIDER_GRPC_ADDR", "localhost:50051")
	t.Setenv("PROVIDER_API_KEY", "secret-key")
	t.Setenv("AUDIT_ENABLED", "off")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.Tutor.MaxHintLevel != 6 || cfg.Tutor.SessionTTL != 10*time.Minute {
		t.Errorf("hint settings = %d, %v", cfg.Tutor.MaxHintLevel, cfg.Tutor.SessionTTL)
	}
	if cfg.Tutor.RateLimits["hint"] != 3 || cfg.Tutor.RateLimits[DefaultBudgetKey] != 7 {
		t.Errorf("RateLimits = %v", cfg.Tutor.RateLimits)
	}
	if cfg.Tutor.RateLimits["completion"] != 10 {
		t.Errorf("completion budget changed: %v", cfg.Tutor.RateLimits)
	}
	if cfg.Tutor.RateWindow != 30*time.Second {
		t.Errorf("RateWindow = %v", cfg.Tutor.RateWindow)
	}
	if cfg.Provider.Addr != "localhost:50051" || cfg.Provider.APIKey != "secret-key" {
		t.Errorf("Provider = %+v", cfg.Provider)
	}
	if cfg.Audit.Enabled {
		t.Error("Audit.Enabled = true, want false")
	}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("CODETUTOR_CONFIG_FILE", "")
	t.Setenv("MAX_RETRIES", "lots")
	t.Setenv("RETRY_BASE_DELAY", "soon")
	t.Setenv("AUDIT_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tutor.MaxRetries != 2 || cfg.Tutor.RetryBaseDelay != time.Second || !cfg.Audit.Enabled {
		t.Errorf("fallbacks not applied: %+v %+v", cfg.Tutor, cfg.Audit)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codetutor.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = "7070"
log_level = "warn"

[hint]
max_level = 5
session_ttl = "45m"

[retry]
max_retries = 1
base_delay = "500ms"

[rate_limits]
window = "2m"
[rate_limits.budgets]
completion = 4

[gateway]
allowed_languages = ["go", "rust"]

[provider]
grpc_addr = "file-host:1"

[audit]
enabled = false
`)
	t.Setenv("CODETUTOR_CONFIG_FILE", path)
	t.Setenv("PROVIDER_GRPC_ADDR", "env-host:2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "7070" || cfg.LogLevel != "warn" {
		t.Errorf("server = %q %q", cfg.Port, cfg.LogLevel)
	}
	if cfg.Tutor.MaxHintLevel != 5 || cfg.Tutor.SessionTTL != 45*time.Minute {
		t.Errorf("hint = %d %v", cfg.Tutor.MaxHintLevel, cfg.Tutor.SessionTTL)
	}
	if cfg.Tutor.MaxRetries != 1 || cfg.Tutor.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("retry = %d %v", cfg.Tutor.MaxRetries, cfg.Tutor.RetryBaseDelay)
	}
	if cfg.Tutor.RateWindow != 2*time.Minute || cfg.Tutor.RateLimits["completion"] != 4 {
		t.Errorf("rate limits = %v %v", cfg.Tutor.RateWindow, cfg.Tutor.RateLimits)
	}
	if len(cfg.Tutor.AllowedLanguages) != 2 {
		t.Errorf("AllowedLanguages = %v", cfg.Tutor.AllowedLanguages)
	}
	if cfg.Provider.Addr != "env-host:2" {
		t.Errorf("Provider.Addr = %q, want env to win", cfg.Provider.Addr)
	}
	if cfg.Audit.Enabled {
		t.Error("Audit.Enabled = true")
	}
}

func TestLoad_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "[server]\nprot = \"1\"\n", "unknown keys"},
		{"bad duration", "[hint]\nsession_ttl = \"forever\"\n", "load config file"},
		{"bad syntax", "[server\n", "load config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CODETUTOR_CONFIG_FILE", writeConfigFile(t, tt.body))
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"zero hint level", func(c *Config) { c.Tutor.MaxHintLevel = 0 }},
		{"negative retries", func(c *Config) { c.Tutor.MaxRetries = -1 }},
		{"base above max", func(c *Config) { c.Tutor.RetryBaseDelay = time.Minute }},
		{"unknown class budget", func(c *Config) { c.Tutor.RateLimits["review"] = 3 }},
		{"zero budget", func(c *Config) { c.Tutor.RateLimits["hint"] = 0 }},
		{"missing default budget", func(c *Config) { delete(c.Tutor.RateLimits, DefaultBudgetKey) }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"audit without path", func(c *Config) { c.Audit.DBPath = "" }},
		{"zero queue", func(c *Config) { c.Tutor.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

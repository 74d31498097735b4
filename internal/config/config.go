// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// DefaultBudgetKey names the fallback budget in RateLimits.
const DefaultBudgetKey = "default"

// Config holds all application configuration.
type Config struct {
	Port               string
	AllowedOrigins     []string
	MaxRequestBodySize int64
	LogLevel           string
	Tutor              TutorConfig
	Provider           ProviderConfig
	Audit              AuditConfig
}

// TutorConfig holds admission, hint, and retry settings.
type TutorConfig struct {
	MaxHintLevel         int
	SessionTTL           time.Duration
	MaxSessionsPerSource int

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryMaxJitter time.Duration

	// RateLimits maps a request class name, or DefaultBudgetKey, to the
	// number of admissions allowed per RateWindow.
	RateLimits map[string]int
	RateWindow time.Duration

	ContextCacheSize int
	ContextCacheTTL  time.Duration

	MaxCodeLength        int
	MaxTitleLength       int
	MaxDescriptionLength int
	AllowedLanguages     []string

	QueueSize     int
	SweepInterval time.Duration
}

// ProviderConfig describes the completion provider.
type ProviderConfig struct {
	Addr           string
	Name           string
	APIKey         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// AuditConfig controls the SQLite audit log.
type AuditConfig struct {
	Enabled       bool
	DBPath        string
	Retention     time.Duration
	PurgeInterval time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               "8080",
		AllowedOrigins:     []string{"*"},
		MaxRequestBodySize: 1 << 20,
		LogLevel:           "info",
		Tutor: TutorConfig{
			MaxHintLevel:         4,
			SessionTTL:           30 * time.Minute,
			MaxSessionsPerSource: 5,
			MaxRetries:           2,
			RetryBaseDelay:       time.Second,
			RetryMaxDelay:        10 * time.Second,
			RetryMaxJitter:       time.Second,
			RateLimits: map[string]int{
				"completion":     10,
				"explanation":    5,
				"optimization":   5,
				"hint":           15,
				DefaultBudgetKey: 20,
			},
			RateWindow:           60 * time.Second,
			ContextCacheSize:     10,
			ContextCacheTTL:      30 * time.Minute,
			MaxCodeLength:        50000,
			MaxTitleLength:       500,
			MaxDescriptionLength: 20000,
			AllowedLanguages: []string{
				"c", "cpp", "csharp", "go", "java", "javascript", "kotlin", "php",
				"python", "ruby", "rust", "scala", "sql", "swift", "typescript",
			},
			QueueSize:     64,
			SweepInterval: time.Minute,
		},
		Provider: ProviderConfig{
			Name:           "grpc",
			Timeout:        30 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "./data/audit.db",
			Retention:     7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
	}
}

// Load builds configuration from defaults, the optional TOML file named by
// CODETUTOR_CONFIG_FILE, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CODETUTOR_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.MaxRequestBodySize = int64(getEnvInt("MAX_REQUEST_BODY_SIZE", int(c.MaxRequestBodySize)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	t := &c.Tutor
	t.MaxHintLevel = getEnvInt("MAX_HINT_LEVEL", t.MaxHintLevel)
	t.SessionTTL = getEnvDuration("HINT_SESSION_TTL", t.SessionTTL)
	t.MaxSessionsPerSource = getEnvInt("MAX_SESSIONS_PER_SOURCE", t.MaxSessionsPerSource)
	t.MaxRetries = getEnvInt("MAX_RETRIES", t.MaxRetries)
	t.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", t.RetryBaseDelay)
	t.RetryMaxDelay = getEnvDuration("RETRY_MAX_DELAY", t.RetryMaxDelay)
	t.RetryMaxJitter = getEnvDuration("RETRY_MAX_JITTER", t.RetryMaxJitter)
	t.ContextCacheSize = getEnvInt("CONTEXT_CACHE_SIZE", t.ContextCacheSize)
	t.MaxCodeLength = getEnvInt("MAX_CODE_LENGTH", t.MaxCodeLength)
	t.QueueSize = getEnvInt("QUEUE_SIZE", t.QueueSize)
	t.SweepInterval = getEnvDuration("SWEEP_INTERVAL", t.SweepInterval)
	t.RateWindow = getEnvDuration("RATE_LIMIT_WINDOW", t.RateWindow)
	for _, key := range append(classNames(), DefaultBudgetKey) {
		env := "RATE_LIMIT_" + strings.ToUpper(key)
		if _, ok := os.LookupEnv(env); ok {
			t.RateLimits[key] = getEnvInt(env, t.RateLimits[key])
		}
	}

	c.Provider.Addr = getEnv("PROVIDER_GRPC_ADDR", c.Provider.Addr)
	c.Provider.Name = getEnv("PROVIDER_NAME", c.Provider.Name)
	c.Provider.APIKey = getEnv("PROVIDER_API_KEY", c.Provider.APIKey)
	c.Provider.Timeout = getEnvDuration("PROVIDER_TIMEOUT", c.Provider.Timeout)

	c.Audit.Enabled = getEnvBool("AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.DBPath = getEnv("AUDIT_DB_PATH", c.Audit.DBPath)
	c.Audit.Retention = getEnvDuration("AUDIT_RETENTION", c.Audit.Retention)
}

// Validate checks that all configuration fields are usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	t := c.Tutor
	if t.MaxHintLevel <= 0 {
		return fmt.Errorf("MAX_HINT_LEVEL must be > 0")
	}
	if t.SessionTTL <= 0 {
		return fmt.Errorf("HINT_SESSION_TTL must be > 0")
	}
	if t.MaxSessionsPerSource <= 0 {
		return fmt.Errorf("MAX_SESSIONS_PER_SOURCE must be > 0")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if t.RetryBaseDelay <= 0 || t.RetryMaxDelay < t.RetryBaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be > 0 and <= RETRY_MAX_DELAY")
	}
	if t.RetryMaxJitter < 0 {
		return fmt.Errorf("RETRY_MAX_JITTER cannot be negative")
	}
	if t.RateWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	for key, n := range t.RateLimits {
		if _, ok := domain.ParseRequestClass(key); !ok && key != DefaultBudgetKey {
			return fmt.Errorf("unknown rate limit class %q", key)
		}
		if n <= 0 {
			return fmt.Errorf("rate limit for %s must be > 0", key)
		}
	}
	if _, ok := t.RateLimits[DefaultBudgetKey]; !ok {
		return fmt.Errorf("a %q rate limit is required", DefaultBudgetKey)
	}
	if t.ContextCacheSize <= 0 {
		return fmt.Errorf("CONTEXT_CACHE_SIZE must be > 0")
	}
	if t.MaxCodeLength <= 0 || t.MaxTitleLength <= 0 || t.MaxDescriptionLength <= 0 {
		return fmt.Errorf("field length limits must be > 0")
	}
	if t.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be > 0")
	}
	if t.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL cannot be negative")
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("AUDIT_DB_PATH cannot be empty when auditing is enabled")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
}

func classNames() []string {
	classes := domain.Classes()
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.String()
	}
	return names
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

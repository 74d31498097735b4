package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// duration decodes TOML strings such as "30s" or "15m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// fileConfig mirrors the optional TOML file. Pointer fields distinguish an
// absent key from an explicit zero.
type fileConfig struct {
	Server struct {
		Port               *string  `toml:"port"`
		AllowedOrigins     []string `toml:"allowed_origins"`
		MaxRequestBodySize *int64   `toml:"max_request_body_size"`
		LogLevel           *string  `toml:"log_level"`
	} `toml:"server"`

	Hint struct {
		MaxLevel             *int      `toml:"max_level"`
		SessionTTL           *duration `toml:"session_ttl"`
		MaxSessionsPerSource *int      `toml:"max_sessions_per_source"`
	} `toml:"hint"`

	Retry struct {
		MaxRetries *int      `toml:"max_retries"`
		BaseDelay  *duration `toml:"base_delay"`
		MaxDelay   *duration `toml:"max_delay"`
		MaxJitter  *duration `toml:"max_jitter"`
	} `toml:"retry"`

	RateLimits struct {
		Window  *duration      `toml:"window"`
		Budgets map[string]int `toml:"budgets"`
	} `toml:"rate_limits"`

	Gateway struct {
		ContextCacheSize     *int      `toml:"context_cache_size"`
		ContextCacheTTL      *duration `toml:"context_cache_ttl"`
		MaxCodeLength        *int      `toml:"max_code_length"`
		MaxTitleLength       *int      `toml:"max_title_length"`
		MaxDescriptionLength *int      `toml:"max_description_length"`
		AllowedLanguages     []string  `toml:"allowed_languages"`
		QueueSize            *int      `toml:"queue_size"`
		SweepInterval        *duration `toml:"sweep_interval"`
	} `toml:"gateway"`

	Provider struct {
		Addr           *string   `toml:"grpc_addr"`
		Name           *string   `toml:"name"`
		Timeout        *duration `toml:"timeout"`
		ConnectTimeout *duration `toml:"connect_timeout"`
	} `toml:"provider"`

	Audit struct {
		Enabled       *bool     `toml:"enabled"`
		DBPath        *string   `toml:"db_path"`
		Retention     *duration `toml:"retention"`
		PurgeInterval *duration `toml:"purge_interval"`
	} `toml:"audit"`
}

// applyFile overlays values from the TOML file at path. The provider API key
// is only read from the environment.
func (c *Config) applyFile(path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	setString(&c.Port, fc.Server.Port)
	setList(&c.AllowedOrigins, fc.Server.AllowedOrigins)
	if fc.Server.MaxRequestBodySize != nil {
		c.MaxRequestBodySize = *fc.Server.MaxRequestBodySize
	}
	setString(&c.LogLevel, fc.Server.LogLevel)

	t := &c.Tutor
	setInt(&t.MaxHintLevel, fc.Hint.MaxLevel)
	setDuration(&t.SessionTTL, fc.Hint.SessionTTL)
	setInt(&t.MaxSessionsPerSource, fc.Hint.MaxSessionsPerSource)

	setInt(&t.MaxRetries, fc.Retry.MaxRetries)
	setDuration(&t.RetryBaseDelay, fc.Retry.BaseDelay)
	setDuration(&t.RetryMaxDelay, fc.Retry.MaxDelay)
	setDuration(&t.RetryMaxJitter, fc.Retry.MaxJitter)

	setDuration(&t.RateWindow, fc.RateLimits.Window)
	for key, n := range fc.RateLimits.Budgets {
		t.RateLimits[key] = n
	}

	setInt(&t.ContextCacheSize, fc.Gateway.ContextCacheSize)
	setDuration(&t.ContextCacheTTL, fc.Gateway.ContextCacheTTL)
	setInt(&t.MaxCodeLength, fc.Gateway.MaxCodeLength)
	setInt(&t.MaxTitleLength, fc.Gateway.MaxTitleLength)
	setInt(&t.MaxDescriptionLength, fc.Gateway.MaxDescriptionLength)
	setList(&t.AllowedLanguages, fc.Gateway.AllowedLanguages)
	setInt(&t.QueueSize, fc.Gateway.QueueSize)
	setDuration(&t.SweepInterval, fc.Gateway.SweepInterval)

	setString(&c.Provider.Addr, fc.Provider.Addr)
	setString(&c.Provider.Name, fc.Provider.Name)
	setDuration(&c.Provider.Timeout, fc.Provider.Timeout)
	setDuration(&c.Provider.ConnectTimeout, fc.Provider.ConnectTimeout)

	if fc.Audit.Enabled != nil {
		c.Audit.Enabled = *fc.Audit.Enabled
	}
	setString(&c.Audit.DBPath, fc.Audit.DBPath)
	setDuration(&c.Audit.Retention, fc.Audit.Retention)
	setDuration(&c.Audit.PurgeInterval, fc.Audit.PurgeInterval)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = v.Duration
	}
}

func setList(dst *[]string, v []string) {
	if v != nil {
		*dst = v
	}
}

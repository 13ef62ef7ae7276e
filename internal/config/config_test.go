package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/qr-redirect-service/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.App.Addr())
	assert.Equal(t, 6, cfg.ShortCode.Length)
	assert.Equal(t, 3*time.Second, cfg.Redirect.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Redirect.LocalRuleCacheTTL)
	assert.Equal(t, 10000, cfg.Redirect.LocalRuleCacheSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Geo.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.PasswordWindow)
	assert.EqualValues(t, 1000000, cfg.Bloom.Capacity)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("GEO_PROVIDER", "none")
	t.Setenv("SCAN_WORKERS", "8")
	t.Setenv("REDIRECT_TIMEOUT", "1500ms")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "none", cfg.Geo.Provider)
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Redirect.Timeout)
}

func TestLoadRejectsZeroRedirectTimeout(t *testing.T) {
	t.Setenv("REDIRECT_TIMEOUT", "0")

	_, err := config.Load()
	assert.ErrorContains(t, err, "REDIRECT_TIMEOUT")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Storage:   config.StorageConfig{Driver: "sqlite"},
			Geo:       config.GeoConfig{Provider: "ipapi", Timeout: 300 * time.Millisecond},
			ShortCode: config.ShortCodeConfig{Length: 6, MaxLength: 12},
			Scan:      config.ScanConfig{Workers: 1, JobTimeout: 5 * time.Second},
			Redirect:  config.RedirectConfig{Timeout: 3 * time.Second},
			Redis:     config.RedisConfig{Enabled: true},
			RateLimit: config.RateLimitConfig{
				Requests:         100,
				Duration:         time.Minute,
				PasswordAttempts: 5,
				PasswordWindow:   15 * time.Minute,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"valid", func(*config.Config) {}, true},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "oracle" }, false},
		{"mysql without dsn", func(c *config.Config) { c.Storage.Driver = "mysql" }, false},
		{"mysql with dsn", func(c *config.Config) { c.Storage.Driver = "mysql"; c.Storage.MySQLDSN = "u:p@tcp(db)/qr" }, true},
		{"unknown geo provider", func(c *config.Config) { c.Geo.Provider = "oracle" }, false},
		{"code too short", func(c *config.Config) { c.ShortCode.Length = 4 }, false},
		{"max above 12", func(c *config.Config) { c.ShortCode.MaxLength = 16 }, false},
		{"length above max", func(c *config.Config) { c.ShortCode.Length = 10; c.ShortCode.MaxLength = 8 }, false},
		{"no workers", func(c *config.Config) { c.Scan.Workers = 0 }, false},
		{"zero redirect timeout", func(c *config.Config) { c.Redirect.Timeout = 0 }, false},
		{"zero scan job timeout", func(c *config.Config) { c.Scan.JobTimeout = 0 }, false},
		{"zero geo timeout", func(c *config.Config) { c.Geo.Timeout = 0 }, false},
		{"zero rate limit", func(c *config.Config) { c.RateLimit.Requests = 0 }, false},
		{"zero password attempts", func(c *config.Config) { c.RateLimit.PasswordAttempts = 0 }, false},
		{"rate limit ignored without redis", func(c *config.Config) { c.Redis.Enabled = false; c.RateLimit.Requests = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

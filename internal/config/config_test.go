package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("does-not-exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, "seekerd.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, 20, cfg.Defaults.Settings.MaxDailyOutreach)
	assert.Equal(t, "09:00", cfg.Defaults.Settings.WorkingHours.Start)
	assert.Len(t, cfg.Credits.Packages, 3)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: custom.db
scheduler:
  tick_interval: 30s
defaults:
  temperature: 0.9
  settings:
    max_daily_outreach: 7
    cooldown_period_days: 5
    working_hours:
      enabled: true
      start: "08:00"
      end: "17:00"
      timezone: Europe/Berlin
credits:
  low_threshold: 2
  packages:
    - id: small
      name: Small
      credits: 10
      price: 4.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.InDelta(t, 0.9, cfg.Defaults.Temperature, 1e-9)
	assert.Equal(t, 7, cfg.Defaults.Settings.MaxDailyOutreach)
	assert.Equal(t, "Europe/Berlin", cfg.Defaults.Settings.WorkingHours.Timezone)
	pkg, ok := cfg.Package("small")
	require.True(t, ok)
	assert.Equal(t, 10, pkg.Credits)
	_, ok = cfg.Package("pro")
	assert.False(t, ok, "packages list is replaced, not merged")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SEEKERD_DB_PATH", "env.db")
	t.Setenv("SEEKERD_LOG_LEVEL", "debug")
	t.Setenv("SEEKERD_ADDR", ":9999")
	t.Setenv("SEEKERD_JWT_SECRET", "s3cret")

	cfg, err := Load("missing.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero tick", func(c *Config) { c.Scheduler.TickInterval = 0 }},
		{"temperature above one", func(c *Config) { c.Defaults.Temperature = 1.5 }},
		{"negative cap", func(c *Config) { c.Defaults.Settings.MaxDailyOutreach = -1 }},
		{"negative cooldown", func(c *Config) { c.Defaults.Settings.CooldownPeriodDays = -2 }},
		{"duplicate package", func(c *Config) {
			c.Credits.Packages = append(c.Credits.Packages, c.Credits.Packages[0])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, validate(&cfg))
		})
	}

	cfg := defaultConfig()
	assert.NoError(t, validate(&cfg))
}

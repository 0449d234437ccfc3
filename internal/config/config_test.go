package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	upkeeperrors "upkeep/internal/errors"
)

func TestLoadOrCreate_WritesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "upkeep", DefaultConfigFileName)

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(filepath.Dir(path), DefaultDBName), cfg.DBPath)
	assert.Equal(t, 12, cfg.Scheduler.LookaheadMonths)
	assert.Equal(t, 48, cfg.Scheduler.MaxIterations)
	assert.Equal(t, "g", cfg.Keys.RunScheduler)
	require.NoError(t, cfg.Validate())

	again, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadOrCreate_PartialFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFileName)
	content := `
db_path = "/var/lib/upkeep/data.db"
account = "home"

[scheduler]
lookahead_months = 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/upkeep/data.db", cfg.DBPath)
	assert.Equal(t, "home", cfg.Account)
	assert.Equal(t, 6, cfg.Scheduler.LookaheadMonths)
	assert.Equal(t, 48, cfg.Scheduler.MaxIterations)
	assert.Equal(t, "open", cfg.DefaultFilter)
	assert.Equal(t, "q", cfg.Keys.Quit)
}

func TestLoadOrCreate_BadTOML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), DefaultConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("db_path = "), 0o644))

	_, err := LoadOrCreate(path)
	assert.True(t, upkeeperrors.HasCode(err, upkeeperrors.CodeConfigInvalid))
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("UPKEEP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	assert.Equal(t, "/explicit.toml", ResolveConfigPath("/explicit.toml"))
	assert.Equal(t, filepath.Join("/xdg", "upkeep", "config.toml"), ResolveConfigPath(""))

	t.Setenv("UPKEEP_CONFIG", "/env.toml")
	assert.Equal(t, "/env.toml", ResolveConfigPath(""))
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("UPKEEP_ACCOUNT", "garage")
	t.Setenv("UPKEEP_SCHEDULER_LOOKAHEAD_MONTHS", "24")

	cfg := defaultConfig()
	v := viper.New()
	v.Set("db_path", "/tmp/flag.db")
	cfg.ApplyOverrides(v)

	assert.Equal(t, "garage", cfg.Account)
	assert.Equal(t, 24, cfg.Scheduler.LookaheadMonths)
	assert.Equal(t, "/tmp/flag.db", cfg.DBPath)
	assert.Equal(t, 48, cfg.Scheduler.MaxIterations)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown dialect", func(c *Config) { c.DBDialect = "mysql" }, "db_dialect"},
		{"postgres without dsn", func(c *Config) { c.DBDialect = "postgres" }, "db_dsn"},
		{"zero lookahead", func(c *Config) { c.Scheduler.LookaheadMonths = 0 }, "scheduler.lookahead_months"},
		{"zero iterations", func(c *Config) { c.Scheduler.MaxIterations = -1 }, "scheduler.max_iterations"},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"bad filter", func(c *Config) { c.DefaultFilter = "some" }, "default_filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, upkeeperrors.HasCode(err, upkeeperrors.CodeConfigInvalid))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	pg := defaultConfig()
	pg.DBDialect = "postgres"
	pg.DBDSN = "postgres://localhost/upkeep"
	assert.NoError(t, pg.Validate())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

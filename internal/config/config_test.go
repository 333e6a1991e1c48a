package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/trophyctl/internal/config"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	return writeConfigAs(t, "trophyctl.toml", content)
}

func writeConfigAs(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfigFormatFollowsExtension(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "trophyctl.yaml", "mode: sport\nwindow_size: 9\n"},
		{"json", "trophyctl.json", `{"mode": "sport", "window_size": 9}`},
		{"toml", "trophyctl.toml", "mode = \"sport\"\nwindow_size = 9\n"},
		{"no extension", "trophyctl", "mode = \"sport\"\nwindow_size = 9\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigAs(t, tt.file, tt.content)

			cfg, err := config.Load([]string{"--config", path})
			require.NoError(t, err)
			assert.Equal(t, "sport", cfg.Mode)
			assert.Equal(t, 9, cfg.WindowSize)
		})
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
interval = "5s"
log_level = "debug"
listen = "127.0.0.1:9000"
mode = "snow"
window_size = 8
seed = 42

[history]
enabled = true
db_path = "/tmp/history.db"

[redis]
addr = "localhost:6379"
ttl = "30s"
`)
	t.Setenv("TROPHYCTL_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "snow", cfg.Mode)
	assert.Equal(t, 8, cfg.WindowSize)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/tmp/history.db", cfg.History.DBPath)
	assert.Equal(t, config.DefaultBatchSize, cfg.History.BatchSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, config.DefaultRedisPrefix, cfg.Redis.Prefix)

	// Collections fall back to the built-in truck.
	assert.Len(t, cfg.Sources, len(config.Default().Sources))
	assert.Len(t, cfg.Modes, len(config.Default().Modes))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TROPHYCTL_CONFIG", "")

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultInterval, cfg.Interval)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.Equal(t, config.DefaultWindowSize, cfg.WindowSize)
	assert.False(t, cfg.History.Enabled)
	assert.Empty(t, cfg.Redis.Addr)
	assert.NotEmpty(t, cfg.Sources)
	assert.NotEmpty(t, cfg.Derived)
	assert.NotEmpty(t, cfg.Rules)

	flags := cfg.FlagMap()
	assert.True(t, flags["geofence"])
	assert.False(t, flags["aiPower"])
}

func TestLoadFillsSourceSeedsAndIntervals(t *testing.T) {
	path := writeConfig(t, `
interval = "3s"
seed = 7

[[sources]]
id = "speed"
min = 0.0
max = 200.0
initial = 85.0

[[sources]]
id = "torque"
min = 0.0
max = 600.0
initial = 280.0
interval = "500ms"
seed = 99
[sources.jitter]
kind = "uniform"
spread = 10.0
`)

	cfg, err := config.Load([]string{"--config", path})
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)

	speed, torque := cfg.Sources[0], cfg.Sources[1]
	assert.Equal(t, 3*time.Second, speed.Interval)
	assert.NotZero(t, speed.Seed)
	assert.Equal(t, 500*time.Millisecond, torque.Interval)
	assert.Equal(t, int64(99), torque.Seed)
	assert.Equal(t, 10.0, torque.Jitter.Spread)

	// Other collections keep their defaults when only sources are given.
	assert.Len(t, cfg.Rules, len(config.Default().Rules))
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "error"
listen = ":1"
`)

	cfg, err := config.Load([]string{
		"--config", path,
		"--log-level", "warning",
		"--history",
		"--history-db", "/tmp/other.db",
		"--redis", "redis:6379",
	})
	require.NoError(t, err)

	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, ":1", cfg.Listen)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/tmp/other.db", cfg.History.DBPath)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("TROPHYCTL_CONFIG", "")
	t.Setenv("TROPHYCTL_LOG_LEVEL", "debug")
	t.Setenv("TROPHYCTL_WINDOW_SIZE", "12")

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 12, cfg.WindowSize)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(nil, config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := config.Load([]string{"--no-such-flag"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		{
			name:   "invalid log level",
			mutate: func(c *config.Config) { c.LogLevel = "loud" },
			code:   errors.ErrInvalidLogLevel,
		},
		{
			name:   "zero interval",
			mutate: func(c *config.Config) { c.Interval = 0 },
			code:   errors.ErrInvalidInterval,
		},
		{
			name:   "zero window",
			mutate: func(c *config.Config) { c.WindowSize = 0 },
			code:   errors.ErrInvalidConfig,
		},
		{
			name: "history without path",
			mutate: func(c *config.Config) {
				c.History.Enabled = true
				c.History.DBPath = ""
			},
			code: errors.ErrInvalidConfig,
		},
		{
			name:   "duplicate source",
			mutate: func(c *config.Config) { c.Sources = append(c.Sources, c.Sources[0]) },
			code:   errors.ErrInvalidConfig,
		},
		{
			name:   "inverted bounds",
			mutate: func(c *config.Config) { c.Sources[0].Min, c.Sources[0].Max = 10, 1 },
			code:   errors.ErrInvalidConfig,
		},
		{
			name:   "unknown derived kind",
			mutate: func(c *config.Config) { c.Derived[0].Kind = "median" },
			code:   errors.ErrInvalidConfig,
		},
		{
			name:   "bad comparator",
			mutate: func(c *config.Config) { c.Rules[0].Comparator = "=>" },
			code:   errors.ErrInvalidConfig,
		},
		{
			name:   "default outside bounds",
			mutate: func(c *config.Config) { c.Modes[0].Parameters[0].Default = 10_000 },
			code:   errors.ErrInvalidConfig,
		},
		{
			name:   "unknown initial mode",
			mutate: func(c *config.Config) { c.Mode = "ludicrous" },
			code:   errors.ErrUnknownMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLogLevelIsValid(t *testing.T) {
	assert.True(t, config.LogLevelDebug.IsValid())
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/trophyctl/internal/aggregator"
	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel     = string(LogLevelInfo)
	DefaultInterval     = 2 * time.Second
	DefaultListen       = ":8480"
	DefaultWindowSize   = 5
	DefaultEnvPrefix    = "TROPHYCTL"
	DefaultHistoryDB    = "/var/lib/trophyctl/history.db"
	DefaultBatchSize    = 50
	DefaultBatchTimeout = 10
	DefaultRedisTTL     = time.Minute
	DefaultRedisPrefix  = "trophyctl"

	configName        = "trophyctl"
	defaultConfigType = "toml"
)

type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

type FlagConfig struct {
	Name    string `mapstructure:"name"`
	Enabled bool   `mapstructure:"enabled"`
}

type Config struct {
	Interval   time.Duration `mapstructure:"interval"`
	Seed       int64         `mapstructure:"seed"`
	LogLevel   string        `mapstructure:"log_level"`
	Listen     string        `mapstructure:"listen"`
	Mode       string        `mapstructure:"mode"`
	WindowSize int           `mapstructure:"window_size"`
	History    HistoryConfig `mapstructure:"history"`
	Redis      RedisConfig   `mapstructure:"redis"`

	Sources []telemetry.Config        `mapstructure:"sources"`
	Derived []aggregator.MetricConfig `mapstructure:"derived"`
	Rules   []alert.RuleConfig        `mapstructure:"rules"`
	Modes   []command.ModeConfig      `mapstructure:"modes"`
	Flags   []FlagConfig              `mapstructure:"flags"`
}

// Load reads configuration from defaults, the config file, the environment
// and the command line, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("trophyctl", pflag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("listen", DefaultListen, "HTTP listen address")
	fs.String("mode", "", "Initial mode")
	fs.Int64("seed", 0, "Base seed for the simulated sources")
	fs.Duration("interval", DefaultInterval, "Default tick interval for sources without one")
	fs.Bool("history", false, "Record readings and alerts to SQLite")
	fs.String("history-db", DefaultHistoryDB, "Path to the history database")
	fs.String("redis", "", "Redis address for the state mirror (disabled when empty)")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	bindings := map[string]string{
		"log_level":       "log-level",
		"listen":          "listen",
		"mode":            "mode",
		"seed":            "seed",
		"interval":        "interval",
		"history.enabled": "history",
		"history.db_path": "history-db",
		"redis.addr":      "redis",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if *configFlag != "" {
		path = *configFlag
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		// Format follows the extension; bare paths are read as TOML
		if filepath.Ext(path) == "" {
			v.SetConfigType(defaultConfigType)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc/trophyctl")
		v.AddConfigPath("$HOME/.config/trophyctl")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.fillCollections()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("window_size", DefaultWindowSize)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", DefaultHistoryDB)
	v.SetDefault("history.batch_size", DefaultBatchSize)
	v.SetDefault("history.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("redis.ttl", DefaultRedisTTL)
	v.SetDefault("redis.prefix", DefaultRedisPrefix)
}

// fillCollections replaces every collection the file left empty with the
// built-in truck. Collections are replaced whole, never merged.
func (c *Config) fillCollections() {
	def := Default()

	if len(c.Sources) == 0 {
		c.Sources = def.Sources
	}
	if len(c.Derived) == 0 {
		c.Derived = def.Derived
	}
	if len(c.Rules) == 0 {
		c.Rules = def.Rules
	}
	if len(c.Modes) == 0 {
		c.Modes = def.Modes
	}
	if len(c.Flags) == 0 {
		c.Flags = def.Flags
	}

	for i := range c.Sources {
		if c.Sources[i].Interval == 0 {
			c.Sources[i].Interval = c.Interval
		}
		if c.Sources[i].Seed == 0 {
			c.Sources[i].Seed = telemetry.SeedFor(c.Seed, c.Sources[i].ID)
		}
	}
}

// Validate checks the whole configuration, including every source, derived
// metric, rule and mode
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if c.WindowSize <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("window_size=%d", c.WindowSize))
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history is enabled but db_path is empty")
	}

	ids := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		if ids[s.ID] {
			return errFactory.WithData(errors.ErrInvalidConfig, "duplicate source "+s.ID)
		}
		ids[s.ID] = true
	}

	for _, d := range c.Derived {
		if _, err := d.Build(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	for _, r := range c.Rules {
		if _, err := r.Build(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	modes := make(map[string]bool, len(c.Modes))
	for _, m := range c.Modes {
		if _, err := m.Build(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		modes[m.Name] = true
	}
	if c.Mode != "" && !modes[c.Mode] {
		return errFactory.WithData(errors.ErrUnknownMode, c.Mode)
	}

	return nil
}

// FlagMap returns the declared flags with their initial values
func (c *Config) FlagMap() map[string]bool {
	out := make(map[string]bool, len(c.Flags))
	for _, f := range c.Flags {
		out[f.Name] = f.Enabled
	}

	return out
}

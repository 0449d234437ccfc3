package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	upkeeperrors "upkeep/internal/errors"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "upkeep.db"
	EnvPrefix             = "UPKEEP"
	appDir                = "upkeep"
)

type Keymap struct {
	Quit         string `toml:"quit"`
	Add          string `toml:"add"`
	Up           string `toml:"up"`
	Down         string `toml:"down"`
	Toggle       string `toml:"toggle"`
	Delete       string `toml:"delete"`
	Detail       string `toml:"detail"`
	Confirm      string `toml:"confirm"`
	Cancel       string `toml:"cancel"`
	Edit         string `toml:"edit"`
	DueForward   string `toml:"due_forward"`
	DueBack      string `toml:"due_back"`
	RunScheduler string `toml:"run_scheduler"`
	Filter       string `toml:"filter"`
}

type Scheduler struct {
	LookaheadMonths int `toml:"lookahead_months"`
	MaxIterations   int `toml:"max_iterations"`
}

type Config struct {
	DBPath        string    `toml:"db_path"`
	DBDialect     string    `toml:"db_dialect"`
	DBDSN         string    `toml:"db_dsn"`
	Account       string    `toml:"account"`
	LogLevel      string    `toml:"log_level"`
	DefaultFilter string    `toml:"default_filter"`
	Scheduler     Scheduler `toml:"scheduler"`
	Keys          Keymap    `toml:"keys"`
}

// ResolveConfigPath picks the config file: the explicit path, then
// $UPKEEP_CONFIG, then $XDG_CONFIG_HOME/upkeep, then ~/.config/upkeep.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir, DefaultConfigFileName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDir, DefaultConfigFileName)
	}
	return DefaultConfigFileName
}

// LoadOrCreate reads path, writing the defaults there first when it does not
// exist. A relative db_path is resolved against the config directory.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		cfg.DBPath = resolveDBPath(path, cfg.DBPath)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, upkeeperrors.ErrConfigInvalid(path, err.Error()).WithCause(err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	cfg.DBPath = resolveDBPath(path, cfg.DBPath)
	cfg.fillDefaults()
	return cfg, nil
}

// ApplyOverrides layers UPKEEP_* environment variables and any flags bound
// into v over the file values.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, dst := range map[string]*string{
		"db_path":        &c.DBPath,
		"db_dialect":     &c.DBDialect,
		"db_dsn":         &c.DBDSN,
		"account":        &c.Account,
		"log_level":      &c.LogLevel,
		"default_filter": &c.DefaultFilter,
	} {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet("scheduler.lookahead_months") {
		c.Scheduler.LookaheadMonths = v.GetInt("scheduler.lookahead_months")
	}
	if v.IsSet("scheduler.max_iterations") {
		c.Scheduler.MaxIterations = v.GetInt("scheduler.max_iterations")
	}
}

// Validate reports the first invalid field as CONFIG_INVALID.
func (c Config) Validate() error {
	switch strings.ToLower(c.DBDialect) {
	case "", "sqlite", "sqlite3":
		if c.DBPath == "" && c.DBDSN == "" {
			return upkeeperrors.ErrConfigInvalid("db_path", "sqlite needs db_path or db_dsn")
		}
	case "postgres", "postgresql", "pg":
		if c.DBDSN == "" {
			return upkeeperrors.ErrConfigInvalid("db_dsn", "postgres needs a connection string")
		}
	default:
		return upkeeperrors.ErrConfigInvalid("db_dialect", "must be sqlite or postgres, got "+c.DBDialect)
	}
	if c.Scheduler.LookaheadMonths < 1 {
		return upkeeperrors.ErrConfigInvalid("scheduler.lookahead_months", "must be at least 1")
	}
	if c.Scheduler.MaxIterations < 1 {
		return upkeeperrors.ErrConfigInvalid("scheduler.max_iterations", "must be at least 1")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return upkeeperrors.ErrConfigInvalid("log_level", err.Error())
	}
	switch c.DefaultFilter {
	case "all", "open", "done":
	default:
		return upkeeperrors.ErrConfigInvalid("default_filter", "must be all, open or done")
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func resolveDBPath(configPath, dbPath string) string {
	if dbPath == "" || filepath.IsAbs(dbPath) || strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}
	return filepath.Join(filepath.Dir(configPath), dbPath)
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// fillDefaults restores zero values a partial file left behind.
func (c *Config) fillDefaults() {
	d := defaultConfig()
	if c.DefaultFilter == "" {
		c.DefaultFilter = d.DefaultFilter
	}
	if c.Scheduler.LookaheadMonths == 0 {
		c.Scheduler.LookaheadMonths = d.Scheduler.LookaheadMonths
	}
	if c.Scheduler.MaxIterations == 0 {
		c.Scheduler.MaxIterations = d.Scheduler.MaxIterations
	}
	if c.Keys.RunScheduler == "" {
		c.Keys.RunScheduler = d.Keys.RunScheduler
	}
	if c.Keys.Filter == "" {
		c.Keys.Filter = d.Keys.Filter
	}
}

func defaultConfig() Config {
	return Config{
		DBPath:        DefaultDBName,
		DBDialect:     "sqlite",
		LogLevel:      "info",
		DefaultFilter: "open",
		Scheduler: Scheduler{
			LookaheadMonths: 12,
			MaxIterations:   48,
		},
		Keys: Keymap{
			Quit:         "q",
			Add:          "a",
			Up:           "k",
			Down:         "j",
			Toggle:       " ",
			Delete:       "d",
			Detail:       "enter",
			Confirm:      "enter",
			Cancel:       "esc",
			Edit:         "e",
			DueForward:   "]",
			DueBack:      "[",
			RunScheduler: "g",
			Filter:       "f",
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upkeep/internal/config"
	"upkeep/internal/maintenance"
	"upkeep/internal/storage"
)

// app is everything a command needs once config is loaded and the store is
// open. Commands must Close it.
type app struct {
	cfg     config.Config
	cfgPath string
	logger  *slog.Logger
	store   *storage.Store
	svc     *maintenance.Service
}

func openApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfgPath := config.ResolveConfigPath(opts.cfgFile)
	cfg, err := config.LoadOrCreate(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	v := viper.New()
	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("db_path", flags.Lookup("db")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("account", flags.Lookup("account")); err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	logger.Debug("config loaded", "path", cfgPath, "db", cfg.DBPath, "dialect", cfg.DBDialect)

	dialect, err := storage.ParseDialect(cfg.DBDialect)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cmd.Context(), storage.Options{
		Dialect: dialect,
		Path:    cfg.DBPath,
		DSN:     cfg.DBDSN,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("database open", "dialect", store.Dialect())

	svc := maintenance.NewService(store,
		maintenance.WithLogger(logger),
		maintenance.WithLookahead(cfg.Scheduler.LookaheadMonths),
		maintenance.WithIterationCap(cfg.Scheduler.MaxIterations))

	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger,
		store:   store,
		svc:     svc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(cmd.Context(), a)
}

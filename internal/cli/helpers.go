package cli

import (
	"context"
	"fmt"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/config"
	"github.com/glorpus-work/mofetch/pkg/download"
	"github.com/glorpus-work/mofetch/pkg/hook"
	"github.com/glorpus-work/mofetch/pkg/store"
	"github.com/glorpus-work/mofetch/pkg/transport"
	"github.com/spf13/afero"
)

// These variables will be set by the main package
var (
	ConfigPath *string
	Verbose    *bool
	NoColor    *bool
)

// loadConfig reads the configuration and applies the global flags to it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Settings.LogLevel
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level, NoColor != nil && *NoColor)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.JSONStore, error) {
	s, err := store.OpenJSONStore(ctx, cfg.Settings.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return s, nil
}

func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		Timeout:          cfg.Settings.HTTPTimeout,
		UserAgent:        cfg.Settings.UserAgent,
		Auth:             cfg.ToAuthMap(),
		ProgressInterval: cfg.Settings.ProgressInterval,
	}
}

func loadRegistry(cfg *config.Config) *transport.Registry {
	return transport.NewDefaultRegistry(transportOptions(cfg))
}

func loadHooks(cfg *config.Config) (*hook.Manager, error) {
	m := hook.NewManager()
	if err := m.LoadFile(hook.PostDownload, cfg.Hooks.PostDownload); err != nil {
		return nil, err
	}
	return m, nil
}

// loadExecutor wires the transfer executor from the configuration.
func loadExecutor(cfg *config.Config, records download.RecordStore, registry *transport.Registry) (*download.Executor, error) {
	hooks, err := loadHooks(cfg)
	if err != nil {
		return nil, err
	}
	return download.NewExecutor(download.Options{
		Fs:             afero.NewOsFs(),
		Backends:       registry,
		Store:          records,
		Dirs:           cfg,
		Hooks:          hooks,
		PreviewEnabled: cfg.PreviewEnabled(),
		PreviewMaxSize: cfg.Settings.PreviewMaxSize,
	}), nil
}

func getConfigPath() string {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath
	}

	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		logger.Warn("Failed to get default config path, using empty path", logger.Fields{"error": err})
		return ""
	}
	return defaultPath
}

// Package config provides configuration management for mofetch.
// It handles loading, validating and saving the YAML settings file that tells the
// download engine where model types live on disk, whether previews are fetched,
// how the HTTP transports behave and which credentials apply to which hosts.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/glorpus-work/mofetch/pkg/model"
	"gopkg.in/yaml.v3"
)

// EnvModelsDir overrides Settings.ModelsDir when set.
const EnvModelsDir = "MOFETCH_MODELS_DIR"

// Config represents the application configuration.
type Config struct {
	// General settings
	Settings Settings `yaml:"settings"`

	// Per-host credentials used by the HTTP transports
	Hosts []*HostConfig `yaml:"hosts,omitempty"`

	// Hook scripts
	Hooks HooksConfig `yaml:"hooks,omitempty"`
}

// HostConfig binds credentials to a remote host name.
type HostConfig struct {
	Host string      `yaml:"host"`
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// HooksConfig names the tengo scripts run around downloads.
type HooksConfig struct {
	PostDownload string `yaml:"post_download,omitempty"`
}

// Settings represents general application settings.
type Settings struct {
	// Storage settings
	ModelsDir string            `yaml:"models_dir,omitempty"`
	ModelDirs map[string]string `yaml:"model_dirs,omitempty"` // model type -> directory, relative to models_dir unless absolute
	StorePath string            `yaml:"store_path,omitempty"`

	// Preview settings
	DownloadPreview *bool `yaml:"download_preview,omitempty"`
	PreviewMaxSize  int   `yaml:"preview_max_size"`

	// Network settings
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent,omitempty"`

	// Progress settings
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	FullSnapshotEvery int           `yaml:"full_snapshot_every"`

	// Output settings
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// Default configuration values.
const (
	// DefaultHTTPTimeout bounds dialing, response headers and each body read.
	// Body transfers are bounded only by cancellation.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultPreviewMaxSize is the longest edge, in pixels, of a stored preview.
	DefaultPreviewMaxSize = 512

	// DefaultProgressInterval is the minimum spacing of progress events per transfer.
	DefaultProgressInterval = 100 * time.Millisecond

	// DefaultPollInterval is how often the CLI polls the engine state.
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultFullSnapshotEvery makes every n-th poll read the full snapshot.
	DefaultFullSnapshotEvery = 20

	// DefaultUserAgent is sent with every HTTP request.
	DefaultUserAgent = "mofetch/1.0"

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	modelsDir, err := fsutil.GetModelsDir()
	if err != nil {
		modelsDir = ""
	}
	storePath, err := fsutil.GetStorePath()
	if err != nil {
		storePath = filepath.Join(os.TempDir(), fsutil.AppName, "records.json")
	}
	preview := true

	return &Config{
		Settings: Settings{
			ModelsDir:         modelsDir,
			StorePath:         storePath,
			DownloadPreview:   &preview,
			PreviewMaxSize:    DefaultPreviewMaxSize,
			HTTPTimeout:       DefaultHTTPTimeout,
			UserAgent:         DefaultUserAgent,
			ProgressInterval:  DefaultProgressInterval,
			PollInterval:      DefaultPollInterval,
			FullSnapshotEvery: DefaultFullSnapshotEvery,
			LogLevel:          "info",
		},
	}
}

// LoadConfig loads configuration from a file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrConfigValidation, err.Error())
	}

	return &config, nil
}

// SaveConfig saves configuration to a file.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(absPath), fsutil.DirModeDefault); err != nil {
		return errors.Wrap(errors.ErrConfigDirectory, err.Error())
	}

	// credentials may live in this file
	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeSecure)
	if err != nil {
		return errors.Wrap(errors.ErrConfigFileCreate, err.Error())
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)

	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigEncode, err.Error())
	}

	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigFileRename, err.Error())
	}

	return nil
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfigEncode, err.Error())
	}
	return data, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if err := validateSettings(c.Settings); err != nil {
		return err
	}
	return validateHosts(c.Hosts)
}

func validateSettings(s Settings) error {
	if s.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout cannot be negative")
	}
	if s.ProgressInterval < 0 {
		return fmt.Errorf("progress_interval cannot be negative")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if s.FullSnapshotEvery < 1 {
		return fmt.Errorf("full_snapshot_every must be at least 1")
	}
	if s.PreviewMaxSize < 16 {
		return fmt.Errorf("preview_max_size must be at least 16 pixels")
	}
	for key := range s.ModelDirs {
		if _, err := model.ParseModelType(key); err != nil {
			return fmt.Errorf("model_dirs: %w", err)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	return nil
}

func validateHosts(hosts []*HostConfig) error {
	seen := make(map[string]bool)
	for i, h := range hosts {
		if h == nil || strings.TrimSpace(h.Host) == "" {
			return fmt.Errorf("hosts[%d]: host cannot be empty", i)
		}
		key := strings.ToLower(h.Host)
		if seen[key] {
			return fmt.Errorf("host %q is configured twice", h.Host)
		}
		seen[key] = true
	}
	return nil
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := fsutil.GetConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// PreviewEnabled reports whether preview images are downloaded.
func (c *Config) PreviewEnabled() bool {
	return c.Settings.DownloadPreview == nil || *c.Settings.DownloadPreview
}

// ModelDir returns the default download directory for records of type t.
func (c *Config) ModelDir(t model.ModelType) (string, error) {
	for key, dir := range c.Settings.ModelDirs {
		if !strings.EqualFold(key, string(t)) || dir == "" {
			continue
		}
		if filepath.IsAbs(dir) {
			return dir, nil
		}
		if c.Settings.ModelsDir == "" {
			break
		}
		return filepath.Join(c.Settings.ModelsDir, dir), nil
	}
	if c.Settings.ModelsDir == "" {
		return "", errors.Wrapf(errors.ErrDestinationUndefined, "no directory configured for %s models", t)
	}
	return filepath.Join(c.Settings.ModelsDir, t.DefaultDirName()), nil
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Settings.ModelsDir == "" {
		c.Settings.ModelsDir = defaults.Settings.ModelsDir
	}
	if c.Settings.StorePath == "" {
		c.Settings.StorePath = defaults.Settings.StorePath
	}
	if c.Settings.DownloadPreview == nil {
		c.Settings.DownloadPreview = defaults.Settings.DownloadPreview
	}
	if c.Settings.PreviewMaxSize == 0 {
		c.Settings.PreviewMaxSize = defaults.Settings.PreviewMaxSize
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = defaults.Settings.HTTPTimeout
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = defaults.Settings.UserAgent
	}
	if c.Settings.ProgressInterval == 0 {
		c.Settings.ProgressInterval = defaults.Settings.ProgressInterval
	}
	if c.Settings.PollInterval == 0 {
		c.Settings.PollInterval = defaults.Settings.PollInterval
	}
	if c.Settings.FullSnapshotEvery == 0 {
		c.Settings.FullSnapshotEvery = defaults.Settings.FullSnapshotEvery
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.Settings.LogLevel
	}
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvModelsDir); dir != "" {
		c.Settings.ModelsDir = dir
	}
}

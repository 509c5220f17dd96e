package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Settings.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, 512, cfg.Settings.PreviewMaxSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Settings.ProgressInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Settings.PollInterval)
	assert.Equal(t, 20, cfg.Settings.FullSnapshotEvery)
	assert.True(t, cfg.PreviewEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `settings:
  models_dir: /srv/models
  model_dirs:
    lora: loras
    checkpoint: /mnt/big/checkpoints
  download_preview: false
  log_level: debug
hosts:
  - host: civitai.com
    auth:
      bearer:
        token: abc
hooks:
  post_download: /etc/mofetch/post.tengo`

	err := os.WriteFile(configPath, []byte(configContent), fsutil.FileModeDefault)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/srv/models", cfg.Settings.ModelsDir)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
	assert.False(t, cfg.PreviewEnabled())
	assert.Equal(t, DefaultPreviewMaxSize, cfg.Settings.PreviewMaxSize)
	assert.Equal(t, "/etc/mofetch/post.tengo", cfg.Hooks.PostDownload)
	require.Len(t, cfg.Hosts, 1)
	assert.Equal(t, "civitai.com", cfg.Hosts[0].Host)

	dir, err := cfg.ModelDir(model.ModelTypeLora)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/models", "loras"), dir)

	dir, err = cfg.ModelDir(model.ModelTypeCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/big/checkpoints", dir)

	dir, err = cfg.ModelDir(model.ModelTypeVAE)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/models", "VAE"), dir)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Settings.PreviewMaxSize, cfg.Settings.PreviewMaxSize)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvModelsDir, "/from/env")

	cfg, err := LoadConfigFromReader(strings.NewReader("settings:\n  models_dir: /from/file\n"))
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Settings.ModelsDir)
}

func TestLoadConfigFromReaderInvalid(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("settings: ["))
	assert.ErrorIs(t, err, errors.ErrConfigParse)

	_, err = LoadConfigFromReader(strings.NewReader("settings:\n  log_level: loud\n"))
	assert.ErrorIs(t, err, errors.ErrConfigValidation)
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.LogLevel = "debug"
	cfg.Settings.ModelsDir = "/srv/models"
	cfg.Hosts = []*HostConfig{{Host: "example.com", Auth: &AuthConfig{BearerAuth: &BearerAuth{Token: "t"}}}}

	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, cfg.SaveConfig(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	_, err = os.Stat(configPath + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "debug", loadedCfg.Settings.LogLevel)
	assert.Equal(t, "/srv/models", loadedCfg.Settings.ModelsDir)
	require.Len(t, loadedCfg.Hosts, 1)
	assert.Equal(t, "t", loadedCfg.Hosts[0].Auth.BearerAuth.Token)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Settings.HTTPTimeout = -time.Second },
			wantErr: true,
			errMsg:  "http_timeout",
		},
		{
			name:    "tiny preview",
			mutate:  func(c *Config) { c.Settings.PreviewMaxSize = 4 },
			wantErr: true,
			errMsg:  "preview_max_size",
		},
		{
			name:    "unknown model type directory",
			mutate:  func(c *Config) { c.Settings.ModelDirs = map[string]string{"shader": "x"} },
			wantErr: true,
			errMsg:  "model_dirs",
		},
		{
			name: "duplicate host",
			mutate: func(c *Config) {
				c.Hosts = []*HostConfig{{Host: "a.com"}, {Host: "A.com"}}
			},
			wantErr: true,
			errMsg:  "configured twice",
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Hosts = []*HostConfig{{Host: " "}} },
			wantErr: true,
			errMsg:  "host cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestModelDirUndefined(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.ModelDir(model.ModelTypeLora)
	assert.ErrorIs(t, err, errors.ErrDestinationUndefined)

	cfg.Settings.ModelDirs = map[string]string{"Lora": "/abs/lora"}
	dir, err := cfg.ModelDir(model.ModelTypeLora)
	require.NoError(t, err)
	assert.Equal(t, "/abs/lora", dir)
}

func TestSetGetValue(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.SetValue("download_preview", "false"))
	require.NoError(t, cfg.SetValue("http_timeout", "1m"))
	require.NoError(t, cfg.SetValue("preview_max_size", "256"))

	v, err := cfg.GetValue("download_preview")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	v, err = cfg.GetValue("http_timeout")
	require.NoError(t, err)
	assert.Equal(t, "1m0s", v)

	assert.Error(t, cfg.SetValue("download_preview", "maybe"))
	assert.Error(t, cfg.SetValue("nope", "x"))
	_, err = cfg.GetValue("nope")
	assert.Error(t, err)

	m := cfg.ToMap()
	assert.Equal(t, "256", m["preview_max_size"])
	assert.Equal(t, "false", m["download_preview"])
	assert.Equal(t, "1m0s", m["http_timeout"])
}

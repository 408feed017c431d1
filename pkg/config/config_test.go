package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covcorr/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.25, cfg.Processing.ScaleFactor)
	assert.Equal(t, 60, cfg.Processing.MaxLag)
	assert.Equal(t, 1, cfg.Processing.Workers)
	assert.Positive(t, cfg.Processing.NumCores)
	assert.True(t, cfg.Output.Plots)
	assert.Equal(t, "info", cfg.Output.LogLevel)
	assert.Empty(t, cfg.Data.Folder)
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Processing.ScaleFactor, cfg.Processing.ScaleFactor)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Processing.MaxLag)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "covcorr.yaml")
	cfg := DefaultConfig()
	cfg.Data.Folder = "/data/experiment"
	cfg.Data.ReferenceChannel = "actin"
	cfg.Processing.ScaleFactor = 0.5
	cfg.Processing.MaxLag = 10
	cfg.Output.Plots = false

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covcorr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  maxLag: 5\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Processing.MaxLag)
	assert.Equal(t, 0.25, cfg.Processing.ScaleFactor)
	assert.True(t, cfg.Output.Plots)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covcorr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing: [unclosed"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covcorr.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnvFromFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "COVCORR_DATA_FOLDER=/srv/data\n" +
		"COVCORR_SCALE_FACTOR=0.5\n" +
		"COVCORR_MAX_LAG=12\n" +
		"COVCORR_PLOTS=false\n" +
		"COVCORR_WORKERS=3\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))
	t.Setenv(EnvMaxLag, "7")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envFile))

	assert.Equal(t, "/srv/data", cfg.Data.Folder)
	assert.Equal(t, 0.5, cfg.Processing.ScaleFactor)
	assert.Equal(t, 7, cfg.Processing.MaxLag, "process environment wins over the file")
	assert.Equal(t, 3, cfg.Processing.Workers)
	assert.False(t, cfg.Output.Plots)
}

func TestApplyEnvMissingFileIgnored(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), ".env")))
	assert.Equal(t, DefaultConfig().Processing, cfg.Processing)
}

func TestApplyEnvInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		EnvScaleFactor: "quarter",
		EnvMaxLag:      "ten",
		EnvPlots:       "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			err := DefaultConfig().ApplyEnv("")
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindConfiguration))
		})
	}
}

func TestRunConfigDefaults(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "actin")
	require.NoError(t, os.Mkdir(data, 0755))

	cfg := DefaultConfig()
	cfg.Data.Folder = data
	rc, err := cfg.RunConfig()
	require.NoError(t, err)

	assert.Equal(t, data, rc.DataFolder)
	assert.Equal(t, "actin", rc.ReferenceChannel)
	assert.Equal(t, root, rc.OutputRoot)
	assert.Equal(t, 0.25, rc.ScaleFactor)
	assert.Equal(t, 60, rc.MaxLag)
	assert.Equal(t, 1, rc.Workers)
	assert.True(t, rc.Plots)
}

func TestRunConfigValidation(t *testing.T) {
	data := t.TempDir()
	file := filepath.Join(data, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no folder", func(c *Config) { c.Data.Folder = "" }},
		{"missing folder", func(c *Config) { c.Data.Folder = filepath.Join(data, "nope") }},
		{"folder is a file", func(c *Config) { c.Data.Folder = file }},
		{"scale zero", func(c *Config) { c.Processing.ScaleFactor = 0 }},
		{"scale one", func(c *Config) { c.Processing.ScaleFactor = 1 }},
		{"scale above one", func(c *Config) { c.Processing.ScaleFactor = 2 }},
		{"negative lag", func(c *Config) { c.Processing.MaxLag = -1 }},
		{"no workers", func(c *Config) { c.Processing.Workers = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Data.Folder = data
			tc.mutate(cfg)
			_, err := cfg.RunConfig()
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindConfiguration))
		})
	}
}

// Package config provides configuration loading and management for covcorr.
// It handles loading configuration from YAML files and .env files and
// resolves the immutable RunConfig handed to the batch orchestrator.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"covcorr/internal/models"
)

// Environment variables read by ApplyEnv
const (
	EnvDataFolder       = "COVCORR_DATA_FOLDER"
	EnvReferenceChannel = "COVCORR_REFERENCE_CHANNEL"
	EnvOutputRoot       = "COVCORR_OUTPUT_ROOT"
	EnvScaleFactor      = "COVCORR_SCALE_FACTOR"
	EnvMaxLag           = "COVCORR_MAX_LAG"
	EnvWorkers          = "COVCORR_WORKERS"
	EnvNumCores         = "COVCORR_NUM_CORES"
	EnvPlots            = "COVCORR_PLOTS"
	EnvLogLevel         = "COVCORR_LOG_LEVEL"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input and output locations
	Data struct {
		// Folder is the data root; every sub-directory is one channel
		Folder string `yaml:"folder"`

		// ReferenceChannel names the channel whose CoV is plotted on the
		// x axis. Empty means the base name of Folder.
		ReferenceChannel string `yaml:"referenceChannel"`

		// OutputRoot receives the corr_<image> directories.
		// Empty means the parent of Folder.
		OutputRoot string `yaml:"outputRoot"`
	} `yaml:"data"`

	// Processing parameters
	Processing struct {
		// ScaleFactor shrinks images before the statistics are computed
		ScaleFactor float64 `yaml:"scaleFactor"`

		// MaxLag is the largest temporal offset, in frames
		MaxLag int `yaml:"maxLag"`

		// Workers is the number of images processed concurrently
		Workers int `yaml:"workers"`

		// NumCores is the number of goroutines used inside one computation
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Plots enables the scatter figures
		Plots bool `yaml:"plots"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// RunConfig is the resolved, validated parameter set of one batch run
type RunConfig struct {
	DataFolder       string
	ReferenceChannel string
	OutputRoot       string
	ScaleFactor      float64
	MaxLag           int
	Workers          int
	NumCores         int
	Plots            bool
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.ScaleFactor = 0.25
	cfg.Processing.MaxLag = 60
	cfg.Processing.Workers = 1
	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Output.Plots = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, models.Wrap(models.KindConfiguration, "parse "+configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// ApplyEnv overrides fields from COVCORR_* variables. Variables already
// set in the process environment win over those read from envFile; a
// missing envFile is ignored.
func (c *Config) ApplyEnv(envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return models.Wrap(models.KindConfiguration, "read "+envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	if v, ok := lookup(EnvDataFolder); ok {
		c.Data.Folder = v
	}
	if v, ok := lookup(EnvReferenceChannel); ok {
		c.Data.ReferenceChannel = v
	}
	if v, ok := lookup(EnvOutputRoot); ok {
		c.Data.OutputRoot = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Output.LogLevel = v
	}
	if v, ok := lookup(EnvScaleFactor); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return models.Errorf(models.KindConfiguration, EnvScaleFactor, "invalid number %q", v)
		}
		c.Processing.ScaleFactor = f
	}
	for _, iv := range []struct {
		key string
		dst *int
	}{
		{EnvMaxLag, &c.Processing.MaxLag},
		{EnvWorkers, &c.Processing.Workers},
		{EnvNumCores, &c.Processing.NumCores},
	} {
		v, ok := lookup(iv.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.Errorf(models.KindConfiguration, iv.key, "invalid integer %q", v)
		}
		*iv.dst = n
	}
	if v, ok := lookup(EnvPlots); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return models.Errorf(models.KindConfiguration, EnvPlots, "invalid boolean %q", v)
		}
		c.Output.Plots = b
	}
	return nil
}

// RunConfig resolves defaults that depend on the data folder and validates
// every parameter. Any problem is a configuration error.
func (c *Config) RunConfig() (RunConfig, error) {
	const op = "config"
	if c.Data.Folder == "" {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "data folder is not set")
	}
	folder, err := filepath.Abs(c.Data.Folder)
	if err != nil {
		return RunConfig{}, models.Wrap(models.KindConfiguration, op, err)
	}
	info, err := os.Stat(folder)
	if err != nil {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "data folder %s: %v", folder, err)
	}
	if !info.IsDir() {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "data folder %s is not a directory", folder)
	}

	s := c.Processing.ScaleFactor
	if !(s > 0 && s < 1) {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "scale factor %v must be in (0, 1)", s)
	}
	if c.Processing.MaxLag < 0 {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "max lag %d must not be negative", c.Processing.MaxLag)
	}
	if c.Processing.Workers < 1 {
		return RunConfig{}, models.Errorf(models.KindConfiguration, op, "workers %d must be at least 1", c.Processing.Workers)
	}

	rc := RunConfig{
		DataFolder:       folder,
		ReferenceChannel: c.Data.ReferenceChannel,
		OutputRoot:       c.Data.OutputRoot,
		ScaleFactor:      s,
		MaxLag:           c.Processing.MaxLag,
		Workers:          c.Processing.Workers,
		NumCores:         c.Processing.NumCores,
		Plots:            c.Output.Plots,
	}
	if rc.ReferenceChannel == "" {
		rc.ReferenceChannel = filepath.Base(folder)
	}
	if rc.OutputRoot == "" {
		rc.OutputRoot = filepath.Dir(folder)
	}
	if rc.NumCores < 1 {
		rc.NumCores = runtime.NumCPU()
	}
	return rc, nil
}

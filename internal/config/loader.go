package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when the
// file does not exist. Environment variables with the PAGELIFT_ prefix
// override file values.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		configPath = filepath.Join(defaultProjectDir(), "pagelift.json")
	}

	cfg := DefaultConfig()

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("PAGELIFT")
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyDirDefaults(cfg)

	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("GOOGLE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		configPath = filepath.Join(defaultProjectDir(), "pagelift.json")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("project_dir", cfg.ProjectDir)
	v.Set("input_dir", cfg.InputDir)
	v.Set("output_dir", cfg.OutputDir)
	v.Set("memory_dir", cfg.MemoryDir)
	v.Set("obs_dir", cfg.ObsDir)
	v.Set("model", cfg.Model)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("retry", cfg.Retry)
	v.Set("eval", cfg.Eval)
	v.Set("compaction", cfg.Compaction)
	v.Set("logging", cfg.Logging)
	v.Set("control", cfg.Control)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyDirDefaults fills in directory paths relative to the project dir
func applyDirDefaults(cfg *Config) {
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = defaultProjectDir()
	}
	if cfg.InputDir == "" {
		cfg.InputDir = filepath.Join(cfg.ProjectDir, "input")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.ProjectDir, "output")
	}
	if cfg.MemoryDir == "" {
		cfg.MemoryDir = filepath.Join(cfg.ProjectDir, "memory")
	}
	if cfg.ObsDir == "" {
		cfg.ObsDir = filepath.Join(cfg.ProjectDir, "observability")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.ObsDir, "pagelift.log")
	}
}

func defaultProjectDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// EnsureDirs creates the project directories if missing
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.InputDir, c.OutputDir, c.MemoryDir, c.ObsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

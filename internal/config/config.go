package config

import (
	"fmt"
	"time"
)

// Config represents the main Pagelift configuration
type Config struct {
	// Project directories
	ProjectDir string `json:"project_dir" mapstructure:"project_dir"`
	InputDir   string `json:"input_dir" mapstructure:"input_dir"`
	OutputDir  string `json:"output_dir" mapstructure:"output_dir"`
	MemoryDir  string `json:"memory_dir" mapstructure:"memory_dir"`
	ObsDir     string `json:"obs_dir" mapstructure:"obs_dir"`

	// Model
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Pipeline
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Retry policy for work-stage invocations
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Aggregation pass policy
	Eval EvalConfig `json:"eval" mapstructure:"eval"`

	// Payload compaction
	Compaction CompactionConfig `json:"compaction" mapstructure:"compaction"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Control server
	Control ControlConfig `json:"control" mapstructure:"control"`
}

// ModelConfig holds the upstream model configuration
type ModelConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// PipelineConfig holds run scheduling configuration
type PipelineConfig struct {
	MaxConcurrentMigrations int    `json:"max_concurrent_migrations" mapstructure:"max_concurrent_migrations"`
	PagePattern             string `json:"page_pattern" mapstructure:"page_pattern"`
}

// RetryConfig holds the executor's retry and backoff policy
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay" mapstructure:"base_delay"`
	TransientGrowth   float64       `json:"transient_growth" mapstructure:"transient_growth"`
	QuotaInitialDelay time.Duration `json:"quota_initial_delay" mapstructure:"quota_initial_delay"`
	QuotaGrowth       float64       `json:"quota_growth" mapstructure:"quota_growth"`
}

// EvalConfig holds the aggregation pass policy
type EvalConfig struct {
	MaxAttempts    int           `json:"max_attempts" mapstructure:"max_attempts"`
	QuotaDelay     time.Duration `json:"quota_delay" mapstructure:"quota_delay"`
	QuotaGrowth    float64       `json:"quota_growth" mapstructure:"quota_growth"`
	OverloadGrowth float64       `json:"overload_growth" mapstructure:"overload_growth"`
	SuccessScore   float64       `json:"success_score" mapstructure:"success_score"`
	DeferredScore  float64       `json:"deferred_score" mapstructure:"deferred_score"`
}

// CompactionConfig bounds payload sizes before stage invocation
type CompactionConfig struct {
	MaxChars     int `json:"max_chars" mapstructure:"max_chars"`
	MaxListItems int `json:"max_list_items" mapstructure:"max_list_items"`
}

// LoggingConfig holds process logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// ControlConfig holds control server configuration
type ControlConfig struct {
	Port   int    `json:"port" mapstructure:"port"`
	Host   string `json:"host" mapstructure:"host"`
	Secret string `json:"secret,omitempty" mapstructure:"secret"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: "gemini-2.5-flash-lite",
		},
		Pipeline: PipelineConfig{
			MaxConcurrentMigrations: 2,
			PagePattern:             "*.xhtml",
		},
		Retry: RetryConfig{
			MaxAttempts:       4,
			BaseDelay:         5 * time.Second,
			TransientGrowth:   2.0,
			QuotaInitialDelay: 30 * time.Second,
			QuotaGrowth:       1.5,
		},
		Eval: EvalConfig{
			MaxAttempts:    5,
			QuotaDelay:     30 * time.Second,
			QuotaGrowth:    2.0,
			OverloadGrowth: 1.5,
			SuccessScore:   9.0,
			DeferredScore:  5.0,
		},
		Compaction: CompactionConfig{
			MaxChars:     4000,
			MaxListItems: 50,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Control: ControlConfig{
			Port: 8742,
			Host: "127.0.0.1",
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Pipeline.MaxConcurrentMigrations < 1 {
		return fmt.Errorf("pipeline.max_concurrent_migrations must be >= 1, got %d", c.Pipeline.MaxConcurrentMigrations)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.TransientGrowth < 1 || c.Retry.QuotaGrowth < 1 {
		return fmt.Errorf("retry growth factors must be >= 1")
	}
	if c.Eval.MaxAttempts < 1 {
		return fmt.Errorf("eval.max_attempts must be >= 1, got %d", c.Eval.MaxAttempts)
	}
	if c.Control.Port < 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port out of range: %d", c.Control.Port)
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

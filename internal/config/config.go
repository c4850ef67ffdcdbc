// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Sandbox    SandboxConfig    `yaml:"sandbox" mapstructure:"sandbox"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the version store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds oracle API settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// EvaluationConfig holds the fixed scoring policy. Weights must sum to 1.
type EvaluationConfig struct {
	PreferenceWeight    float64 `yaml:"preference_weight" mapstructure:"preference_weight"`
	FactualityWeight    float64 `yaml:"factuality_weight" mapstructure:"factuality_weight"`
	ConstraintWeight    float64 `yaml:"constraint_weight" mapstructure:"constraint_weight"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold" mapstructure:"acceptance_threshold"`
	FactualityFloor     float64 `yaml:"factuality_floor" mapstructure:"factuality_floor"`
}

// PipelineConfig configures the modification pipeline.
type PipelineConfig struct {
	MinCodeLength      int `yaml:"min_code_length" mapstructure:"min_code_length"`
	MinReasoningLength int `yaml:"min_reasoning_length" mapstructure:"min_reasoning_length"`
	OracleTimeoutSecs  int `yaml:"oracle_timeout_secs" mapstructure:"oracle_timeout_secs"`
}

// SandboxConfig configures candidate validation.
type SandboxConfig struct {
	TimeoutSecs  int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxCodeBytes int64 `yaml:"max_code_bytes" mapstructure:"max_code_bytes"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. Extra paths are
// searched for config.yaml before the working directory.
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MUTATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mutator.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.requests_per_minute", 60)
	v.SetDefault("evaluation.preference_weight", 0.5)
	v.SetDefault("evaluation.factuality_weight", 0.3)
	v.SetDefault("evaluation.constraint_weight", 0.2)
	v.SetDefault("evaluation.acceptance_threshold", 0.7)
	v.SetDefault("evaluation.factuality_floor", 0.3)
	v.SetDefault("pipeline.min_code_length", 10)
	v.SetDefault("pipeline.min_reasoning_length", 10)
	v.SetDefault("pipeline.oracle_timeout_secs", 60)
	v.SetDefault("sandbox.timeout_secs", 10)
	v.SetDefault("sandbox.max_code_bytes", 1<<20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Evaluation.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the scoring policy is internally consistent.
func (c EvaluationConfig) Validate() error {
	sum := c.PreferenceWeight + c.FactualityWeight + c.ConstraintWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return eris.Errorf("config: evaluation weights sum to %v, want 1.0", sum)
	}
	for _, w := range []float64{c.PreferenceWeight, c.FactualityWeight, c.ConstraintWeight} {
		if w < 0 {
			return eris.New("config: evaluation weights must be non-negative")
		}
	}
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1 {
		return eris.Errorf("config: acceptance threshold %v outside [0,1]", c.AcceptanceThreshold)
	}
	if c.FactualityFloor < 0 || c.FactualityFloor > 1 {
		return eris.Errorf("config: factuality floor %v outside [0,1]", c.FactualityFloor)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

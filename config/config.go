// Package config loads observagent settings from an optional YAML file and
// the environment, in that order, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/observagent/llm"
)

// Config is the full application configuration.
type Config struct {
	// Provider is the model provider, e.g. "openai" or "anthropic".
	Provider string `yaml:"provider" env:"OBSERVAGENT_PROVIDER" validate:"required"`
	// Adapter selects the client library: "eino" (OpenAI-compatible, native
	// tool calls) or "gollm" (multi-provider).
	Adapter string `yaml:"adapter" env:"OBSERVAGENT_ADAPTER" validate:"oneof=eino gollm"`
	Model   string `yaml:"model" env:"MODEL_NAME" validate:"required"`
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL" validate:"omitempty,url"`

	StepTimeout time.Duration `yaml:"step_timeout" env:"OBSERVAGENT_STEP_TIMEOUT" validate:"gte=0"`
	Retry       RetryConfig   `yaml:"retry" envPrefix:"OBSERVAGENT_RETRY_"`
	Loop        LoopConfig    `yaml:"loop" envPrefix:"OBSERVAGENT_LOOP_"`

	Researcher StageConfig `yaml:"researcher" envPrefix:"OBSERVAGENT_RESEARCHER_"`
	Analyst    StageConfig `yaml:"analyst" envPrefix:"OBSERVAGENT_ANALYST_"`
	Writer     StageConfig `yaml:"writer" envPrefix:"OBSERVAGENT_WRITER_"`

	Search SearchConfig `yaml:"search" envPrefix:"OBSERVAGENT_SEARCH_"`
	Log    LogConfig    `yaml:"log" envPrefix:"OBSERVAGENT_LOG_"`

	// TraceDB is the bbolt file ended traces are saved to. Empty disables
	// persistence.
	TraceDB string `yaml:"trace_db" env:"OBSERVAGENT_TRACE_DB"`
}

// RetryConfig mirrors llm.RetryPolicy for file and environment loading.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=0,lte=10"`
	BaseDelay         float64 `yaml:"base_delay" env:"BASE_DELAY" validate:"gte=0"`
	MaxDelay          float64 `yaml:"max_delay" env:"MAX_DELAY" validate:"gte=0"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER" validate:"gte=1"`
	Jitter            bool    `yaml:"jitter" env:"JITTER"`
}

// Policy converts c to an llm.RetryPolicy.
func (c RetryConfig) Policy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries:        c.MaxRetries,
		BaseDelay:         c.BaseDelay,
		MaxDelay:          c.MaxDelay,
		BackoffMultiplier: c.BackoffMultiplier,
		Jitter:            c.Jitter,
	}
}

// LoopConfig tunes loop detection.
type LoopConfig struct {
	ExactThreshold   int     `yaml:"exact_threshold" env:"EXACT_THRESHOLD" validate:"gte=1"`
	FuzzyThreshold   float64 `yaml:"fuzzy_threshold" env:"FUZZY_THRESHOLD" validate:"gt=0,lte=1"`
	StagnationWindow int     `yaml:"stagnation_window" env:"STAGNATION_WINDOW" validate:"gte=2"`
}

// StageConfig overrides one pipeline stage. An empty system prompt keeps
// the built-in one.
type StageConfig struct {
	MaxSteps     int    `yaml:"max_steps" env:"MAX_STEPS" validate:"gte=1,lte=100"`
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
}

// SearchConfig configures the built-in web tools.
type SearchConfig struct {
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`
	MaxPageChars int    `yaml:"max_page_chars" env:"MAX_PAGE_CHARS" validate:"gte=0"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := llm.DefaultRetryPolicy()
	return Config{
		Provider: "openai",
		Adapter:  "eino",
		Model:    "gpt-4o",
		Retry: RetryConfig{
			MaxRetries:        retry.MaxRetries,
			BaseDelay:         retry.BaseDelay,
			MaxDelay:          retry.MaxDelay,
			BackoffMultiplier: retry.BackoffMultiplier,
			Jitter:            retry.Jitter,
		},
		StepTimeout: 2 * time.Minute,
		Loop:        LoopConfig{ExactThreshold: 2, FuzzyThreshold: 0.8, StagnationWindow: 5},
		Researcher:  StageConfig{MaxSteps: 15},
		Analyst:     StageConfig{MaxSteps: 20},
		Writer:      StageConfig{MaxSteps: 4},
		Search:      SearchConfig{MaxPageChars: 10000},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, if path is not empty, over the
// defaults, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	return load(path, env.Options{})
}

func load(path string, opts env.Options) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports all violations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

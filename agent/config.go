package agent

import (
	"time"

	"github.com/martinemde/observagent/llm"
)

// Config describes one agent.
type Config struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	MaxSteps     int    `json:"max_steps"`

	// Tools names the registry tools offered to the model. Nil offers every
	// registered tool; an empty non-nil slice offers none.
	Tools []string `json:"tools"`

	// StepTimeout bounds each completion call. Zero leaves it to the
	// caller's context.
	StepTimeout        time.Duration   `json:"step_timeout"`
	MaxToolOutputChars int             `json:"max_tool_output_chars"`
	MaxToolOutputLines int             `json:"max_tool_output_lines"`
	Retry              llm.RetryPolicy `json:"retry"`
}

// DefaultConfig returns the configuration of a general purpose agent.
func DefaultConfig() Config {
	return Config{
		Name:               "agent",
		Model:              "gpt-4o",
		SystemPrompt:       "You are a helpful assistant. Use the available tools when they help, then answer the user directly.",
		MaxSteps:           10,
		MaxToolOutputChars: DefaultMaxToolOutputChars,
		MaxToolOutputLines: DefaultMaxToolOutputLines,
		Retry:              llm.DefaultRetryPolicy(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = def.SystemPrompt
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.MaxToolOutputChars == 0 {
		c.MaxToolOutputChars = def.MaxToolOutputChars
	}
	if c.MaxToolOutputLines == 0 {
		c.MaxToolOutputLines = def.MaxToolOutputLines
	}
	return c
}

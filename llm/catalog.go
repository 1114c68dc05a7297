package llm

import "fmt"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	SupportsTools        bool     `json:"supports_tools"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

// Models is the built-in model catalog. Prices are USD per million tokens.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true,
		InputCostPerMillion: floatPtr(2.50), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"gpt4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, SupportsTools: true,
		InputCostPerMillion: floatPtr(0.15), OutputCostPerMillion: floatPtr(0.60),
		Aliases: []string{"gpt4o-mini"},
	},
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, SupportsTools: true,
		InputCostPerMillion: floatPtr(2.0), OutputCostPerMillion: floatPtr(8.0),
	},
	{
		ID: "gpt-4.1-mini", Provider: "openai", DisplayName: "GPT-4.1 mini",
		ContextWindow: 1047576, SupportsTools: true,
		InputCostPerMillion: floatPtr(0.40), OutputCostPerMillion: floatPtr(1.60),
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, SupportsTools: true,
		InputCostPerMillion: floatPtr(1.0), OutputCostPerMillion: floatPtr(5.0),
		Aliases: []string{"haiku", "claude-haiku"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// UnknownModelError is returned when a model has no catalog pricing.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no pricing for model %q", e.Model)
}

// CatalogPricer prices token usage from the model catalog. Overrides take
// precedence over catalog entries and are keyed by model id.
type CatalogPricer struct {
	Overrides map[string]ModelInfo
}

// Price returns the USD cost of the given token counts for model.
func (p CatalogPricer) Price(model string, inputTokens, outputTokens int) (float64, error) {
	info, ok := p.Overrides[model]
	if !ok {
		found := GetModelInfo(model)
		if found == nil {
			return 0, &UnknownModelError{Model: model}
		}
		info = *found
	}
	if info.InputCostPerMillion == nil || info.OutputCostPerMillion == nil {
		return 0, &UnknownModelError{Model: model}
	}
	return float64(inputTokens)*(*info.InputCostPerMillion)/1_000_000 +
		float64(outputTokens)*(*info.OutputCostPerMillion)/1_000_000, nil
}

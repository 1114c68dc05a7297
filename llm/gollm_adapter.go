package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
	"github.com/tidwall/gjson"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// gollm returns plain text, so tool calls are recovered from the
// <function_call> blocks (or a JSON call array) it renders into the text and
// usage is estimated by token counting.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If no API key is set, gollm reads it from the provider's environment variable.
func NewGollmAdapter(provider string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if models := ListModels(provider); len(models) > 0 {
			model = models[0].ID
		} else {
			model = "gpt-4o"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries happen in Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, classify(a.provider, err)
	}
	return a.buildResponse(req, text), nil
}

// translateRequest flattens the conversation into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt.WriteString(msg.Content)
			systemPrompt.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s %s", tc.ID, tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			parts = append(parts, fmt.Sprintf("[Tool Result %s]: %s", msg.ToolCallID, msg.Content))
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if s := strings.TrimSpace(systemPrompt.String()); s != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(s, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, remaining := parseToolCalls(text)
	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	input := EstimateRequestTokens(req)
	output := CountTokens(model, text)
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(remaining, calls...),
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

const (
	functionCallOpen  = "<function_call>"
	functionCallClose = "</function_call>"
)

// parseToolCalls extracts tool calls from generated text. It understands
// <function_call>{"name":..,"arguments":..}</function_call> blocks, a
// {"tool_calls":[...]} object, and a bare [{"name":..}] array. It returns the
// calls and the text left once they are removed.
func parseToolCalls(text string) ([]ToolCall, string) {
	var calls []ToolCall
	remaining := text

	for {
		start := strings.Index(remaining, functionCallOpen)
		if start == -1 {
			break
		}
		end := strings.Index(remaining[start:], functionCallClose)
		if end == -1 {
			break
		}
		body := remaining[start+len(functionCallOpen) : start+end]
		if call, ok := toolCallFromJSON(gjson.Parse(body)); ok {
			calls = append(calls, call)
		}
		remaining = remaining[:start] + remaining[start+end+len(functionCallClose):]
	}
	if len(calls) > 0 {
		return calls, strings.TrimSpace(remaining)
	}

	for _, marker := range []string{`{"tool_calls"`, `[{"name"`} {
		idx := strings.Index(text, marker)
		if idx == -1 {
			continue
		}
		doc := strings.TrimSpace(text[idx:])
		if !gjson.Valid(doc) {
			continue
		}
		list := gjson.Parse(doc)
		if list.IsObject() {
			list = list.Get("tool_calls")
		}
		list.ForEach(func(_, item gjson.Result) bool {
			if call, ok := toolCallFromJSON(item); ok {
				calls = append(calls, call)
			}
			return true
		})
		if len(calls) > 0 {
			return calls, strings.TrimSpace(text[:idx])
		}
	}
	return nil, text
}

func toolCallFromJSON(item gjson.Result) (ToolCall, bool) {
	name := item.Get("name")
	if !name.Exists() {
		name = item.Get("function.name")
	}
	if name.String() == "" {
		return ToolCall{}, false
	}
	args := item.Get("arguments")
	if !args.Exists() {
		args = item.Get("function.arguments")
	}
	raw := json.RawMessage(`{}`)
	switch {
	case args.Type == gjson.String && gjson.Valid(args.String()):
		raw = json.RawMessage(args.String())
	case args.IsObject():
		raw = json.RawMessage(args.Raw)
	}
	id := item.Get("id").String()
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}
	return ToolCall{ID: id, Name: name.String(), Arguments: raw}, true
}

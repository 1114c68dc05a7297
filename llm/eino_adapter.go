package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cloudwego/eino-ext/components/model/openai"
	aclopenai "github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// EinoConfig configures an OpenAI-compatible eino chat model.
type EinoConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// EinoAdapter implements ProviderAdapter on top of an eino tool-calling chat
// model. Unlike GollmAdapter it receives native tool calls and real usage.
type EinoAdapter struct {
	provider string
	model    string
	chat     model.ToolCallingChatModel
}

// NewEinoAdapter creates an adapter backed by the eino OpenAI chat model,
// which also serves any OpenAI-compatible endpoint through BaseURL.
func NewEinoAdapter(ctx context.Context, cfg EinoConfig) (*EinoAdapter, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for provider %s: %w", cfg.Provider, err)
	}
	return NewEinoAdapterFromModel(cfg.Provider, cfg.Model, chat), nil
}

// NewEinoAdapterFromModel wraps an existing eino chat model.
func NewEinoAdapterFromModel(provider, defaultModel string, chat model.ToolCallingChatModel) *EinoAdapter {
	return &EinoAdapter{provider: provider, model: defaultModel, chat: chat}
}

// Name returns the provider identifier.
func (a *EinoAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *EinoAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	chat := a.chat
	var opts []model.Option
	if len(req.ToolDefs) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(req.ToolDefs))
		strict := map[string]bool{}
		for _, def := range req.ToolDefs {
			infos = append(infos, toolInfoFromDefinition(def))
			if def.Strict {
				strict[def.Name] = true
			}
		}
		bound, err := a.chat.WithTools(infos)
		if err != nil {
			return nil, &Error{Kind: KindInvalidRequest, Provider: a.provider, Message: "binding tools", Cause: err}
		}
		chat = bound
		if len(strict) > 0 {
			opts = append(opts, aclopenai.WithRequestPayloadModifier(strictToolsPayload(strict)))
		}
	}

	modelID := a.model
	if req.Model != "" {
		modelID = req.Model
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}

	out, err := chat.Generate(ctx, toEinoMessages(req.Messages), opts...)
	if err != nil {
		return nil, classify(a.provider, err)
	}
	return a.buildResponse(req, modelID, out), nil
}

func (a *EinoAdapter) buildResponse(req Request, modelID string, out *schema.Message) *Response {
	calls := make([]ToolCall, 0, len(out.ToolCalls))
	for _, tc := range out.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{ID: id, Name: tc.Function.Name, Arguments: []byte(args)})
	}

	finish := FinishReason{Reason: "stop"}
	var usage Usage
	if out.ResponseMeta != nil {
		finish.Raw = out.ResponseMeta.FinishReason
		if out.ResponseMeta.Usage != nil {
			usage = Usage{
				InputTokens:  out.ResponseMeta.Usage.PromptTokens,
				OutputTokens: out.ResponseMeta.Usage.CompletionTokens,
				TotalTokens:  out.ResponseMeta.Usage.TotalTokens,
			}
		}
	}
	if len(calls) > 0 {
		finish.Reason = "tool_calls"
	}
	if usage.TotalTokens == 0 {
		usage.InputTokens = EstimateRequestTokens(req)
		usage.OutputTokens = CountTokens(modelID, out.Content)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        modelID,
		Provider:     a.provider,
		Message:      AssistantMessage(out.Content, calls...),
		FinishReason: finish,
		Usage:        usage,
	}
}

func toEinoMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case RoleAssistant:
			calls := make([]schema.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		case RoleTool:
			out = append(out, &schema.Message{
				Role:       schema.Tool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolName:   m.Name,
			})
		}
	}
	return out
}

func toolInfoFromDefinition(def ToolDefinition) *schema.ToolInfo {
	params := map[string]*schema.ParameterInfo{}
	props, _ := def.Parameters["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := def.Parameters["required"].(type) {
	case []string:
		for _, name := range req {
			required[name] = true
		}
	case []any:
		for _, name := range req {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		info := parameterInfo(prop)
		info.Required = required[name]
		params[name] = info
	}

	info := &schema.ToolInfo{
		Name:        def.Name,
		Desc:        def.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
	if def.Strict {
		info.Extra = map[string]any{"strict": true}
	}
	return info
}

// strictToolsPayload returns a request modifier that sets function.strict
// on the named tools. The eino OpenAI model has no field for it.
func strictToolsPayload(names map[string]bool) aclopenai.RequestPayloadModifier {
	return func(_ context.Context, _ []*schema.Message, body []byte) ([]byte, error) {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decoding request payload: %w", err)
		}
		tools, _ := payload["tools"].([]any)
		changed := false
		for _, t := range tools {
			tool, _ := t.(map[string]any)
			fn, _ := tool["function"].(map[string]any)
			if name, _ := fn["name"].(string); fn != nil && names[name] {
				fn["strict"] = true
				changed = true
			}
		}
		if !changed {
			return body, nil
		}
		return json.Marshal(payload)
	}
}

func parameterInfo(prop map[string]any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{}
	info.Desc, _ = prop["description"].(string)
	switch prop["type"] {
	case "integer":
		info.Type = schema.Integer
	case "number":
		info.Type = schema.Number
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		info.Type = schema.Array
		if items, ok := prop["items"].(map[string]any); ok {
			info.ElemInfo = parameterInfo(items)
		} else {
			info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
		}
	case "object":
		info.Type = schema.Object
	default:
		info.Type = schema.String
	}
	switch enum := prop["enum"].(type) {
	case []string:
		info.Enum = enum
	case []any:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				info.Enum = append(info.Enum, s)
			}
		}
	}
	return info
}

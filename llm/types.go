// Package llm is the completion layer used by the agent loop. It defines a
// provider-agnostic request/response model, a Client that routes requests to
// registered provider adapters through a middleware chain, retry with
// exponential backoff, and a model catalog carrying per-token pricing.
package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated request to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsMap decodes the call arguments into a generic map. Empty
// arguments decode to an empty map.
func (c ToolCall) ArgumentsMap() (map[string]any, error) {
	args := map[string]any{}
	if len(strings.TrimSpace(string(c.Arguments))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message, optionally carrying tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage creates the tool-role message answering a specific call.
func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// ToolDefinition is the schema of a callable tool as advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// Strict asks the provider to enforce Parameters exactly on generated
	// arguments. Adapters without a way to send it ignore it.
	Strict bool `json:"strict,omitempty"`
}

// ToolChoice controls whether and how the model uses tools.
type ToolChoice struct {
	Mode     string `json:"mode"`                // "auto", "none", "required", "named"
	ToolName string `json:"tool_name,omitempty"` // required when mode is "named"
}

// Usage tracks token consumption of one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "tool_calls", "content_filter", "error", "other"
	Raw    string `json:"raw,omitempty"`
}

// Request is the input of Complete.
type Request struct {
	Model       string            `json:"model"`
	Provider    string            `json:"provider,omitempty"`
	Messages    []Message         `json:"messages"`
	ToolDefs    []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice  *ToolChoice       `json:"tool_choice,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Response is the output of Complete.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Text returns the assistant text of the response.
func (r Response) Text() string {
	return r.Message.Content
}

// ToolCalls returns the tool calls requested by the response, in order.
func (r Response) ToolCalls() []ToolCall {
	return r.Message.ToolCalls
}

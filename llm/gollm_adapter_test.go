package llm

import "testing"

func TestParseToolCallsFunctionCallBlocks(t *testing.T) {
	text := "Let me look that up.\n" +
		`<function_call>{"name":"search_web","arguments":{"query":"go generics"}}</function_call>` + "\n" +
		`<function_call>{"name":"read_webpage","arguments":"{\"url\":\"https://go.dev\"}"}</function_call>`

	calls, rest := parseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "search_web" || string(calls[0].Arguments) != `{"query":"go generics"}` {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Name != "read_webpage" || string(calls[1].Arguments) != `{"url":"https://go.dev"}` {
		t.Errorf("unexpected second call: %s %s", calls[1].Name, calls[1].Arguments)
	}
	if calls[0].ID == "" || calls[0].ID == calls[1].ID {
		t.Errorf("expected distinct generated ids, got %q and %q", calls[0].ID, calls[1].ID)
	}
	if rest != "Let me look that up." {
		t.Errorf("unexpected remaining text %q", rest)
	}
}

func TestParseToolCallsJSONForms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"array", `[{"name":"calculate","arguments":{"operation":"add"}}]`, "calculate"},
		{"object", `Thinking. {"tool_calls":[{"id":"c1","function":{"name":"word_count","arguments":"{\"text\":\"a b\"}"}}]}`, "word_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, _ := parseToolCalls(tt.text)
			if len(calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(calls))
			}
			if calls[0].Name != tt.want {
				t.Errorf("expected %s, got %s", tt.want, calls[0].Name)
			}
		})
	}
}

func TestParseToolCallsPlainText(t *testing.T) {
	calls, rest := parseToolCalls("The answer is 42.")
	if len(calls) != 0 {
		t.Errorf("expected no calls, got %d", len(calls))
	}
	if rest != "The answer is 42." {
		t.Errorf("expected text unchanged, got %q", rest)
	}
}

func TestGollmAdapterBuildResponse(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o"}
	req := Request{Messages: []Message{UserMessage("what is the capital of France?")}}

	resp := adapter.buildResponse(req, `<function_call>{"name":"search_web","arguments":{"query":"capital of France"}}</function_call>`)
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls finish reason, got %q", resp.FinishReason.Reason)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected default model, got %q", resp.Model)
	}
	if len(resp.ToolCalls()) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls()))
	}
	if resp.Usage.InputTokens <= 0 || resp.Usage.OutputTokens <= 0 {
		t.Errorf("expected estimated usage, got %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("total tokens mismatch: %+v", resp.Usage)
	}
}

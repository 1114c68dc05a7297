package llm

import "testing"

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("be brief")
	if sys.Role != RoleSystem || sys.Content != "be brief" {
		t.Errorf("unexpected system message: %+v", sys)
	}

	call := ToolCall{ID: "c1", Name: "search_web", Arguments: []byte(`{"query":"x"}`)}
	asst := AssistantMessage("looking", call)
	if asst.Role != RoleAssistant || len(asst.ToolCalls) != 1 {
		t.Errorf("unexpected assistant message: %+v", asst)
	}

	res := ToolResultMessage("c1", "search_web", "found it")
	if res.Role != RoleTool || res.ToolCallID != "c1" || res.Name != "search_web" {
		t.Errorf("unexpected tool message: %+v", res)
	}
}

func TestToolCallArgumentsMap(t *testing.T) {
	args, err := ToolCall{Arguments: []byte(`{"x": 10, "y": "a"}`)}.ArgumentsMap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["x"] != float64(10) || args["y"] != "a" {
		t.Errorf("unexpected args: %v", args)
	}

	empty, err := ToolCall{}.ArgumentsMap()
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty map for empty arguments, got %v, %v", empty, err)
	}

	if _, err := (ToolCall{Arguments: []byte(`not json`)}).ArgumentsMap(); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	b := Usage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20}
	sum := a.Add(b)
	if sum.InputTokens != 15 || sum.OutputTokens != 35 || sum.TotalTokens != 50 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}

func TestCountTokens(t *testing.T) {
	if CountTokens("gpt-4o", "") != 0 {
		t.Error("expected 0 tokens for empty text")
	}
	if CountTokens("gpt-4o", "hello world, this is a sentence") <= 0 {
		t.Error("expected a positive token count")
	}
	if EstimateRequestTokens(Request{}) != 10 {
		t.Error("expected floor estimate for empty request")
	}
}

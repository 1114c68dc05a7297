// Package trace records agent runs step by step and exports them as JSON.
//
// A Tracer owns a table of traces keyed by a short opaque id. Each run
// starts a trace, logs one AgentStep per iteration, and ends it exactly once.
// Aggregate totals on a Trace always equal the sum over its steps.
package trace

import "time"

// Status is the lifecycle state of a Trace.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s ends a trace.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ToolCallRecord is the result of executing one tool call.
type ToolCallRecord struct {
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
	ToolOutput string         `json:"tool_output"`
	Error      string         `json:"error,omitempty"`
	DurationMs float64        `json:"duration_ms"`
}

// AgentStep is one iteration of an agent's reasoning loop.
type AgentStep struct {
	StepNumber   int              `json:"step_number"`
	Reasoning    string           `json:"reasoning"`
	ToolCalls    []ToolCallRecord `json:"tool_calls"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
	DurationMs   float64          `json:"duration_ms"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Trace is the full record of one agent run.
type Trace struct {
	TraceID           string      `json:"trace_id"`
	AgentName         string      `json:"agent_name"`
	InputQuery        string      `json:"input_query"`
	Model             string      `json:"model"`
	Steps             []AgentStep `json:"steps"`
	FinalOutput       string      `json:"final_output"`
	TotalInputTokens  int         `json:"total_input_tokens"`
	TotalOutputTokens int         `json:"total_output_tokens"`
	TotalCostUSD      float64     `json:"total_cost_usd"`
	TotalDurationMs   float64     `json:"total_duration_ms"`
	Status            Status      `json:"status"`
	Error             string      `json:"error"`
	StartedAt         time.Time   `json:"started_at"`
	EndedAt           *time.Time  `json:"ended_at,omitempty"`
}

// Summary is a one-line view of a trace for listings.
type Summary struct {
	TraceID      string    `json:"trace_id"`
	AgentName    string    `json:"agent_name"`
	InputQuery   string    `json:"input_query"`
	Status       Status    `json:"status"`
	Steps        int       `json:"steps"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	StartedAt    time.Time `json:"started_at"`
}

// Summary returns the listing view of t.
func (t *Trace) Summary() Summary {
	return Summary{
		TraceID:      t.TraceID,
		AgentName:    t.AgentName,
		InputQuery:   t.InputQuery,
		Status:       t.Status,
		Steps:        len(t.Steps),
		TotalCostUSD: t.TotalCostUSD,
		StartedAt:    t.StartedAt,
	}
}

func (t *Trace) addStep(step AgentStep) {
	t.Steps = append(t.Steps, step)
	t.TotalInputTokens += step.InputTokens
	t.TotalOutputTokens += step.OutputTokens
	t.TotalCostUSD += step.CostUSD
	t.TotalDurationMs += step.DurationMs
}

// Clone returns a deep copy of t.
func (t *Trace) Clone() *Trace {
	c := *t
	c.Steps = make([]AgentStep, len(t.Steps))
	for i, s := range t.Steps {
		c.Steps[i] = s.clone()
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

func (s AgentStep) clone() AgentStep {
	c := s
	c.ToolCalls = make([]ToolCallRecord, len(s.ToolCalls))
	for i, r := range s.ToolCalls {
		rc := r
		if r.ToolInput != nil {
			rc.ToolInput = make(map[string]any, len(r.ToolInput))
			for k, v := range r.ToolInput {
				rc.ToolInput[k] = v
			}
		}
		c.ToolCalls[i] = rc
	}
	return c
}

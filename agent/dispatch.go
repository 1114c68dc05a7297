package agent

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/tools"
	"github.com/martinemde/observagent/trace"
)

// toolOutcome is the result of one tool call: the text fed back to the
// model and the record kept in the trace.
type toolOutcome struct {
	content string
	record  trace.ToolCallRecord
}

// dispatch runs all calls of a step concurrently and waits for every one of
// them. Failures never escape; they become "Error: ..." results. Outcomes
// are returned in call order.
func (r *run) dispatch(calls []llm.ToolCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = r.execute(call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *run) execute(call llm.ToolCall) (out toolOutcome) {
	started := time.Now()
	input, parseErr := call.ArgumentsMap()
	out.record = trace.ToolCallRecord{ToolName: call.Name, ToolInput: input}

	r.emit(EventToolCallStart, map[string]any{"step": r.step, "tool_name": call.Name, "call_id": call.ID})
	defer func() {
		if rec := recover(); rec != nil {
			out.content = fmt.Sprintf("Error: tool %s panicked: %v", call.Name, rec)
			out.record.Error = out.content
			out.record.ToolOutput = out.content
		}
		out.record.DurationMs = msSince(started)
		data := map[string]any{"step": r.step, "tool_name": call.Name, "call_id": call.ID, "duration_ms": out.record.DurationMs}
		if out.record.Error != "" {
			data["error"] = out.record.Error
		} else {
			data["output"] = out.record.ToolOutput
		}
		r.emit(EventToolCallEnd, data)
	}()

	var result any
	var err error
	switch {
	case !r.allowed[call.Name]:
		err = fmt.Errorf("%w: %s is not available to this agent", tools.ErrUnknownTool, call.Name)
	case parseErr != nil:
		err = &tools.ValidationError{Tool: call.Name, Problems: []string{"arguments are not a JSON object"}, Cause: parseErr}
	default:
		result, err = r.registry.Execute(r.ctx, call.Name, input)
	}

	if err != nil {
		r.logger.Warn("tool call failed", "step", r.step, "tool", call.Name, "error", err)
		out.content = "Error: " + err.Error()
		out.record.Error = err.Error()
		out.record.ToolOutput = out.content
		return out
	}

	full := tools.FormatResult(result)
	out.content = TruncateLines(TruncateOutput(full, r.cfg.MaxToolOutputChars), r.cfg.MaxToolOutputLines)
	out.record.ToolOutput = out.content
	r.logger.Debug("tool call finished", "step", r.step, "tool", call.Name, "chars", len(full))
	return out
}

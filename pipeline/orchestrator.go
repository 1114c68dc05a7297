// Package pipeline chains three agents, researcher, analyst and writer,
// into a single report-producing run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/martinemde/observagent/agent"
	"github.com/martinemde/observagent/trace"
)

// ErrStuckInLoop is the cause of a stage whose agent was stopped by loop
// detection.
var ErrStuckInLoop = errors.New("agent stuck in loop")

// Runner is anything that runs one agent to completion. *agent.Agent
// satisfies it.
type Runner interface {
	Run(ctx context.Context, query string) (*agent.Result, error)
}

// StageFailure reports the stage that stopped the pipeline.
type StageFailure struct {
	Stage Stage
	Cause error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage.Title(), e.Cause)
}

func (e *StageFailure) Unwrap() error {
	return e.Cause
}

// StageOutput is the intermediate result of one stage.
type StageOutput struct {
	Stage   Stage       `json:"stage"`
	Input   string      `json:"input"`
	Answer  string      `json:"answer"`
	Cost    float64     `json:"cost"`
	Steps   int         `json:"steps"`
	TraceID string      `json:"trace_id"`
	Status  agent.State `json:"status"`
}

// Result is the outcome of a pipeline run. On failure Answer is empty and
// FailedStage and Error say what went wrong.
type Result struct {
	Answer      string        `json:"answer"`
	RawAnswer   string        `json:"raw_answer"`
	Cost        float64       `json:"cost"`
	Stages      []StageOutput `json:"stages"`
	TraceID     string        `json:"trace_id,omitempty"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Stage returns the output of the named stage, if it ran.
func (r *Result) Stage(s Stage) (StageOutput, bool) {
	for _, out := range r.Stages {
		if out.Stage == s {
			return out, true
		}
	}
	return StageOutput{}, false
}

// Orchestrator runs the three stages in order.
type Orchestrator struct {
	stages []stage
	tracer *trace.Tracer
	logger *slog.Logger
}

type stage struct {
	name   Stage
	runner Runner
	wrap   func(string) string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer records each pipeline run as a trace with one step per stage.
func WithTracer(t *trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the three stage runners.
func NewOrchestrator(researcher, analyst, writer Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stages: []stage{
			{name: StageResearch, runner: researcher, wrap: func(q string) string { return q }},
			{name: StageAnalysis, runner: analyst, wrap: func(s string) string { return "Analyze these findings: " + s }},
			{name: StageWriting, runner: writer, wrap: func(s string) string { return "Write a report based on: " + s }},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run feeds query through research, analysis and writing. The first stage
// that errors, ends in a non-completed state, or answers with the loop
// marker stops the pipeline; later stages are not invoked and the returned
// error is a *StageFailure. The result is never nil.
func (o *Orchestrator) Run(ctx context.Context, query string) (*Result, error) {
	res := &Result{}
	var traceID string
	if o.tracer != nil {
		traceID = o.tracer.StartTrace("pipeline", query, "")
		res.TraceID = traceID
		ctx = trace.ContextWithTraceID(ctx, traceID)
	}

	input := query
	for i, st := range o.stages {
		stageInput := st.wrap(input)
		o.logger.InfoContext(ctx, "stage started", "stage", st.name)
		started := time.Now()

		out, err := st.runner.Run(ctx, stageInput)
		rec := StageOutput{Stage: st.name, Input: stageInput}
		if out != nil {
			rec.Answer = out.Answer
			rec.Cost = out.Cost
			rec.Steps = out.Steps
			rec.TraceID = out.TraceID
			rec.Status = out.Status
			res.Cost += out.Cost
		}
		res.Stages = append(res.Stages, rec)
		o.logStage(traceID, i+1, rec, out, started)

		if cause := stageError(out, err); cause != nil {
			failure := &StageFailure{Stage: st.name, Cause: cause}
			res.FailedStage = st.name
			res.Error = failure.Error()
			o.logger.WarnContext(ctx, "stage failed", "stage", st.name, "error", cause)
			if o.tracer != nil {
				o.tracer.EndTrace(traceID, "", trace.StatusFailed, res.Error)
			}
			return res, failure
		}
		o.logger.InfoContext(ctx, "stage finished", "stage", st.name, "steps", rec.Steps, "cost_usd", rec.Cost)
		input = rec.Answer
	}

	res.RawAnswer = input
	res.Answer = FormatAnswer(input)
	if o.tracer != nil {
		o.tracer.EndTrace(traceID, res.Answer, trace.StatusCompleted, "")
	}
	return res, nil
}

// logStage records a stage as one step of the pipeline trace.
func (o *Orchestrator) logStage(traceID string, n int, rec StageOutput, out *agent.Result, started time.Time) {
	if o.tracer == nil {
		return
	}
	step := trace.AgentStep{
		StepNumber: n,
		Reasoning:  fmt.Sprintf("%s: %s", rec.Stage, rec.Answer),
		CostUSD:    rec.Cost,
		DurationMs: float64(time.Since(started).Microseconds()) / 1000,
	}
	if out != nil && out.Trace != nil {
		step.InputTokens = out.Trace.TotalInputTokens
		step.OutputTokens = out.Trace.TotalOutputTokens
	}
	o.tracer.LogStep(traceID, step)
}

func stageError(out *agent.Result, err error) error {
	if out != nil && looped(out) {
		var loopErr *agent.LoopDetectedError
		if errors.As(err, &loopErr) {
			return err
		}
		return ErrStuckInLoop
	}
	switch {
	case err != nil:
		return err
	case out == nil:
		return errors.New("stage returned no result")
	case out.Error != "":
		return errors.New(out.Error)
	case out.Status != agent.StateCompleted:
		return fmt.Errorf("stage ended in state %s", out.Status)
	}
	return nil
}

// looped reports whether a stage was stopped by loop detection. The status
// decides; runners that report no status are judged by the answer prefix.
func looped(out *agent.Result) bool {
	if out.Status != "" {
		return out.Status == agent.StateLoopTerminated
	}
	return strings.HasPrefix(strings.TrimSpace(out.Answer), agent.LoopMarker)
}

// RunWithRetry runs r up to attempts times, stopping at the first result
// without an error. It returns the last result when every attempt fails
// and never returns nil.
func RunWithRetry(ctx context.Context, r Runner, query string, attempts int) *agent.Result {
	if attempts < 1 {
		attempts = 1
	}
	logger := slog.Default()
	var last *agent.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := r.Run(ctx, query)
		if res == nil {
			res = &agent.Result{Status: agent.StateErrored, Err: err}
			if err != nil {
				res.Error = err.Error()
				res.Answer = "Error during execution: " + err.Error()
			} else {
				res.Error = "runner returned no result"
			}
		}
		last = res
		if err == nil && !res.Failed() {
			return res
		}
		if ctx.Err() != nil {
			break
		}
		logger.WarnContext(ctx, "attempt failed", "attempt", attempt, "of", attempts, "error", res.Error)
	}
	return last
}

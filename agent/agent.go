// Package agent runs a single tool-using agent: a bounded loop of
// completion calls and concurrent tool dispatch, instrumented with tracing,
// cost accounting and loop detection.
//
// Every run ends in exactly one terminal state. Whatever the outcome, the
// run's trace is ended and its cost query closed before Run returns.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/observagent/cost"
	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/loopdetect"
	"github.com/martinemde/observagent/tools"
	"github.com/martinemde/observagent/trace"
)

// LoopMarker prefixes the answer of a run stopped by loop detection.
const LoopMarker = "Loop detected"

// State is a position in the run state machine.
type State string

const (
	StateInit           State = "init"
	StateStepping       State = "stepping"
	StateToolDispatch   State = "tool_dispatch"
	StateCompleted      State = "completed"
	StateLoopTerminated State = "loop_terminated"
	StateMaxSteps       State = "max_steps"
	StateErrored        State = "errored"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateLoopTerminated, StateMaxSteps, StateErrored:
		return true
	}
	return false
}

// Trace error labels for runs that end without an answer.
const (
	TraceErrorLoop     = "loop_detected"
	TraceErrorMaxSteps = "max_steps_reached"
)

// Completer is the completion capability an agent consumes.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Result is the outcome of one run. Every terminal state produces the same
// shape; Error is empty only when Status is StateCompleted.
type Result struct {
	Answer  string       `json:"answer"`
	Steps   int          `json:"steps"`
	Cost    float64      `json:"cost"`
	TraceID string       `json:"trace_id"`
	Trace   *trace.Trace `json:"trace,omitempty"`
	Status  State        `json:"status"`
	Error   string       `json:"error,omitempty"`
	Err     error        `json:"-"`
}

// Failed reports whether the run ended without a regular answer.
func (r *Result) Failed() bool {
	return r == nil || r.Status != StateCompleted || r.Error != ""
}

// Agent is one configured agent. Runs on the same Agent are serialized
// because they share a loop detector.
type Agent struct {
	client   Completer
	registry *tools.Registry
	cfg      Config

	tracer   *trace.Tracer
	costs    *cost.Tracker
	detector *loopdetect.Detector
	logger   *slog.Logger
	events   *EventEmitter

	runMu sync.Mutex
}

// Option configures an Agent.
type Option func(*Agent)

// WithTracer records runs in t instead of a private tracer.
func WithTracer(t *trace.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

// WithCostTracker records spend in t instead of a private tracker.
func WithCostTracker(t *cost.Tracker) Option {
	return func(a *Agent) { a.costs = t }
}

// WithLoopDetector replaces the default detector.
func WithLoopDetector(d *loopdetect.Detector) Option {
	return func(a *Agent) { a.detector = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithEvents publishes run events to e.
func WithEvents(e *EventEmitter) Option {
	return func(a *Agent) { a.events = e }
}

// New creates an agent that completes with client and calls tools from
// reg. A nil registry gives the agent no tools.
func New(client Completer, reg *tools.Registry, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		client:   client,
		registry: reg,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = trace.NewTracer(trace.WithLogger(a.logger))
	}
	if a.costs == nil {
		a.costs = cost.NewTracker(llm.CatalogPricer{}, cost.WithLogger(a.logger))
	}
	if a.detector == nil {
		a.detector = loopdetect.New(loopdetect.WithStagnationWindow(5))
	}
	a.logger = a.logger.With("agent", a.cfg.Name)
	return a
}

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns the effective configuration.
func (a *Agent) Config() Config { return a.cfg }

// Tracer returns the tracer runs are recorded in.
func (a *Agent) Tracer() *trace.Tracer { return a.tracer }

// CostTracker returns the tracker spend is recorded in.
func (a *Agent) CostTracker() *cost.Tracker { return a.costs }

// toolNames resolves the configured tool subset against the registry.
func (a *Agent) toolNames() []string {
	if a.registry == nil {
		return nil
	}
	if a.cfg.Tools == nil {
		return a.registry.Names()
	}
	return a.cfg.Tools
}

// Run executes the agent on query. The returned error is non-nil exactly
// when the result's Status is not StateCompleted; the result is never nil.
func (a *Agent) Run(ctx context.Context, query string) (res *Result, err error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	r := a.start(ctx, query)
	defer func() {
		if rec := recover(); rec != nil {
			perr := &PanicError{Value: rec}
			r.logger.Error("run panicked", "error", perr)
			res, err = r.fail(StateErrored, perr)
		}
	}()
	return r.loop()
}

// run is the state of one Run call.
type run struct {
	*Agent
	ctx      context.Context
	logger   *slog.Logger
	traceID  string
	state    State
	step     int
	logged   int
	messages []llm.Message
	toolDefs []llm.ToolDefinition
	allowed  map[string]bool
	result   *Result
}

func (a *Agent) start(ctx context.Context, query string) *run {
	traceID := a.tracer.StartTrace(a.cfg.Name, query, a.cfg.Model)
	a.costs.StartQuery(query)
	a.detector.Reset()

	names := a.toolNames()
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var defs []llm.ToolDefinition
	if a.registry != nil && len(names) > 0 {
		defs = a.registry.Definitions(names...)
	}

	r := &run{
		Agent:   a,
		ctx:     trace.ContextWithTraceID(ctx, traceID),
		traceID: traceID,
		state:   StateInit,
		messages: []llm.Message{
			llm.SystemMessage(a.cfg.SystemPrompt),
			llm.UserMessage(query),
		},
		toolDefs: defs,
		allowed:  allowed,
	}
	r.logger = a.logger.With("trace_id", traceID)
	r.logger.Info("run started", "model", a.cfg.Model, "max_steps", a.cfg.MaxSteps, "tools", len(defs))
	r.emit(EventRunStart, map[string]any{"query": query, "model": a.cfg.Model, "tools": names})
	return r
}

func (r *run) emit(kind EventKind, data map[string]any) {
	r.events.Emit(Event{Kind: kind, Agent: r.cfg.Name, TraceID: r.traceID, Data: data})
}

func (r *run) loop() (*Result, error) {
	for r.step = 1; r.step <= r.cfg.MaxSteps; r.step++ {
		if err := r.ctx.Err(); err != nil {
			return r.fail(StateErrored, &CompletionError{Step: r.step, Cause: err})
		}
		r.state = StateStepping
		r.emit(EventStepStart, map[string]any{"step": r.step})
		started := time.Now()

		resp, err := r.complete()
		if err != nil {
			return r.fail(StateErrored, &CompletionError{Step: r.step, Cause: err})
		}

		calls := resp.ToolCalls()
		model := resp.Model
		if model == "" {
			model = r.cfg.Model
		}
		sc := r.costs.LogCompletion(r.step, model, cost.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}, len(calls) > 0)
		r.messages = append(r.messages, llm.AssistantMessage(resp.Text(), calls...))

		step := trace.AgentStep{
			StepNumber:   r.step,
			Reasoning:    resp.Text(),
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostUSD:      sc.CostUSD,
		}

		if len(calls) == 0 {
			step.DurationMs = msSince(started)
			r.logStep(step)
			return r.succeed(resp.Text()), nil
		}

		for _, call := range calls {
			det := r.detector.CheckToolCall(call.Name, string(call.Arguments))
			if !det.IsLooping {
				continue
			}
			step.DurationMs = msSince(started)
			r.logStep(step)
			r.emit(EventLoopDetected, map[string]any{
				"tool":       call.Name,
				"strategy":   string(det.Strategy),
				"confidence": det.Confidence,
				"message":    det.Message,
			})
			return r.fail(StateLoopTerminated, &LoopDetectedError{Step: r.step, Tool: call.Name, Detection: det})
		}

		r.state = StateToolDispatch
		outcomes := r.dispatch(calls)
		for i, call := range calls {
			r.messages = append(r.messages, llm.ToolResultMessage(call.ID, call.Name, outcomes[i].content))
			step.ToolCalls = append(step.ToolCalls, outcomes[i].record)
		}
		step.DurationMs = msSince(started)
		r.logStep(step)

		r.checkStagnation(resp.Text())
	}
	return r.fail(StateMaxSteps, &MaxStepsExceededError{MaxSteps: r.cfg.MaxSteps})
}

// logStep records a finished step. Result.Steps counts only these, so a
// step that fails before it is logged is not reported.
func (r *run) logStep(step trace.AgentStep) {
	r.tracer.LogStep(r.traceID, step)
	r.logged++
}

func (r *run) complete() (*llm.Response, error) {
	req := llm.Request{
		Model:    r.cfg.Model,
		Messages: append([]llm.Message(nil), r.messages...),
		ToolDefs: r.toolDefs,
	}
	if len(r.toolDefs) > 0 {
		req.ToolChoice = &llm.ToolChoice{Mode: "auto"}
	}

	ctx := r.ctx
	if r.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.StepTimeout)
		defer cancel()
	}

	resp, err := llm.Retry(ctx, r.cfg.Retry, func(ctx context.Context) (*llm.Response, error) {
		return r.client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("completion returned no response")
	}
	return resp, nil
}

// checkStagnation feeds non-empty reasoning to the detector and steers the
// model when recent outputs have stopped changing.
func (r *run) checkStagnation(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	det := r.detector.CheckOutputStagnation(text)
	if !det.IsLooping {
		return
	}
	r.logger.Warn("output stagnation", "step", r.step, "confidence", det.Confidence)
	r.messages = append(r.messages, llm.UserMessage(det.Message))
	r.emit(EventStagnation, map[string]any{"step": r.step, "message": det.Message, "confidence": det.Confidence})
}

// succeed ends the run with a final answer.
func (r *run) succeed(answer string) *Result {
	r.tracer.EndTrace(r.traceID, answer, trace.StatusCompleted, "")
	return r.finish(StateCompleted, answer, nil)
}

// fail ends the run in a failed terminal state. A run that already ended
// keeps its first result.
func (r *run) fail(state State, cause error) (*Result, error) {
	if r.result != nil {
		return r.result, r.result.Err
	}

	var answer, traceErr string
	switch state {
	case StateLoopTerminated:
		tool := ""
		msg := ""
		if le, ok := cause.(*LoopDetectedError); ok {
			tool = le.Tool
			msg = le.Detection.Message
		}
		answer = fmt.Sprintf("%s: agent kept calling '%s' without making progress and was stopped. %s", LoopMarker, tool, msg)
		traceErr = TraceErrorLoop
	case StateMaxSteps:
		answer = fmt.Sprintf("Max steps (%d) reached without completion", r.cfg.MaxSteps)
		traceErr = TraceErrorMaxSteps
	default:
		answer = fmt.Sprintf("Error during execution: %v", cause)
		traceErr = cause.Error()
	}

	r.tracer.EndTrace(r.traceID, answer, trace.StatusFailed, traceErr)
	res := r.finish(state, answer, cause)
	return res, cause
}

func (r *run) finish(state State, answer string, cause error) *Result {
	if r.result != nil {
		return r.result
	}
	r.state = state

	var total float64
	if q, ok := r.costs.EndQuery(); ok {
		total = q.TotalCostUSD
	}
	steps := r.logged

	res := &Result{
		Answer:  answer,
		Steps:   steps,
		Cost:    total,
		TraceID: r.traceID,
		Status:  state,
		Err:     cause,
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	if tr, ok := r.tracer.GetTrace(r.traceID); ok {
		res.Trace = tr
	}
	r.result = res

	attrs := []any{"status", state, "steps", steps, "cost_usd", total}
	if cause != nil {
		r.logger.Warn("run ended", append(attrs, "error", cause)...)
		r.emit(EventError, map[string]any{"error": cause.Error()})
	} else {
		r.logger.Info("run ended", attrs...)
	}
	r.emit(EventRunEnd, map[string]any{"status": string(state), "steps": steps, "cost_usd": total})
	return res
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

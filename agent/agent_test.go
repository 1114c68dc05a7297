package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/observagent/cost"
	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/tools"
	"github.com/martinemde/observagent/trace"
)

// scriptedClient answers each completion with respond, recording requests.
type scriptedClient struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(ctx context.Context, n int, req llm.Request) (*llm.Response, error)
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	c.mu.Unlock()
	return c.respond(ctx, n, req)
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) request(i int) llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func answer(text string) *llm.Response {
	return &llm.Response{
		Model:   "gpt-4o",
		Message: llm.AssistantMessage(text),
		Usage:   llm.Usage{InputTokens: 1000, OutputTokens: 100, TotalTokens: 1100},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func callTools(text string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		Model:   "gpt-4o",
		Message: llm.AssistantMessage(text, calls...),
		Usage:   llm.Usage{InputTokens: 1000, OutputTokens: 100, TotalTokens: 1100},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	reg    *tools.Registry
	tracer *trace.Tracer
	costs  *cost.Tracker
	events *EventEmitter
	echoes atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:    tools.NewRegistry(),
		tracer: trace.NewTracer(trace.WithLogger(quietLogger())),
		costs:  cost.NewTracker(llm.CatalogPricer{}, cost.WithLogger(quietLogger())),
		events: NewEventEmitter(1024),
	}
	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "echo", Description: "Echo text back.", Category: "test",
		Params: []tools.Param{{Name: "text", Type: tools.TypeString, Required: true}},
	}, func(_ context.Context, args tools.Args) (any, error) {
		f.echoes.Add(1)
		return "echo: " + args.String("text"), nil
	}))
	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "fail", Description: "Always fails.", Category: "test",
	}, func(context.Context, tools.Args) (any, error) {
		return nil, errors.New("disk on fire")
	}))
	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "hidden", Description: "Not offered to the agent.", Category: "other",
	}, func(context.Context, tools.Args) (any, error) {
		return "should not run", nil
	}))
	return f
}

func (f *fixture) agent(client Completer, cfg Config) *Agent {
	if cfg.Tools == nil {
		cfg.Tools = []string{"echo", "fail"}
	}
	return New(client, f.reg, cfg,
		WithTracer(f.tracer),
		WithCostTracker(f.costs),
		WithLogger(quietLogger()),
		WithEvents(f.events))
}

func (f *fixture) drainEvents() []Event {
	f.events.Close()
	var out []Event
	for ev := range f.events.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRunCompletesWithoutTools(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(context.Context, int, llm.Request) (*llm.Response, error) {
		return answer("Paris is the capital of France."), nil
	}}
	a := f.agent(client, Config{Name: "geo", Model: "gpt-4o", SystemPrompt: "You answer geography questions.", MaxSteps: 3})

	res, err := a.Run(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.Status)
	assert.Equal(t, "Paris is the capital of France.", res.Answer)
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, res.Error)
	assert.False(t, res.Failed())
	assert.InDelta(t, 0.0035, res.Cost, 1e-9)

	req := client.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You answer geography questions.", req.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Len(t, req.ToolDefs, 2)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, "auto", req.ToolChoice.Mode)

	require.NotNil(t, res.Trace)
	assert.Equal(t, trace.StatusCompleted, res.Trace.Status)
	assert.Equal(t, res.TraceID, res.Trace.TraceID)
	require.Len(t, res.Trace.Steps, 1)
	assert.Equal(t, 1000, res.Trace.TotalInputTokens)

	_, open := f.costs.Current()
	assert.False(t, open)
}

func TestRunDispatchesToolsAndFeedsResults(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return callTools("Let me check both.",
				toolCall("call_a", "echo", `{"text": "first"}`),
				toolCall("call_b", "echo", `{"text": "second"}`)), nil
		}
		return answer("done"), nil
	}}
	a := f.agent(client, Config{Name: "echoer", MaxSteps: 5})

	res, err := a.Run(context.Background(), "echo things")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, int32(2), f.echoes.Load())

	msgs := client.request(1).Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "call_a", msgs[3].ToolCallID)
	assert.Equal(t, "echo: first", msgs[3].Content)
	assert.Equal(t, "call_b", msgs[4].ToolCallID)
	assert.Equal(t, "echo: second", msgs[4].Content)

	require.Len(t, res.Trace.Steps, 2)
	step := res.Trace.Steps[0]
	assert.Equal(t, "Let me check both.", step.Reasoning)
	require.Len(t, step.ToolCalls, 2)
	assert.Equal(t, "echo", step.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{"text": "first"}, step.ToolCalls[0].ToolInput)
	assert.Equal(t, "echo: first", step.ToolCalls[0].ToolOutput)
}

func TestToolFailuresAreFedBackAsErrors(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		switch n {
		case 1:
			return callTools("",
				toolCall("1", "fail", `{}`),
				toolCall("2", "hidden", `{}`),
				toolCall("3", "echo", `{"text": 5, "extra": true}`),
				toolCall("4", "echo", `not json`)), nil
		default:
			return answer("recovered"), nil
		}
	}}
	a := f.agent(client, Config{MaxSteps: 3})

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Answer)

	msgs := client.request(1).Messages
	require.Len(t, msgs, 7)
	assert.Contains(t, msgs[3].Content, "Error: ")
	assert.Contains(t, msgs[3].Content, "disk on fire")
	assert.Contains(t, msgs[4].Content, "not available to this agent")
	assert.Contains(t, msgs[5].Content, "invalid arguments")
	assert.Contains(t, msgs[6].Content, "not a JSON object")

	for _, rec := range res.Trace.Steps[0].ToolCalls {
		assert.NotEmpty(t, rec.Error, rec.ToolName)
	}
}

func TestMaxStepsAfterExactlyOneStep(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(context.Context, int, llm.Request) (*llm.Response, error) {
		return callTools("", toolCall("c", "echo", `{"text": "again"}`)), nil
	}}
	a := f.agent(client, Config{MaxSteps: 1})

	res, err := a.Run(context.Background(), "q")
	var maxErr *MaxStepsExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 1, maxErr.MaxSteps)

	assert.Equal(t, StateMaxSteps, res.Status)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, "Max steps (1) reached without completion", res.Answer)
	assert.True(t, res.Failed())

	require.NotNil(t, res.Trace)
	assert.Equal(t, trace.StatusFailed, res.Trace.Status)
	assert.Equal(t, TraceErrorMaxSteps, res.Trace.Error)
	assert.Len(t, res.Trace.Steps, 1)
	assert.Greater(t, res.Cost, 0.0)
}

func TestLoopTerminatesRun(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(context.Context, int, llm.Request) (*llm.Response, error) {
		return callTools("", toolCall("c", "echo", `{"text": "same"}`)), nil
	}}
	a := f.agent(client, Config{MaxSteps: 10})

	res, err := a.Run(context.Background(), "q")
	var loopErr *LoopDetectedError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, "echo", loopErr.Tool)
	assert.Equal(t, 2, loopErr.Step)

	assert.Equal(t, StateLoopTerminated, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, int32(1), f.echoes.Load())
	assert.Contains(t, res.Answer, LoopMarker)
	assert.Contains(t, res.Answer, "'echo'")

	assert.Equal(t, trace.StatusFailed, res.Trace.Status)
	assert.Equal(t, TraceErrorLoop, res.Trace.Error)
	assert.Len(t, res.Trace.Steps, 2)

	events := f.drainEvents()
	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EventLoopDetected)
	assert.Equal(t, EventRunStart, kinds[0])
	assert.Equal(t, EventRunEnd, kinds[len(kinds)-1])
}

func TestRepeatedRunsResetLoopHistory(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n%2 == 1 {
			return callTools("", toolCall("c", "echo", `{"text": "same"}`)), nil
		}
		return answer("ok"), nil
	}}
	a := f.agent(client, Config{MaxSteps: 3})

	for i := 0; i < 3; i++ {
		res, err := a.Run(context.Background(), "q")
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, StateCompleted, res.Status)
	}
	assert.Len(t, f.costs.History(), 3)
}

func TestCompletionErrorEndsRun(t *testing.T) {
	f := newFixture(t)
	boom := llm.FromStatus("openai", 401, "bad key", 0)
	client := &scriptedClient{respond: func(context.Context, int, llm.Request) (*llm.Response, error) {
		return nil, boom
	}}
	a := f.agent(client, Config{MaxSteps: 3, Retry: llm.DefaultRetryPolicy()})

	res, err := a.Run(context.Background(), "q")
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Step)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, client.calls())
	assert.Equal(t, StateErrored, res.Status)
	assert.Contains(t, res.Answer, "Error during execution")
	assert.Equal(t, trace.StatusFailed, res.Trace.Status)
	assert.Contains(t, res.Trace.Error, "bad key")
	assert.Equal(t, 0, res.Steps)
	assert.Empty(t, res.Trace.Steps)

	_, open := f.costs.Current()
	assert.False(t, open)
}

func TestCompletionErrorAfterToolStepCountsLoggedSteps(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return callTools("Echoing.", toolCall("call_a", "echo", `{"text": "once"}`)), nil
		}
		return nil, llm.FromStatus("openai", 401, "bad key", 0)
	}}
	a := f.agent(client, Config{MaxSteps: 5})

	res, err := a.Run(context.Background(), "q")
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 2, cerr.Step)
	assert.Equal(t, StateErrored, res.Status)
	assert.Equal(t, 1, res.Steps)
	assert.Len(t, res.Trace.Steps, res.Steps)
}

func TestRetryableCompletionErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return nil, llm.FromStatus("openai", 503, "overloaded", 0)
		}
		return answer("fine"), nil
	}}
	a := f.agent(client, Config{MaxSteps: 2, Retry: llm.RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2}})

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Answer)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 2, client.calls())
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(context.Context, int, llm.Request) (*llm.Response, error) {
		panic("provider exploded")
	}}
	a := f.agent(client, Config{MaxSteps: 3})

	var res *Result
	var err error
	require.NotPanics(t, func() { res, err = a.Run(context.Background(), "q") })

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateErrored, res.Status)
	assert.Contains(t, res.Answer, "provider exploded")
	assert.Equal(t, trace.StatusFailed, res.Trace.Status)
	assert.Equal(t, 0, res.Steps)
	assert.Empty(t, res.Trace.Steps)

	_, open := f.costs.Current()
	assert.False(t, open)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(ctx context.Context, _ int, _ llm.Request) (*llm.Response, error) {
		return answer("never"), nil
	}}
	a := f.agent(client, Config{MaxSteps: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Run(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateErrored, res.Status)
	assert.Equal(t, 0, res.Steps)
	assert.Equal(t, 0, client.calls())
	assert.Equal(t, trace.StatusFailed, res.Trace.Status)
}

func TestStepTimeout(t *testing.T) {
	f := newFixture(t)
	client := &scriptedClient{respond: func(ctx context.Context, _ int, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	a := f.agent(client, Config{MaxSteps: 3, StepTimeout: 20 * time.Millisecond, Retry: llm.DefaultRetryPolicy()})

	res, err := a.Run(context.Background(), "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateErrored, res.Status)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 0, res.Steps)
	assert.Len(t, res.Trace.Steps, res.Steps)
}

func TestToolCallsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	var overlapped atomic.Bool
	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "slow", Description: "Waits for its sibling.",
		Params: []tools.Param{{Name: "id", Type: tools.TypeString, Required: true}},
	}, func(ctx context.Context, args tools.Args) (any, error) {
		started.Done()
		select {
		case <-release:
			overlapped.Store(true)
		case <-time.After(2 * time.Second):
		}
		return args.String("id"), nil
	}))
	go func() {
		started.Wait()
		close(release)
	}()

	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return callTools("", toolCall("a", "slow", `{"id": "one"}`), toolCall("b", "slow", `{"id": "two"}`)), nil
		}
		return answer("both done"), nil
	}}
	a := f.agent(client, Config{MaxSteps: 3, Tools: []string{"slow"}})

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, overlapped.Load())
	msgs := client.request(1).Messages
	assert.Equal(t, "one", msgs[3].Content)
	assert.Equal(t, "two", msgs[4].Content)
	assert.Equal(t, StateCompleted, res.Status)
}

func TestStagnationSteersTheModel(t *testing.T) {
	f := newFixture(t)
	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n <= len(words)-1 {
			return callTools("I still need to look this up.",
				toolCall(fmt.Sprint(n), "echo", fmt.Sprintf(`{"text": %q}`, words[n-1]))), nil
		}
		return answer("giving up"), nil
	}}
	a := f.agent(client, Config{MaxSteps: 10})

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.Status)

	last := client.request(5).Messages
	steer := last[len(last)-1]
	assert.Equal(t, llm.RoleUser, steer.Role)
	assert.Contains(t, steer.Content, "Output stagnation detected")

	var sawStagnation bool
	for _, ev := range f.drainEvents() {
		if ev.Kind == EventStagnation {
			sawStagnation = true
		}
	}
	assert.True(t, sawStagnation)
}

func TestNilRegistryOffersNoTools(t *testing.T) {
	client := &scriptedClient{respond: func(_ context.Context, n int, _ llm.Request) (*llm.Response, error) {
		if n == 1 {
			return callTools("", toolCall("x", "echo", `{}`)), nil
		}
		return answer("ok"), nil
	}}
	a := New(client, nil, Config{MaxSteps: 2}, WithLogger(quietLogger()))

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, client.request(0).ToolDefs)
	assert.Nil(t, client.request(0).ToolChoice)
	assert.Contains(t, client.request(1).Messages[3].Content, "not available")
	assert.Equal(t, "ok", res.Answer)
}

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 10))
	assert.Equal(t, "anything", TruncateOutput("anything", 0))

	out := TruncateOutput("0123456789abcdefghij", 10)
	assert.True(t, len(out) > 10)
	assert.Contains(t, out, "01234")
	assert.Contains(t, out, "fghij")
	assert.Contains(t, out, "10 characters were removed")
	assert.NotContains(t, out, "9abcde")
}

func TestTruncateLines(t *testing.T) {
	in := "1\n2\n3\n4\n5\n6"
	assert.Equal(t, in, TruncateLines(in, 6))
	assert.Equal(t, "1\n2\n[... 2 lines omitted ...]\n5\n6", TruncateLines(in, 4))
}

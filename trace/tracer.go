package trace

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracer holds every trace started in this process. It is safe for
// concurrent use.
type Tracer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	traces map[string]*Trace
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithStore persists each trace to s when it ends.
func WithStore(s Store) Option {
	return func(t *Tracer) { t.store = s }
}

// WithLogger sets the logger for trace lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) { t.logger = l }
}

// NewTracer creates an empty Tracer.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		logger: slog.Default(),
		now:    time.Now,
		traces: make(map[string]*Trace),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTrace creates a running trace and returns its id.
func (t *Tracer) StartTrace(agentName, query, model string) string {
	t.mu.Lock()
	id := t.newIDLocked()
	t.traces[id] = &Trace{
		TraceID:    id,
		AgentName:  agentName,
		InputQuery: query,
		Model:      model,
		Steps:      []AgentStep{},
		Status:     StatusRunning,
		StartedAt:  t.now(),
	}
	t.mu.Unlock()

	t.logger.Info("trace started", "trace_id", id, "agent", agentName, "model", model, "query", query)
	return id
}

func (t *Tracer) newIDLocked() string {
	for {
		id := uuid.NewString()[:8]
		if _, taken := t.traces[id]; !taken {
			return id
		}
	}
}

// LogStep appends step to the trace and updates its totals. Unknown ids and
// ended traces are ignored.
func (t *Tracer) LogStep(traceID string, step AgentStep) {
	if step.Timestamp.IsZero() {
		step.Timestamp = t.now()
	}
	step = step.clone()

	t.mu.Lock()
	tr, ok := t.traces[traceID]
	if !ok || tr.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	tr.addStep(step)
	t.mu.Unlock()

	t.logger.Info("step completed",
		"trace_id", traceID,
		"step", step.StepNumber,
		"tool_calls", len(step.ToolCalls),
		"duration_ms", step.DurationMs,
		"cost_usd", step.CostUSD)
}

// EndTrace sets the terminal status, final output and error of a trace.
// Only the first call for an id has any effect. The ended trace is saved to
// the configured Store.
func (t *Tracer) EndTrace(traceID, output string, status Status, errText string) {
	if !status.Terminal() {
		status = StatusFailed
	}

	t.mu.Lock()
	tr, ok := t.traces[traceID]
	if !ok || tr.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	ended := t.now()
	tr.FinalOutput = output
	tr.Status = status
	tr.Error = errText
	tr.EndedAt = &ended
	snapshot := tr.Clone()
	t.mu.Unlock()

	t.logger.Info("trace ended",
		"trace_id", traceID,
		"status", status,
		"error", errText,
		"steps", len(snapshot.Steps),
		"duration_ms", snapshot.TotalDurationMs,
		"cost_usd", snapshot.TotalCostUSD)

	if t.store != nil {
		if err := t.store.Save(snapshot); err != nil {
			t.logger.Warn("saving trace failed", "trace_id", traceID, "error", err)
		}
	}
}

// GetTrace returns a copy of the trace with the given id.
func (t *Tracer) GetTrace(traceID string) (*Trace, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.traces[traceID]
	if !ok {
		return nil, false
	}
	return tr.Clone(), true
}

// TraceJSON returns the trace as indented JSON, or "{}" for an unknown id.
func (t *Tracer) TraceJSON(traceID string) ([]byte, error) {
	tr, ok := t.GetTrace(traceID)
	if !ok {
		return []byte("{}"), nil
	}
	return json.MarshalIndent(tr, "", "  ")
}

// Traces lists summaries of every trace, oldest first.
func (t *Tracer) Traces() []Summary {
	t.mu.RLock()
	out := make([]Summary, 0, len(t.traces))
	for _, tr := range t.traces {
		out = append(out, tr.Summary())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].TraceID < out[j].TraceID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Package cost keeps a per-query ledger of model spend.
package cost

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ImplicitQuery labels a query opened automatically when cost is recorded
// with no query in progress.
const ImplicitQuery = "(implicit)"

// Pricer converts token usage for a model into dollars.
type Pricer interface {
	Price(model string, inputTokens, outputTokens int) (float64, error)
}

// PricerFunc adapts a function to Pricer.
type PricerFunc func(model string, inputTokens, outputTokens int) (float64, error)

func (f PricerFunc) Price(model string, inputTokens, outputTokens int) (float64, error) {
	return f(model, inputTokens, outputTokens)
}

// Usage is the token usage reported by one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StepCost is the ledger entry for one completion.
type StepCost struct {
	StepNumber   int     `json:"step_number"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	IsToolCall   bool    `json:"is_tool_call"`
}

// QueryCost aggregates the spend of one query.
type QueryCost struct {
	Query             string     `json:"query"`
	Steps             []StepCost `json:"steps"`
	TotalCostUSD      float64    `json:"total_cost_usd"`
	TotalInputTokens  int        `json:"total_input_tokens"`
	TotalOutputTokens int        `json:"total_output_tokens"`
	Closed            bool       `json:"closed"`
}

func (q *QueryCost) addStep(s StepCost) {
	q.Steps = append(q.Steps, s)
	q.TotalCostUSD += s.CostUSD
	q.TotalInputTokens += s.InputTokens
	q.TotalOutputTokens += s.OutputTokens
}

func (q *QueryCost) clone() QueryCost {
	c := *q
	c.Steps = append([]StepCost(nil), q.Steps...)
	return c
}

// Tracker records completions against the open query and keeps closed
// queries in history. It is safe for concurrent use.
type Tracker struct {
	pricer Pricer
	logger *slog.Logger

	mu      sync.Mutex
	current *QueryCost
	history []QueryCost
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for pricing warnings.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker returns a Tracker pricing completions with pricer. A nil
// pricer prices everything at zero.
func NewTracker(pricer Pricer, opts ...Option) *Tracker {
	t := &Tracker{pricer: pricer, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartQuery opens a new query. A query still open is closed into history
// first.
func (t *Tracker) StartQuery(query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	t.current = &QueryCost{Query: query}
}

func (t *Tracker) openLocked() *QueryCost {
	if t.current == nil {
		t.current = &QueryCost{Query: ImplicitQuery}
	}
	return t.current
}

// AddCost adds a raw dollar amount to the open query.
func (t *Tracker) AddCost(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openLocked().TotalCostUSD += amount
}

// LogCompletion prices one completion and appends it to the open query.
// A pricing failure is logged and recorded as zero cost.
func (t *Tracker) LogCompletion(step int, model string, usage Usage, isToolCall bool) StepCost {
	var price float64
	if t.pricer != nil {
		p, err := t.pricer.Price(model, usage.InputTokens, usage.OutputTokens)
		if err != nil {
			t.logger.Warn("pricing failed, recording zero cost", "model", model, "step", step, "error", err)
		} else {
			price = p
		}
	}

	sc := StepCost{
		StepNumber:   step,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      price,
		IsToolCall:   isToolCall,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.openLocked().addStep(sc)
	return sc
}

// TotalCost returns the running total of the open query, or 0 when none is
// open.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0
	}
	return t.current.TotalCostUSD
}

// Current returns a copy of the open query.
func (t *Tracker) Current() (QueryCost, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return QueryCost{}, false
	}
	return t.current.clone(), true
}

// EndQuery closes the open query into history and returns it. It reports
// false when no query was open.
func (t *Tracker) EndQuery() (QueryCost, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return QueryCost{}, false
	}
	q := t.closeLocked()
	return q, true
}

func (t *Tracker) closeLocked() QueryCost {
	if t.current == nil {
		return QueryCost{}
	}
	t.current.Closed = true
	q := t.current.clone()
	t.history = append(t.history, q)
	t.current = nil
	return q
}

// History returns copies of all closed queries, oldest first.
func (t *Tracker) History() []QueryCost {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]QueryCost, len(t.history))
	for i := range t.history {
		out[i] = t.history[i].clone()
	}
	return out
}

// GrandTotal sums the cost of every closed query and the open one.
func (t *Tracker) GrandTotal() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, q := range t.history {
		total += q.TotalCostUSD
	}
	if t.current != nil {
		total += t.current.TotalCostUSD
	}
	return total
}

// WriteBreakdown writes a per-query, per-step cost report to w.
func (t *Tracker) WriteBreakdown(w io.Writer) error {
	queries := t.History()
	if cur, ok := t.Current(); ok {
		queries = append(queries, cur)
	}

	ew := &errWriter{w: w}
	ew.printf("Cost breakdown (%d queries)\n", len(queries))
	var total float64
	for i, q := range queries {
		status := "closed"
		if !q.Closed {
			status = "open"
		}
		ew.printf("\n[%d] %s (%s)\n", i+1, q.Query, status)
		for _, s := range q.Steps {
			kind := "answer"
			if s.IsToolCall {
				kind = "tool"
			}
			ew.printf("  step %-3d %-20s %-6s in=%-7d out=%-7d $%.6f\n",
				s.StepNumber, s.Model, kind, s.InputTokens, s.OutputTokens, s.CostUSD)
		}
		ew.printf("  total: %d input, %d output tokens, $%.6f\n",
			q.TotalInputTokens, q.TotalOutputTokens, q.TotalCostUSD)
		total += q.TotalCostUSD
	}
	ew.printf("\nGrand total: $%.6f\n", total)
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

package cost

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// perToken charges one cent per input token and two per output token.
var perToken = PricerFunc(func(model string, in, out int) (float64, error) {
	return float64(in)*0.01 + float64(out)*0.02, nil
})

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAddCostIsMonotonic(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartQuery("q")

	amounts := []float64{0.5, 0, 1.25, 0.125, 3}
	var want, prev float64
	for _, a := range amounts {
		tr.AddCost(a)
		want += a
		got := tr.TotalCost()
		assert.GreaterOrEqual(t, got, prev)
		assert.InDelta(t, want, got, 1e-12)
		prev = got
	}
}

func TestLogCompletion(t *testing.T) {
	tr := NewTracker(perToken)
	tr.StartQuery("what is go")

	sc := tr.LogCompletion(1, "gpt-4o", Usage{InputTokens: 100, OutputTokens: 10}, true)
	assert.Equal(t, StepCost{StepNumber: 1, Model: "gpt-4o", InputTokens: 100, OutputTokens: 10, CostUSD: 1.2, IsToolCall: true}, sc)
	tr.LogCompletion(2, "gpt-4o", Usage{InputTokens: 50, OutputTokens: 5}, false)
	tr.AddCost(0.4)

	assert.InDelta(t, 2.2, tr.TotalCost(), 1e-9)

	q, ok := tr.EndQuery()
	require.True(t, ok)
	assert.True(t, q.Closed)
	assert.Equal(t, "what is go", q.Query)
	assert.Len(t, q.Steps, 2)
	assert.Equal(t, 150, q.TotalInputTokens)
	assert.Equal(t, 15, q.TotalOutputTokens)
}

func TestPricingFailureRecordsZero(t *testing.T) {
	failing := PricerFunc(func(string, int, int) (float64, error) {
		return 0, errors.New("unknown model")
	})
	tr := NewTracker(failing, quiet())
	tr.StartQuery("q")

	sc := tr.LogCompletion(1, "mystery", Usage{InputTokens: 10, OutputTokens: 10}, false)
	assert.Zero(t, sc.CostUSD)
	assert.Zero(t, tr.TotalCost())

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Len(t, cur.Steps, 1)
}

func TestImplicitQuery(t *testing.T) {
	tr := NewTracker(perToken)
	assert.Zero(t, tr.TotalCost())

	tr.AddCost(0.5)
	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, ImplicitQuery, cur.Query)
	assert.InDelta(t, 0.5, tr.TotalCost(), 1e-12)
}

func TestEndQueryIsIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartQuery("q")
	tr.AddCost(1)

	_, ok := tr.EndQuery()
	require.True(t, ok)
	assert.Zero(t, tr.TotalCost())

	_, ok = tr.EndQuery()
	assert.False(t, ok)
	assert.Len(t, tr.History(), 1)
}

func TestStartQueryClosesOpenQuery(t *testing.T) {
	tr := NewTracker(nil)
	tr.StartQuery("first")
	tr.AddCost(1)
	tr.StartQuery("second")
	tr.AddCost(2)

	hist := tr.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "first", hist[0].Query)
	assert.True(t, hist[0].Closed)
	assert.InDelta(t, 2, tr.TotalCost(), 1e-12)
	assert.InDelta(t, 3, tr.GrandTotal(), 1e-12)
}

func TestHistoryIsACopy(t *testing.T) {
	tr := NewTracker(perToken)
	tr.StartQuery("q")
	tr.LogCompletion(1, "m", Usage{InputTokens: 1}, false)
	tr.EndQuery()

	hist := tr.History()
	hist[0].Steps[0].CostUSD = 100
	assert.InDelta(t, 0.01, tr.History()[0].Steps[0].CostUSD, 1e-12)
}

func TestWriteBreakdown(t *testing.T) {
	tr := NewTracker(perToken)
	tr.StartQuery("first query")
	tr.LogCompletion(1, "gpt-4o", Usage{InputTokens: 100, OutputTokens: 10}, true)
	tr.EndQuery()
	tr.StartQuery("second query")
	tr.LogCompletion(1, "gpt-4o", Usage{InputTokens: 10}, false)

	var buf bytes.Buffer
	require.NoError(t, tr.WriteBreakdown(&buf))
	out := buf.String()
	assert.Contains(t, out, "Cost breakdown (2 queries)")
	assert.Contains(t, out, "[1] first query (closed)")
	assert.Contains(t, out, "[2] second query (open)")
	assert.Contains(t, out, "Grand total: $1.300000")
}

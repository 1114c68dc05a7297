package loopdetect

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"", "hello", 0.0},
		{"hello", "   ", 0.0},
		{"a b c", "a b c", 1.0},
		{"A B c", "a b C", 1.0},
		{"a b", "c d", 0.0},
		{"a b c d", "a b", 0.5},
		{"python agents var 1", "python agents var 2", 0.6},
	}
	for _, tt := range tests {
		got := Jaccard(tt.a, tt.b)
		assert.InDelta(t, tt.want, got, 1e-9, "%q vs %q", tt.a, tt.b)
		assert.InDelta(t, got, Jaccard(tt.b, tt.a), 1e-9, "symmetry %q vs %q", tt.a, tt.b)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestExactLoop(t *testing.T) {
	d := New()

	first := d.CheckToolCall("t", "x")
	assert.False(t, first.IsLooping)
	assert.Equal(t, StrategyNone, first.Strategy)

	second := d.CheckToolCall("t", "x")
	require.True(t, second.IsLooping)
	assert.Equal(t, StrategyExact, second.Strategy)
	assert.Equal(t, 1.0, second.Confidence)
	assert.Contains(t, second.Message, "'t' called 2 times")

	third := d.CheckToolCall("t", "x")
	assert.True(t, third.IsLooping)
	assert.Contains(t, third.Message, "called 3 times")
}

func TestExactLoopIgnoresArgumentOrder(t *testing.T) {
	d := New()
	assert.False(t, d.CheckToolCall("search", `{"query": "go", "max_results": 3}`).IsLooping)

	res := d.CheckToolCall("search", `{"max_results":3,"query":"go"}`)
	assert.True(t, res.IsLooping)
	assert.Equal(t, StrategyExact, res.Strategy)
}

func TestDifferentToolsDoNotLoop(t *testing.T) {
	d := New()
	assert.False(t, d.CheckToolCall("a", "x").IsLooping)
	assert.False(t, d.CheckToolCall("b", "x").IsLooping)
	assert.False(t, d.CheckToolCall("c", "x").IsLooping)
}

func TestExactThresholdOption(t *testing.T) {
	d := New(WithExactThreshold(3))
	assert.False(t, d.CheckToolCall("t", "x").IsLooping)
	assert.False(t, d.CheckToolCall("t", "x").IsLooping)
	assert.True(t, d.CheckToolCall("t", "x").IsLooping)
}

func TestFuzzyLoop(t *testing.T) {
	d := New()
	base := "best tutorial for building ai agents in python with"

	assert.False(t, d.CheckToolCall("search_web", base+" alpha").IsLooping)
	assert.False(t, d.CheckToolCall("search_web", base+" beta").IsLooping)

	res := d.CheckToolCall("search_web", base+" gamma")
	require.True(t, res.IsLooping)
	assert.Equal(t, StrategyFuzzy, res.Strategy)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Contains(t, res.Message, "'search_web'")
}

func TestFuzzyLoopNeedsHighOverlap(t *testing.T) {
	d := New()
	for i := 1; i <= 3; i++ {
		res := d.CheckToolCall("search", fmt.Sprintf("python agents var %d", i))
		assert.False(t, res.IsLooping, "call %d", i)
	}
}

func TestFuzzyLoopOnlyLooksAtRecentCalls(t *testing.T) {
	d := New()
	base := "one two three four five six seven eight nine"
	assert.False(t, d.CheckToolCall("s", base+" a").IsLooping)
	assert.False(t, d.CheckToolCall("s", base+" b").IsLooping)
	for i := 0; i < fuzzyLookback; i++ {
		d.CheckToolCall("s", fmt.Sprintf("unrelated query number %d", i))
	}
	assert.False(t, d.CheckToolCall("s", base+" c").IsLooping)
}

func TestFuzzyLoopWindowSpansAllTools(t *testing.T) {
	d := New()
	base := "one two three four five six seven eight nine"
	assert.False(t, d.CheckToolCall("search_web", base+" alpha").IsLooping)
	assert.False(t, d.CheckToolCall("search_web", base+" beta").IsLooping)
	for i := 0; i < fuzzyLookback; i++ {
		d.CheckToolCall("read_webpage", fmt.Sprintf(`{"url": "https://example.com/%d"}`, i))
	}
	assert.False(t, d.CheckToolCall("search_web", base+" gamma").IsLooping)
}

func TestFuzzyLoopSurvivesShortInterleaving(t *testing.T) {
	d := New()
	base := "one two three four five six seven eight nine"
	d.CheckToolCall("search_web", base+" alpha")
	d.CheckToolCall("read_webpage", `{"url": "https://example.com"}`)
	d.CheckToolCall("search_web", base+" beta")
	res := d.CheckToolCall("search_web", base+" gamma")
	assert.True(t, res.IsLooping)
	assert.Equal(t, StrategyFuzzy, res.Strategy)
}

func TestOutputStagnation(t *testing.T) {
	d := New()
	out := "I am still looking for the answer to your question"

	assert.False(t, d.CheckOutputStagnation(out).IsLooping)
	assert.False(t, d.CheckOutputStagnation(out).IsLooping)

	res := d.CheckOutputStagnation(out)
	require.True(t, res.IsLooping)
	assert.Equal(t, StrategyStagnation, res.Strategy)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Contains(t, res.Message, "last 3 outputs are 100% similar")
}

func TestOutputStagnationWindow(t *testing.T) {
	d := New(WithStagnationWindow(5))
	for i := 0; i < 4; i++ {
		assert.False(t, d.CheckOutputStagnation("same words").IsLooping)
	}
	assert.True(t, d.CheckOutputStagnation("same words").IsLooping)
}

func TestOutputProgressIsNotStagnation(t *testing.T) {
	d := New()
	assert.False(t, d.CheckOutputStagnation("searching for sources").IsLooping)
	assert.False(t, d.CheckOutputStagnation("reading the go documentation").IsLooping)
	assert.False(t, d.CheckOutputStagnation("computing the growth rate now").IsLooping)
}

func TestReset(t *testing.T) {
	d := New()
	d.CheckToolCall("t", "x")
	d.CheckOutputStagnation("same")
	d.CheckOutputStagnation("same")
	d.Reset()

	assert.False(t, d.CheckToolCall("t", "x").IsLooping)
	assert.False(t, d.CheckOutputStagnation("same").IsLooping)
}

func TestHistoryLimit(t *testing.T) {
	d := New(WithHistoryLimit(5))
	d.CheckToolCall("t", "x")
	for i := 0; i < 5; i++ {
		d.CheckToolCall("other", fmt.Sprintf("%d", i))
	}
	assert.False(t, d.CheckToolCall("t", "x").IsLooping)
}

func TestConcurrentChecks(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.CheckToolCall("t", fmt.Sprintf("unique-%d", i))
			d.CheckOutputStagnation(fmt.Sprintf("output %d", i))
		}(i)
	}
	wg.Wait()
	assert.True(t, d.CheckToolCall("t", "unique-3").IsLooping)
}

func TestNormalizeArguments(t *testing.T) {
	assert.Equal(t, "opts.n 2 query Go tags a b",
		NormalizeArguments(`{"query":"Go","opts":{"n":2},"tags":["a","b"]}`))
	assert.Equal(t, "plain text", NormalizeArguments("  plain text  "))
	assert.Equal(t, "[1,2]", NormalizeArguments("[1,2]"))
	assert.Equal(t, "", NormalizeArguments(""))
	assert.Equal(t, "", NormalizeArguments("{}"))
}

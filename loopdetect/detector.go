// Package loopdetect flags agents that are stuck: repeating the same tool
// call, rephrasing the same call, or producing near-identical outputs.
package loopdetect

import (
	"fmt"
	"strings"
	"sync"
)

// Strategy names the rule that produced a Result.
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategyExact      Strategy = "exact"
	StrategyFuzzy      Strategy = "fuzzy"
	StrategyStagnation Strategy = "stagnation"
)

// fuzzyLookback is how many recent calls the fuzzy rule compares against.
const fuzzyLookback = 5

// Result is the outcome of a single check.
type Result struct {
	IsLooping  bool     `json:"is_looping"`
	Strategy   Strategy `json:"strategy"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
}

func notLooping() Result {
	return Result{Strategy: StrategyNone}
}

type fingerprint struct {
	tool string
	args string
}

// Detector holds the per-run call and output history. It is safe for
// concurrent use; call Reset between runs that share an instance.
type Detector struct {
	exactThreshold   int
	fuzzyThreshold   float64
	stagnationWindow int
	historyLimit     int

	mu      sync.Mutex
	calls   []fingerprint
	outputs []string
}

// Option configures a Detector.
type Option func(*Detector)

// WithExactThreshold sets how many identical calls, the current one
// included, are tolerated before a loop is reported. It also sets the number
// of similar prior calls that trigger the fuzzy rule.
func WithExactThreshold(n int) Option {
	return func(d *Detector) { d.exactThreshold = n }
}

// WithFuzzyThreshold sets the Jaccard similarity at which two argument
// strings, or two outputs, count as the same.
func WithFuzzyThreshold(f float64) Option {
	return func(d *Detector) { d.fuzzyThreshold = f }
}

// WithStagnationWindow sets how many recent outputs are compared.
func WithStagnationWindow(n int) Option {
	return func(d *Detector) { d.stagnationWindow = n }
}

// WithHistoryLimit bounds the number of remembered calls and outputs.
func WithHistoryLimit(n int) Option {
	return func(d *Detector) { d.historyLimit = n }
}

// New returns a Detector with thresholds 2 (exact), 0.8 (fuzzy) and a
// stagnation window of 3, adjusted by opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		exactThreshold:   2,
		fuzzyThreshold:   0.8,
		stagnationWindow: 3,
		historyLimit:     100,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.exactThreshold < 1 {
		d.exactThreshold = 1
	}
	if d.stagnationWindow < 2 {
		d.stagnationWindow = 2
	}
	if d.historyLimit < fuzzyLookback {
		d.historyLimit = fuzzyLookback
	}
	return d
}

// CheckToolCall reports whether calling tool with args continues a loop.
// It must run before the call executes. The call is recorded whatever the
// outcome, so repeated offenses keep accumulating.
func (d *Detector) CheckToolCall(tool, args string) Result {
	current := fingerprint{tool: tool, args: NormalizeArguments(args)}

	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.recordCall(current)

	occurrences := 1
	for _, past := range d.calls {
		if past == current {
			occurrences++
		}
	}
	if occurrences >= d.exactThreshold && occurrences > 1 {
		return Result{
			IsLooping: true,
			Strategy:  StrategyExact,
			Message: fmt.Sprintf("Exact loop detected: '%s' called %d times with identical arguments. Change your approach.",
				tool, occurrences),
			Confidence: 1.0,
		}
	}

	similar := 0
	for _, past := range d.calls[max(0, len(d.calls)-fuzzyLookback):] {
		if past.tool == tool && Jaccard(current.args, past.args) >= d.fuzzyThreshold {
			similar++
		}
	}
	if similar >= d.exactThreshold {
		return Result{
			IsLooping: true,
			Strategy:  StrategyFuzzy,
			Message: fmt.Sprintf("Fuzzy loop detected: '%s' called with very similar arguments %d times. "+
				"The rephrasing isn't helping; try a completely different tool or approach.", tool, similar+1),
			Confidence: 0.85,
		}
	}
	return notLooping()
}

func (d *Detector) recordCall(fp fingerprint) {
	d.calls = append(d.calls, fp)
	if over := len(d.calls) - d.historyLimit; over > 0 {
		d.calls = append(d.calls[:0], d.calls[over:]...)
	}
}

// CheckOutputStagnation records output and reports stagnation once the
// mean pairwise similarity of the most recent window reaches the fuzzy
// threshold.
func (d *Detector) CheckOutputStagnation(output string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.outputs = append(d.outputs, output)
	if over := len(d.outputs) - d.historyLimit; over > 0 {
		d.outputs = append(d.outputs[:0], d.outputs[over:]...)
	}
	if len(d.outputs) < d.stagnationWindow {
		return notLooping()
	}

	recent := d.outputs[len(d.outputs)-d.stagnationWindow:]
	var sum float64
	pairs := 0
	for i := range recent {
		for j := i + 1; j < len(recent); j++ {
			sum += Jaccard(recent[i], recent[j])
			pairs++
		}
	}
	mean := sum / float64(pairs)
	if mean >= d.fuzzyThreshold {
		return Result{
			IsLooping: true,
			Strategy:  StrategyStagnation,
			Message: fmt.Sprintf("Output stagnation detected: last %d outputs are %.0f%% similar. "+
				"The agent is not making progress. Try a different approach entirely.", d.stagnationWindow, mean*100),
			Confidence: mean,
		}
	}
	return notLooping()
}

// Reset clears both histories.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
	d.outputs = nil
}

// Jaccard returns the word-level Jaccard similarity of a and b, using
// lower-cased whitespace tokens. Two empty strings are identical (1.0);
// an empty and a non-empty string share nothing (0.0).
func Jaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

package pipeline

import (
	"log/slog"
	"time"

	"github.com/martinemde/observagent/agent"
	"github.com/martinemde/observagent/cost"
	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/loopdetect"
	"github.com/martinemde/observagent/tools"
	"github.com/martinemde/observagent/trace"
)

// BuildConfig holds what the three stage agents share.
type BuildConfig struct {
	Model       string
	Profiles    map[Stage]StageProfile
	StepTimeout time.Duration
	Retry       llm.RetryPolicy

	ExactThreshold   int
	FuzzyThreshold   float64
	StagnationWindow int

	Tracer *trace.Tracer
	Costs  *cost.Tracker
	Events *agent.EventEmitter
	Logger *slog.Logger
}

// Build creates the researcher, analyst and writer agents, each offered the
// registry tools of its profile's category, and wires them into an
// Orchestrator. Missing profiles fall back to DefaultProfiles.
func Build(client agent.Completer, reg *tools.Registry, cfg BuildConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.NewTracer(trace.WithLogger(cfg.Logger))
	}
	if cfg.Costs == nil {
		cfg.Costs = cost.NewTracker(llm.CatalogPricer{}, cost.WithLogger(cfg.Logger))
	}

	defaults := DefaultProfiles()
	build := func(s Stage) *agent.Agent {
		p, ok := cfg.Profiles[s]
		if !ok {
			p = defaults[s]
		}
		names := []string{}
		if reg != nil {
			for _, t := range reg.ByCategory(p.Category) {
				names = append(names, t.Name())
			}
		}

		var detOpts []loopdetect.Option
		if cfg.ExactThreshold > 0 {
			detOpts = append(detOpts, loopdetect.WithExactThreshold(cfg.ExactThreshold))
		}
		if cfg.FuzzyThreshold > 0 {
			detOpts = append(detOpts, loopdetect.WithFuzzyThreshold(cfg.FuzzyThreshold))
		}
		window := cfg.StagnationWindow
		if window <= 0 {
			window = 5
		}
		detOpts = append(detOpts, loopdetect.WithStagnationWindow(window))

		return agent.New(client, reg, agent.Config{
			Name:         p.Name,
			Model:        cfg.Model,
			SystemPrompt: p.SystemPrompt,
			MaxSteps:     p.MaxSteps,
			Tools:        names,
			StepTimeout:  cfg.StepTimeout,
			Retry:        cfg.Retry,
		},
			agent.WithTracer(cfg.Tracer),
			agent.WithCostTracker(cfg.Costs),
			agent.WithLoopDetector(loopdetect.New(detOpts...)),
			agent.WithEvents(cfg.Events),
			agent.WithLogger(cfg.Logger),
		)
	}

	return NewOrchestrator(
		build(StageResearch),
		build(StageAnalysis),
		build(StageWriting),
		WithTracer(cfg.Tracer),
		WithLogger(cfg.Logger),
	)
}

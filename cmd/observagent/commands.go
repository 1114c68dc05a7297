package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/martinemde/observagent/agent"
	"github.com/martinemde/observagent/config"
	"github.com/martinemde/observagent/cost"
	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/pipeline"
	"github.com/martinemde/observagent/trace"
)

// RunCmd runs the three-stage pipeline once.
type RunCmd struct {
	JSON          bool `long:"json" description:"print the full result as JSON"`
	CostBreakdown bool `long:"cost-breakdown" description:"print per-step costs after the answer"`
	Events        bool `short:"v" long:"events" description:"stream agent events to stderr"`

	Args struct {
		Query []string `positional-arg-name:"query" required:"1"`
	} `positional-args:"yes"`
}

func (c *RunCmd) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	reg, err := newRegistry(cfg.Search, logger)
	if err != nil {
		return err
	}

	tracerOpts := []trace.Option{trace.WithLogger(logger)}
	if cfg.TraceDB != "" {
		store, err := trace.OpenBoltStore(cfg.TraceDB)
		if err != nil {
			return err
		}
		defer store.Close()
		tracerOpts = append(tracerOpts, trace.WithStore(store))
	}
	tracer := trace.NewTracer(tracerOpts...)
	costs := cost.NewTracker(llm.CatalogPricer{}, cost.WithLogger(logger))

	var events *agent.EventEmitter
	done := make(chan struct{})
	if c.Events {
		events = agent.NewEventEmitter(256)
		go func() {
			defer close(done)
			for ev := range events.Events() {
				data, _ := json.Marshal(ev.Data)
				fmt.Fprintf(os.Stderr, "%s [%s] %s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Agent, ev.Kind, data)
			}
		}()
	} else {
		close(done)
	}

	orch := pipeline.Build(client, reg, pipeline.BuildConfig{
		Model:            cfg.Model,
		Profiles:         stageProfiles(cfg),
		StepTimeout:      cfg.StepTimeout,
		Retry:            cfg.Retry.Policy(),
		ExactThreshold:   cfg.Loop.ExactThreshold,
		FuzzyThreshold:   cfg.Loop.FuzzyThreshold,
		StagnationWindow: cfg.Loop.StagnationWindow,
		Tracer:           tracer,
		Costs:            costs,
		Events:           events,
		Logger:           logger,
	})

	res, runErr := orch.Run(ctx, strings.Join(c.Args.Query, " "))
	if events != nil {
		events.Close()
	}
	<-done

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if runErr == nil {
		fmt.Println(res.Answer)
		fmt.Printf("\nCost: $%.4f  Trace: %s\n", res.Cost, res.TraceID)
	}
	if c.CostBreakdown {
		fmt.Println()
		if err := costs.WriteBreakdown(os.Stdout); err != nil {
			return err
		}
	}
	return runErr
}

// TraceShowCmd prints a saved trace.
type TraceShowCmd struct {
	Args struct {
		ID string `positional-arg-name:"trace-id" required:"yes"`
	} `positional-args:"yes"`
}

func (c *TraceShowCmd) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := store.Load(c.Args.ID)
	if errors.Is(err, trace.ErrNotFound) {
		return fmt.Errorf("no trace with id %q", c.Args.ID)
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// TraceListCmd lists saved traces, oldest first.
type TraceListCmd struct{}

func (c *TraceListCmd) Execute(_ []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tSTEPS\tCOST\tSTARTED\tQUERY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\t%s\n",
			s.TraceID, s.AgentName, s.Status, s.Steps, s.TotalCostUSD,
			s.StartedAt.Format("2006-01-02 15:04:05"), ellipsize(s.InputQuery, 60))
	}
	return w.Flush()
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

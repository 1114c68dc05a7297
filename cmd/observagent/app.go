package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/martinemde/observagent/config"
	"github.com/martinemde/observagent/llm"
	"github.com/martinemde/observagent/pipeline"
	"github.com/martinemde/observagent/tools"
	"github.com/martinemde/observagent/tools/builtin"
	"github.com/martinemde/observagent/trace"
)

// newLogger builds the process logger. Every record logged with a context
// carrying a trace id gets a trace_id attribute.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(trace.NewLogHandler(h))
}

// newClient registers the configured adapter under the provider name.
func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	var adapter llm.ProviderAdapter
	switch cfg.Adapter {
	case "gollm":
		a, err := llm.NewGollmAdapter(cfg.Provider, llm.WithAPIKey(cfg.APIKey), llm.WithModel(cfg.Model))
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		a, err := llm.NewEinoAdapter(ctx, llm.EinoConfig{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		adapter = a
	}
	return llm.NewClient(
		llm.WithProvider(cfg.Provider, adapter),
		llm.WithMiddleware(llm.LoggingMiddleware(logger)),
	), nil
}

// newRegistry registers the built-in tools.
func newRegistry(cfg config.SearchConfig, logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	bopts := []builtin.Option{builtin.WithLogger(logger)}
	if cfg.Endpoint != "" {
		bopts = append(bopts, builtin.WithSearchEndpoint(cfg.Endpoint))
	}
	if cfg.MaxPageChars > 0 {
		bopts = append(bopts, builtin.WithMaxPageChars(cfg.MaxPageChars))
	}
	if err := builtin.Register(reg, bopts...); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return reg, nil
}

// stageProfiles applies the per-stage overrides to the built-in profiles.
func stageProfiles(cfg *config.Config) map[pipeline.Stage]pipeline.StageProfile {
	profiles := pipeline.DefaultProfiles()
	overrides := map[pipeline.Stage]config.StageConfig{
		pipeline.StageResearch: cfg.Researcher,
		pipeline.StageAnalysis: cfg.Analyst,
		pipeline.StageWriting:  cfg.Writer,
	}
	for stage, o := range overrides {
		p := profiles[stage]
		if o.MaxSteps > 0 {
			p.MaxSteps = o.MaxSteps
		}
		if strings.TrimSpace(o.SystemPrompt) != "" {
			p.SystemPrompt = o.SystemPrompt
		}
		profiles[stage] = p
	}
	return profiles
}

// openStore opens the configured trace database.
func openStore(cfg *config.Config) (*trace.BoltStore, error) {
	if cfg.TraceDB == "" {
		return nil, errors.New("no trace database configured (set trace_db or OBSERVAGENT_TRACE_DB)")
	}
	return trace.OpenBoltStore(cfg.TraceDB)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Veraticus/ledgerflow/internal/agent"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/config"
	"github.com/Veraticus/ledgerflow/internal/llm"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/Veraticus/ledgerflow/internal/tools"
	"github.com/google/uuid"
)

// openStorage opens the configured database and brings its schema up to date.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database)
	if err != nil {
		return nil, common.NewUserError("Could not open the database at "+cfg.Database, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newRegistry registers the web-search tools available to agents.
func newRegistry(cfg *config.Config) *tools.Registry {
	registry := tools.NewRegistry(tools.NewSearXNG(tools.SearXNGConfig{
		BaseURL:    cfg.Search.SearXNGURL,
		MaxResults: cfg.Search.MaxResults,
		RatePerSec: cfg.Search.RatePerSec,
	}))
	if cfg.Search.BraveAPIKey != "" {
		registry.Register(tools.NewBrave(tools.BraveConfig{
			APIKey:     cfg.Search.BraveAPIKey,
			MaxResults: cfg.Search.MaxResults,
			RatePerSec: cfg.Search.RatePerSec,
		}))
	}
	return registry
}

// pipeline is everything needed to process transactions in this process.
type pipeline struct {
	table        *agent.Table
	orchestrator *agent.Orchestrator
	processor    *agent.Processor
}

// newPipeline wires the LLM factory, orchestrator and escalation policy for
// the agents stored in the database.
func newPipeline(ctx context.Context, cfg *config.Config, store service.Storage, logger, audit *slog.Logger) (*pipeline, error) {
	registry := newRegistry(cfg)
	table, err := agent.LoadTable(ctx, store, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}

	retry := service.DefaultRetryOptions()
	retry.MaxAttempts = max(1, cfg.LLM.MaxRetries)
	factory := llm.NewFactory(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		RateLimit: cfg.LLM.RateLimit,
		Retry:     retry,
	}, logger)

	orch := agent.NewOrchestrator(factory, registry, store,
		agent.WithMaxToolCalls(cfg.Tasks.MaxToolCalls),
		agent.WithAuditLogger(audit))
	escalation := agent.NewEscalation(orch, table,
		agent.WithMaxAttempts(cfg.Tasks.MaxAttempts),
		agent.WithEscalationLogger(logger))

	return &pipeline{table: table, orchestrator: orch, processor: agent.NewProcessor(orch, escalation)}, nil
}

func parseTaskIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, common.NewUserError(fmt.Sprintf("%q is not a valid task id", arg), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseTransactionIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, common.NewUserError(fmt.Sprintf("%q is not a valid transaction id", arg), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

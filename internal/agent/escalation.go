package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// DefaultMaxAttempts is how many times a classification agent is asked
// before escalating.
const DefaultMaxAttempts = 2

// ErrInvalidAgentType is returned when an agent is used for work its type
// does not perform.
var ErrInvalidAgentType = errors.New("invalid agent type")

// Runner invokes one agent over one transaction.
type Runner interface {
	Run(ctx context.Context, agent *model.Agent, txn *model.Transaction) (*Result, error)
}

// AgentSource resolves agents by name.
type AgentSource interface {
	Agent(name string) (*model.Agent, error)
}

// Escalation retries a classification agent whose answer names a category
// outside the allowed set, then hands the transaction to an escalation
// agent, and finally falls back to a review marker.
type Escalation struct {
	runner          Runner
	agents          AgentSource
	logger          *slog.Logger
	escalationAgent string
	maxAttempts     int
}

// EscalationOption configures an Escalation.
type EscalationOption func(*Escalation)

// WithMaxAttempts sets the attempt budget for the primary agent.
func WithMaxAttempts(n int) EscalationOption {
	return func(e *Escalation) {
		e.maxAttempts = max(1, n)
	}
}

// WithEscalationAgent names the agent consulted after the primary agent
// exhausts its attempts. An empty name disables escalation.
func WithEscalationAgent(name string) EscalationOption {
	return func(e *Escalation) {
		e.escalationAgent = name
	}
}

// WithEscalationLogger sets the logger.
func WithEscalationLogger(logger *slog.Logger) EscalationOption {
	return func(e *Escalation) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEscalation creates an escalation policy around runner.
func NewEscalation(runner Runner, agents AgentSource, opts ...EscalationOption) *Escalation {
	e := &Escalation{
		runner:          runner,
		agents:          agents,
		logger:          slog.Default(),
		escalationAgent: model.ClassificationEscalation,
		maxAttempts:     DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify classifies txn with the named agent.
func (e *Escalation) Classify(ctx context.Context, agentName string, txn *model.Transaction) (*Result, error) {
	agent, err := e.agents.Agent(agentName)
	if err != nil {
		return nil, err
	}
	return e.ClassifyWith(ctx, agent, txn)
}

// ClassifyWith classifies txn with agent. Errors from the orchestrator are
// returned as-is; only category validation failures are retried.
func (e *Escalation) ClassifyWith(ctx context.Context, agent *model.Agent, txn *model.Transaction) (*Result, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if !agent.IsClassification() {
		return nil, fmt.Errorf("%w: %s is a %s agent", ErrInvalidAgentType, agent.Name, agent.Type)
	}

	usage := make(map[string]int)
	escalated := false
	var last *Result
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		res, done, err := e.attempt(ctx, agent, txn, usage)
		if err != nil || done {
			return res, err
		}
		last = res
		e.logger.Warn("classification named a category outside the allowed set",
			"agent", agent.Name,
			"transaction_id", txn.ID,
			"attempt", attempt,
			"category", categoryKey(res.Fields))
	}

	if e.escalationAgent != "" && e.escalationAgent != agent.Name {
		escalation, err := e.agents.Agent(e.escalationAgent)
		switch {
		case errors.Is(err, common.ErrNotFound):
			e.logger.Warn("escalation agent not configured", "agent", e.escalationAgent)
		case err != nil:
			return nil, fmt.Errorf("resolving escalation agent: %w", err)
		default:
			e.logger.Info("escalating classification",
				"from", agent.Name,
				"to", escalation.Name,
				"transaction_id", txn.ID)

			res, done, err := e.attempt(ctx, escalation, txn, usage)
			if err != nil || done {
				return res, err
			}
			last = res
			escalated = true
		}
	}

	return reviewResult(last, usage, e.maxAttempts, escalated), nil
}

// attempt runs agent once and accumulates tool usage. done reports whether
// the result can be returned as-is.
func (e *Escalation) attempt(ctx context.Context, agent *model.Agent, txn *model.Transaction, usage map[string]int) (*Result, bool, error) {
	res, err := e.runner.Run(ctx, agent, txn)
	if err != nil {
		return nil, true, err
	}
	for name, n := range res.ToolUsage {
		usage[name] += n
	}
	res.ToolUsage = usage

	if res.Guardrail || res.ParseFailed {
		return res, true, nil
	}
	return res, res.Allowed.Valid(categoryKey(res.Fields)), nil
}

// categoryKey returns the category reference an answer makes, preferring the
// identifier over the display name.
func categoryKey(fields map[string]any) string {
	for _, key := range []string{"category_id", "category", "category_name"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func reviewResult(last *Result, usage map[string]int, attempts int, escalated bool) *Result {
	tried := fmt.Sprintf("%d attempts", attempts)
	if attempts == 1 {
		tried = "1 attempt"
	}
	if escalated {
		tried += " and escalation"
	}
	res := &Result{
		Fields: map[string]any{
			"classification_type": model.ClassificationReview,
			"category":            model.CategoryReview,
			"confidence":          model.ConfidenceLow,
			"reasoning":           "No allowed category was selected after " + tried + "; flagged for review.",
		},
		ToolUsage: usage,
	}
	if last != nil {
		res.Allowed = last.Allowed
		res.ToolCalls = last.ToolCalls
		res.LLMCalls = last.LLMCalls
	}
	return res
}

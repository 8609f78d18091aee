package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/llm"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/tools"
)

// DefaultMaxToolCalls is the per-invocation tool call ceiling.
const DefaultMaxToolCalls = 3

// ForceFinalMessage is appended once the tool call ceiling is reached.
const ForceFinalMessage = "Maximum search limit reached. Now provide your final response in the exact JSON format specified."

const toolLimitMessage = "Tool call limit reached. This call was not executed."

// Orchestrator errors.
var (
	ErrNoFinalResponse = errors.New("agent requested tools after the tool call limit")
	ErrEmptyResponse   = errors.New("agent returned neither content nor tool calls")
	ErrNilAgent        = errors.New("agent is nil")
	ErrNilTransaction  = errors.New("transaction is nil")
)

// ClientProvider hands out chat clients for an agent's model.
type ClientProvider interface {
	ClientFor(cfg model.LLMConfig) (llm.ChatClient, error)
}

// ContextStore loads the client context rendered into prompts.
type ContextStore interface {
	GetBusinessProfile(ctx context.Context, clientID string) (*model.BusinessProfile, error)
	GetIRSCategories(ctx context.Context, worksheet string) ([]model.IRSCategory, error)
	GetBusinessCategories(ctx context.Context, clientID, worksheet string) ([]model.BusinessCategory, error)
}

// Result is the outcome of one agent invocation.
type Result struct {
	Fields    map[string]any
	ToolUsage map[string]int
	Allowed   *model.AllowedCategories
	ToolCalls int
	LLMCalls  int
	// ParseFailed is set when the final content was not a JSON object.
	ParseFailed bool
	// Guardrail is set when the income rule answered without an LLM call.
	Guardrail bool
}

// Orchestrator runs one agent over one transaction: it renders the prompt,
// drives the tool-calling loop and parses the final JSON answer.
type Orchestrator struct {
	clients      ClientProvider
	registry     *tools.Registry
	store        ContextStore
	audit        *slog.Logger
	maxToolCalls int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxToolCalls overrides the tool call ceiling. Negative values are
// treated as zero.
func WithMaxToolCalls(n int) Option {
	return func(o *Orchestrator) {
		o.maxToolCalls = max(0, n)
	}
}

// WithAuditLogger sends request and response records to logger.
func WithAuditLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.audit = logger
		}
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(clients ClientProvider, registry *tools.Registry, store ContextStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clients:      clients,
		registry:     registry,
		store:        store,
		audit:        slog.Default(),
		maxToolCalls: DefaultMaxToolCalls,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxToolCalls returns the configured ceiling.
func (o *Orchestrator) MaxToolCalls() int {
	return o.maxToolCalls
}

// Run invokes agent for txn. It makes at most MaxToolCalls()+1 LLM calls.
func (o *Orchestrator) Run(ctx context.Context, agent *model.Agent, txn *model.Transaction) (*Result, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if txn == nil {
		return nil, ErrNilTransaction
	}

	if agent.IsClassification() && txn.IsIncome() {
		o.audit.Info("income guardrail applied",
			"agent", agent.Name,
			"transaction_id", txn.ID,
			"amount", txn.Amount.String())
		return incomeResult(), nil
	}

	input := PromptInput{Agent: agent, Transaction: txn}
	if err := o.loadContext(ctx, &input); err != nil {
		return nil, err
	}

	prompt, err := BuildPrompt(input)
	if err != nil {
		return nil, err
	}
	o.audit.Info("prompt",
		"agent", agent.Name,
		"transaction_id", txn.ID,
		"system", prompt.System,
		"user", prompt.User)

	client, err := o.clients.ClientFor(agent.LLM)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, err)
	}

	specs, err := o.registry.Specs(agent.Tools)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, err)
	}
	toolSpecs := make([]llm.ToolSpec, len(specs))
	for i, s := range specs {
		toolSpecs[i] = llm.ToolSpec(s)
	}
	implByName := make(map[string]string, len(agent.Tools))
	for _, t := range agent.Tools {
		implByName[t.Name] = t.Implementation
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: prompt.System}}
	if prompt.User != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt.User})
	}

	result := &Result{
		ToolUsage: make(map[string]int),
		Allowed:   input.AllowedCategories,
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := &llm.Request{
			Model:        agent.LLM.Model,
			Messages:     messages,
			JSONResponse: true,
		}
		if len(toolSpecs) > 0 && result.ToolCalls < o.maxToolCalls {
			req.Tools = toolSpecs
		}

		o.audit.Info("llm request",
			"agent", agent.Name,
			"transaction_id", txn.ID,
			"model", agent.LLM.Model,
			"messages", len(messages),
			"tools_offered", len(req.Tools),
			"tool_calls", result.ToolCalls)

		resp, err := client.Chat(ctx, req)
		result.LLMCalls++
		if err != nil {
			return nil, fmt.Errorf("agent %q: llm call: %w", agent.Name, err)
		}

		o.audit.Info("llm response",
			"agent", agent.Name,
			"transaction_id", txn.ID,
			"finish_reason", resp.FinishReason,
			"tool_calls", len(resp.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"content", resp.Content)

		if len(resp.ToolCalls) > 0 {
			if req.Tools == nil {
				return nil, fmt.Errorf("agent %q: %w", agent.Name, ErrNoFinalResponse)
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				msg, err := o.invokeTool(ctx, agent, txn, call, implByName, result)
				if err != nil {
					return nil, err
				}
				messages = append(messages, msg)
			}
			if result.ToolCalls >= o.maxToolCalls {
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: ForceFinalMessage})
			}
			continue
		}

		if strings.TrimSpace(resp.Content) == "" {
			return nil, fmt.Errorf("agent %q: %w", agent.Name, ErrEmptyResponse)
		}

		result.Fields, result.ParseFailed = parseFields(resp.Content)
		if result.ParseFailed {
			o.audit.Warn("agent response is not a JSON object",
				"agent", agent.Name,
				"transaction_id", txn.ID)
		}
		return result, nil
	}
}

func (o *Orchestrator) invokeTool(
	ctx context.Context,
	agent *model.Agent,
	txn *model.Transaction,
	call llm.ToolCall,
	implByName map[string]string,
	result *Result,
) (llm.Message, error) {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}
	if result.ToolCalls >= o.maxToolCalls {
		msg.Content = toolLimitMessage
		return msg, nil
	}

	impl, ok := implByName[call.Name]
	if !ok {
		return msg, fmt.Errorf("agent %q: %w: %s", agent.Name, tools.ErrUnknownTool, call.Name)
	}

	o.audit.Info("tool call",
		"agent", agent.Name,
		"transaction_id", txn.ID,
		"tool", call.Name,
		"arguments", call.Arguments)

	results, err := o.registry.Invoke(ctx, impl, call.Arguments)
	if err != nil {
		return msg, fmt.Errorf("agent %q: %w", agent.Name, err)
	}
	result.ToolCalls++
	result.ToolUsage[call.Name]++

	content, err := json.Marshal(results)
	if err != nil {
		return msg, fmt.Errorf("encoding %s results: %w", call.Name, err)
	}
	msg.Content = string(content)

	o.audit.Info("tool result",
		"agent", agent.Name,
		"transaction_id", txn.ID,
		"tool", call.Name,
		"results", len(results),
		"content", msg.Content)
	return msg, nil
}

func (o *Orchestrator) loadContext(ctx context.Context, input *PromptInput) error {
	clientID := input.Transaction.ClientID

	profile, err := o.store.GetBusinessProfile(ctx, clientID)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading business profile for %s: %w", clientID, err)
	default:
		input.BusinessProfile = profile
	}

	if !input.Agent.IsClassification() {
		return nil
	}

	irs, err := o.store.GetIRSCategories(ctx, model.WorksheetDefault)
	if err != nil {
		return fmt.Errorf("loading IRS categories: %w", err)
	}
	biz, err := o.store.GetBusinessCategories(ctx, clientID, model.WorksheetDefault)
	if err != nil {
		return fmt.Errorf("loading business categories for %s: %w", clientID, err)
	}
	input.AllowedCategories = model.NewAllowedCategories(irs, biz)
	return nil
}

// parseFields decodes the model's final answer. Anything other than a JSON
// object yields an empty map and failed=true.
func parseFields(content string) (fields map[string]any, failed bool) {
	if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &fields); err != nil || fields == nil {
		return map[string]any{}, true
	}
	return fields, false
}

func incomeResult() *Result {
	return &Result{
		Fields: map[string]any{
			"classification_type": model.ClassificationIncome,
			"worksheet":           model.WorksheetIncome,
			"category":            model.CategoryClientIncome,
			"confidence":          model.ConfidenceHigh,
			"reasoning":           "Positive amount recorded as client income.",
		},
		ToolUsage: map[string]int{},
		Guardrail: true,
	}
}

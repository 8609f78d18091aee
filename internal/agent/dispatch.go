package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/tools"
)

// AgentLister lists configured agents.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

// Table is the dispatch table of configured agents, built once at startup.
// Every agent in it has been checked against the tool registry.
type Table struct {
	agents map[string]*model.Agent
}

// NewTable indexes agents by name. Agents referencing unregistered tools are
// rejected.
func NewTable(agents []model.Agent, registry *tools.Registry) (*Table, error) {
	t := &Table{agents: make(map[string]*model.Agent, len(agents))}
	for i := range agents {
		a := agents[i]
		if _, err := model.ParseAgentType(string(a.Type)); err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.Name, err)
		}
		if err := registry.ValidateAgentTools(&a); err != nil {
			return nil, err
		}
		if _, dup := t.agents[a.Name]; dup {
			return nil, fmt.Errorf("agent %q: %w", a.Name, common.ErrDuplicateEntry)
		}
		t.agents[a.Name] = &a
	}
	return t, nil
}

// LoadTable builds the table from stored agents.
func LoadTable(ctx context.Context, store AgentLister, registry *tools.Registry) (*Table, error) {
	agents, err := store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	return NewTable(agents, registry)
}

// Agent returns the named agent.
func (t *Table) Agent(name string) (*model.Agent, error) {
	a, ok := t.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", name, common.ErrNotFound)
	}
	return a, nil
}

// ForTask returns the agent that processes tasks of the given type.
func (t *Table) ForTask(taskType model.TaskType) (*model.Agent, error) {
	switch taskType {
	case model.TaskPayeeLookup:
		return t.Agent(model.PayeeLookupAgent)
	case model.TaskClassification:
		return t.Agent(model.ClassificationAgent)
	default:
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
}

// Names returns the configured agent names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.agents))
	for n := range t.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Outcome is a processed transaction: the raw agent result and the column
// update derived from it.
type Outcome struct {
	Result *Result
	Update map[string]any
}

// Processor runs the agent appropriate to its type over one transaction and
// maps the answer into a column update.
type Processor struct {
	orchestrator Runner
	escalation   *Escalation
}

// NewProcessor creates a processor.
func NewProcessor(orchestrator Runner, escalation *Escalation) *Processor {
	return &Processor{orchestrator: orchestrator, escalation: escalation}
}

// Process runs agent over txn.
func (p *Processor) Process(ctx context.Context, agent *model.Agent, txn *model.Transaction) (*Outcome, error) {
	var (
		res *Result
		err error
	)
	switch agent.Type {
	case model.AgentTypeClassification:
		res, err = p.escalation.ClassifyWith(ctx, agent, txn)
	case model.AgentTypePayee:
		res, err = p.orchestrator.Run(ctx, agent, txn)
	default:
		return nil, fmt.Errorf("%w: %s agents do not process transactions", ErrInvalidAgentType, agent.Type)
	}
	if err != nil {
		return nil, err
	}

	update, err := MapResponse(res.Fields, string(agent.Type), MapOptions{
		ToolUsage: res.ToolUsage,
		Allowed:   res.Allowed,
		Guardrail: res.Guardrail,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: res, Update: update}, nil
}

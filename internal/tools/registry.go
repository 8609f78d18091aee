// Package tools provides the registry of capabilities agents may call while
// reasoning about a transaction. Tools are registered at startup and
// resolved by name at call time.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/xeipuuv/gojsonschema"
)

// Registry errors.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrToolFailed       = errors.New("tool execution failed")
)

// QuerySchema is the parameter schema shared by the search tools.
var QuerySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query", "minLength": 1}
	},
	"required": ["query"]
}`)

// Result is one item returned by a tool.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Tool is a capability that can be invoked with JSON arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args map[string]any) ([]Result, error)
}

// Registry manages registered tools. Safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateAgentTools checks that every tool attached to agent names a
// registered implementation.
func (r *Registry) ValidateAgentTools(agent *model.Agent) error {
	var missing []string
	for _, t := range agent.Tools {
		if _, err := r.Resolve(t.Implementation); err != nil {
			missing = append(missing, t.Implementation)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("agent %q: %w: %s", agent.Name, ErrUnknownTool, strings.Join(missing, ", "))
	}
	return nil
}

// Invoke decodes rawArgs, validates them against the tool's schema and
// executes the tool.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) ([]Result, error) {
	tool, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidArguments, name, err)
	}

	if err := validateArgs(tool.Parameters(), rawArgs); err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidArguments, name, err)
	}

	results, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolFailed, name, err)
	}
	return results, nil
}

func validateArgs(schema json.RawMessage, rawArgs string) error {
	if len(schema) == 0 {
		return nil
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewStringLoader(rawArgs),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// Spec describes a tool for a chat request.
type Spec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Specs returns the request descriptions of the given agent tools. The
// agent-facing name is the stored tool name; the description falls back to
// the implementation's own.
func (r *Registry) Specs(agentTools []model.Tool) ([]Spec, error) {
	specs := make([]Spec, 0, len(agentTools))
	for _, t := range agentTools {
		impl, err := r.Resolve(t.Implementation)
		if err != nil {
			return nil, err
		}
		desc := t.Description
		if desc == "" {
			desc = impl.Description()
		}
		specs = append(specs, Spec{Name: t.Name, Description: desc, Parameters: impl.Parameters()})
	}
	return specs, nil
}

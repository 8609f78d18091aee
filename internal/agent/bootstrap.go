package agent

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/tools"
	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var defaultSeed []byte

// Seed is the YAML definition of tools and agents to install.
type Seed struct {
	LLM    SeedLLM     `yaml:"llm"`
	Tools  []SeedTool  `yaml:"tools"`
	Agents []SeedAgent `yaml:"agents"`
}

// SeedLLM names a model.
type SeedLLM struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// SeedTool binds an agent-facing tool name to a registered implementation.
type SeedTool struct {
	Name           string `yaml:"name"`
	Implementation string `yaml:"implementation"`
	Description    string `yaml:"description"`
}

// SeedAgent defines one agent. LLM defaults to the seed-level model.
type SeedAgent struct {
	LLM     *SeedLLM `yaml:"llm"`
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Purpose string   `yaml:"purpose"`
	Prompt  string   `yaml:"prompt"`
	Tools   []string `yaml:"tools"`
}

// DefaultSeed returns the built-in agent definitions.
func DefaultSeed() (*Seed, error) {
	return ParseSeed(bytes.NewReader(defaultSeed))
}

// ParseSeed decodes a seed document. Unknown keys are rejected.
func ParseSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parsing agent seed: %w", err)
	}
	return &seed, nil
}

// Build converts the seed into agents, checking agent types, tool
// references and registry implementations.
func (s *Seed) Build(registry *tools.Registry) ([]model.Agent, error) {
	toolsByName := make(map[string]model.Tool, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" || t.Implementation == "" {
			return nil, fmt.Errorf("seed tool %q: name and implementation are required", t.Name)
		}
		toolsByName[t.Name] = model.Tool{
			Name:           t.Name,
			Implementation: t.Implementation,
			Description:    t.Description,
		}
	}

	agents := make([]model.Agent, 0, len(s.Agents))
	for _, sa := range s.Agents {
		agentType, err := model.ParseAgentType(sa.Type)
		if err != nil {
			return nil, fmt.Errorf("seed agent %q: %w", sa.Name, err)
		}

		llmCfg := s.LLM
		if sa.LLM != nil {
			llmCfg = *sa.LLM
		}
		if llmCfg.Model == "" {
			return nil, fmt.Errorf("seed agent %q: no model configured", sa.Name)
		}

		a := model.Agent{
			Name:    sa.Name,
			Type:    agentType,
			Purpose: sa.Purpose,
			Prompt:  sa.Prompt,
			LLM: model.LLMConfig{
				Provider: llmCfg.Provider,
				Model:    llmCfg.Model,
				BaseURL:  llmCfg.BaseURL,
			},
		}
		for _, name := range sa.Tools {
			t, ok := toolsByName[name]
			if !ok {
				return nil, fmt.Errorf("seed agent %q: %w: %s", sa.Name, tools.ErrUnknownTool, name)
			}
			a.Tools = append(a.Tools, t)
		}
		if err := registry.ValidateAgentTools(&a); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	// Same checks the dispatch table applies at load time.
	if _, err := NewTable(agents, registry); err != nil {
		return nil, err
	}
	return agents, nil
}

// AgentSaver persists agents.
type AgentSaver interface {
	SaveAgent(ctx context.Context, agent *model.Agent) error
}

// Bootstrap validates the seed and saves every agent it defines. Existing
// agents with the same name are updated.
func Bootstrap(ctx context.Context, store AgentSaver, seed *Seed, registry *tools.Registry) ([]model.Agent, error) {
	agents, err := seed.Build(registry)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if err := store.SaveAgent(ctx, &agents[i]); err != nil {
			return nil, fmt.Errorf("saving agent %q: %w", agents[i].Name, err)
		}
	}
	return agents, nil
}

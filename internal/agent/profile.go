package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/llm"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// Profile generation errors. ErrEmptyProfile means the answer carried none
// of the generated profile fields.
var (
	ErrNilProfile     = errors.New("business profile is nil")
	ErrEmptyProfile   = errors.New("profile agent returned no profile fields")
	ErrProfileNotJSON = errors.New("profile agent response is not a JSON object")
)

// profileSetters are the profile fields a profile agent may fill in.
var profileSetters = map[string]func(*model.BusinessProfile, string){
	"common_expenses":   func(p *model.BusinessProfile, v string) { p.CommonExpenses = v },
	"custom_categories": func(p *model.BusinessProfile, v string) { p.CustomCategories = v },
	"industry_keywords": func(p *model.BusinessProfile, v string) { p.IndustryKeywords = v },
	"category_patterns": func(p *model.BusinessProfile, v string) { p.CategoryPatterns = v },
	"business_rules":    func(p *model.BusinessProfile, v string) { p.BusinessRules = v },
}

// BuildProfilePrompt renders a profile agent's template against the
// client's current profile, exposed as .BusinessProfile.
func BuildProfilePrompt(agent *model.Agent, profile *model.BusinessProfile) (Prompt, error) {
	if agent == nil || profile == nil {
		return Prompt{}, fmt.Errorf("%w: agent and business profile are required", ErrPromptRender)
	}
	if strings.TrimSpace(agent.Prompt) == "" {
		return Prompt{}, fmt.Errorf("%w: agent %q has an empty prompt template", ErrPromptRender, agent.Name)
	}
	return renderPrompt(agent.Name, agent.Prompt, map[string]any{"BusinessProfile": profile})
}

// ApplyProfileFields returns a copy of profile with the generated fields from
// response filled in. Lists are joined with commas and objects are written as
// "key: value" pairs in key order. Fields absent from response are kept.
func ApplyProfileFields(profile *model.BusinessProfile, response map[string]any) (*model.BusinessProfile, error) {
	out := *profile
	filled := 0
	for key, set := range profileSetters {
		v, ok := response[key]
		if !ok {
			continue
		}
		text := strings.TrimSpace(profileText(v))
		if text == "" {
			continue
		}
		set(&out, text)
		filled++
	}
	if filled == 0 {
		return nil, ErrEmptyProfile
	}
	return &out, nil
}

func profileText(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := profileText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		parts := make([]string, 0, len(t))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			parts = append(parts, k+": "+profileText(t[k]))
		}
		return strings.Join(parts, ", ")
	default:
		s, _ := stringify(t)
		return s
	}
}

// GenerateProfile asks a profile agent to fill in the descriptive fields of
// a client's business profile. It makes exactly one JSON-mode LLM call and
// never offers tools. The stored profile is not touched; callers save the
// returned copy.
func (o *Orchestrator) GenerateProfile(ctx context.Context, agent *model.Agent, profile *model.BusinessProfile) (*model.BusinessProfile, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if profile == nil {
		return nil, ErrNilProfile
	}
	if agent.Type != model.AgentTypeProfile {
		return nil, fmt.Errorf("%w: %s agents do not generate profiles", ErrInvalidAgentType, agent.Type)
	}

	prompt, err := BuildProfilePrompt(agent, profile)
	if err != nil {
		return nil, err
	}
	o.audit.Info("prompt",
		"agent", agent.Name,
		"client_id", profile.ClientID,
		"system", prompt.System,
		"user", prompt.User)

	client, err := o.clients.ClientFor(agent.LLM)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompt.System},
		{Role: llm.RoleUser, Content: prompt.User},
	}
	resp, err := client.Chat(ctx, &llm.Request{
		Model:        agent.LLM.Model,
		Messages:     messages,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q: llm call: %w", agent.Name, err)
	}
	o.audit.Info("llm response",
		"agent", agent.Name,
		"client_id", profile.ClientID,
		"finish_reason", resp.FinishReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content", resp.Content)

	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, ErrEmptyResponse)
	}
	fields, failed := parseFields(resp.Content)
	if failed {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, ErrProfileNotJSON)
	}

	generated, err := ApplyProfileFields(profile, fields)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agent.Name, err)
	}
	return generated, nil
}

package agent

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Veraticus/ledgerflow/internal/model"
)

// UserDelimiter separates the system and user segments of an agent prompt.
// Only the first occurrence splits; later ones stay in the user segment.
const UserDelimiter = "---USER---"

// ErrPromptRender is returned when an agent template cannot be rendered.
var ErrPromptRender = errors.New("prompt render failed")

// PromptInput is everything a prompt template may reference.
type PromptInput struct {
	Agent             *model.Agent
	Transaction       *model.Transaction
	BusinessProfile   *model.BusinessProfile
	AllowedCategories *model.AllowedCategories
}

// Prompt is a rendered system/user pair. User is empty when the template
// has no delimiter.
type Prompt struct {
	System string
	User   string
}

var promptFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// BuildPrompt renders the agent's template. Unknown keys, missing fields and
// nil dereferences fail instead of rendering blanks.
func BuildPrompt(in PromptInput) (Prompt, error) {
	if in.Agent == nil || in.Transaction == nil {
		return Prompt{}, fmt.Errorf("%w: agent and transaction are required", ErrPromptRender)
	}

	text := in.Agent.Prompt
	if strings.TrimSpace(text) == "" {
		if in.Agent.Type != model.AgentTypePayee {
			return Prompt{}, fmt.Errorf("%w: agent %q has an empty prompt template", ErrPromptRender, in.Agent.Name)
		}
		text = fallbackPayeePrompt
	}

	allowed := ""
	if in.Agent.IsClassification() {
		allowed = in.AllowedCategories.String()
	}
	return renderPrompt(in.Agent.Name, text, map[string]any{
		"Transaction":       in.Transaction,
		"BusinessProfile":   in.BusinessProfile,
		"AllowedCategories": allowed,
		"PayeeReasoning":    in.Transaction.PayeeReasoning,
	})
}

func renderPrompt(name, text string, data map[string]any) (Prompt, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(promptFuncs).
		Parse(text)
	if err != nil {
		return Prompt{}, fmt.Errorf("%w: agent %q: %w", ErrPromptRender, name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Prompt{}, fmt.Errorf("%w: agent %q: %w", ErrPromptRender, name, err)
	}

	system, user, _ := strings.Cut(buf.String(), UserDelimiter)
	return Prompt{
		System: strings.TrimSpace(system),
		User:   strings.TrimSpace(user),
	}, nil
}

const fallbackPayeePrompt = `You are a transaction analysis assistant. Your task is to identify the payee/merchant from transaction descriptions, use search tools as needed, and synthesize a clear, normalized description. Return a final response in the exact JSON format specified.

IMPORTANT RULES:
1. Make as many search calls as needed to gather complete information
2. Synthesize all information into a clear, normalized response
3. NEVER use the raw transaction description in your final response
4. Format the response exactly as specified.
---USER---
Analyze this transaction and return a JSON object with EXACTLY these field names:
{
    "normalized_description": "string - A VERY SUCCINCT 1-5 word summary of what was purchased/paid for (e.g., 'Grocery shopping', 'Office supplies'). DO NOT include vendor details.",
    "payee": "string - The normalized payee/merchant name (e.g., 'Lowe's' not 'LOWE'S #1636')",
    "confidence": "string - Must be exactly 'high', 'medium', or 'low'",
    "reasoning": "string - Detailed explanation of the identification, including search findings",
    "transaction_type": "string - One of: purchase, payment, transfer, fee, subscription, service",
    "questions": "string - Any questions about unclear elements"
}

Transaction: {{.Transaction.Description}}
Amount: ${{.Transaction.Amount}}
Date: {{.Transaction.Date.Format "2006-01-02"}}`

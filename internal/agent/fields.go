package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/model"
)

// Method labels written into the audit columns.
const (
	PayeeToolLabel          = "Web Search"
	ClassificationToolLabel = "Search"
)

// PersonalReasoning is recorded when a personal classification comes back
// without an explanation.
const PersonalReasoning = "Classified as personal expense."

var payeeFields = map[string]bool{
	"normalized_description":  true,
	"payee":                   true,
	"confidence":              true,
	"payee_reasoning":         true,
	"transaction_type":        true,
	"questions":               true,
	"payee_extraction_method": true,
}

var classificationFields = map[string]bool{
	"classification_type":   true,
	"worksheet":             true,
	"category":              true,
	"confidence":            true,
	"reasoning":             true,
	"questions":             true,
	"business_percentage":   true,
	"classification_method": true,
}

// MapOptions carries what the mapper needs beyond the raw answer.
type MapOptions struct {
	ToolUsage map[string]int
	Allowed   *model.AllowedCategories
	Guardrail bool
}

// MapResponse converts an agent answer into transaction column updates for
// the given agent type ("payee" or "classification"). Unknown keys are
// dropped. An empty response maps to an empty update.
func MapResponse(response map[string]any, agentType string, opts MapOptions) (map[string]any, error) {
	switch model.AgentType(agentType) {
	case model.AgentTypePayee:
		return mapPayee(response, opts), nil
	case model.AgentTypeClassification:
		return mapClassification(response, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentType, agentType)
	}
}

func mapPayee(response map[string]any, opts MapOptions) map[string]any {
	out := make(map[string]any)
	if len(response) == 0 {
		return out
	}

	for k, v := range response {
		if k == "reasoning" {
			k = "payee_reasoning"
		}
		if !payeeFields[k] {
			continue
		}
		if s, ok := stringify(v); ok {
			out[k] = s
		}
	}
	if r, ok := stringify(response["reasoning"]); ok {
		out["payee_reasoning"] = r
	}

	normalizeConfidence(out)
	out["payee_extraction_method"] = model.ToolMethod(PayeeToolLabel, totalUsage(opts.ToolUsage))
	return out
}

func mapClassification(response map[string]any, opts MapOptions) map[string]any {
	out := make(map[string]any)
	if len(response) == 0 {
		return out
	}

	for k, v := range response {
		if !classificationFields[k] || k == "business_percentage" {
			continue
		}
		if s, ok := stringify(v); ok {
			out[k] = s
		}
	}

	if cat, _ := out["category"].(string); cat == "" {
		delete(out, "category")
		if name := resolveCategory(response, opts.Allowed); name != "" {
			out["category"] = name
		}
	}

	if pct, ok := coercePercentage(response["business_percentage"]); ok {
		out["business_percentage"] = pct
	}

	if ct, ok := out["classification_type"].(string); ok {
		out["classification_type"] = normalizeClassificationType(ct)
	}
	if out["classification_type"] == model.ClassificationPersonal {
		out["worksheet"] = model.WorksheetPersonal
		out["category"] = model.CategoryPersonal
		out["business_percentage"] = 0
		if r, _ := out["reasoning"].(string); strings.TrimSpace(r) == "" {
			out["reasoning"] = PersonalReasoning
		}
	}

	normalizeConfidence(out)
	if opts.Guardrail {
		out["classification_method"] = model.MethodTextRule
	} else {
		out["classification_method"] = model.ToolMethod(ClassificationToolLabel, totalUsage(opts.ToolUsage))
	}
	return out
}

func resolveCategory(response map[string]any, allowed *model.AllowedCategories) string {
	if id, ok := response["category_id"].(string); ok && id != "" {
		if name, ok := allowed.ResolveName(id); ok {
			return name
		}
		return id
	}
	if name, ok := response["category_name"].(string); ok {
		return name
	}
	return ""
}

func normalizeClassificationType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "business":
		return model.ClassificationBusiness
	case "personal":
		return model.ClassificationPersonal
	case "income":
		return model.ClassificationIncome
	case "review":
		return model.ClassificationReview
	}
	return s
}

// normalizeConfidence lowercases the confidence value and drops anything
// outside high|medium|low.
func normalizeConfidence(out map[string]any) {
	c, ok := out["confidence"].(string)
	if !ok {
		return
	}
	switch c = strings.ToLower(strings.TrimSpace(c)); c {
	case model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow:
		out["confidence"] = c
	default:
		delete(out, "confidence")
	}
}

// coercePercentage accepts numbers and numeric strings ("80", "80%") and
// clamps them to 0..100.
func coercePercentage(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(math.Round(math.Min(100, math.Max(0, f)))), true
}

// stringify renders an answer value for a text column. Lists are joined
// one per line; other structures are JSON encoded.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := stringify(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n"), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func totalUsage(usage map[string]int) int {
	total := 0
	for _, n := range usage {
		total += n
	}
	return total
}

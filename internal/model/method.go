package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// MethodKind is the structured reading of a classification_method or
// payee_extraction_method audit string.
type MethodKind string

// Method kinds.
const (
	MethodNone     MethodKind = "None"
	MethodHuman    MethodKind = "Human"
	MethodAI       MethodKind = "AI"
	MethodAITools  MethodKind = "AI+Tools"
	MethodRule MethodKind = "Rule"
)

// Fixed audit strings.
const (
	MethodTextNone  = "None"
	MethodTextHuman = "Human"
	MethodTextAI    = "AI Only"
	MethodTextRule  = "Rule: Income"
)

var toolMethodPattern = regexp.MustCompile(`^AI \+ (.+) \((\d+)x\)$`)

// ToolMethod formats the audit string for an AI run that used tools n times.
func ToolMethod(label string, n int) string {
	if n <= 0 {
		return MethodTextAI
	}
	return fmt.Sprintf("AI + %s (%dx)", label, n)
}

// ParseMethod reads an audit string back into its kind and tool call count.
func ParseMethod(s string) (MethodKind, int) {
	switch s {
	case "", MethodTextNone:
		return MethodNone, 0
	case MethodTextHuman:
		return MethodHuman, 0
	case MethodTextAI, "AI":
		return MethodAI, 0
	case MethodTextRule:
		return MethodRule, 0
	}
	if m := toolMethodPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		return MethodAITools, n
	}
	return MethodAI, 0
}

package model

import (
	"fmt"
	"time"
)

// Well-known agent names.
const (
	PayeeLookupAgent         = "Payee Lookup Agent"
	ClassificationAgent      = "Classification Agent"
	ClassificationEscalation = "Classification Escalation Agent"
	BusinessProfileAgent     = "Business Profile Generation Agent"
)

// AgentType is the role an agent plays in the pipeline.
type AgentType string

// Agent types.
const (
	AgentTypePayee          AgentType = "payee"
	AgentTypeClassification AgentType = "classification"
	AgentTypeProfile        AgentType = "profile"
)

// ParseAgentType validates a textual agent type.
func ParseAgentType(s string) (AgentType, error) {
	switch AgentType(s) {
	case AgentTypePayee, AgentTypeClassification, AgentTypeProfile:
		return AgentType(s), nil
	default:
		return "", fmt.Errorf("unknown agent type %q", s)
	}
}

// LLMConfig identifies the model an agent talks to.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string // optional endpoint override
	ID       int64
}

// Tool is a capability that can be attached to agents. Implementation names
// a tool registered in the process-wide tool registry.
type Tool struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Name           string
	Description    string
	Implementation string
	ID             int64
}

// Agent is a named prompt template bound to a model and a set of tools.
// The prompt may contain a "---USER---" line splitting system and user text.
type Agent struct {
	Name    string
	Purpose string
	Type    AgentType
	Prompt  string
	Tools   []Tool
	LLM     LLMConfig
	ID      int64
}

// IsClassification reports whether the agent produces tax classifications.
func (a *Agent) IsClassification() bool {
	return a.Type == AgentTypeClassification
}

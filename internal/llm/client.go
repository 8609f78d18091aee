package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNoChoices is returned when a backend answers without any completion.
var ErrNoChoices = errors.New("no completion choices returned")

// ChatClient sends one chat completion request.
type ChatClient interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments as produced by the model
}

// Message is one entry of the conversation.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a chat completion request. Tools are offered with automatic
// tool choice when non-empty.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	JSONResponse bool
}

// Response is the first choice of a chat completion.
type Response struct {
	Content      string
	FinishReason string
	Model        string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
}

package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/ledgerflow/internal/llm"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/tools"
)

// ErrScriptExhausted is returned when a ScriptedClient runs out of replies.
var ErrScriptExhausted = errors.New("scripted client has no more replies")

// Reply produces one scripted LLM answer.
type Reply func(req *llm.Request) (*llm.Response, error)

// Final answers with content.
func Final(content string) Reply {
	return func(*llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: content, FinishReason: "stop"}, nil
	}
}

// FinalJSON answers with v encoded as JSON.
func FinalJSON(v any) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Final(string(b))
}

// CallTools answers with one tool call per name, each with a query argument.
func CallTools(names ...string) Reply {
	return func(req *llm.Request) (*llm.Response, error) {
		resp := &llm.Response{FinishReason: "tool_calls"}
		for i, name := range names {
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        fmt.Sprintf("call_%d_%d", len(req.Messages), i),
				Name:      name,
				Arguments: `{"query":"merchant lookup"}`,
			})
		}
		return resp, nil
	}
}

// Fail answers with err.
func Fail(err error) Reply {
	return func(*llm.Request) (*llm.Response, error) {
		return nil, err
	}
}

// ScriptedClient is an llm.ChatClient that plays back replies in order and
// records every request. Safe for concurrent use.
type ScriptedClient struct {
	replies  []Reply
	requests []llm.Request
	mu       sync.Mutex
}

// NewScriptedClient creates a client that answers with replies in order.
func NewScriptedClient(replies ...Reply) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Push appends replies to the script.
func (c *ScriptedClient) Push(replies ...Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
}

// Chat implements llm.ChatClient.
func (c *ScriptedClient) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, snapshot)
	if len(c.replies) == 0 {
		c.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	c.mu.Unlock()

	return next(&snapshot)
}

// Requests returns the recorded requests.
func (c *ScriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// Calls returns the number of Chat calls made.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// StaticClients hands the same client to every model.
type StaticClients struct {
	Client llm.ChatClient
}

// ClientFor implements the orchestrator's client provider.
func (s StaticClients) ClientFor(model.LLMConfig) (llm.ChatClient, error) {
	return s.Client, nil
}

// FakeTool is a tools.Tool returning canned results.
type FakeTool struct {
	Err     error
	ToolID  string
	Results []tools.Result
	calls   []map[string]any
	mu      sync.Mutex
}

// NewFakeTool creates a tool named name that returns one result.
func NewFakeTool(name string) *FakeTool {
	return &FakeTool{
		ToolID: name,
		Results: []tools.Result{{
			Title:   "Blue Bottle Coffee",
			URL:     "https://example.com/blue-bottle",
			Content: "Specialty coffee roaster and cafe chain.",
		}},
	}
}

// Name implements tools.Tool.
func (f *FakeTool) Name() string { return f.ToolID }

// Description implements tools.Tool.
func (f *FakeTool) Description() string { return "fake search" }

// Parameters implements tools.Tool.
func (f *FakeTool) Parameters() json.RawMessage { return tools.QuerySchema }

// Execute implements tools.Tool.
func (f *FakeTool) Execute(_ context.Context, args map[string]any) ([]tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Results, nil
}

// Calls returns the number of executions.
func (f *FakeTool) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

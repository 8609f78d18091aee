package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	err   error
	calls int
}

func (e *echoTool) Name() string                { return "echo" }
func (e *echoTool) Description() string         { return "echoes the query" }
func (e *echoTool) Parameters() json.RawMessage { return QuerySchema }
func (e *echoTool) Execute(_ context.Context, args map[string]any) ([]Result, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []Result{{Title: "echo", Content: args["query"].(string)}}, nil
}

func TestRegistry_Invoke(t *testing.T) {
	tool := &echoTool{}
	r := NewRegistry(tool)
	ctx := context.Background()

	results, err := r.Invoke(ctx, "echo", `{"query":"acme corp"}`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "acme corp", results[0].Content)

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr error
	}{
		{name: "unknown tool", tool: "nope", args: `{"query":"x"}`, wantErr: ErrUnknownTool},
		{name: "malformed json", tool: "echo", args: `{"query":`, wantErr: ErrInvalidArguments},
		{name: "missing query", tool: "echo", args: `{}`, wantErr: ErrInvalidArguments},
		{name: "empty arguments", tool: "echo", args: ``, wantErr: ErrInvalidArguments},
		{name: "wrong type", tool: "echo", args: `{"query":42}`, wantErr: ErrInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(ctx, tt.tool, tt.args)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 1, tool.calls, "invalid calls never reach the tool")
}

func TestRegistry_InvokeWrapsExecutionErrors(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRegistry(&echoTool{err: boom})

	_, err := r.Invoke(context.Background(), "echo", `{"query":"x"}`)
	assert.ErrorIs(t, err, ErrToolFailed)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_ValidateAgentTools(t *testing.T) {
	r := NewRegistry(&echoTool{})

	ok := &model.Agent{Name: "a", Tools: []model.Tool{{Name: "web", Implementation: "echo"}}}
	assert.NoError(t, r.ValidateAgentTools(ok))

	bad := &model.Agent{Name: "b", Tools: []model.Tool{{Name: "x", Implementation: "tools.missing.run"}}}
	err := r.ValidateAgentTools(bad)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "tools.missing.run")
}

func TestRegistry_Specs(t *testing.T) {
	r := NewRegistry(&echoTool{})

	specs, err := r.Specs([]model.Tool{
		{Name: "web", Implementation: "echo"},
		{Name: "web2", Implementation: "echo", Description: "custom"},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "web", specs[0].Name)
	assert.Equal(t, "echoes the query", specs[0].Description)
	assert.Equal(t, "custom", specs[1].Description)
	assert.JSONEq(t, string(QuerySchema), string(specs[0].Parameters))

	_, err = r.Specs([]model.Tool{{Name: "x", Implementation: "missing"}})
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.Equal(t, []string{"echo"}, r.Names())
}

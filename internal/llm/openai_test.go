package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/service"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := NewOpenAIClient(OpenAIOptions{
		APIKey:  "test-api-key",
		BaseURL: ts.URL + "/v1",
		Retry:   fastRetry(),
	})
	require.NoError(t, err)
	return client
}

func writeCompletion(t *testing.T, w http.ResponseWriter, msg openai.ChatCompletionMessage) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		Model: "gpt-4.1-mini",
		Choices: []openai.ChatCompletionChoice{{
			Message:      msg,
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 4},
	}))
}

func TestOpenAIChat_SendsToolsAndJSONFormat(t *testing.T) {
	client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4.1-mini", body["model"])
		assert.Equal(t, "auto", body["tool_choice"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

		tools, ok := body["tools"].([]any)
		require.True(t, ok)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "searxng_search", fn["name"])

		writeCompletion(t, w, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "searxng_search", Arguments: `{"query":"acme"}`},
			}},
		})
	})

	resp, err := client.Chat(context.Background(), &Request{
		Model:        "gpt-4.1-mini",
		Messages:     []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Tools:        []ToolSpec{{Name: "searxng_search", Parameters: json.RawMessage(`{"type":"object"}`)}},
		JSONResponse: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "searxng_search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"acme"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 12, resp.InputTokens)
}

func TestOpenAIChat_OmitsToolsWhenNoneOffered(t *testing.T) {
	client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "tools")
		assert.NotContains(t, body, "tool_choice")

		writeCompletion(t, w, openai.ChatCompletionMessage{Role: "assistant", Content: `{"payee":"Acme"}`})
	})

	resp, err := client.Chat(context.Background(), &Request{
		Model:    "gpt-4.1-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"payee":"Acme"}`, resp.Content)
	assert.Empty(t, resp.ToolCalls)
}

func TestOpenAIChat_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		writeCompletion(t, w, openai.ChatCompletionMessage{Role: "assistant", Content: "{}"})
	})

	resp, err := client.Chat(context.Background(), &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Content)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIChat_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`))
	})

	_, err := client.Chat(context.Background(), &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAIChat_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	client := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
	})

	_, err := client.Chat(context.Background(), &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.ErrorIs(t, err, common.ErrLLMUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	client := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","choices":[]}`))
	})

	_, err := client.Chat(context.Background(), &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestNewOpenAIClient_RequiresKeyOrEndpoint(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIOptions{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

package llm

import (
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_ClientFor(t *testing.T) {
	f := NewFactory(Config{APIKey: "k", RateLimit: 60}, nil)

	a, err := f.ClientFor(model.LLMConfig{Provider: "openai", Model: "gpt-4.1-mini"})
	require.NoError(t, err)
	b, err := f.ClientFor(model.LLMConfig{Provider: "OpenAI", Model: "o4-mini"})
	require.NoError(t, err)
	assert.Same(t, a, b, "models on the same endpoint share a client")

	c, err := f.ClientFor(model.LLMConfig{Provider: "openai", Model: "local", BaseURL: "http://localhost:8080/v1"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	_, err = f.ClientFor(model.LLMConfig{Provider: "anthropic", Model: "x"})
	assert.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "padded", in: "  {\"a\":1}\n", want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "inline fence", in: "```{\"a\":1}```", want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

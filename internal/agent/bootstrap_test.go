package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/Veraticus/ledgerflow/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapDefaultSeed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	registry := tools.NewRegistry(testutil.NewFakeTool("searxng_search"))

	seed, err := DefaultSeed()
	require.NoError(t, err)

	agents, err := Bootstrap(context.Background(), db.Storage, seed, registry)
	require.NoError(t, err)
	require.Len(t, agents, 4)

	table, err := LoadTable(context.Background(), db.Storage, registry)
	require.NoError(t, err)
	assert.Equal(t, []string{
		model.BusinessProfileAgent,
		model.ClassificationAgent,
		model.ClassificationEscalation,
		model.PayeeLookupAgent,
	}, table.Names())

	esc, err := table.Agent(model.ClassificationEscalation)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", esc.LLM.Model)

	payee, err := table.Agent(model.PayeeLookupAgent)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", payee.LLM.Model)
	require.Len(t, payee.Tools, 1)
	assert.Equal(t, "search_web", payee.Tools[0].Name)

	prof, err := table.Agent(model.BusinessProfileAgent)
	require.NoError(t, err)
	assert.Equal(t, model.AgentTypeProfile, prof.Type)
	assert.Empty(t, prof.Tools)
	prompt, err := BuildProfilePrompt(prof, testutil.Profile("acme"))
	require.NoError(t, err)
	assert.Contains(t, prompt.User, "Company: Harbor Light Photography")

	// Bootstrapping twice updates in place.
	_, err = Bootstrap(context.Background(), db.Storage, seed, registry)
	require.NoError(t, err)
	all, err := db.Storage.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSeedBuildErrors(t *testing.T) {
	registry := tools.NewRegistry(testutil.NewFakeTool("searxng_search"))

	tests := []struct {
		name     string
		doc      string
		parseErr bool
	}{
		{
			name:     "unknown key",
			doc:      "agents:\n  - name: A\n    kind: payee\n",
			parseErr: true,
		},
		{
			name: "unknown agent type",
			doc:  "llm: {model: m}\nagents:\n  - name: A\n    type: vendor\n",
		},
		{
			name: "undeclared tool",
			doc:  "llm: {model: m}\nagents:\n  - name: A\n    type: payee\n    tools: [web]\n",
		},
		{
			name: "unregistered implementation",
			doc:  "llm: {model: m}\ntools:\n  - {name: web, implementation: bing}\nagents:\n  - name: A\n    type: payee\n    tools: [web]\n",
		},
		{
			name: "no model",
			doc:  "agents:\n  - name: A\n    type: payee\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := ParseSeed(strings.NewReader(tt.doc))
			if tt.parseErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = seed.Build(registry)
			assert.Error(t, err)
		})
	}
}

package agent

import (
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction() *model.Transaction {
	return &model.Transaction{
		ID:             7,
		ClientID:       "acme",
		Date:           time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.RequireFromString("-42.50"),
		Description:    "SQ *BLUE BOTTLE 0231",
		Payee:          "Blue Bottle Coffee",
		PayeeReasoning: "Square terminal at a coffee roaster",
	}
}

func TestBuildPrompt_Split(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		wantSystem string
		wantUser   string
	}{
		{
			name:       "no delimiter",
			template:   "Identify {{.Transaction.Description}}",
			wantSystem: "Identify SQ *BLUE BOTTLE 0231",
		},
		{
			name:       "single delimiter",
			template:   "System text\n---USER---\nAmount {{.Transaction.Amount}}",
			wantSystem: "System text",
			wantUser:   "Amount -42.5",
		},
		{
			name:       "second delimiter stays in user part",
			template:   "sys---USER---first---USER---second",
			wantSystem: "sys",
			wantUser:   "first---USER---second",
		},
		{
			name:       "payee reasoning",
			template:   "{{.PayeeReasoning}}",
			wantSystem: "Square terminal at a coffee roaster",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := testutil.Agent("Payee Lookup Agent", model.AgentTypePayee, tt.template)
			p, err := BuildPrompt(PromptInput{Agent: agent, Transaction: testTransaction()})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSystem, p.System)
			assert.Equal(t, tt.wantUser, p.User)
		})
	}
}

func TestBuildPrompt_RenderErrors(t *testing.T) {
	tests := []struct {
		name      string
		agentType model.AgentType
		template  string
	}{
		{"unknown key", model.AgentTypePayee, "{{.Merchant}}"},
		{"unknown transaction field", model.AgentTypePayee, "{{.Transaction.Merchant}}"},
		{"missing profile", model.AgentTypePayee, "{{.BusinessProfile.CompanyName}}"},
		{"parse error", model.AgentTypePayee, "{{.Transaction"},
		{"empty classification template", model.AgentTypeClassification, "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := testutil.Agent("agent", tt.agentType, tt.template)
			_, err := BuildPrompt(PromptInput{Agent: agent, Transaction: testTransaction()})
			assert.ErrorIs(t, err, ErrPromptRender)
		})
	}
}

func TestBuildPrompt_FallbackPayeePrompt(t *testing.T) {
	agent := testutil.Agent(model.PayeeLookupAgent, model.AgentTypePayee, "")

	p, err := BuildPrompt(PromptInput{Agent: agent, Transaction: testTransaction()})
	require.NoError(t, err)

	assert.Contains(t, p.System, "transaction analysis assistant")
	assert.Contains(t, p.User, "Transaction: SQ *BLUE BOTTLE 0231")
	assert.Contains(t, p.User, "Amount: $-42.5")
	assert.Contains(t, p.User, "Date: 2024-03-14")
}

func TestBuildPrompt_ContextData(t *testing.T) {
	allowed := model.NewAllowedCategories(testutil.IRSCategories(), nil)
	profile := testutil.Profile("acme")
	tmpl := "{{with .BusinessProfile}}{{.CompanyName}}{{end}}\n{{.AllowedCategories}}"

	t.Run("classification agents see categories", func(t *testing.T) {
		agent := testutil.Agent(model.ClassificationAgent, model.AgentTypeClassification, tmpl)
		p, err := BuildPrompt(PromptInput{
			Agent:             agent,
			Transaction:       testTransaction(),
			BusinessProfile:   profile,
			AllowedCategories: allowed,
		})
		require.NoError(t, err)
		assert.Contains(t, p.System, "Harbor Light Photography")
		assert.Contains(t, p.System, "IRS-9: Car and truck expenses")
		assert.Contains(t, p.System, "Review: Review (propose a new category)")
	})

	t.Run("payee agents do not", func(t *testing.T) {
		agent := testutil.Agent(model.PayeeLookupAgent, model.AgentTypePayee, tmpl)
		p, err := BuildPrompt(PromptInput{
			Agent:             agent,
			Transaction:       testTransaction(),
			AllowedCategories: allowed,
		})
		require.NoError(t, err)
		assert.Empty(t, p.System)
	})
}

func TestDefaultSeedPromptsRender(t *testing.T) {
	seed, err := DefaultSeed()
	require.NoError(t, err)

	for _, sa := range seed.Agents {
		t.Run(sa.Name, func(t *testing.T) {
			agentType, err := model.ParseAgentType(sa.Type)
			require.NoError(t, err)
			agent := &model.Agent{Name: sa.Name, Type: agentType, Prompt: sa.Prompt}

			for _, profile := range []*model.BusinessProfile{nil, testutil.Profile("acme")} {
				p, err := BuildPrompt(PromptInput{
					Agent:             agent,
					Transaction:       testTransaction(),
					BusinessProfile:   profile,
					AllowedCategories: model.NewAllowedCategories(testutil.IRSCategories(), nil),
				})
				require.NoError(t, err)
				assert.NotEmpty(t, p.System)
				assert.Contains(t, p.User, "SQ *BLUE BOTTLE 0231")
			}
		})
	}
}

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/Veraticus/ledgerflow/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner returns one canned result per call and records which agent
// was asked.
type scriptedRunner struct {
	results []*Result
	errs    []error
	agents  []string
}

func (r *scriptedRunner) Run(_ context.Context, agent *model.Agent, _ *model.Transaction) (*Result, error) {
	i := len(r.agents)
	r.agents = append(r.agents, agent.Name)
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i >= len(r.results) {
		return nil, errors.New("unexpected run")
	}
	return r.results[i], nil
}

func answer(category string, usage int) *Result {
	return &Result{
		Fields: map[string]any{
			"classification_type": "business",
			"category_id":         category,
			"confidence":          "medium",
		},
		ToolUsage: map[string]int{testToolName: usage},
		Allowed:   model.NewAllowedCategories(testutil.IRSCategories(), nil),
	}
}

func testTable(t *testing.T, agents ...*model.Agent) *Table {
	t.Helper()
	list := make([]model.Agent, len(agents))
	for i, a := range agents {
		list[i] = *a
	}
	table, err := NewTable(list, tools.NewRegistry(testutil.NewFakeTool(testToolName)))
	require.NoError(t, err)
	return table
}

func escalationAgent() *model.Agent {
	return testutil.Agent(model.ClassificationEscalation, model.AgentTypeClassification, classifyTemplate, testToolName)
}

func TestEscalation_Ladder(t *testing.T) {
	tests := []struct {
		name         string
		results      []*Result
		wantAgents   []string
		wantCategory string
		wantReview   bool
		wantUsage    int
	}{
		{
			name:         "valid first attempt",
			results:      []*Result{answer("IRS-18", 1)},
			wantAgents:   []string{model.ClassificationAgent},
			wantCategory: "IRS-18",
			wantUsage:    1,
		},
		{
			name:         "valid on retry",
			results:      []*Result{answer("IRS-99", 1), answer("Supplies", 2)},
			wantAgents:   []string{model.ClassificationAgent, model.ClassificationAgent},
			wantCategory: "Supplies",
			wantUsage:    3,
		},
		{
			name:         "escalation agent answers",
			results:      []*Result{answer("IRS-99", 0), answer("Made Up", 1), answer("IRS-8", 1)},
			wantAgents:   []string{model.ClassificationAgent, model.ClassificationAgent, model.ClassificationEscalation},
			wantCategory: "IRS-8",
			wantUsage:    2,
		},
		{
			name:       "everything invalid",
			results:    []*Result{answer("IRS-99", 1), answer("IRS-98", 1), answer("IRS-97", 1)},
			wantAgents: []string{model.ClassificationAgent, model.ClassificationAgent, model.ClassificationEscalation},
			wantReview: true,
			wantUsage:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{results: tt.results}
			esc := NewEscalation(runner, testTable(t, classificationAgent(), escalationAgent()))

			res, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
			require.NoError(t, err)

			assert.Equal(t, tt.wantAgents, runner.agents)
			assert.Equal(t, tt.wantUsage, totalUsage(res.ToolUsage))
			if tt.wantReview {
				assert.Equal(t, model.ClassificationReview, res.Fields["classification_type"])
				assert.Equal(t, model.CategoryReview, res.Fields["category"])
				assert.Equal(t, model.ConfidenceLow, res.Fields["confidence"])
				assert.Equal(t, "No allowed category was selected after 2 attempts and escalation; flagged for review.",
					res.Fields["reasoning"])
				return
			}
			assert.Equal(t, tt.wantCategory, res.Fields["category_id"])
		})
	}
}

func TestEscalation_ErrorsPropagate(t *testing.T) {
	boom := errors.New("rate limited")
	runner := &scriptedRunner{errs: []error{boom}}
	esc := NewEscalation(runner, testTable(t, classificationAgent(), escalationAgent()))

	_, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, runner.agents, 1)
}

func TestEscalation_NoRetryWithoutValidationFailure(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
	}{
		{"parse failure", &Result{Fields: map[string]any{}, ParseFailed: true}},
		{"guardrail", incomeResult()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{results: []*Result{tt.result}}
			esc := NewEscalation(runner, testTable(t, classificationAgent(), escalationAgent()))

			res, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
			require.NoError(t, err)
			assert.Same(t, tt.result, res)
			assert.Len(t, runner.agents, 1)
		})
	}
}

func TestEscalation_Options(t *testing.T) {
	t.Run("escalation disabled", func(t *testing.T) {
		runner := &scriptedRunner{results: []*Result{answer("IRS-99", 0), answer("IRS-98", 0)}}
		esc := NewEscalation(runner, testTable(t, classificationAgent()), WithEscalationAgent(""))

		res, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
		require.NoError(t, err)
		assert.Len(t, runner.agents, 2)
		assert.Equal(t, model.CategoryReview, res.Fields["category"])
		assert.Equal(t, "No allowed category was selected after 2 attempts; flagged for review.", res.Fields["reasoning"])
	})

	t.Run("escalation agent missing", func(t *testing.T) {
		runner := &scriptedRunner{results: []*Result{answer("IRS-99", 0), answer("IRS-98", 0)}}
		esc := NewEscalation(runner, testTable(t, classificationAgent()))

		res, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
		require.NoError(t, err)
		assert.Len(t, runner.agents, 2)
		assert.Equal(t, model.CategoryReview, res.Fields["category"])
		assert.NotContains(t, res.Fields["reasoning"], "escalation")
	})

	t.Run("single attempt", func(t *testing.T) {
		runner := &scriptedRunner{results: []*Result{answer("IRS-99", 0), answer("IRS-8", 0)}}
		esc := NewEscalation(runner, testTable(t, classificationAgent(), escalationAgent()), WithMaxAttempts(1))

		res, err := esc.Classify(context.Background(), model.ClassificationAgent, testTransaction())
		require.NoError(t, err)
		assert.Equal(t, []string{model.ClassificationAgent, model.ClassificationEscalation}, runner.agents)
		assert.Equal(t, "IRS-8", res.Fields["category_id"])
	})

	t.Run("escalation agent does not escalate to itself", func(t *testing.T) {
		runner := &scriptedRunner{results: []*Result{answer("IRS-99", 0), answer("IRS-98", 0)}}
		esc := NewEscalation(runner, testTable(t, escalationAgent()))

		res, err := esc.Classify(context.Background(), model.ClassificationEscalation, testTransaction())
		require.NoError(t, err)
		assert.Len(t, runner.agents, 2)
		assert.Equal(t, model.CategoryReview, res.Fields["category"])
	})
}

func TestEscalation_RejectsPayeeAgents(t *testing.T) {
	esc := NewEscalation(&scriptedRunner{}, testTable(t, payeeAgent()))

	_, err := esc.Classify(context.Background(), model.PayeeLookupAgent, testTransaction())
	assert.ErrorIs(t, err, ErrInvalidAgentType)
}

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/llm"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/Veraticus/ledgerflow/internal/tools"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToolName     = "search_web"
	payeeTemplate    = "Identify the payee.\n---USER---\n{{.Transaction.Description}}"
	classifyTemplate = "Categories:\n{{.AllowedCategories}}\n---USER---\n{{.Transaction.Payee}}"
)

type orchestratorFixture struct {
	db     *testutil.TestDB
	client *testutil.ScriptedClient
	tool   *testutil.FakeTool
	orch   *Orchestrator
}

func newOrchestratorFixture(t *testing.T, maxToolCalls int, replies ...testutil.Reply) *orchestratorFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.SeedClient("acme")

	client := testutil.NewScriptedClient(replies...)
	tool := testutil.NewFakeTool(testToolName)
	orch := NewOrchestrator(
		testutil.StaticClients{Client: client},
		tools.NewRegistry(tool),
		db.Storage,
		WithMaxToolCalls(maxToolCalls),
	)
	return &orchestratorFixture{db: db, client: client, tool: tool, orch: orch}
}

func payeeAgent() *model.Agent {
	return testutil.Agent(model.PayeeLookupAgent, model.AgentTypePayee, payeeTemplate, testToolName)
}

func classificationAgent() *model.Agent {
	return testutil.Agent(model.ClassificationAgent, model.AgentTypeClassification, classifyTemplate, testToolName)
}

func TestOrchestrator_FinalWithoutTools(t *testing.T) {
	f := newOrchestratorFixture(t, 3, testutil.FinalJSON(map[string]any{
		"payee":      "Blue Bottle Coffee",
		"confidence": "high",
	}))

	res, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	require.NoError(t, err)

	assert.Equal(t, "Blue Bottle Coffee", res.Fields["payee"])
	assert.Equal(t, 1, res.LLMCalls)
	assert.Zero(t, res.ToolCalls)
	assert.False(t, res.ParseFailed)

	reqs := f.client.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONResponse)
	assert.Equal(t, "test-model", reqs[0].Model)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, testToolName, reqs[0].Tools[0].Name)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "Identify the payee.", reqs[0].Messages[0].Content)
	assert.Equal(t, llm.RoleUser, reqs[0].Messages[1].Role)
	assert.Equal(t, "SQ *BLUE BOTTLE 0231", reqs[0].Messages[1].Content)
}

func TestOrchestrator_ToolRoundTrip(t *testing.T) {
	f := newOrchestratorFixture(t, 3,
		testutil.CallTools(testToolName),
		testutil.Final(`{"payee": "Blue Bottle Coffee"}`),
	)

	res, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, map[string]int{testToolName: 1}, res.ToolUsage)
	assert.Equal(t, 2, res.LLMCalls)
	assert.Equal(t, 1, f.tool.Calls())

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)

	assistant := msgs[2]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)

	toolMsg := msgs[3]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, assistant.ToolCalls[0].ID, toolMsg.ToolCallID)

	var results []tools.Result
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &results))
	assert.Equal(t, f.tool.Results, results)
}

func TestOrchestrator_AuditRecordsPromptAndToolResults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	client := testutil.NewScriptedClient(
		testutil.CallTools(testToolName),
		testutil.Final(`{"payee": "Blue Bottle Coffee"}`),
	)
	var audit bytes.Buffer
	orch := NewOrchestrator(
		testutil.StaticClients{Client: client},
		tools.NewRegistry(testutil.NewFakeTool(testToolName)),
		db.Storage,
		WithAuditLogger(slog.New(slog.NewJSONHandler(&audit, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)

	_, err := orch.Run(context.Background(), payeeAgent(), testTransaction())
	require.NoError(t, err)

	records := map[string]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(audit.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records[rec["msg"].(string)] = rec
	}

	require.Contains(t, records, "prompt")
	assert.Equal(t, "Identify the payee.", records["prompt"]["system"])
	assert.Equal(t, "SQ *BLUE BOTTLE 0231", records["prompt"]["user"])

	require.Contains(t, records, "tool result")
	assert.Contains(t, records["tool result"]["content"], "Specialty coffee roaster and cafe chain.")
	assert.Contains(t, records, "llm response")
}

func TestOrchestrator_ForcesFinalAnswerAtCeiling(t *testing.T) {
	f := newOrchestratorFixture(t, 3,
		testutil.CallTools(testToolName),
		testutil.CallTools(testToolName),
		testutil.CallTools(testToolName),
		testutil.Final(`{"payee": "Blue Bottle Coffee"}`),
	)

	res, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	require.NoError(t, err)

	assert.Equal(t, 3, res.ToolCalls)
	assert.Equal(t, 4, res.LLMCalls)
	assert.Equal(t, 3, f.tool.Calls())

	reqs := f.client.Requests()
	require.Len(t, reqs, 4)
	for _, req := range reqs[:3] {
		assert.NotEmpty(t, req.Tools)
	}
	last := reqs[3]
	assert.Empty(t, last.Tools)
	lastMsg := last.Messages[len(last.Messages)-1]
	assert.Equal(t, llm.RoleUser, lastMsg.Role)
	assert.Equal(t, ForceFinalMessage, lastMsg.Content)
}

func TestOrchestrator_ToolCallAfterCeilingFails(t *testing.T) {
	f := newOrchestratorFixture(t, 3,
		testutil.CallTools(testToolName),
		testutil.CallTools(testToolName),
		testutil.CallTools(testToolName),
		testutil.CallTools(testToolName),
	)

	_, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	assert.ErrorIs(t, err, ErrNoFinalResponse)
	assert.Equal(t, 4, f.client.Calls())
	assert.Equal(t, 3, f.tool.Calls())
}

func TestOrchestrator_LLMCallsBounded(t *testing.T) {
	for maxCalls := 0; maxCalls <= 5; maxCalls++ {
		t.Run(fmt.Sprintf("max=%d", maxCalls), func(t *testing.T) {
			replies := make([]testutil.Reply, maxCalls+5)
			for i := range replies {
				replies[i] = testutil.CallTools(testToolName, testToolName)
			}
			f := newOrchestratorFixture(t, maxCalls, replies...)

			_, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
			assert.ErrorIs(t, err, ErrNoFinalResponse)
			assert.LessOrEqual(t, f.client.Calls(), maxCalls+1)
			assert.Equal(t, maxCalls, f.tool.Calls())
		})
	}
}

func TestOrchestrator_CallsBeyondBudgetNotExecuted(t *testing.T) {
	f := newOrchestratorFixture(t, 2,
		testutil.CallTools(testToolName, testToolName, testToolName),
		testutil.Final(`{"payee": "Blue Bottle Coffee"}`),
	)

	res, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, 2, f.tool.Calls())

	msgs := f.client.Requests()[1].Messages
	// system, user, assistant, three tool replies, forcing message
	require.Len(t, msgs, 7)
	assert.Equal(t, toolLimitMessage, msgs[5].Content)
	assert.Equal(t, ForceFinalMessage, msgs[6].Content)
}

func TestOrchestrator_IncomeGuardrail(t *testing.T) {
	f := newOrchestratorFixture(t, 3)
	txn := testTransaction()
	txn.Amount = decimal.RequireFromString("1500.00")

	res, err := f.orch.Run(context.Background(), classificationAgent(), txn)
	require.NoError(t, err)

	assert.True(t, res.Guardrail)
	assert.Equal(t, model.ClassificationIncome, res.Fields["classification_type"])
	assert.Equal(t, model.WorksheetIncome, res.Fields["worksheet"])
	assert.Equal(t, model.CategoryClientIncome, res.Fields["category"])
	assert.Equal(t, model.ConfidenceHigh, res.Fields["confidence"])
	assert.Zero(t, f.client.Calls())
	assert.Zero(t, f.tool.Calls())
}

func TestOrchestrator_IncomeGuardrailOnlyForClassification(t *testing.T) {
	f := newOrchestratorFixture(t, 3, testutil.Final(`{"payee": "Acme Client"}`))
	txn := testTransaction()
	txn.Amount = decimal.RequireFromString("1500.00")

	res, err := f.orch.Run(context.Background(), payeeAgent(), txn)
	require.NoError(t, err)
	assert.False(t, res.Guardrail)
	assert.Equal(t, 1, f.client.Calls())
}

func TestOrchestrator_ClassificationContext(t *testing.T) {
	f := newOrchestratorFixture(t, 3, testutil.Final("```json\n{\"category_id\": \"IRS-9\"}\n```"))

	res, err := f.orch.Run(context.Background(), classificationAgent(), testTransaction())
	require.NoError(t, err)

	assert.Equal(t, "IRS-9", res.Fields["category_id"])
	require.NotNil(t, res.Allowed)
	assert.True(t, res.Allowed.Valid("IRS-9"))
	assert.True(t, res.Allowed.Valid("Studio Rental"))

	system := f.client.Requests()[0].Messages[0].Content
	assert.Contains(t, system, "IRS-24a: Travel")
	assert.Contains(t, system, "BIZ-1: Studio Rental")
}

func TestOrchestrator_ResponseOutcomes(t *testing.T) {
	llmErr := errors.New("backend down")

	tests := []struct {
		name        string
		reply       testutil.Reply
		wantErr     error
		parseFailed bool
	}{
		{name: "non-json content", reply: testutil.Final("The payee is Blue Bottle."), parseFailed: true},
		{name: "json array", reply: testutil.Final(`["a", "b"]`), parseFailed: true},
		{name: "empty content", reply: testutil.Final("  "), wantErr: ErrEmptyResponse},
		{name: "llm error", reply: testutil.Fail(llmErr), wantErr: llmErr},
		{name: "unknown tool", reply: testutil.CallTools("lookup_vendor"), wantErr: tools.ErrUnknownTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, 3, tt.reply)

			res, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.parseFailed, res.ParseFailed)
			assert.Empty(t, res.Fields)
		})
	}
}

func TestOrchestrator_ToolFailureAbortsRun(t *testing.T) {
	f := newOrchestratorFixture(t, 3, testutil.CallTools(testToolName))
	f.tool.Err = errors.New("search backend unavailable")

	_, err := f.orch.Run(context.Background(), payeeAgent(), testTransaction())
	assert.ErrorIs(t, err, tools.ErrToolFailed)
	assert.Equal(t, 1, f.client.Calls())
}

func TestOrchestrator_RenderFailureMakesNoCalls(t *testing.T) {
	f := newOrchestratorFixture(t, 3)
	agent := testutil.Agent(model.PayeeLookupAgent, model.AgentTypePayee, "{{.Missing}}")

	_, err := f.orch.Run(context.Background(), agent, testTransaction())
	assert.ErrorIs(t, err, ErrPromptRender)
	assert.Zero(t, f.client.Calls())
}

// Copyright 2025 NexusPM
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autonomy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuspm/platform/shared/logger"
)

const decisionJSON = `Here is my decision:
{
    "confidence_score": 0.9,
    "reasoning": "Reallocate senior engineers to the critical path",
    "actions": [
        {"action_type": "task_creation", "description": "Create migration task", "priority": "high", "estimated_effort": 8},
        {"action_type": "notification", "description": "Notify stakeholders", "priority": "medium", "estimated_effort": 1}
    ],
    "risks": [
        {"risk_name": "Knowledge gap", "probability": 0.3, "impact": "medium", "mitigation": "Pair programming"}
    ],
    "alternatives": [
        {"alternative": "Hire contractors", "pros": ["Fast"], "cons": ["Expensive"], "why_rejected": "Budget constraints"}
    ],
    "execution_plan": {"timeline": "2 weeks", "milestones": ["Kickoff"], "success_criteria": ["Migration done"]}
}`

func newTestDecisionEngine(t *testing.T, stub *stubInferenceClient) (*DecisionEngine, *fakeClock) {
	t.Helper()

	store := NewMemoryStore()
	store.PutUser(UserSnapshot{ID: 7, Username: "alice", Role: "manager", IsActive: true})
	store.PutProject(ProjectSnapshot{ID: 42, Name: "Atlas", Status: "active", Priority: "high", Budget: 50000})
	store.PutBudget(BudgetSnapshot{ProjectID: 42, AllocatedAmount: 50000, SpentAmount: 20000})
	store.PutRisks(42, []RiskSnapshot{{ID: 1, Name: "Vendor delay", Probability: 0.2, Impact: "low", Status: "open"}})

	guardrails := NewGuardrails(DefaultGuardrailConfig(), store, NewMemoryAuditSink(), logger.New("test"))
	guardrails.now = businessHoursClock

	clock := &fakeClock{t: time.Date(2025, 6, 4, 11, 0, 0, 0, time.UTC)}
	engine := NewDecisionEngine(newTestRouter(stub), guardrails, store, logger.New("test"))
	engine.now = clock.Now
	return engine, clock
}

func TestMakeDecisionParsesModelJSON(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: decisionJSON, Model: "qwen3:latest"}}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionResourceAllocation, DecisionContext{
		ProjectID: intPtr(42),
		UserID:    intPtr(7),
		Priority:  "high",
		Urgency:   0.8,
	})

	assert.Equal(t, DecisionDecided, result.Status)
	assert.Equal(t, 0.9, result.ConfidenceScore)
	assert.Equal(t, "Reallocate senior engineers to the critical path", result.Reasoning)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, "task_creation", result.Actions[0].ActionType)
	require.Len(t, result.Risks, 1)
	require.Len(t, result.AlternativesConsidered, 1)
	assert.Equal(t, "2 weeks", result.ExecutionPlan.Timeline)
	require.NotNil(t, result.Guardrails)
	assert.False(t, result.Guardrails.RequiresApproval)

	// The prompt carries the gathered context and the per-type focus line.
	assert.Contains(t, stub.lastReq.Prompt, "Make a resource_allocation decision")
	assert.Contains(t, stub.lastReq.Prompt, "Atlas")
	assert.Contains(t, stub.lastReq.Prompt, "Focus on: Skill matching")
	assert.Equal(t, "qwen3:latest", stub.lastReq.Model)
}

func TestMakeDecisionModelPerType(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: decisionJSON}}
	engine, _ := newTestDecisionEngine(t, stub)

	engine.MakeDecision(context.Background(), DecisionStrategicPlanning, DecisionContext{UserID: intPtr(7)})
	assert.Equal(t, "gpt-oss:20b", stub.lastReq.Model)

	engine.MakeDecision(context.Background(), DecisionRiskMitigation, DecisionContext{UserID: intPtr(7)})
	assert.Equal(t, "llama3.2:3b-instruct-q4_K_M", stub.lastReq.Model)
}

func TestMakeDecisionLowConfidencePending(t *testing.T) {
	low := strings.Replace(decisionJSON, `"confidence_score": 0.9`, `"confidence_score": 0.5`, 1)
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: low}}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionResourceAllocation, DecisionContext{
		ProjectID: intPtr(42), UserID: intPtr(7), Priority: "medium",
	})

	assert.Equal(t, DecisionPending, result.Status)
	require.NotNil(t, result.Guardrails)
	assert.True(t, result.Guardrails.RequiresApproval)
	assert.False(t, result.Guardrails.ConfidenceMet)
}

func TestMakeDecisionFallbackParsing(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: "The project looks healthy, no JSON for you."}}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionQualityAssurance, DecisionContext{UserID: intPtr(7)})

	assert.Equal(t, 0.7, result.ConfidenceScore)
	assert.Equal(t, "The project looks healthy, no JSON for you.", result.Reasoning)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "analysis", result.Actions[0].ActionType)
	assert.Equal(t, "1 week", result.ExecutionPlan.Timeline)

	// Fallback confidence sits below the automated-decision threshold.
	assert.Equal(t, DecisionPending, result.Status)
}

func TestMakeDecisionFallbackTruncatesReasoning(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: strings.Repeat("a", 600)}}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionQualityAssurance, DecisionContext{UserID: intPtr(7)})

	assert.Len(t, result.Reasoning, 503)
	assert.True(t, strings.HasSuffix(result.Reasoning, "..."))
}

func TestMakeDecisionMissingFieldsGetDefaults(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: `{"confidence_score": 0.95}`}}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionTimelineOptimization, DecisionContext{UserID: intPtr(7)})

	assert.Equal(t, 0.95, result.ConfidenceScore)
	assert.Equal(t, "Decision made based on available data", result.Reasoning)
	assert.Empty(t, result.Actions)
	assert.Empty(t, result.Risks)
	assert.Equal(t, "1 week", result.ExecutionPlan.Timeline)
}

func TestMakeDecisionInferenceFailure(t *testing.T) {
	stub := &stubInferenceClient{err: errors.New("connection refused")}
	engine, _ := newTestDecisionEngine(t, stub)

	result := engine.MakeDecision(context.Background(), DecisionBudgetAdjustment, DecisionContext{UserID: intPtr(7)})

	assert.Equal(t, DecisionFailed, result.Status)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.Contains(t, result.Reasoning, "Decision failed:")
	assert.Contains(t, result.Reasoning, "connection refused")
	assert.Empty(t, result.Actions)

	// Failed decisions still land in the history.
	history := engine.GetDecisionHistory(nil, 0)
	require.Len(t, history, 1)
	assert.Equal(t, DecisionFailed, history[0].Status)
}

func TestExecuteDecision(t *testing.T) {
	raw := strings.Replace(decisionJSON, `"action_type": "notification"`, `"action_type": "teleport"`, 1)
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: raw}}
	engine, _ := newTestDecisionEngine(t, stub)

	decision := engine.MakeDecision(context.Background(), DecisionResourceAllocation, DecisionContext{
		ProjectID: intPtr(42), UserID: intPtr(7),
	})
	require.Equal(t, DecisionDecided, decision.Status)

	summary, err := engine.ExecuteDecision(context.Background(), decision.DecisionID)
	require.NoError(t, err)
	assert.True(t, summary.Success)
	require.Len(t, summary.ExecutionResults, 2)

	assert.Equal(t, true, summary.ExecutionResults[0]["success"])
	assert.Contains(t, summary.ExecutionResults[0]["task_id"], "TASK_")

	// Unknown action types fail individually without failing the decision.
	assert.Equal(t, false, summary.ExecutionResults[1]["success"])
	assert.Equal(t, "Unknown action type: teleport", summary.ExecutionResults[1]["error"])

	stored, ok := engine.GetDecision(decision.DecisionID)
	require.True(t, ok)
	assert.Equal(t, DecisionCompleted, stored.Status)
	require.NotNil(t, stored.ExecutedAt)
	assert.Equal(t, "Decision executed successfully", stored.Outcome)
}

func TestExecuteDecisionNotFound(t *testing.T) {
	engine, _ := newTestDecisionEngine(t, &stubInferenceClient{})

	_, err := engine.ExecuteDecision(context.Background(), "DECISION_missing")
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestGetDecisionHistoryFilterAndOrder(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: decisionJSON}}
	engine, clock := newTestDecisionEngine(t, stub)
	ctx := context.Background()

	engine.MakeDecision(ctx, DecisionResourceAllocation, DecisionContext{UserID: intPtr(7)})
	clock.Advance(time.Minute)
	engine.MakeDecision(ctx, DecisionRiskMitigation, DecisionContext{UserID: intPtr(7)})
	clock.Advance(time.Minute)
	second := engine.MakeDecision(ctx, DecisionResourceAllocation, DecisionContext{UserID: intPtr(7)})

	allocType := DecisionResourceAllocation
	history := engine.GetDecisionHistory(&allocType, 0)
	require.Len(t, history, 2)
	assert.Equal(t, second.DecisionID, history[0].DecisionID)

	limited := engine.GetDecisionHistory(nil, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, second.DecisionID, limited[0].DecisionID)
}

func TestGetDecisionAnalytics(t *testing.T) {
	stub := &stubInferenceClient{resp: &CompletionResponse{Content: decisionJSON}}
	engine, clock := newTestDecisionEngine(t, stub)
	ctx := context.Background()

	empty := engine.GetDecisionAnalytics()
	assert.Equal(t, 0, empty.TotalDecisions)
	assert.Equal(t, 0.0, empty.SuccessRate)

	first := engine.MakeDecision(ctx, DecisionResourceAllocation, DecisionContext{ProjectID: intPtr(42), UserID: intPtr(7)})
	clock.Advance(time.Minute)
	engine.MakeDecision(ctx, DecisionStrategicPlanning, DecisionContext{UserID: intPtr(7)})

	_, err := engine.ExecuteDecision(ctx, first.DecisionID)
	require.NoError(t, err)

	analytics := engine.GetDecisionAnalytics()
	assert.Equal(t, 2, analytics.TotalDecisions)
	assert.Equal(t, 50.0, analytics.SuccessRate)
	assert.InDelta(t, 0.9, analytics.AverageConfidence, 0.001)
	assert.Equal(t, 1, analytics.DecisionTypeDistribution["resource_allocation"])
	assert.Equal(t, 1, analytics.DecisionTypeDistribution["strategic_planning"])
	assert.Equal(t, 1, analytics.StatusDistribution["completed"])
}

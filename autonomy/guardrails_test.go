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

// businessHoursClock returns a fixed Wednesday 11:00 so business-hours checks
// pass deterministically.
func businessHoursClock() time.Time {
	return time.Date(2025, 6, 4, 11, 0, 0, 0, time.UTC)
}

// weekendClock returns a fixed Saturday.
func weekendClock() time.Time {
	return time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC)
}

func newTestGuardrails(t *testing.T) (*Guardrails, *MemoryStore, *MemoryAuditSink) {
	t.Helper()

	store := NewMemoryStore()
	store.PutUser(UserSnapshot{ID: 7, Username: "alice", Role: "manager", IsActive: true})
	store.PutUser(UserSnapshot{ID: 8, Username: "bob", Role: "engineer", IsActive: false})
	store.PutProject(ProjectSnapshot{ID: 42, Name: "Atlas", Status: "active", Priority: "high", Budget: 50000})
	store.PutProject(ProjectSnapshot{ID: 43, Name: "Legacy", Status: "completed"})
	store.PutTask(TaskSnapshot{ID: 100, Name: "design", Status: "done", ProjectID: 42})

	audit := NewMemoryAuditSink()
	g := NewGuardrails(DefaultGuardrailConfig(), store, audit, logger.New("test"))
	g.now = businessHoursClock
	return g, store, audit
}

func intPtr(i int) *int { return &i }

func TestValidateActionBudgetOverThreshold(t *testing.T) {
	g, _, audit := newTestGuardrails(t)

	decision := g.ValidateAction(context.Background(), ActionBudgetModification,
		map[string]interface{}{"amount": 5000.0, "project_id": 42},
		0.95, ActionContext{UserID: intPtr(7)})

	assert.True(t, decision.RequiresApproval)
	assert.Equal(t, ApprovalHigh, decision.ApprovalLevel)
	assert.True(t, decision.ConfidenceMet)

	found := false
	for _, issue := range decision.ValidationIssues {
		if strings.Contains(issue, "exceeds threshold") {
			found = true
		}
	}
	assert.True(t, found, "expected a budget-limits issue, got %v", decision.ValidationIssues)

	// Decision must reach the audit trail.
	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "autonomous_action_validation", entries[0].Action)
	assert.Equal(t, decision.ActionID, entries[0].ResourceID)
}

func TestValidateActionCleanPasses(t *testing.T) {
	g, _, _ := newTestGuardrails(t)

	decision := g.ValidateAction(context.Background(), ActionTaskCreation,
		map[string]interface{}{"project_id": 42, "name": "Draft charter"},
		0.95, ActionContext{UserID: intPtr(7)})

	assert.False(t, decision.RequiresApproval)
	assert.Equal(t, ApprovalLow, decision.ApprovalLevel)
	assert.Empty(t, decision.ValidationIssues)
	assert.Equal(t, "pending", decision.Status)
}

func TestApprovalThresholdTable(t *testing.T) {
	tests := []struct {
		actionType ActionType
		threshold  float64
	}{
		{ActionTaskCreation, 0.70},
		{ActionResourceAllocation, 0.80},
		{ActionBudgetModification, 0.90},
		{ActionRiskMitigation, 0.85},
		{ActionStakeholderCommunication, 0.90},
		{ActionProjectStatusChange, 0.80},
		{ActionPlanModification, 0.85},
		{ActionAutomatedDecision, 0.75},
	}

	for _, tt := range tests {
		t.Run(string(tt.actionType), func(t *testing.T) {
			g, _, _ := newTestGuardrails(t)

			below := g.ValidateAction(context.Background(), tt.actionType,
				map[string]interface{}{}, tt.threshold-0.01, ActionContext{})
			assert.True(t, below.RequiresApproval, "confidence below threshold must require approval")
			assert.GreaterOrEqual(t, below.ApprovalLevel.Rank(), ApprovalMedium.Rank())
			assert.False(t, below.ConfidenceMet)
			assert.Equal(t, tt.threshold, below.ApprovalThreshold)

			at := g.ValidateAction(context.Background(), tt.actionType,
				map[string]interface{}{}, tt.threshold, ActionContext{})
			assert.True(t, at.ConfidenceMet, "confidence at threshold is met")
		})
	}
}

// Lowering confidence can only add approval requirements, never remove them.
func TestGuardrailMonotonicity(t *testing.T) {
	g, _, _ := newTestGuardrails(t)

	data := map[string]interface{}{"project_id": 42}
	lastRequired := false
	for confidence := 1.0; confidence >= 0; confidence -= 0.05 {
		decision := g.ValidateAction(context.Background(), ActionPlanModification,
			data, confidence, ActionContext{UserID: intPtr(7)})
		if lastRequired {
			assert.True(t, decision.RequiresApproval,
				"requires_approval regressed at confidence %.2f", confidence)
		}
		lastRequired = decision.RequiresApproval
	}
}

// errorStore fails every lookup with an infrastructure error.
type errorStore struct{}

var errStoreDown = errors.New("store unavailable")

func (errorStore) Project(context.Context, int) (*ProjectSnapshot, error) { return nil, errStoreDown }
func (errorStore) User(context.Context, int) (*UserSnapshot, error)       { return nil, errStoreDown }
func (errorStore) Risks(context.Context, int) ([]RiskSnapshot, error)     { return nil, errStoreDown }
func (errorStore) Budget(context.Context, int) (*BudgetSnapshot, error)   { return nil, errStoreDown }
func (errorStore) Resources(context.Context) ([]UserSnapshot, error)      { return nil, errStoreDown }
func (errorStore) Task(context.Context, int) (*TaskSnapshot, error)       { return nil, errStoreDown }

func TestFailClosedOnStoreFailure(t *testing.T) {
	audit := NewMemoryAuditSink()
	g := NewGuardrails(DefaultGuardrailConfig(), errorStore{}, audit, logger.New("test"))
	g.now = businessHoursClock

	for actionType := range map[ActionType]struct{}{
		ActionTaskCreation:       {},
		ActionResourceAllocation: {},
		ActionBudgetModification: {},
		ActionRiskMitigation:     {},
	} {
		decision := g.ValidateAction(context.Background(), actionType,
			map[string]interface{}{"project_id": 1, "resource_id": 2, "dependencies": []interface{}{3.0}},
			0.99, ActionContext{UserID: intPtr(7)})

		assert.True(t, decision.RequiresApproval, "%s must fail closed", actionType)
		assert.Equal(t, ApprovalCritical, decision.ApprovalLevel, "%s must escalate to critical", actionType)
		assert.Equal(t, "failed", decision.Status)
		require.NotEmpty(t, decision.ValidationIssues)
		assert.Contains(t, decision.ValidationIssues[0], "Validation error")
	}
}

func TestSecurityChecks(t *testing.T) {
	tests := []struct {
		name        string
		actionType  ActionType
		actionData  map[string]interface{}
		actx        ActionContext
		failedCheck string
	}{
		{
			name:        "inactive user fails authorization",
			actionType:  ActionTaskCreation,
			actionData:  map[string]interface{}{},
			actx:        ActionContext{UserID: intPtr(8)},
			failedCheck: "user_authorization",
		},
		{
			name:        "unknown user fails authorization",
			actionType:  ActionTaskCreation,
			actionData:  map[string]interface{}{},
			actx:        ActionContext{UserID: intPtr(999)},
			failedCheck: "user_authorization",
		},
		{
			name:        "missing project fails access",
			actionType:  ActionTaskCreation,
			actionData:  map[string]interface{}{"project_id": 999},
			failedCheck: "project_access",
		},
		{
			name:        "email in payload fails PII scan",
			actionType:  ActionTaskCreation,
			actionData:  map[string]interface{}{"note": "contact alice@example.com"},
			failedCheck: "pii_exposure",
		},
		{
			name:        "SSN in payload fails PII scan",
			actionType:  ActionTaskCreation,
			actionData:  map[string]interface{}{"note": "ssn 123-45-6789"},
			failedCheck: "pii_exposure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, _ := newTestGuardrails(t)

			decision := g.ValidateAction(context.Background(), tt.actionType,
				tt.actionData, 0.95, tt.actx)

			assert.True(t, decision.RequiresApproval)
			var failed []string
			for _, check := range decision.SecurityChecks {
				if check.Failed {
					failed = append(failed, check.Check)
				}
			}
			assert.Contains(t, failed, tt.failedCheck)
		})
	}
}

func TestBusinessRuleChecks(t *testing.T) {
	t.Run("weekend blocks stakeholder communication", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)
		g.now = weekendClock

		decision := g.ValidateAction(context.Background(), ActionStakeholderCommunication,
			map[string]interface{}{}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
		require.NotEmpty(t, decision.BusinessRuleChecks)
		assert.Equal(t, "business_hours", decision.BusinessRuleChecks[0].Check)
		assert.True(t, decision.BusinessRuleChecks[0].Failed)
	})

	t.Run("after hours blocks project status change", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)
		g.now = func() time.Time { return time.Date(2025, 6, 4, 20, 0, 0, 0, time.UTC) }

		decision := g.ValidateAction(context.Background(), ActionProjectStatusChange,
			map[string]interface{}{}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
	})

	t.Run("inactive resource fails allocation", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)

		decision := g.ValidateAction(context.Background(), ActionResourceAllocation,
			map[string]interface{}{"resource_id": 8}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
		require.NotEmpty(t, decision.BusinessRuleChecks)
		assert.True(t, decision.BusinessRuleChecks[0].Failed)
	})

	t.Run("terminal project rejects modification", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)

		decision := g.ValidateAction(context.Background(), ActionPlanModification,
			map[string]interface{}{"project_id": 43}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
		var failed bool
		for _, check := range decision.BusinessRuleChecks {
			if check.Check == "project_constraints" && check.Failed {
				failed = true
			}
		}
		assert.True(t, failed)
	})

	t.Run("missing dependency fails task creation", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)

		decision := g.ValidateAction(context.Background(), ActionTaskCreation,
			map[string]interface{}{"dependencies": []interface{}{100.0, 999.0}}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
	})

	t.Run("known dependencies pass", func(t *testing.T) {
		g, _, _ := newTestGuardrails(t)

		decision := g.ValidateAction(context.Background(), ActionTaskCreation,
			map[string]interface{}{"dependencies": []interface{}{100.0}}, 0.95, ActionContext{})

		assert.False(t, decision.RequiresApproval)
	})
}

func TestRiskMitigationEscalatesToCritical(t *testing.T) {
	for _, riskLevel := range []string{"high", "critical"} {
		g, _, _ := newTestGuardrails(t)

		decision := g.ValidateAction(context.Background(), ActionRiskMitigation,
			map[string]interface{}{"risk_level": riskLevel}, 0.95, ActionContext{})

		assert.True(t, decision.RequiresApproval)
		assert.Equal(t, ApprovalCritical, decision.ApprovalLevel, "risk level %s", riskLevel)
	}

	g, _, _ := newTestGuardrails(t)
	decision := g.ValidateAction(context.Background(), ActionRiskMitigation,
		map[string]interface{}{"risk_level": "low"}, 0.95, ActionContext{})
	assert.False(t, decision.RequiresApproval)
}

func TestGetApprovalWorkflow(t *testing.T) {
	tests := []struct {
		level     ApprovalLevel
		approvers []string
	}{
		{ApprovalLow, []string{"manager"}},
		{ApprovalMedium, []string{"manager", "director"}},
		{ApprovalHigh, []string{"manager", "director", "vp"}},
		{ApprovalCritical, []string{"manager", "director", "vp", "executive"}},
	}

	g, _, _ := newTestGuardrails(t)
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			wf := g.GetApprovalWorkflow("action-1", tt.level)
			assert.Equal(t, "action-1", wf.ActionID)
			assert.Equal(t, tt.approvers, wf.Approvers)
			assert.Equal(t, len(tt.approvers), wf.TotalSteps)
			assert.Equal(t, 0, wf.CurrentStep)
			assert.Equal(t, "pending", wf.Status)
		})
	}
}

func TestScanPII(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []PIIType
	}{
		{"clean", "nothing to see here", nil},
		{"email", "reach me at dev@nexuspm.io", []PIIType{PIITypeEmail}},
		{"ssn", "ssn is 123-45-6789", []PIIType{PIITypeSSN}},
		{"phone", "call 555-867-5309", []PIIType{PIITypePhone}},
		{"credit card", "card 4111-1111-1111-1111", []PIIType{PIITypeCreditCard}},
		{"mixed", "a@b.co and 123-45-6789", []PIIType{PIITypeEmail, PIITypeSSN}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScanPII(tt.text))
		})
	}
}

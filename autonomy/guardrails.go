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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nexuspm/platform/shared/logger"
)

// defaultApprovalThreshold applies to action types missing from the table.
const defaultApprovalThreshold = 0.8

// ActionContext carries request-scoped information about who is asking for an
// autonomous action.
type ActionContext struct {
	UserID    *int   `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Guardrails validates proposed autonomous actions against security checks,
// business rules, and per-action-type confidence thresholds. Validation never
// returns an error to the caller: infrastructure failures produce a
// fail-closed decision requiring critical approval.
type Guardrails struct {
	cfg        GuardrailConfig
	store      SnapshotStore
	audit      AuditSink
	log        *logger.Logger
	thresholds map[ActionType]float64

	// now is swapped in tests to pin business-hours checks.
	now func() time.Time
}

// NewGuardrails builds a validator over the given snapshot store and audit
// sink.
func NewGuardrails(cfg GuardrailConfig, store SnapshotStore, audit AuditSink, log *logger.Logger) *Guardrails {
	return &Guardrails{
		cfg:   cfg,
		store: store,
		audit: audit,
		log:   log,
		thresholds: map[ActionType]float64{
			ActionTaskCreation:             0.70,
			ActionResourceAllocation:       cfg.ResourceAllocationThreshold,
			ActionBudgetModification:       0.90,
			ActionRiskMitigation:           cfg.RiskMitigationThreshold,
			ActionStakeholderCommunication: cfg.StakeholderCommunicationThreshold,
			ActionProjectStatusChange:      0.80,
			ActionPlanModification:         0.85,
			ActionAutomatedDecision:        0.75,
		},
		now: time.Now,
	}
}

// ValidateAction evaluates one proposed autonomous action. It runs security
// checks, then business-rule checks, then computes the approval requirement,
// and finally writes the decision to the audit sink. Audit failures are
// logged and swallowed; any other failure yields a fail-closed decision.
func (g *Guardrails) ValidateAction(
	ctx context.Context,
	actionType ActionType,
	actionData map[string]interface{},
	confidenceScore float64,
	actx ActionContext,
) (decision GuardrailDecision) {
	actionID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			decision = g.failClosed(actionID, actionType, confidenceScore, fmt.Sprintf("%v", r))
			g.logDecision(ctx, actx, decision)
		}
	}()

	decision = GuardrailDecision{
		ActionID:           actionID,
		ActionType:         actionType,
		Timestamp:          g.now().UTC(),
		ApprovalLevel:      ApprovalLow,
		ValidationIssues:   []string{},
		SecurityChecks:     []CheckResult{},
		BusinessRuleChecks: []CheckResult{},
		ConfidenceScore:    confidenceScore,
		Status:             "pending",
	}

	securityChecks, err := g.securityChecks(ctx, actionType, actionData, actx)
	if err != nil {
		decision = g.failClosed(actionID, actionType, confidenceScore, err.Error())
		g.logDecision(ctx, actx, decision)
		return decision
	}
	decision.SecurityChecks = securityChecks
	for _, check := range securityChecks {
		if check.Failed {
			decision.ValidationIssues = append(decision.ValidationIssues, check.Issue)
		}
	}

	businessChecks, err := g.businessRuleChecks(ctx, actionType, actionData)
	if err != nil {
		decision = g.failClosed(actionID, actionType, confidenceScore, err.Error())
		g.logDecision(ctx, actx, decision)
		return decision
	}
	decision.BusinessRuleChecks = businessChecks
	for _, check := range businessChecks {
		if check.Failed {
			decision.ValidationIssues = append(decision.ValidationIssues, check.Issue)
		}
	}

	g.applyApprovalRequirements(actionType, actionData, confidenceScore, &decision)

	g.logDecision(ctx, actx, decision)

	return decision
}

// failClosed converts an unexpected failure into the most restrictive
// decision. Guardrails fail closed, never open.
func (g *Guardrails) failClosed(actionID string, actionType ActionType, confidence float64, errMsg string) GuardrailDecision {
	return GuardrailDecision{
		ActionID:           actionID,
		ActionType:         actionType,
		Timestamp:          g.now().UTC(),
		RequiresApproval:   true,
		ApprovalLevel:      ApprovalCritical,
		ValidationIssues:   []string{fmt.Sprintf("Validation error: %s", errMsg)},
		SecurityChecks:     []CheckResult{},
		BusinessRuleChecks: []CheckResult{},
		ConfidenceScore:    confidence,
		Status:             "failed",
		Error:              errMsg,
	}
}

func (g *Guardrails) securityChecks(
	ctx context.Context,
	actionType ActionType,
	actionData map[string]interface{},
	actx ActionContext,
) ([]CheckResult, error) {
	checks := []CheckResult{}

	if actx.UserID != nil {
		user, err := g.store.User(ctx, *actx.UserID)
		switch {
		case errors.Is(err, ErrNotFound):
			checks = append(checks, CheckResult{
				Check:  "user_authorization",
				Failed: true,
				Issue:  "User not authorized or inactive",
			})
		case err != nil:
			return nil, fmt.Errorf("user authorization check: %w", err)
		case !user.IsActive:
			checks = append(checks, CheckResult{
				Check:  "user_authorization",
				Failed: true,
				Issue:  "User not authorized or inactive",
			})
		default:
			checks = append(checks, CheckResult{
				Check:  "user_authorization",
				Detail: fmt.Sprintf("User %s authorized", user.Username),
			})
		}
	}

	if projectID, ok := intField(actionData, "project_id"); ok {
		project, err := g.store.Project(ctx, projectID)
		switch {
		case errors.Is(err, ErrNotFound):
			checks = append(checks, CheckResult{
				Check:  "project_access",
				Failed: true,
				Issue:  fmt.Sprintf("Project %d not found", projectID),
			})
		case err != nil:
			return nil, fmt.Errorf("project access check: %w", err)
		default:
			checks = append(checks, CheckResult{
				Check:  "project_access",
				Detail: fmt.Sprintf("Access to project %s verified", project.Name),
			})
		}
	}

	checks = append(checks, g.checkPIIExposure(actionData))

	if actionType == ActionBudgetModification {
		checks = append(checks, g.checkBudgetLimits(actionData))
	}

	return checks, nil
}

func (g *Guardrails) businessRuleChecks(
	ctx context.Context,
	actionType ActionType,
	actionData map[string]interface{},
) ([]CheckResult, error) {
	checks := []CheckResult{}

	if actionType == ActionStakeholderCommunication || actionType == ActionProjectStatusChange {
		checks = append(checks, g.checkBusinessHours())
	}

	if actionType == ActionResourceAllocation {
		check, err := g.checkResourceAvailability(ctx, actionData)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	if _, ok := intField(actionData, "project_id"); ok {
		check, err := g.checkProjectConstraints(ctx, actionData)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	if actionType == ActionTaskCreation {
		check, err := g.checkDependencyConflicts(ctx, actionData)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	return checks, nil
}

// applyApprovalRequirements implements the escalation policy. Rules fire
// independently; each may only raise the level, never lower it.
func (g *Guardrails) applyApprovalRequirements(
	actionType ActionType,
	actionData map[string]interface{},
	confidenceScore float64,
	decision *GuardrailDecision,
) {
	threshold, ok := g.thresholds[actionType]
	if !ok {
		threshold = defaultApprovalThreshold
	}
	decision.ApprovalThreshold = threshold
	decision.ConfidenceMet = confidenceScore >= threshold

	if confidenceScore < threshold {
		decision.RequiresApproval = true
		decision.ApprovalLevel = decision.ApprovalLevel.raiseTo(ApprovalMedium)
	}

	if len(decision.ValidationIssues) > 0 {
		decision.RequiresApproval = true
		if len(decision.ValidationIssues) > 2 {
			decision.ApprovalLevel = decision.ApprovalLevel.raiseTo(ApprovalHigh)
		}
	}

	if actionType == ActionBudgetModification || actionType == ActionProjectStatusChange {
		if amount, ok := floatField(actionData, "amount"); ok && amount > g.cfg.BudgetThreshold {
			decision.RequiresApproval = true
			decision.ApprovalLevel = decision.ApprovalLevel.raiseTo(ApprovalHigh)
		}
	}

	if actionType == ActionRiskMitigation {
		if riskLevel, ok := actionData["risk_level"].(string); ok {
			if riskLevel == "high" || riskLevel == "critical" {
				decision.RequiresApproval = true
				decision.ApprovalLevel = decision.ApprovalLevel.raiseTo(ApprovalCritical)
			}
		}
	}
}

func (g *Guardrails) checkPIIExposure(actionData map[string]interface{}) CheckResult {
	serialized, err := json.Marshal(actionData)
	if err != nil {
		return CheckResult{
			Check:  "pii_exposure",
			Failed: true,
			Issue:  "Action data could not be scanned for PII",
		}
	}

	if found := ScanPII(string(serialized)); len(found) > 0 {
		return CheckResult{
			Check:  "pii_exposure",
			Failed: true,
			Issue:  "Potential PII exposure detected",
		}
	}

	return CheckResult{Check: "pii_exposure", Detail: "No PII exposure detected"}
}

func (g *Guardrails) checkBudgetLimits(actionData map[string]interface{}) CheckResult {
	amount, _ := floatField(actionData, "amount")
	if amount > g.cfg.BudgetThreshold {
		return CheckResult{
			Check:  "budget_limits",
			Failed: true,
			Issue:  fmt.Sprintf("Budget modification %.2f exceeds threshold %.2f", amount, g.cfg.BudgetThreshold),
		}
	}
	return CheckResult{
		Check:  "budget_limits",
		Detail: fmt.Sprintf("Budget modification %.2f within limits", amount),
	}
}

func (g *Guardrails) checkBusinessHours() CheckResult {
	now := g.now()

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return CheckResult{
			Check:  "business_hours",
			Failed: true,
			Issue:  "Action attempted outside business hours (weekend)",
		}
	}

	hour := now.Hour()
	if hour < g.cfg.BusinessHoursStart || hour >= g.cfg.BusinessHoursEnd {
		return CheckResult{
			Check:  "business_hours",
			Failed: true,
			Issue:  "Action attempted outside business hours",
		}
	}

	return CheckResult{Check: "business_hours", Detail: "Action within business hours"}
}

func (g *Guardrails) checkResourceAvailability(ctx context.Context, actionData map[string]interface{}) (CheckResult, error) {
	resourceID, ok := intField(actionData, "resource_id")
	if !ok {
		return CheckResult{
			Check:  "resource_availability",
			Failed: true,
			Issue:  "No resource ID specified",
		}, nil
	}

	resource, err := g.store.User(ctx, resourceID)
	if errors.Is(err, ErrNotFound) {
		return CheckResult{
			Check:  "resource_availability",
			Failed: true,
			Issue:  fmt.Sprintf("Resource %d not found or inactive", resourceID),
		}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("resource availability check: %w", err)
	}
	if !resource.IsActive {
		return CheckResult{
			Check:  "resource_availability",
			Failed: true,
			Issue:  fmt.Sprintf("Resource %d not found or inactive", resourceID),
		}, nil
	}

	return CheckResult{
		Check:  "resource_availability",
		Detail: fmt.Sprintf("Resource %s available", resource.Username),
	}, nil
}

func (g *Guardrails) checkProjectConstraints(ctx context.Context, actionData map[string]interface{}) (CheckResult, error) {
	projectID, ok := intField(actionData, "project_id")
	if !ok {
		return CheckResult{
			Check:  "project_constraints",
			Failed: true,
			Issue:  "No project ID specified",
		}, nil
	}

	project, err := g.store.Project(ctx, projectID)
	if errors.Is(err, ErrNotFound) {
		return CheckResult{
			Check:  "project_constraints",
			Failed: true,
			Issue:  fmt.Sprintf("Project %d not found", projectID),
		}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("project constraints check: %w", err)
	}

	if project.Status == "completed" || project.Status == "cancelled" {
		return CheckResult{
			Check:  "project_constraints",
			Failed: true,
			Issue:  fmt.Sprintf("Project %s is %s and cannot be modified", project.Name, project.Status),
		}, nil
	}

	return CheckResult{
		Check:  "project_constraints",
		Detail: fmt.Sprintf("Project %s allows modifications", project.Name),
	}, nil
}

func (g *Guardrails) checkDependencyConflicts(ctx context.Context, actionData map[string]interface{}) (CheckResult, error) {
	deps := intSliceField(actionData, "dependencies")
	if len(deps) == 0 {
		return CheckResult{Check: "dependency_conflicts", Detail: "No dependencies specified"}, nil
	}

	for _, depID := range deps {
		_, err := g.store.Task(ctx, depID)
		if errors.Is(err, ErrNotFound) {
			return CheckResult{
				Check:  "dependency_conflicts",
				Failed: true,
				Issue:  fmt.Sprintf("Dependency task %d not found", depID),
			}, nil
		}
		if err != nil {
			return CheckResult{}, fmt.Errorf("dependency conflicts check: %w", err)
		}
	}

	return CheckResult{
		Check:  "dependency_conflicts",
		Detail: fmt.Sprintf("All %d dependencies valid", len(deps)),
	}, nil
}

// logDecision writes the decision to the audit sink. Audit failures never
// invalidate the validation result.
func (g *Guardrails) logDecision(ctx context.Context, actx ActionContext, decision GuardrailDecision) {
	actor := "autonomous_system"
	if actx.UserID != nil {
		actor = fmt.Sprintf("user:%d", *actx.UserID)
	}

	entry := AuditEntry{
		Actor:        actor,
		Action:       "autonomous_action_validation",
		ResourceType: "autonomous_action",
		ResourceID:   decision.ActionID,
		Details: map[string]interface{}{
			"action_type":       string(decision.ActionType),
			"requires_approval": decision.RequiresApproval,
			"approval_level":    string(decision.ApprovalLevel),
			"confidence_score":  decision.ConfidenceScore,
			"validation_issues": decision.ValidationIssues,
			"status":            decision.Status,
		},
		Timestamp: decision.Timestamp,
	}

	if err := g.audit.Append(ctx, entry); err != nil {
		g.log.Warn("", actx.RequestID, "failed to audit validation result", map[string]interface{}{
			"error": err.Error(), "action_id": decision.ActionID,
		})
	}
}

// GetApprovalWorkflow returns the chain of approvers for an action at the
// given level. Pure lookup, no side effects.
func (g *Guardrails) GetApprovalWorkflow(actionID string, level ApprovalLevel) ApprovalWorkflow {
	var approvers []string
	switch level {
	case ApprovalLow:
		approvers = []string{"manager"}
	case ApprovalMedium:
		approvers = []string{"manager", "director"}
	case ApprovalHigh:
		approvers = []string{"manager", "director", "vp"}
	case ApprovalCritical:
		approvers = []string{"manager", "director", "vp", "executive"}
	}

	return ApprovalWorkflow{
		ActionID:      actionID,
		ApprovalLevel: level,
		Approvers:     approvers,
		CurrentStep:   0,
		TotalSteps:    len(approvers),
		Status:        "pending",
	}
}

// intField extracts an integer from decoded JSON, tolerating the float64
// representation encoding/json produces for all numbers.
func intField(data map[string]interface{}, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func floatField(data map[string]interface{}, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intSliceField(data map[string]interface{}, key string) []int {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case int:
			out = append(out, v)
		case float64:
			out = append(out, int(v))
		}
	}
	return out
}

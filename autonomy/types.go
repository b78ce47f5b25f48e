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
	"fmt"
	"time"
)

// ActionType classifies an autonomous action submitted for guardrail validation.
type ActionType string

const (
	ActionTaskCreation             ActionType = "task_creation"
	ActionResourceAllocation       ActionType = "resource_allocation"
	ActionBudgetModification       ActionType = "budget_modification"
	ActionRiskMitigation           ActionType = "risk_mitigation"
	ActionStakeholderCommunication ActionType = "stakeholder_communication"
	ActionProjectStatusChange      ActionType = "project_status_change"
	ActionPlanModification         ActionType = "plan_modification"
	ActionAutomatedDecision        ActionType = "automated_decision"
)

var actionTypes = map[string]ActionType{
	string(ActionTaskCreation):             ActionTaskCreation,
	string(ActionResourceAllocation):       ActionResourceAllocation,
	string(ActionBudgetModification):       ActionBudgetModification,
	string(ActionRiskMitigation):           ActionRiskMitigation,
	string(ActionStakeholderCommunication): ActionStakeholderCommunication,
	string(ActionProjectStatusChange):      ActionProjectStatusChange,
	string(ActionPlanModification):         ActionPlanModification,
	string(ActionAutomatedDecision):        ActionAutomatedDecision,
}

// ParseActionType converts the wire representation of an action type into its
// typed value. Parsing happens once at the API boundary; the core never
// re-parses strings internally.
func ParseActionType(s string) (ActionType, error) {
	if at, ok := actionTypes[s]; ok {
		return at, nil
	}
	return "", fmt.Errorf("unknown action type: %q", s)
}

// ApprovalLevel is the severity tier determining which roles must approve an
// action before it may execute.
type ApprovalLevel string

const (
	ApprovalLow      ApprovalLevel = "low"
	ApprovalMedium   ApprovalLevel = "medium"
	ApprovalHigh     ApprovalLevel = "high"
	ApprovalCritical ApprovalLevel = "critical"
)

var approvalRank = map[ApprovalLevel]int{
	ApprovalLow:      0,
	ApprovalMedium:   1,
	ApprovalHigh:     2,
	ApprovalCritical: 3,
}

// ParseApprovalLevel converts a wire approval level string into an ApprovalLevel.
func ParseApprovalLevel(s string) (ApprovalLevel, error) {
	level := ApprovalLevel(s)
	if _, ok := approvalRank[level]; ok {
		return level, nil
	}
	return "", fmt.Errorf("unknown approval level: %q", s)
}

// Rank returns the ordering position of the level (low < medium < high < critical).
func (l ApprovalLevel) Rank() int { return approvalRank[l] }

// raiseTo returns the higher of the two levels. Escalation rules may only
// raise a level, never lower it.
func (l ApprovalLevel) raiseTo(other ApprovalLevel) ApprovalLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

// WorkflowStatus is the lifecycle state of an autonomous workflow.
type WorkflowStatus string

const (
	StatusInitiated  WorkflowStatus = "initiated"
	StatusRunning    WorkflowStatus = "running"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
	StatusRolledBack WorkflowStatus = "rolled_back"
	StatusTimeout    WorkflowStatus = "timeout"
)

var workflowStatuses = map[string]WorkflowStatus{
	string(StatusInitiated):  StatusInitiated,
	string(StatusRunning):    StatusRunning,
	string(StatusCompleted):  StatusCompleted,
	string(StatusFailed):     StatusFailed,
	string(StatusRolledBack): StatusRolledBack,
	string(StatusTimeout):    StatusTimeout,
}

// ParseWorkflowStatus converts a wire status string into a WorkflowStatus.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	if ws, ok := workflowStatuses[s]; ok {
		return ws, nil
	}
	return "", fmt.Errorf("unknown workflow status: %q", s)
}

// Terminal reports whether the status has no outgoing transitions.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusTimeout:
		return true
	}
	return false
}

// WorkflowType is the business category of an autonomous workflow.
type WorkflowType string

const (
	WorkflowHealthAnalysis           WorkflowType = "health_analysis"
	WorkflowRiskAssessment           WorkflowType = "risk_assessment"
	WorkflowResourceOptimization     WorkflowType = "resource_optimization"
	WorkflowBudgetAnalysis           WorkflowType = "budget_analysis"
	WorkflowStakeholderCommunication WorkflowType = "stakeholder_communication"
	WorkflowPlanGeneration           WorkflowType = "plan_generation"
	WorkflowTaskAutomation           WorkflowType = "task_automation"
	WorkflowDecisionMaking           WorkflowType = "decision_making"
)

var workflowTypes = map[string]WorkflowType{
	string(WorkflowHealthAnalysis):           WorkflowHealthAnalysis,
	string(WorkflowRiskAssessment):           WorkflowRiskAssessment,
	string(WorkflowResourceOptimization):     WorkflowResourceOptimization,
	string(WorkflowBudgetAnalysis):           WorkflowBudgetAnalysis,
	string(WorkflowStakeholderCommunication): WorkflowStakeholderCommunication,
	string(WorkflowPlanGeneration):           WorkflowPlanGeneration,
	string(WorkflowTaskAutomation):           WorkflowTaskAutomation,
	string(WorkflowDecisionMaking):           WorkflowDecisionMaking,
}

// ParseWorkflowType converts a wire workflow type string into a WorkflowType.
func ParseWorkflowType(s string) (WorkflowType, error) {
	if wt, ok := workflowTypes[s]; ok {
		return wt, nil
	}
	return "", fmt.Errorf("unknown workflow type: %q", s)
}

// DecisionType is the business category of an autonomous decision. Each type
// carries its own prompt template and model routing.
type DecisionType string

const (
	DecisionProjectPrioritization    DecisionType = "project_prioritization"
	DecisionResourceAllocation       DecisionType = "resource_allocation"
	DecisionRiskMitigation           DecisionType = "risk_mitigation"
	DecisionBudgetAdjustment         DecisionType = "budget_adjustment"
	DecisionTimelineOptimization     DecisionType = "timeline_optimization"
	DecisionStakeholderCommunication DecisionType = "stakeholder_communication"
	DecisionQualityAssurance         DecisionType = "quality_assurance"
	DecisionStrategicPlanning        DecisionType = "strategic_planning"
)

var decisionTypes = map[string]DecisionType{
	string(DecisionProjectPrioritization):    DecisionProjectPrioritization,
	string(DecisionResourceAllocation):       DecisionResourceAllocation,
	string(DecisionRiskMitigation):           DecisionRiskMitigation,
	string(DecisionBudgetAdjustment):         DecisionBudgetAdjustment,
	string(DecisionTimelineOptimization):     DecisionTimelineOptimization,
	string(DecisionStakeholderCommunication): DecisionStakeholderCommunication,
	string(DecisionQualityAssurance):         DecisionQualityAssurance,
	string(DecisionStrategicPlanning):        DecisionStrategicPlanning,
}

// ParseDecisionType converts a wire decision type string into a DecisionType.
func ParseDecisionType(s string) (DecisionType, error) {
	if dt, ok := decisionTypes[s]; ok {
		return dt, nil
	}
	return "", fmt.Errorf("unknown decision type: %q", s)
}

// DecisionStatus is the lifecycle state of a DecisionResult.
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionAnalyzing DecisionStatus = "analyzing"
	DecisionDecided   DecisionStatus = "decided"
	DecisionExecuting DecisionStatus = "executing"
	DecisionCompleted DecisionStatus = "completed"
	DecisionFailed    DecisionStatus = "failed"
)

// CheckResult is the outcome of a single security or business-rule check.
type CheckResult struct {
	Check  string `json:"check"`
	Failed bool   `json:"failed"`
	Issue  string `json:"issue,omitempty"`
	Detail string `json:"details,omitempty"`
}

// GuardrailDecision is the immutable result of validating one autonomous
// action. It is written to the audit sink on creation and never mutated.
type GuardrailDecision struct {
	ActionID           string        `json:"action_id"`
	ActionType         ActionType    `json:"action_type"`
	Timestamp          time.Time     `json:"timestamp"`
	RequiresApproval   bool          `json:"requires_approval"`
	ApprovalLevel      ApprovalLevel `json:"approval_level"`
	ValidationIssues   []string      `json:"validation_issues"`
	SecurityChecks     []CheckResult `json:"security_checks"`
	BusinessRuleChecks []CheckResult `json:"business_rule_checks"`
	ConfidenceScore    float64       `json:"confidence_score"`
	ApprovalThreshold  float64       `json:"approval_threshold"`
	ConfidenceMet      bool          `json:"confidence_met"`
	Status             string        `json:"status"`
	Error              string        `json:"error,omitempty"`
}

// ApprovalWorkflow describes the chain of approvers required for an action at
// a given approval level.
type ApprovalWorkflow struct {
	ActionID      string        `json:"action_id"`
	ApprovalLevel ApprovalLevel `json:"approval_level"`
	Approvers     []string      `json:"approvers"`
	CurrentStep   int           `json:"current_step"`
	TotalSteps    int           `json:"total_steps"`
	Status        string        `json:"status"`
}

// WorkflowRecord is an ordered, timestamped decision or action entry attached
// to a workflow.
type WorkflowRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// RollbackPoint is a snapshot of workflow progress taken after a step
// completes, usable to revert later steps.
type RollbackPoint struct {
	StepName       string           `json:"step_name"`
	Timestamp      time.Time        `json:"timestamp"`
	StepsCompleted []string         `json:"steps_completed"`
	ActionsTaken   []WorkflowRecord `json:"actions_taken"`
	DecisionsMade  []WorkflowRecord `json:"decisions_made"`
}

// WorkflowState is the full state of one autonomous workflow instance. It is
// owned exclusively by the StateManager while active and becomes read-only
// once it reaches a terminal status and moves into history.
type WorkflowState struct {
	WorkflowID     string                 `json:"workflow_id"`
	WorkflowType   WorkflowType           `json:"workflow_type"`
	Status         WorkflowStatus         `json:"status"`
	ProjectID      *int                   `json:"project_id,omitempty"`
	UserID         *int                   `json:"user_id,omitempty"`
	InitiatedAt    time.Time              `json:"initiated_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	TimeoutAt      time.Time              `json:"timeout_at"`
	StepsCompleted []string               `json:"steps_completed"`
	DecisionsMade  []WorkflowRecord       `json:"decisions_made"`
	ActionsTaken   []WorkflowRecord       `json:"actions_taken"`
	RollbackPoints []RollbackPoint        `json:"rollback_points"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ResultData     map[string]interface{} `json:"result_data,omitempty"`
}

// DecisionContext carries the inputs for one decision-engine invocation.
type DecisionContext struct {
	ProjectID   *int                   `json:"project_id,omitempty"`
	UserID      *int                   `json:"user_id,omitempty"`
	Priority    string                 `json:"priority"`
	Urgency     float64                `json:"urgency"`
	ImpactScope string                 `json:"impact_scope"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
}

// ProposedAction is one action suggested by a decision.
type ProposedAction struct {
	ActionType      string  `json:"action_type"`
	Description     string  `json:"description"`
	Priority        string  `json:"priority"`
	EstimatedEffort float64 `json:"estimated_effort"`
	AssignedTo      string  `json:"assigned_to,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
}

// DecisionRisk is a risk identified alongside a decision.
type DecisionRisk struct {
	RiskName    string  `json:"risk_name"`
	Probability float64 `json:"probability"`
	Impact      string  `json:"impact"`
	Mitigation  string  `json:"mitigation"`
}

// DecisionAlternative is an option the model considered and rejected.
type DecisionAlternative struct {
	Alternative string   `json:"alternative"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`
	WhyRejected string   `json:"why_rejected"`
}

// ExecutionPlan describes how an approved decision should be carried out.
type ExecutionPlan struct {
	Timeline        string   `json:"timeline"`
	Milestones      []string `json:"milestones"`
	SuccessCriteria []string `json:"success_criteria"`
}

// DecisionResult is the structured outcome of one decision-engine invocation.
type DecisionResult struct {
	DecisionID             string                `json:"decision_id"`
	DecisionType           DecisionType          `json:"decision_type"`
	Status                 DecisionStatus        `json:"status"`
	ConfidenceScore        float64               `json:"confidence_score"`
	Reasoning              string                `json:"reasoning"`
	Actions                []ProposedAction      `json:"actions"`
	Risks                  []DecisionRisk        `json:"risks"`
	AlternativesConsidered []DecisionAlternative `json:"alternatives_considered"`
	ExecutionPlan          ExecutionPlan         `json:"execution_plan"`
	CreatedAt              time.Time             `json:"created_at"`
	ExecutedAt             *time.Time            `json:"executed_at,omitempty"`
	Outcome                string                `json:"outcome,omitempty"`
	Guardrails             *GuardrailDecision    `json:"guardrails,omitempty"`
}

// ModelRoute is a transient routing decision produced per request.
type ModelRoute struct {
	ComplexityScore int    `json:"complexity_score"`
	SelectedModel   string `json:"selected_model"`
	Provider        string `json:"provider"`
	UseEmbeddings   bool   `json:"use_embeddings"`
}

// InferResult is the outcome of one inference round trip.
type InferResult struct {
	Success    bool   `json:"success"`
	Text       string `json:"response"`
	Model      string `json:"model"`
	LatencyMs  int64  `json:"latency_ms"`
	TokensUsed int    `json:"tokens_used"`
	RawError   string `json:"raw_error,omitempty"`
}

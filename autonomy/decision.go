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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexuspm/platform/shared/logger"
)

// decisionModels routes each decision type to the model best suited for it.
// Strategic types go to the large reasoning model, routine types to the
// smaller instruct models.
var decisionModels = map[DecisionType]string{
	DecisionProjectPrioritization:    "gpt-oss:20b",
	DecisionResourceAllocation:       "qwen3:latest",
	DecisionRiskMitigation:           "llama3.2:3b-instruct-q4_K_M",
	DecisionBudgetAdjustment:         "gpt-oss:20b",
	DecisionTimelineOptimization:     "qwen3:latest",
	DecisionStakeholderCommunication: "qwen3:latest",
	DecisionQualityAssurance:         "llama3.2:3b-instruct-q4_K_M",
	DecisionStrategicPlanning:        "gpt-oss:20b",
}

const defaultDecisionModel = "qwen3:latest"

// decisionFocus holds the per-type instruction appended to the prompt.
var decisionFocus = map[DecisionType]string{
	DecisionProjectPrioritization: "Focus on: Resource constraints, business value, strategic alignment, and timeline dependencies.",
	DecisionResourceAllocation:    "Focus on: Skill matching, availability, workload balance, and team dynamics.",
	DecisionRiskMitigation:        "Focus on: Risk probability, impact assessment, mitigation effectiveness, and cost-benefit analysis.",
	DecisionBudgetAdjustment:      "Focus on: Budget utilization, ROI analysis, cost optimization, and financial constraints.",
}

// ExecutionSummary reports the outcome of executing a decided decision.
type ExecutionSummary struct {
	Success          bool                     `json:"success"`
	DecisionID       string                   `json:"decision_id"`
	ExecutionResults []map[string]interface{} `json:"execution_results,omitempty"`
	Outcome          string                   `json:"outcome"`
	Error            string                   `json:"error,omitempty"`
}

// DecisionAnalytics aggregates the decision history.
type DecisionAnalytics struct {
	TotalDecisions           int            `json:"total_decisions"`
	SuccessRate              float64        `json:"success_rate"`
	AverageConfidence        float64        `json:"average_confidence"`
	DecisionTypeDistribution map[string]int `json:"decision_type_distribution"`
	StatusDistribution       map[string]int `json:"status_distribution"`
}

// ErrDecisionNotFound is returned when a decision ID is not in the history.
var ErrDecisionNotFound = errors.New("decision not found")

// DecisionEngine makes autonomous decisions by gathering context snapshots,
// generating a structured decision through the model router, and validating
// it against the guardrails before it is eligible for execution.
type DecisionEngine struct {
	router     *Router
	guardrails *Guardrails
	store      SnapshotStore
	log        *logger.Logger

	mu      sync.Mutex
	history []*DecisionResult

	now func() time.Time
}

// NewDecisionEngine wires the engine to its collaborators.
func NewDecisionEngine(router *Router, guardrails *Guardrails, store SnapshotStore, log *logger.Logger) *DecisionEngine {
	return &DecisionEngine{
		router:     router,
		guardrails: guardrails,
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// MakeDecision runs the full pipeline for one decision. It never returns an
// error: any failure produces a FAILED result with zero confidence and the
// failure recorded as the reasoning, so callers always get an auditable
// DecisionResult.
func (e *DecisionEngine) MakeDecision(ctx context.Context, decisionType DecisionType, dctx DecisionContext) DecisionResult {
	now := e.now().UTC()
	decisionID := fmt.Sprintf("DECISION_%s_%s", now.Format("20060102_150405"), decisionType)

	result, err := e.makeDecision(ctx, decisionID, decisionType, dctx)
	if err != nil {
		e.log.Error("", "", "decision failed", map[string]interface{}{
			"decision_id": decisionID, "error": err.Error(),
		})
		result = DecisionResult{
			DecisionID:             decisionID,
			DecisionType:           decisionType,
			Status:                 DecisionFailed,
			ConfidenceScore:        0.0,
			Reasoning:              fmt.Sprintf("Decision failed: %s", err.Error()),
			Actions:                []ProposedAction{},
			Risks:                  []DecisionRisk{},
			AlternativesConsidered: []DecisionAlternative{},
			CreatedAt:              now,
		}
	}

	e.mu.Lock()
	e.history = append(e.history, &result)
	e.mu.Unlock()

	e.log.Info("", "", "decision made", map[string]interface{}{
		"decision_id":      result.DecisionID,
		"decision_type":    string(decisionType),
		"status":           string(result.Status),
		"confidence_score": result.ConfidenceScore,
	})

	return result
}

func (e *DecisionEngine) makeDecision(ctx context.Context, decisionID string, decisionType DecisionType, dctx DecisionContext) (DecisionResult, error) {
	analysis := e.analyzeContext(ctx, dctx)

	payload, err := e.generateDecision(ctx, decisionType, analysis, dctx)
	if err != nil {
		return DecisionResult{}, err
	}

	validation := e.validateDecision(ctx, payload, dctx)

	status := DecisionPending
	if !validation.RequiresApproval {
		status = DecisionDecided
	}

	return DecisionResult{
		DecisionID:             decisionID,
		DecisionType:           decisionType,
		Status:                 status,
		ConfidenceScore:        payload.ConfidenceScore,
		Reasoning:              payload.Reasoning,
		Actions:                payload.Actions,
		Risks:                  payload.Risks,
		AlternativesConsidered: payload.Alternatives,
		ExecutionPlan:          payload.ExecutionPlan,
		CreatedAt:              e.now().UTC(),
		Guardrails:             &validation,
	}, nil
}

// analysisData is the snapshot bundle fed into the decision prompt. Each
// section is best-effort: a lookup failure leaves the section empty rather
// than aborting the decision.
type analysisData struct {
	ProjectData   map[string]interface{} `json:"project_data"`
	ResourceData  map[string]interface{} `json:"resource_data"`
	RiskData      []RiskSnapshot         `json:"risk_data"`
	FinancialData map[string]interface{} `json:"financial_data"`
	Constraints   map[string]interface{} `json:"constraints"`
}

func (e *DecisionEngine) analyzeContext(ctx context.Context, dctx DecisionContext) analysisData {
	analysis := analysisData{
		ProjectData:   map[string]interface{}{},
		ResourceData:  map[string]interface{}{},
		RiskData:      []RiskSnapshot{},
		FinancialData: map[string]interface{}{},
		Constraints:   dctx.Constraints,
	}

	if dctx.ProjectID != nil {
		if project, err := e.store.Project(ctx, *dctx.ProjectID); err == nil {
			analysis.ProjectData = map[string]interface{}{
				"id":                    project.ID,
				"name":                  project.Name,
				"status":                project.Status,
				"priority":              project.Priority,
				"budget":                project.Budget,
				"completion_percentage": project.CompletionPercentage,
			}
		} else if !errors.Is(err, ErrNotFound) {
			e.log.Warn("", "", "project snapshot unavailable", map[string]interface{}{"error": err.Error()})
		}

		if risks, err := e.store.Risks(ctx, *dctx.ProjectID); err == nil {
			analysis.RiskData = risks
		}

		if budget, err := e.store.Budget(ctx, *dctx.ProjectID); err == nil {
			utilization := 0.0
			if budget.AllocatedAmount > 0 {
				utilization = budget.SpentAmount / budget.AllocatedAmount * 100
			}
			analysis.FinancialData = map[string]interface{}{
				"allocated_budget":   budget.AllocatedAmount,
				"spent_amount":       budget.SpentAmount,
				"remaining_budget":   budget.AllocatedAmount - budget.SpentAmount,
				"budget_utilization": utilization,
			}
		}
	}

	if resources, err := e.store.Resources(ctx); err == nil {
		analysis.ResourceData = map[string]interface{}{
			"available_resources": len(resources),
			"resource_details":    resources,
		}
	}

	return analysis
}

// decisionPayload is the structured decision extracted from model output.
type decisionPayload struct {
	ConfidenceScore float64               `json:"confidence_score"`
	Reasoning       string                `json:"reasoning"`
	Actions         []ProposedAction      `json:"actions"`
	Risks           []DecisionRisk        `json:"risks"`
	Alternatives    []DecisionAlternative `json:"alternatives"`
	ExecutionPlan   ExecutionPlan         `json:"execution_plan"`
}

func (e *DecisionEngine) generateDecision(ctx context.Context, decisionType DecisionType, analysis analysisData, dctx DecisionContext) (decisionPayload, error) {
	prompt := buildDecisionPrompt(decisionType, analysis, dctx)

	model, ok := decisionModels[decisionType]
	if !ok {
		model = defaultDecisionModel
	}

	result := e.router.Infer(ctx, prompt, "", model)
	if !result.Success {
		return decisionPayload{}, fmt.Errorf("decision generation failed: %s", result.RawError)
	}

	return parseDecisionResponse(result.Text), nil
}

func buildDecisionPrompt(decisionType DecisionType, analysis analysisData, dctx DecisionContext) string {
	constraints, _ := json.MarshalIndent(dctx.Constraints, "", "  ")
	projectData, _ := json.MarshalIndent(analysis.ProjectData, "", "  ")
	resourceData, _ := json.MarshalIndent(analysis.ResourceData, "", "  ")
	riskData, _ := json.MarshalIndent(analysis.RiskData, "", "  ")
	financialData, _ := json.MarshalIndent(analysis.FinancialData, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "You are an autonomous project management decision engine. Make a %s decision based on the following data:\n\n", decisionType)
	fmt.Fprintf(&b, "CONTEXT:\n- Priority: %s\n- Urgency: %g\n- Impact Scope: %s\n- Constraints: %s\n\n", dctx.Priority, dctx.Urgency, dctx.ImpactScope, constraints)
	fmt.Fprintf(&b, "PROJECT DATA:\n%s\n\n", projectData)
	fmt.Fprintf(&b, "RESOURCE DATA:\n%s\n\n", resourceData)
	fmt.Fprintf(&b, "RISK DATA:\n%s\n\n", riskData)
	fmt.Fprintf(&b, "FINANCIAL DATA:\n%s\n\n", financialData)
	b.WriteString(`Please provide a structured decision in JSON format with the following fields:
{
    "confidence_score": 0.85,
    "reasoning": "Detailed reasoning for the decision",
    "actions": [{"action_type": "task_creation", "description": "Action description", "priority": "high", "estimated_effort": 8, "assigned_to": "resource_id"}],
    "risks": [{"risk_name": "Risk description", "probability": 0.3, "impact": "medium", "mitigation": "Mitigation strategy"}],
    "alternatives": [{"alternative": "Alternative description", "pros": ["Pro 1"], "cons": ["Con 1"], "why_rejected": "Reason for rejection"}],
    "execution_plan": {"timeline": "2 weeks", "milestones": ["Milestone 1"], "success_criteria": ["Criterion 1"]}
}`)

	if focus, ok := decisionFocus[decisionType]; ok {
		b.WriteString("\n\n")
		b.WriteString(focus)
	}

	return b.String()
}

// parseDecisionResponse extracts the JSON object between the first '{' and
// the last '}'. Malformed or missing JSON falls back to a conservative
// fixed-shape decision rather than failing the pipeline.
func parseDecisionResponse(response string) decisionPayload {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return fallbackDecision(response)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return fallbackDecision(response)
	}

	payload := decisionPayload{
		ConfidenceScore: 0.5,
		Reasoning:       "Decision made based on available data",
		Actions:         []ProposedAction{},
		Risks:           []DecisionRisk{},
		Alternatives:    []DecisionAlternative{},
		ExecutionPlan:   ExecutionPlan{Timeline: "1 week", Milestones: []string{}, SuccessCriteria: []string{}},
	}

	if v, ok := raw["confidence_score"]; ok {
		_ = json.Unmarshal(v, &payload.ConfidenceScore)
	}
	if v, ok := raw["reasoning"]; ok {
		_ = json.Unmarshal(v, &payload.Reasoning)
	}
	if v, ok := raw["actions"]; ok {
		_ = json.Unmarshal(v, &payload.Actions)
	}
	if v, ok := raw["risks"]; ok {
		_ = json.Unmarshal(v, &payload.Risks)
	}
	if v, ok := raw["alternatives"]; ok {
		_ = json.Unmarshal(v, &payload.Alternatives)
	}
	if v, ok := raw["execution_plan"]; ok {
		_ = json.Unmarshal(v, &payload.ExecutionPlan)
	}

	return payload
}

// fallbackDecision is the conservative decision used when the model output
// could not be parsed as JSON. The raw text survives as the reasoning,
// truncated to keep the record bounded.
func fallbackDecision(response string) decisionPayload {
	reasoning := response
	if len(reasoning) > 500 {
		reasoning = reasoning[:500] + "..."
	}

	return decisionPayload{
		ConfidenceScore: 0.7,
		Reasoning:       reasoning,
		Actions: []ProposedAction{{
			ActionType:      "analysis",
			Description:     "Further analysis required",
			Priority:        "medium",
			EstimatedEffort: 4,
		}},
		Risks: []DecisionRisk{{
			RiskName:    "Decision uncertainty",
			Probability: 0.4,
			Impact:      "medium",
			Mitigation:  "Monitor and adjust as needed",
		}},
		Alternatives: []DecisionAlternative{{
			Alternative: "Manual review",
			Pros:        []string{"Human oversight", "Experience-based"},
			Cons:        []string{"Slower", "Subjective"},
			WhyRejected: "Autonomous decision preferred",
		}},
		ExecutionPlan: ExecutionPlan{
			Timeline:        "1 week",
			Milestones:      []string{"Review", "Implement", "Monitor"},
			SuccessCriteria: []string{"Decision implemented", "Outcomes measured"},
		},
	}
}

// validateDecision runs the decision through the guardrails as an
// automated_decision action.
func (e *DecisionEngine) validateDecision(ctx context.Context, payload decisionPayload, dctx DecisionContext) GuardrailDecision {
	actionData := map[string]interface{}{
		"decision_type":    dctx.Priority,
		"confidence_score": payload.ConfidenceScore,
		"actions":          payload.Actions,
		"risks":            payload.Risks,
	}
	if dctx.ProjectID != nil {
		actionData["project_id"] = *dctx.ProjectID
	}

	return e.guardrails.ValidateAction(ctx, ActionAutomatedDecision, actionData,
		payload.ConfidenceScore, ActionContext{UserID: dctx.UserID})
}

// ExecuteDecision carries out every action of a previously made decision.
// Individual action failures are reported per action; the decision only
// fails as a whole when it cannot be executed at all.
func (e *DecisionEngine) ExecuteDecision(ctx context.Context, decisionID string) (ExecutionSummary, error) {
	e.mu.Lock()
	var decision *DecisionResult
	for _, d := range e.history {
		if d.DecisionID == decisionID {
			decision = d
			break
		}
	}
	if decision == nil {
		e.mu.Unlock()
		return ExecutionSummary{}, ErrDecisionNotFound
	}
	decision.Status = DecisionExecuting
	actions := append([]ProposedAction(nil), decision.Actions...)
	e.mu.Unlock()

	results := make([]map[string]interface{}, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.executeAction(ctx, action))
	}

	now := e.now().UTC()
	e.mu.Lock()
	decision.Status = DecisionCompleted
	decision.ExecutedAt = &now
	decision.Outcome = "Decision executed successfully"
	e.mu.Unlock()

	e.log.Info("", "", "decision executed", map[string]interface{}{
		"decision_id": decisionID, "actions": len(actions),
	})

	return ExecutionSummary{
		Success:          true,
		DecisionID:       decisionID,
		ExecutionResults: results,
		Outcome:          "Decision executed successfully",
	}, nil
}

func (e *DecisionEngine) executeAction(ctx context.Context, action ProposedAction) map[string]interface{} {
	switch action.ActionType {
	case "task_creation":
		return map[string]interface{}{
			"success":     true,
			"action_type": "task_creation",
			"task_id":     fmt.Sprintf("TASK_%s", uuid.NewString()),
			"description": action.Description,
		}
	case "resource_assignment":
		return map[string]interface{}{
			"success":     true,
			"action_type": "resource_assignment",
			"resource_id": action.AssignedTo,
			"description": action.Description,
		}
	case "risk_mitigation":
		return map[string]interface{}{
			"success":     true,
			"action_type": "risk_mitigation",
			"description": action.Description,
		}
	case "budget_adjustment":
		return map[string]interface{}{
			"success":     true,
			"action_type": "budget_adjustment",
			"amount":      action.Amount,
			"description": action.Description,
		}
	case "notification":
		return map[string]interface{}{
			"success":     true,
			"action_type": "notification",
			"recipient":   action.AssignedTo,
			"description": action.Description,
		}
	default:
		return map[string]interface{}{
			"success":     false,
			"action_type": action.ActionType,
			"error":       fmt.Sprintf("Unknown action type: %s", action.ActionType),
		}
	}
}

// GetDecision returns a copy of one decision by ID.
func (e *DecisionEngine) GetDecision(decisionID string) (DecisionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.history {
		if d.DecisionID == decisionID {
			return *d, true
		}
	}
	return DecisionResult{}, false
}

// GetDecisionHistory returns past decisions, newest first, optionally
// filtered by type. A non-positive limit uses the default of 50.
func (e *DecisionEngine) GetDecisionHistory(decisionType *DecisionType, limit int) []DecisionResult {
	if limit <= 0 {
		limit = 50
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DecisionResult, 0, len(e.history))
	for _, d := range e.history {
		if decisionType != nil && d.DecisionType != *decisionType {
			continue
		}
		out = append(out, *d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetDecisionAnalytics aggregates success rate, confidence, and
// distributions across the full history.
func (e *DecisionEngine) GetDecisionAnalytics() DecisionAnalytics {
	e.mu.Lock()
	defer e.mu.Unlock()

	analytics := DecisionAnalytics{
		DecisionTypeDistribution: make(map[string]int),
		StatusDistribution:       make(map[string]int),
	}

	if len(e.history) == 0 {
		return analytics
	}

	var completed int
	var totalConfidence float64
	for _, d := range e.history {
		analytics.DecisionTypeDistribution[string(d.DecisionType)]++
		analytics.StatusDistribution[string(d.Status)]++
		totalConfidence += d.ConfidenceScore
		if d.Status == DecisionCompleted {
			completed++
		}
	}

	analytics.TotalDecisions = len(e.history)
	analytics.SuccessRate = float64(completed) / float64(len(e.history)) * 100
	analytics.AverageConfidence = totalConfidence / float64(len(e.history))

	return analytics
}

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
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexuspm/platform/shared/logger"
)

// Server owns the HTTP surface of the autonomy service and dispatches into
// the guardrails, state manager, and decision engine.
type Server struct {
	cfg        Config
	guardrails *Guardrails
	state      *StateManager
	engine     *DecisionEngine
	limiter    *RateLimiter
	audit      AuditSink
	log        *logger.Logger
}

// NewServer wires the HTTP surface to the service components.
func NewServer(cfg Config, guardrails *Guardrails, state *StateManager, engine *DecisionEngine, limiter *RateLimiter, audit AuditSink, log *logger.Logger) *Server {
	return &Server{
		cfg:        cfg,
		guardrails: guardrails,
		state:      state,
		engine:     engine,
		limiter:    limiter,
		audit:      audit,
		log:        log,
	}
}

// Routes builds the service router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/actions/validate", s.instrument("validate", s.validateActionHandler)).Methods("POST")
	r.HandleFunc("/api/v1/actions/{id}/approval", s.instrument("approval", s.approvalWorkflowHandler)).Methods("GET")

	r.HandleFunc("/api/v1/workflows", s.instrument("workflow_start", s.startWorkflowHandler)).Methods("POST")
	r.HandleFunc("/api/v1/workflows", s.instrument("workflow_history", s.workflowHistoryHandler)).Methods("GET")
	r.HandleFunc("/api/v1/workflows/stats", s.instrument("workflow_stats", s.workflowStatsHandler)).Methods("GET")
	r.HandleFunc("/api/v1/workflows/{id}", s.instrument("workflow_get", s.getWorkflowHandler)).Methods("GET")
	r.HandleFunc("/api/v1/workflows/{id}", s.instrument("workflow_update", s.updateWorkflowHandler)).Methods("PATCH")
	r.HandleFunc("/api/v1/workflows/{id}/rollback", s.instrument("workflow_rollback", s.rollbackWorkflowHandler)).Methods("POST")

	r.HandleFunc("/api/v1/decisions", s.instrument("decision_make", s.makeDecisionHandler)).Methods("POST")
	r.HandleFunc("/api/v1/decisions", s.instrument("decision_history", s.decisionHistoryHandler)).Methods("GET")
	r.HandleFunc("/api/v1/decisions/analytics", s.instrument("decision_analytics", s.decisionAnalyticsHandler)).Methods("GET")
	r.HandleFunc("/api/v1/decisions/{id}/execute", s.instrument("decision_execute", s.executeDecisionHandler)).Methods("POST")

	return r
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		promRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		promRequestDuration.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.sendJSON(w, statusCode, errorResponse{Success: false, Error: message})
}

// rateLimitKey identifies the caller for rate limiting, preferring the
// user ID when the request carries one.
func rateLimitKey(r *http.Request, userID *int) string {
	if userID != nil {
		return fmt.Sprintf("user:%d", *userID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	components := map[string]bool{
		"audit_sink": s.audit == nil || isHealthy(s.audit),
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "nexuspm-autonomy",
		"version":    "1.0.0",
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func isHealthy(sink AuditSink) bool {
	type healthChecker interface{ IsHealthy() bool }
	if hc, ok := sink.(healthChecker); ok {
		return hc.IsHealthy()
	}
	return true
}

type validateActionRequest struct {
	ActionType      string                 `json:"action_type"`
	ActionData      map[string]interface{} `json:"action_data"`
	ConfidenceScore float64                `json:"confidence_score"`
	UserID          *int                   `json:"user_id,omitempty"`
	RequestID       string                 `json:"request_id,omitempty"`
}

func (s *Server) validateActionHandler(w http.ResponseWriter, r *http.Request) {
	var req validateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	actionType, err := ParseActionType(req.ActionType)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.limiter.Allow(r.Context(), rateLimitKey(r, req.UserID)); err != nil {
		s.sendError(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	decision := s.guardrails.ValidateAction(r.Context(), actionType, req.ActionData,
		req.ConfidenceScore, ActionContext{UserID: req.UserID, RequestID: req.RequestID})

	outcome := "auto_approved"
	if decision.Status == "failed" {
		outcome = "failed"
	} else if decision.RequiresApproval {
		outcome = "requires_approval"
	}
	promValidationsTotal.WithLabelValues(string(actionType), outcome).Inc()

	s.sendJSON(w, http.StatusOK, decision)
}

func (s *Server) approvalWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["id"]

	level, err := ParseApprovalLevel(r.URL.Query().Get("level"))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusOK, s.guardrails.GetApprovalWorkflow(actionID, level))
}

type startWorkflowRequest struct {
	WorkflowType string                 `json:"workflow_type"`
	ProjectID    *int                   `json:"project_id,omitempty"`
	UserID       *int                   `json:"user_id,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) startWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	workflowType, err := ParseWorkflowType(req.WorkflowType)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	workflowID := s.state.StartWorkflow(r.Context(), workflowType, req.ProjectID, req.UserID, req.Context)
	promWorkflowTransitions.WithLabelValues(string(StatusInitiated)).Inc()

	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow_id": workflowID,
		"status":      StatusInitiated,
	})
}

func (s *Server) workflowHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var projectID *int
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			s.sendError(w, "Invalid project_id", http.StatusBadRequest)
			return
		}
		projectID = &id
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": s.state.GetWorkflowHistory(projectID),
	})
}

func (s *Server) workflowStatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.state.GetWorkflowStatistics())
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	state, ok := s.state.GetWorkflowState(workflowID)
	if !ok {
		s.sendError(w, fmt.Sprintf("Workflow %s not found", workflowID), http.StatusNotFound)
		return
	}

	s.sendJSON(w, http.StatusOK, state)
}

type updateWorkflowRequest struct {
	Status       string                 `json:"status"`
	StepName     string                 `json:"step_name,omitempty"`
	Decision     map[string]interface{} `json:"decision,omitempty"`
	Action       map[string]interface{} `json:"action,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ResultData   map[string]interface{} `json:"result_data,omitempty"`
}

func (s *Server) updateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	var req updateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status, err := ParseWorkflowStatus(req.Status)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ok := s.state.UpdateWorkflowState(r.Context(), workflowID, status, StateUpdate{
		StepName:     req.StepName,
		Decision:     req.Decision,
		Action:       req.Action,
		ErrorMessage: req.ErrorMessage,
		ResultData:   req.ResultData,
	})
	if !ok {
		s.sendError(w, fmt.Sprintf("Workflow %s not found or transition not allowed", workflowID), http.StatusConflict)
		return
	}
	promWorkflowTransitions.WithLabelValues(string(status)).Inc()

	state, _ := s.state.GetWorkflowState(workflowID)
	s.sendJSON(w, http.StatusOK, state)
}

type rollbackWorkflowRequest struct {
	RollbackToStep string `json:"rollback_to_step,omitempty"`
}

func (s *Server) rollbackWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	var req rollbackWorkflowRequest
	if r.Body != nil {
		// An empty body means "roll back to the most recent point".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result := s.state.RollbackWorkflow(r.Context(), workflowID, req.RollbackToStep)
	if !result.Success {
		statusCode := http.StatusConflict
		if result.Error == fmt.Sprintf("Workflow %s not found", workflowID) {
			statusCode = http.StatusNotFound
		}
		s.sendJSON(w, statusCode, result)
		return
	}
	promWorkflowTransitions.WithLabelValues(string(StatusRolledBack)).Inc()

	s.sendJSON(w, http.StatusOK, result)
}

type makeDecisionRequest struct {
	DecisionType string          `json:"decision_type"`
	Context      DecisionContext `json:"context"`
}

func (s *Server) makeDecisionHandler(w http.ResponseWriter, r *http.Request) {
	var req makeDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	decisionType, err := ParseDecisionType(req.DecisionType)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.limiter.Allow(r.Context(), rateLimitKey(r, req.Context.UserID)); err != nil {
		s.sendError(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	result := s.engine.MakeDecision(r.Context(), decisionType, req.Context)
	promDecisionsTotal.WithLabelValues(string(decisionType), string(result.Status)).Inc()

	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) decisionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var decisionType *DecisionType
	if raw := r.URL.Query().Get("type"); raw != "" {
		dt, err := ParseDecisionType(raw)
		if err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		decisionType = &dt
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": s.engine.GetDecisionHistory(decisionType, limit),
	})
}

func (s *Server) decisionAnalyticsHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.GetDecisionAnalytics())
}

func (s *Server) executeDecisionHandler(w http.ResponseWriter, r *http.Request) {
	decisionID := mux.Vars(r)["id"]

	summary, err := s.engine.ExecuteDecision(r.Context(), decisionID)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Decision %s not found", decisionID), http.StatusNotFound)
		return
	}

	s.sendJSON(w, http.StatusOK, summary)
}

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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexuspm/platform/shared/logger"
)

// StateUpdate carries the optional attachments of one workflow state update.
type StateUpdate struct {
	StepName     string
	Decision     map[string]interface{}
	Action       map[string]interface{}
	ErrorMessage string
	ResultData   map[string]interface{}
}

// RollbackResult reports the outcome of a rollback attempt.
type RollbackResult struct {
	Success       bool      `json:"success"`
	RollbackPoint string    `json:"rollback_point,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// WorkflowStatistics is an aggregation over the active set and history.
type WorkflowStatistics struct {
	TotalWorkflows           int            `json:"total_workflows"`
	ActiveWorkflows          int            `json:"active_workflows"`
	CompletedWorkflows       int            `json:"completed_workflows"`
	StatusDistribution       map[string]int `json:"status_distribution"`
	TypeDistribution         map[string]int `json:"type_distribution"`
	AverageCompletionMinutes float64        `json:"average_completion_time_minutes"`
}

// StateManager owns the lifecycle of autonomous workflows. Workflows live in
// the active set until a terminal status; the background sweep moves them to
// history and enforces timeouts and retention. All state is in memory and is
// lost on restart, an accepted limitation of the single-instance design.
type StateManager struct {
	cfg   StateManagerConfig
	audit AuditSink
	log   *logger.Logger

	mu      sync.Mutex
	active  map[string]*WorkflowState
	history []*WorkflowState

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool

	now func() time.Time
}

// NewStateManager creates a state manager. The timeout sweep does not run
// until Start is called.
func NewStateManager(cfg StateManagerConfig, audit AuditSink, log *logger.Logger) *StateManager {
	return &StateManager{
		cfg:    cfg,
		audit:  audit,
		log:    log,
		active: make(map[string]*WorkflowState),
		now:    time.Now,
	}
}

// Start launches the background timeout sweep. Calling Start on a running
// manager is a no-op.
func (m *StateManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop cancels the background sweep and waits for it to finish. Stopping
// never corrupts the active set: an in-flight sweep pass completes first.
func (m *StateManager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

// StartWorkflow allocates a new workflow in INITIATED and registers it in
// the active set.
func (m *StateManager) StartWorkflow(
	ctx context.Context,
	workflowType WorkflowType,
	projectID, userID *int,
	workflowCtx map[string]interface{},
) string {
	now := m.now().UTC()
	workflowID := fmt.Sprintf("wf-%s", uuid.NewString())

	state := &WorkflowState{
		WorkflowID:     workflowID,
		WorkflowType:   workflowType,
		Status:         StatusInitiated,
		ProjectID:      projectID,
		UserID:         userID,
		InitiatedAt:    now,
		TimeoutAt:      now.Add(m.cfg.WorkflowTimeout),
		StepsCompleted: []string{},
		DecisionsMade:  []WorkflowRecord{},
		ActionsTaken:   []WorkflowRecord{},
		RollbackPoints: []RollbackPoint{},
	}

	m.mu.Lock()
	m.active[workflowID] = state
	m.mu.Unlock()

	m.logWorkflowEvent(ctx, state, "workflow_started", workflowCtx)
	m.log.Info(workflowID, "", "started workflow", map[string]interface{}{
		"workflow_type": string(workflowType),
	})

	return workflowID
}

// UpdateWorkflowState applies one state update to an active workflow. It
// returns false, changing nothing, when the workflow is unknown or already
// in a terminal status. started_at and completed_at are each set at most
// once. A step supplied while transitioning into RUNNING snapshots a
// rollback point.
func (m *StateManager) UpdateWorkflowState(ctx context.Context, workflowID string, status WorkflowStatus, upd StateUpdate) bool {
	m.mu.Lock()
	state, ok := m.active[workflowID]
	if !ok || state.Status.Terminal() {
		m.mu.Unlock()
		if !ok {
			m.log.Warn(workflowID, "", "workflow not found", nil)
		}
		return false
	}
	// The only transition out of INITIATED is into RUNNING.
	if state.Status == StatusInitiated && status != StatusRunning {
		m.mu.Unlock()
		m.log.Warn(workflowID, "", "illegal transition from initiated", map[string]interface{}{
			"status": string(status),
		})
		return false
	}

	now := m.now().UTC()
	state.Status = status

	if status == StatusRunning && state.StartedAt == nil {
		started := now
		state.StartedAt = &started
	}
	if status.Terminal() && state.CompletedAt == nil {
		completed := now
		state.CompletedAt = &completed
	}

	if upd.StepName != "" {
		state.StepsCompleted = append(state.StepsCompleted, upd.StepName)
	}
	if upd.Decision != nil {
		state.DecisionsMade = append(state.DecisionsMade, WorkflowRecord{Timestamp: now, Data: upd.Decision})
	}
	if upd.Action != nil {
		state.ActionsTaken = append(state.ActionsTaken, WorkflowRecord{Timestamp: now, Data: upd.Action})
	}
	if upd.ErrorMessage != "" {
		state.ErrorMessage = upd.ErrorMessage
	}
	if upd.ResultData != nil {
		state.ResultData = upd.ResultData
	}

	if upd.StepName != "" && status == StatusRunning {
		m.createRollbackPoint(state, upd.StepName, now)
	}

	snapshot := cloneWorkflowState(state)
	m.mu.Unlock()

	m.logWorkflowEvent(ctx, &snapshot, "state_updated", map[string]interface{}{
		"status": string(status),
		"step":   upd.StepName,
		"error":  upd.ErrorMessage,
	})

	return true
}

// createRollbackPoint snapshots progress after a completed step. At most
// MaxRollbackPoints are retained, oldest evicted first. Caller holds the lock.
func (m *StateManager) createRollbackPoint(state *WorkflowState, stepName string, now time.Time) {
	point := RollbackPoint{
		StepName:       stepName,
		Timestamp:      now,
		StepsCompleted: append([]string(nil), state.StepsCompleted...),
		ActionsTaken:   append([]WorkflowRecord(nil), state.ActionsTaken...),
		DecisionsMade:  append([]WorkflowRecord(nil), state.DecisionsMade...),
	}

	state.RollbackPoints = append(state.RollbackPoints, point)

	maxPoints := m.cfg.MaxRollbackPoints
	if maxPoints <= 0 {
		maxPoints = 10
	}
	if len(state.RollbackPoints) > maxPoints {
		state.RollbackPoints = state.RollbackPoints[len(state.RollbackPoints)-maxPoints:]
	}
}

// GetWorkflowState returns a copy of an active workflow's state. Historical
// workflows are reached through GetWorkflowHistory.
func (m *StateManager) GetWorkflowState(workflowID string) (*WorkflowState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.active[workflowID]
	if !ok {
		return nil, false
	}
	snapshot := cloneWorkflowState(state)
	return &snapshot, true
}

// GetWorkflowHistory returns terminal workflows, optionally filtered by
// project.
func (m *StateManager) GetWorkflowHistory(projectID *int) []WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WorkflowState, 0, len(m.history))
	for _, state := range m.history {
		if projectID != nil && (state.ProjectID == nil || *state.ProjectID != *projectID) {
			continue
		}
		out = append(out, cloneWorkflowState(state))
	}
	return out
}

// RollbackWorkflow reverts an active workflow to a named rollback point, or
// to the most recent one when no step is named. The in-memory step, action,
// and decision lists are restored from the snapshot; persisted side effects
// are not reverted, only recorded in the audit trail. On success the
// workflow transitions to ROLLED_BACK. Workflows already in a terminal
// status are refused.
func (m *StateManager) RollbackWorkflow(ctx context.Context, workflowID, rollbackToStep string) RollbackResult {
	m.mu.Lock()
	state, ok := m.active[workflowID]
	if !ok {
		m.mu.Unlock()
		return RollbackResult{Success: false, Error: fmt.Sprintf("Workflow %s not found", workflowID)}
	}
	if state.Status.Terminal() {
		m.mu.Unlock()
		return RollbackResult{Success: false, Error: fmt.Sprintf("Workflow %s is already %s", workflowID, state.Status)}
	}

	var point *RollbackPoint
	if rollbackToStep != "" {
		for i := range state.RollbackPoints {
			if state.RollbackPoints[i].StepName == rollbackToStep {
				point = &state.RollbackPoints[i]
				break
			}
		}
	} else if len(state.RollbackPoints) > 0 {
		point = &state.RollbackPoints[len(state.RollbackPoints)-1]
	}

	if point == nil {
		m.mu.Unlock()
		return RollbackResult{Success: false, Error: "No rollback point found"}
	}

	restored := make([]string, 0, len(state.StepsCompleted))
	for _, step := range state.StepsCompleted {
		if step != point.StepName {
			restored = append(restored, step)
		}
	}
	state.StepsCompleted = restored
	state.ActionsTaken = append([]WorkflowRecord(nil), point.ActionsTaken...)
	state.DecisionsMade = append([]WorkflowRecord(nil), point.DecisionsMade...)

	result := RollbackResult{
		Success:       true,
		RollbackPoint: point.StepName,
		Timestamp:     point.Timestamp,
	}
	snapshot := cloneWorkflowState(state)
	m.mu.Unlock()

	// Persisted side effects are not reverted here; the audit entry records
	// what was rolled back for downstream reconciliation.
	actor := "autonomous_system"
	if snapshot.UserID != nil {
		actor = fmt.Sprintf("user:%d", *snapshot.UserID)
	}
	entry := AuditEntry{
		Actor:        actor,
		Action:       "workflow_rollback",
		ResourceType: "autonomous_workflow",
		ResourceID:   workflowID,
		Details: map[string]interface{}{
			"rollback_point":  result.RollbackPoint,
			"steps_completed": snapshot.StepsCompleted,
		},
		Timestamp: m.now().UTC(),
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		m.log.Warn(workflowID, "", "failed to audit rollback", map[string]interface{}{"error": err.Error()})
	}

	m.UpdateWorkflowState(ctx, workflowID, StatusRolledBack, StateUpdate{
		ErrorMessage: fmt.Sprintf("Rolled back to step: %s", result.RollbackPoint),
	})

	return result
}

// GetWorkflowStatistics aggregates counts over the active set and history.
func (m *StateManager) GetWorkflowStatistics() WorkflowStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := WorkflowStatistics{
		TotalWorkflows:     len(m.active) + len(m.history),
		ActiveWorkflows:    len(m.active),
		CompletedWorkflows: len(m.history),
		StatusDistribution: make(map[string]int),
		TypeDistribution:   make(map[string]int),
	}

	tally := func(state *WorkflowState) {
		stats.StatusDistribution[string(state.Status)]++
		stats.TypeDistribution[string(state.WorkflowType)]++
	}
	for _, state := range m.active {
		tally(state)
	}

	var totalSeconds float64
	var completed int
	for _, state := range m.history {
		tally(state)
		if state.StartedAt != nil && state.CompletedAt != nil {
			totalSeconds += state.CompletedAt.Sub(*state.StartedAt).Seconds()
			completed++
		}
	}
	if completed > 0 {
		stats.AverageCompletionMinutes = totalSeconds / float64(completed) / 60
	}

	return stats
}

func (m *StateManager) sweepLoop() {
	defer m.wg.Done()

	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepOnce(context.Background())
		case <-m.stop:
			return
		}
	}
}

// sweepOnce is one pass of the background monitor: force-transition
// timed-out RUNNING workflows, move terminal workflows to history, and
// prune history past the retention window. The sweep is the sole authority
// for timeouts.
func (m *StateManager) sweepOnce(ctx context.Context) {
	now := m.now().UTC()

	m.mu.Lock()
	var timedOut []string
	for workflowID, state := range m.active {
		if state.Status != StatusRunning {
			continue
		}
		if now.After(state.TimeoutAt) {
			timedOut = append(timedOut, workflowID)
			continue
		}
		if state.StartedAt != nil && now.Sub(*state.StartedAt) > m.cfg.WorkflowTimeout {
			timedOut = append(timedOut, workflowID)
		}
	}
	m.mu.Unlock()

	for _, workflowID := range timedOut {
		m.UpdateWorkflowState(ctx, workflowID, StatusTimeout, StateUpdate{
			ErrorMessage: "Workflow timed out",
		})
		m.log.Warn(workflowID, "", "workflow timed out", nil)
	}

	m.mu.Lock()
	for workflowID, state := range m.active {
		if state.Status.Terminal() {
			delete(m.active, workflowID)
			m.history = append(m.history, state)
		}
	}

	cutoff := now.AddDate(0, 0, -m.cfg.StateRetentionDays)
	retained := m.history[:0]
	for _, state := range m.history {
		if state.InitiatedAt.After(cutoff) {
			retained = append(retained, state)
		}
	}
	m.history = retained
	m.mu.Unlock()
}

func (m *StateManager) logWorkflowEvent(ctx context.Context, state *WorkflowState, eventType string, eventData map[string]interface{}) {
	actor := "autonomous_system"
	if state.UserID != nil {
		actor = fmt.Sprintf("user:%d", *state.UserID)
	}

	details := map[string]interface{}{
		"workflow_type": string(state.WorkflowType),
		"status":        string(state.Status),
		"event_type":    eventType,
	}
	if state.ProjectID != nil {
		details["project_id"] = *state.ProjectID
	}
	if eventData != nil {
		details["event_data"] = eventData
	}

	entry := AuditEntry{
		Actor:        actor,
		Action:       fmt.Sprintf("autonomous_workflow_%s", eventType),
		ResourceType: "autonomous_workflow",
		ResourceID:   state.WorkflowID,
		Details:      details,
		Timestamp:    m.now().UTC(),
	}

	if err := m.audit.Append(ctx, entry); err != nil {
		m.log.Warn(state.WorkflowID, "", "failed to audit workflow event", map[string]interface{}{
			"error": err.Error(), "event_type": eventType,
		})
	}
}

// cloneWorkflowState deep-copies the step, record, and rollback-point
// structures so callers never share backing storage with the manager.
func cloneWorkflowState(state *WorkflowState) WorkflowState {
	out := *state
	out.StepsCompleted = append([]string(nil), state.StepsCompleted...)
	out.DecisionsMade = cloneWorkflowRecords(state.DecisionsMade)
	out.ActionsTaken = cloneWorkflowRecords(state.ActionsTaken)
	if state.RollbackPoints != nil {
		out.RollbackPoints = make([]RollbackPoint, len(state.RollbackPoints))
		for i, point := range state.RollbackPoints {
			out.RollbackPoints[i] = point
			out.RollbackPoints[i].StepsCompleted = append([]string(nil), point.StepsCompleted...)
			out.RollbackPoints[i].ActionsTaken = cloneWorkflowRecords(point.ActionsTaken)
			out.RollbackPoints[i].DecisionsMade = cloneWorkflowRecords(point.DecisionsMade)
		}
	}
	return out
}

func cloneWorkflowRecords(records []WorkflowRecord) []WorkflowRecord {
	if records == nil {
		return nil
	}
	out := make([]WorkflowRecord, len(records))
	for i, record := range records {
		out[i] = record
		if record.Data != nil {
			data := make(map[string]interface{}, len(record.Data))
			for k, v := range record.Data {
				data[k] = v
			}
			out[i].Data = data
		}
	}
	return out
}

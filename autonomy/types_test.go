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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionType(t *testing.T) {
	for _, valid := range []string{
		"task_creation", "resource_allocation", "budget_modification",
		"risk_mitigation", "stakeholder_communication", "project_status_change",
		"plan_modification", "automated_decision",
	} {
		at, err := ParseActionType(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, valid, string(at))
	}

	_, err := ParseActionType("TASK_CREATION")
	assert.Error(t, err)

	_, err = ParseActionType("")
	assert.Error(t, err)
}

func TestParseApprovalLevel(t *testing.T) {
	level, err := ParseApprovalLevel("critical")
	require.NoError(t, err)
	assert.Equal(t, ApprovalCritical, level)

	_, err = ParseApprovalLevel("galactic")
	assert.Error(t, err)
}

func TestApprovalLevelOrdering(t *testing.T) {
	assert.Less(t, ApprovalLow.Rank(), ApprovalMedium.Rank())
	assert.Less(t, ApprovalMedium.Rank(), ApprovalHigh.Rank())
	assert.Less(t, ApprovalHigh.Rank(), ApprovalCritical.Rank())
}

func TestApprovalLevelRaiseTo(t *testing.T) {
	assert.Equal(t, ApprovalHigh, ApprovalLow.raiseTo(ApprovalHigh))
	assert.Equal(t, ApprovalCritical, ApprovalCritical.raiseTo(ApprovalMedium))
	assert.Equal(t, ApprovalMedium, ApprovalMedium.raiseTo(ApprovalMedium))
}

func TestParseWorkflowStatus(t *testing.T) {
	status, err := ParseWorkflowStatus("rolled_back")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, status)

	_, err = ParseWorkflowStatus("paused")
	assert.Error(t, err)
}

func TestWorkflowStatusTerminal(t *testing.T) {
	assert.False(t, StatusInitiated.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
	assert.True(t, StatusTimeout.Terminal())
}

func TestParseWorkflowType(t *testing.T) {
	wt, err := ParseWorkflowType("resource_optimization")
	require.NoError(t, err)
	assert.Equal(t, WorkflowResourceOptimization, wt)

	_, err = ParseWorkflowType("time_travel")
	assert.Error(t, err)
}

func TestParseDecisionType(t *testing.T) {
	dt, err := ParseDecisionType("strategic_planning")
	require.NoError(t, err)
	assert.Equal(t, DecisionStrategicPlanning, dt)

	_, err = ParseDecisionType("coin_flip")
	assert.Error(t, err)
}

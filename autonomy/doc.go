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

/*
Package autonomy provides the NexusPM autonomy service - the guardrail,
workflow, and decision subsystem for autonomous project management.

# Overview

The autonomy service sits between the model-facing layers of NexusPM and
anything that mutates project state. It handles:

  - Guardrail validation of proposed autonomous actions
  - Multi-step workflow tracking with rollback points and timeouts
  - Structured decision making through locally hosted language models
  - Complexity-based routing between fast and strategic models
  - Append-only audit logging of every validation and transition

# Guardrails

Guardrails.ValidateAction runs a proposed action through ordered security
checks (user authorization, project access, PII exposure, budget limits)
and business-rule checks (business hours, resource availability, project
constraints, dependency conflicts), then applies the approval escalation
policy. Any infrastructure failure fails closed: the action requires
CRITICAL approval.

	decision := guardrails.ValidateAction(ctx, autonomy.ActionBudgetModification,
	    map[string]interface{}{"amount": 5000.0, "project_id": 42},
	    0.95, autonomy.ActionContext{UserID: &userID})

# Workflow State Manager

StateManager owns the lifecycle of autonomous workflows:

	INITIATED → RUNNING → {COMPLETED, FAILED, ROLLED_BACK, TIMEOUT}

Completed steps taken while RUNNING create rollback points (at most ten,
oldest evicted). RollbackWorkflow restores the in-memory progress from a
snapshot; persisted side effects are recorded in the audit trail rather
than reverted. A background sweep times out stuck workflows and moves
terminal ones to a retention-pruned history.

# Decision Engine

DecisionEngine.MakeDecision gathers project, resource, risk, and budget
snapshots, prompts the model selected for the decision type, parses the
structured response (with a conservative fallback when the model returns
no usable JSON), and validates the result through the guardrails before
it is eligible for execution.

# Model Router

Router scores query complexity from keyword weights and length, then
routes to the fast model or the strategic model. Simple task phrasings
force the fast model regardless of score. Infer performs one blocking
round trip and reports transport failures in the result instead of
returning an error.

# Usage

	// Start the autonomy service
	autonomy.Run()

	// The service reads configuration from environment variables:
	// PORT            - HTTP server port (default: 8084)
	// CONFIG_PATH     - YAML configuration file (optional)
	// DATABASE_URL    - PostgreSQL connection string (optional)
	// REDIS_URL       - Redis connection string (optional)
	// OLLAMA_ENDPOINT - inference backend URL (optional)

# Thread Safety

All exported types in this package are safe for concurrent use. The state
manager and decision engine guard their in-memory state with mutexes; the
guardrails and router are stateless apart from their configuration.

# Metrics

The service exposes Prometheus metrics at /metrics:

  - nexuspm_autonomy_requests_total - HTTP requests by route and status
  - nexuspm_autonomy_request_duration_milliseconds - Request latency
  - nexuspm_autonomy_validations_total - Guardrail validations by outcome
  - nexuspm_autonomy_workflow_transitions_total - Workflow transitions
  - nexuspm_autonomy_decisions_total - Decisions by type and status
  - nexuspm_autonomy_inference_duration_milliseconds - Inference latency
*/
package autonomy

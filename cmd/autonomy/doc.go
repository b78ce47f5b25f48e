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
Command autonomy runs the NexusPM autonomy service.

The service validates autonomous actions against guardrails, tracks
multi-step workflows with rollback support, and makes structured decisions
through locally hosted language models.

# Usage

	autonomy

# Environment Variables

Optional:
  - PORT: HTTP server port (default: 8084)
  - CONFIG_PATH: YAML configuration file
  - DATABASE_URL: PostgreSQL connection string; in-memory storage without it
  - REDIS_URL: Redis connection string for distributed rate limiting
  - OLLAMA_ENDPOINT: inference backend URL (default: http://localhost:11434)

# API Endpoints

	POST  /api/v1/actions/validate         - Validate an autonomous action
	GET   /api/v1/actions/{id}/approval    - Approval workflow for an action
	POST  /api/v1/workflows                - Start a workflow
	GET   /api/v1/workflows                - Workflow history
	GET   /api/v1/workflows/stats          - Workflow statistics
	GET   /api/v1/workflows/{id}           - Workflow state
	PATCH /api/v1/workflows/{id}           - Update workflow state
	POST  /api/v1/workflows/{id}/rollback  - Roll back a workflow
	POST  /api/v1/decisions                - Make a decision
	GET   /api/v1/decisions                - Decision history
	GET   /api/v1/decisions/analytics      - Decision analytics
	POST  /api/v1/decisions/{id}/execute   - Execute a decision
	GET   /health                          - Health check
	GET   /metrics                         - Prometheus metrics
*/
package main

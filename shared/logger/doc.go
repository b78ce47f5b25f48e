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
Package logger provides structured JSON logging with workflow correlation
for NexusPM components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (autonomy, guardrails, etc.)
  - Instance ID and container name (for distributed tracing)
  - Workflow ID (for correlating entries across one autonomous workflow)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("autonomy")

Log messages with workflow and request context:

	log.Info("wf-123", "req-456", "Starting workflow", map[string]interface{}{
	    "workflow_type": "risk_assessment",
	    "project_id":    42,
	})

Log errors with status codes:

	log.ErrorWithCode("wf-123", "req-456", "Validation failed", 500, err, map[string]interface{}{
	    "action_type": "budget_modification",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("wf-123", "req-456", "Workflow completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"autonomy","instance_id":"i-abc123","container":"autonomy-xyz",
	 "workflow_id":"wf-123","request_id":"req-456",
	 "message":"Starting workflow","fields":{"workflow_type":"risk_assessment"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

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

// Package main is the entry point for the NexusPM autonomy service.
//
// The autonomy service is the decision subsystem of NexusPM:
// - Validates proposed autonomous actions against security and business guardrails
// - Tracks multi-step autonomous workflows with rollback points and timeouts
// - Makes structured decisions through locally hosted language models
// - Routes queries between fast and strategic models by complexity
//
// Usage:
//
//	./autonomy
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	CONFIG_PATH - YAML configuration file (optional)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_URL - Redis connection string for rate limiting (optional)
//	OLLAMA_ENDPOINT - inference backend URL (default: http://localhost:11434)
package main

import (
	"nexuspm/platform/autonomy"
)

func main() {
	autonomy.Run()
}

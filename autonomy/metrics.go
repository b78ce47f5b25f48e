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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexuspm_autonomy_requests_total",
			Help: "Total number of HTTP requests processed by the autonomy service",
		},
		[]string{"route", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexuspm_autonomy_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"route"},
	)
	promValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexuspm_autonomy_validations_total",
			Help: "Total number of guardrail validations by outcome",
		},
		[]string{"action_type", "outcome"},
	)
	promWorkflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexuspm_autonomy_workflow_transitions_total",
			Help: "Total number of workflow state transitions",
		},
		[]string{"status"},
	)
	promDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexuspm_autonomy_decisions_total",
			Help: "Total number of autonomous decisions by type and status",
		},
		[]string{"decision_type", "status"},
	)
	promInferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexuspm_autonomy_inference_duration_milliseconds",
			Help:    "Model inference duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"model", "status"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promValidationsTotal)
	prometheus.MustRegister(promWorkflowTransitions)
	prometheus.MustRegister(promDecisionsTotal)
	prometheus.MustRegister(promInferenceDuration)
}

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
	"strings"
	"time"

	"nexuspm/platform/shared/logger"
)

// Provider labels for ModelRoute.
const (
	ProviderLocalFast      = "local-fast"
	ProviderLocalStrategic = "local-strategic"
)

// strategicScoreCutoff routes queries at or above this complexity to the
// strategic backend.
const strategicScoreCutoff = 6

// embeddingsScoreCutoff enables retrieval augmentation at or above this
// complexity.
const embeddingsScoreCutoff = 5

// complexityIndicators are keyword weights for the routing heuristic.
var complexityIndicators = []struct {
	keyword string
	weight  int
}{
	{"strategy", 3},
	{"plan", 2},
	{"predict", 2},
	{"analysis", 2},
	{"optimize", 2},
	{"risk", 1},
	{"budget", 1},
	{"stakeholder", 1},
	{"lifecycle", 2},
	{"autonomous", 1},
}

// simpleTriggers force the fast backend for tool-style requests regardless
// of complexity score.
var simpleTriggers = []string{
	"write file", "read file", "generate report", "get weather",
	"tool", "function", "call", "api",
}

// Router selects a model backend per request and issues inference calls.
// Routes are recomputed on every request and never stored.
type Router struct {
	cfg    RouterConfig
	client InferenceClient
	log    *logger.Logger
}

// NewRouter builds a router over the given inference client.
func NewRouter(cfg RouterConfig, client InferenceClient, log *logger.Logger) *Router {
	return &Router{cfg: cfg, client: client, log: log}
}

// ScoreComplexity is a lightweight deterministic heuristic producing a 1-10
// score: a length-based base plus weighted keyword hits, capped at 10.
func (r *Router) ScoreComplexity(query string) int {
	q := strings.ToLower(query)

	base := 2
	if len(q) > 120 {
		base = 3
	}

	score := base
	for _, ind := range complexityIndicators {
		if strings.Contains(q, ind.keyword) {
			score += ind.weight
		}
	}
	if score > 10 {
		score = 10
	}
	return score
}

// Route decides which backend serves the query. An explicit complexity
// (from the caller) bypasses the heuristic.
func (r *Router) Route(query string, explicitComplexity *int) ModelRoute {
	score := 0
	if explicitComplexity != nil {
		score = *explicitComplexity
	} else {
		score = r.ScoreComplexity(query)
	}

	route := ModelRoute{
		ComplexityScore: score,
		SelectedModel:   r.cfg.FastModel,
		Provider:        ProviderLocalFast,
		UseEmbeddings:   score >= embeddingsScoreCutoff,
	}

	if score >= strategicScoreCutoff {
		route.SelectedModel = r.cfg.StrategicModel
		route.Provider = ProviderLocalStrategic
	}

	// Tool-style phrasing wins over the score.
	q := strings.ToLower(query)
	for _, trigger := range simpleTriggers {
		if strings.Contains(q, trigger) {
			route.SelectedModel = r.cfg.FastModel
			route.Provider = ProviderLocalFast
			break
		}
	}

	return route
}

// Infer performs one blocking round trip to the routed backend. Transport
// failures are reported in the result, never returned as errors; the caller
// decides whether to fall back. No retries.
func (r *Router) Infer(ctx context.Context, query, contextText, modelOverride string) InferResult {
	model := modelOverride
	if model == "" {
		model = r.Route(query, nil).SelectedModel
	}

	start := time.Now()
	resp, err := r.client.Complete(ctx, CompletionRequest{
		Prompt:       query,
		SystemPrompt: contextText,
		Model:        model,
		MaxTokens:    r.cfg.MaxTokens,
		Temperature:  0.7,
	})
	if err != nil {
		promInferenceDuration.WithLabelValues(model, "error").Observe(float64(time.Since(start).Milliseconds()))
		r.log.Warn("", "", "inference call failed", map[string]interface{}{
			"model": model, "error": err.Error(),
		})
		return InferResult{Success: false, Model: model, RawError: err.Error()}
	}
	promInferenceDuration.WithLabelValues(model, "success").Observe(float64(time.Since(start).Milliseconds()))

	return InferResult{
		Success:    true,
		Text:       resp.Content,
		Model:      resp.Model,
		LatencyMs:  resp.Latency.Milliseconds(),
		TokensUsed: resp.TokensUsed,
	}
}

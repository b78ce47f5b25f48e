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
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GuardrailConfig holds the policy knobs for the guardrail validator.
type GuardrailConfig struct {
	// BudgetThreshold is the amount above which budget-affecting actions
	// always require approval.
	BudgetThreshold float64 `yaml:"budget_threshold"`

	// Per-action-type confidence thresholds that override the defaults.
	ResourceAllocationThreshold       float64 `yaml:"resource_allocation_threshold"`
	RiskMitigationThreshold           float64 `yaml:"risk_mitigation_threshold"`
	StakeholderCommunicationThreshold float64 `yaml:"stakeholder_communication_threshold"`

	// Business hours window for time-gated action types.
	BusinessHoursStart int `yaml:"business_hours_start"`
	BusinessHoursEnd   int `yaml:"business_hours_end"`
}

// DefaultGuardrailConfig returns the standard policy configuration.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		BudgetThreshold:                   1000.0,
		ResourceAllocationThreshold:       0.8,
		RiskMitigationThreshold:           0.85,
		StakeholderCommunicationThreshold: 0.9,
		BusinessHoursStart:                9,
		BusinessHoursEnd:                  17,
	}
}

// StateManagerConfig holds timeout, retention, and sweep settings for the
// workflow state manager.
type StateManagerConfig struct {
	WorkflowTimeout    time.Duration `yaml:"workflow_timeout"`
	StepTimeout        time.Duration `yaml:"step_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	StateRetentionDays int           `yaml:"state_retention_days"`
	MaxRollbackPoints  int           `yaml:"max_rollback_points"`
}

// DefaultStateManagerConfig returns the standard state manager configuration.
func DefaultStateManagerConfig() StateManagerConfig {
	return StateManagerConfig{
		WorkflowTimeout:    30 * time.Minute,
		StepTimeout:        5 * time.Minute,
		SweepInterval:      30 * time.Second,
		StateRetentionDays: 30,
		MaxRollbackPoints:  10,
	}
}

// RouterConfig holds model names and the inference backend endpoint for the
// model router.
type RouterConfig struct {
	FastModel      string `yaml:"fast_model"`
	StrategicModel string `yaml:"strategic_model"`
	Endpoint       string `yaml:"endpoint"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// DefaultRouterConfig returns the standard routing configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		FastModel:      "xlam-fc",
		StrategicModel: "gpt-oss:20b",
		Endpoint:       "http://localhost:11434",
		MaxTokens:      1024,
	}
}

// Config is the top-level service configuration.
type Config struct {
	Port        int                `yaml:"port"`
	DatabaseURL string             `yaml:"database_url"`
	RedisURL    string             `yaml:"redis_url"`
	RateLimit   int                `yaml:"rate_limit_per_minute"`
	Guardrails  GuardrailConfig    `yaml:"guardrails"`
	State       StateManagerConfig `yaml:"state"`
	Router      RouterConfig       `yaml:"router"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Port:       8084,
		RateLimit:  120,
		Guardrails: DefaultGuardrailConfig(),
		State:      DefaultStateManagerConfig(),
		Router:     DefaultRouterConfig(),
	}
}

// LoadConfig builds the service configuration. It starts from defaults,
// overlays the YAML file at path (if non-empty), then applies environment
// variable overrides. Environment always wins so container deployments can
// reconfigure without editing files.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Guardrails.BusinessHoursStart >= cfg.Guardrails.BusinessHoursEnd {
		return cfg, fmt.Errorf("invalid business hours window: %d-%d",
			cfg.Guardrails.BusinessHoursStart, cfg.Guardrails.BusinessHoursEnd)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.Router.Endpoint = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("WORKFLOW_TIMEOUT_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			cfg.State.WorkflowTimeout = time.Duration(mins) * time.Minute
		}
	}
}

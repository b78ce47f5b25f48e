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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"nexuspm/platform/shared/logger"
)

// Run is the exported entry point for the autonomy service.
//
// It loads configuration, wires the guardrails, state manager, decision
// engine, and model router to their collaborators, and serves the HTTP API
// until SIGINT or SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8084)
//   - CONFIG_PATH: optional YAML configuration file
//   - DATABASE_URL: PostgreSQL connection string (optional; in-memory store without it)
//   - REDIS_URL: Redis connection string for distributed rate limiting (optional)
//   - OLLAMA_ENDPOINT: inference backend URL (default: http://localhost:11434)
func Run() {
	log := logger.New("autonomy")

	cfg, err := LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("", "", "invalid configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	log.Info("", "", "starting autonomy service", map[string]interface{}{"port": cfg.Port})

	// Persistence: Postgres when configured, in-memory otherwise. The
	// in-memory pair keeps local development and CI free of external
	// dependencies.
	var store SnapshotStore
	var audit AuditSink
	if cfg.DatabaseURL != "" {
		pgStore, err := NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Error("", "", "failed to connect snapshot store", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer func() { _ = pgStore.Close() }()
		store = pgStore

		pgAudit := NewPostgresAuditSink(cfg.DatabaseURL, log)
		defer func() { _ = pgAudit.Close() }()
		audit = pgAudit
	} else {
		log.Warn("", "", "DATABASE_URL not set, using in-memory store and audit sink", nil)
		store = NewMemoryStore()
		audit = NewMemoryAuditSink()
	}

	limiter := NewRateLimiter(cfg.RedisURL, cfg.RateLimit, log)
	defer func() { _ = limiter.Close() }()

	client := NewOllamaClient(cfg.Router.Endpoint)
	router := NewRouter(cfg.Router, client, log)
	guardrails := NewGuardrails(cfg.Guardrails, store, audit, log)
	state := NewStateManager(cfg.State, audit, log)
	engine := NewDecisionEngine(router, guardrails, store, log)

	state.Start()
	defer state.Stop()

	server := NewServer(cfg, guardrails, state, engine, limiter, audit, log)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      c.Handler(server.Routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "autonomy service listening", map[string]interface{}{"addr": httpServer.Addr})
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("", "", "shutting down", map[string]interface{}{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("", "", "shutdown error", map[string]interface{}{"error": err.Error()})
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("", "", "server error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}
}

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
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"nexuspm/platform/shared/logger"
)

// AuditEntry is one append-only audit record. Every guardrail validation,
// workflow transition, and decision is written through the sink.
type AuditEntry struct {
	ID           string                 `json:"id"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details"`
	Timestamp    time.Time              `json:"timestamp"`
}

// AuditSink is the append-only audit trail consumed by all core components.
// Appends are best-effort: a sink failure must never invalidate the caller's
// result, so callers log and continue on error.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// PostgresAuditSink writes audit entries to PostgreSQL through a buffered
// queue and batch writer so the request path never blocks on the database.
type PostgresAuditSink struct {
	db        *sql.DB
	queue     chan AuditEntry
	log       *logger.Logger
	batchSize int

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// NewPostgresAuditSink opens the audit database, ensures the audit table
// exists, and starts the background batch writer. If the database is
// unreachable the sink degrades to a drop-with-warning mode rather than
// failing service startup.
func NewPostgresAuditSink(databaseURL string, log *logger.Logger) *PostgresAuditSink {
	sink := &PostgresAuditSink{
		queue:     make(chan AuditEntry, 10000),
		log:       log,
		batchSize: 100,
		shutdown:  make(chan struct{}),
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Error("", "", "audit database unavailable, entries will be dropped", map[string]interface{}{"error": err.Error()})
		return sink
	}

	if err := createAuditTable(db); err != nil {
		log.Error("", "", "failed to create audit table", map[string]interface{}{"error": err.Error()})
	}

	sink.db = db
	sink.wg.Add(1)
	go sink.drainQueue()

	return sink
}

// Append enqueues an entry for batch insertion. It never blocks the caller:
// when the queue is full the entry is written synchronously instead.
func (s *PostgresAuditSink) Append(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if s.db == nil {
		return fmt.Errorf("audit database not connected")
	}

	select {
	case s.queue <- entry:
		return nil
	default:
		return s.writeBatch([]AuditEntry{entry})
	}
}

// Close flushes pending entries and stops the batch writer.
func (s *PostgresAuditSink) Close() error {
	s.once.Do(func() { close(s.shutdown) })
	s.wg.Wait()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// IsHealthy reports whether the sink can reach its database. A sink without
// a database is considered healthy because it degrades gracefully.
func (s *PostgresAuditSink) IsHealthy() bool {
	if s.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

func (s *PostgresAuditSink) drainQueue() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]AuditEntry, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(batch); err != nil {
			s.log.Error("", "", "failed to write audit batch", map[string]interface{}{
				"error": err.Error(), "entries": len(batch),
			})
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.shutdown:
			for {
				select {
				case entry := <-s.queue:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *PostgresAuditSink) writeBatch(entries []AuditEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO autonomy_audit_log (
			id, actor, action, resource_type, resource_id, details, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		detailsJSON, _ := json.Marshal(entry.Details)
		if _, err := stmt.Exec(
			entry.ID,
			entry.Actor,
			entry.Action,
			entry.ResourceType,
			entry.ResourceID,
			detailsJSON,
			entry.Timestamp,
		); err != nil {
			s.log.Error("", "", "failed to insert audit entry", map[string]interface{}{
				"error": err.Error(), "entry_id": entry.ID,
			})
		}
	}

	return tx.Commit()
}

func createAuditTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS autonomy_audit_log (
		id VARCHAR(64) PRIMARY KEY,
		actor VARCHAR(255) NOT NULL,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id VARCHAR(255) NOT NULL,
		details JSONB,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_autonomy_audit_timestamp ON autonomy_audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_autonomy_audit_resource ON autonomy_audit_log(resource_type, resource_id);
	`

	_, err := db.Exec(query)
	return err
}

// MemoryAuditSink keeps entries in memory. It backs tests and deployments
// without a database.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditSink creates an empty in-memory sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Append stores the entry.
func (s *MemoryAuditSink) Append(_ context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of all recorded entries.
func (s *MemoryAuditSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

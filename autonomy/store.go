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
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned by snapshot lookups when the entity does not exist.
var ErrNotFound = errors.New("not found")

// ProjectSnapshot is a read-only view of a project.
type ProjectSnapshot struct {
	ID                   int     `json:"id"`
	Name                 string  `json:"name"`
	Status               string  `json:"status"`
	Priority             string  `json:"priority"`
	Budget               float64 `json:"budget"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// UserSnapshot is a read-only view of a user or resource.
type UserSnapshot struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// RiskSnapshot is a read-only view of an open project risk.
type RiskSnapshot struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Impact      string  `json:"impact"`
	Status      string  `json:"status"`
	Mitigation  string  `json:"mitigation_plan"`
}

// BudgetSnapshot is a read-only view of a project budget.
type BudgetSnapshot struct {
	ProjectID       int     `json:"project_id"`
	AllocatedAmount float64 `json:"allocated_amount"`
	SpentAmount     float64 `json:"spent_amount"`
}

// TaskSnapshot is a read-only view of a task, used for dependency checks.
type TaskSnapshot struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ProjectID int    `json:"project_id"`
}

// SnapshotStore is the persistence collaborator consumed by the core. Each
// method returns the snapshot or ErrNotFound; the core never writes through
// this interface.
type SnapshotStore interface {
	Project(ctx context.Context, id int) (*ProjectSnapshot, error)
	User(ctx context.Context, id int) (*UserSnapshot, error)
	Risks(ctx context.Context, projectID int) ([]RiskSnapshot, error)
	Budget(ctx context.Context, projectID int) (*BudgetSnapshot, error)
	Resources(ctx context.Context) ([]UserSnapshot, error)
	Task(ctx context.Context, id int) (*TaskSnapshot, error)
}

// PostgresStore reads snapshots from the project-management database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given database URL.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping snapshot database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection, used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Project(ctx context.Context, id int) (*ProjectSnapshot, error) {
	var p ProjectSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, priority, budget, completion_percentage
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Status, &p.Priority, &p.Budget, &p.CompletionPercentage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read project %d: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) User(ctx context.Context, id int) (*UserSnapshot, error) {
	var u UserSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, is_active FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user %d: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) Risks(ctx context.Context, projectID int) ([]RiskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, probability, impact, status, mitigation_plan
		FROM risks WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("read risks for project %d: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var risks []RiskSnapshot
	for rows.Next() {
		var r RiskSnapshot
		if err := rows.Scan(&r.ID, &r.Name, &r.Probability, &r.Impact, &r.Status, &r.Mitigation); err != nil {
			return nil, err
		}
		risks = append(risks, r)
	}
	return risks, rows.Err()
}

func (s *PostgresStore) Budget(ctx context.Context, projectID int) (*BudgetSnapshot, error) {
	var b BudgetSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, allocated_amount, spent_amount
		FROM budgets WHERE project_id = $1
	`, projectID).Scan(&b.ProjectID, &b.AllocatedAmount, &b.SpentAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read budget for project %d: %w", projectID, err)
	}
	return &b, nil
}

func (s *PostgresStore) Resources(ctx context.Context) ([]UserSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, is_active FROM users WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []UserSnapshot
	for rows.Next() {
		var u UserSnapshot
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.IsActive); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) Task(ctx context.Context, id int) (*TaskSnapshot, error) {
	var t TaskSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, project_id FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Status, &t.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task %d: %w", id, err)
	}
	return &t, nil
}

// MemoryStore is a thread-safe in-memory SnapshotStore. It is the default
// when no database is configured, and the workhorse for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[int]ProjectSnapshot
	users    map[int]UserSnapshot
	risks    map[int][]RiskSnapshot
	budgets  map[int]BudgetSnapshot
	tasks    map[int]TaskSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[int]ProjectSnapshot),
		users:    make(map[int]UserSnapshot),
		risks:    make(map[int][]RiskSnapshot),
		budgets:  make(map[int]BudgetSnapshot),
		tasks:    make(map[int]TaskSnapshot),
	}
}

// PutProject adds or replaces a project snapshot.
func (s *MemoryStore) PutProject(p ProjectSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// PutUser adds or replaces a user snapshot.
func (s *MemoryStore) PutUser(u UserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutRisks replaces the risk list for a project.
func (s *MemoryStore) PutRisks(projectID int, risks []RiskSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risks[projectID] = risks
}

// PutBudget adds or replaces a budget snapshot.
func (s *MemoryStore) PutBudget(b BudgetSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[b.ProjectID] = b
}

// PutTask adds or replaces a task snapshot.
func (s *MemoryStore) PutTask(t TaskSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

func (s *MemoryStore) Project(_ context.Context, id int) (*ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projects[id]; ok {
		copied := p
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) User(_ context.Context, id int) (*UserSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		copied := u
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Risks(_ context.Context, projectID int) ([]RiskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	risks := make([]RiskSnapshot, len(s.risks[projectID]))
	copy(risks, s.risks[projectID])
	return risks, nil
}

func (s *MemoryStore) Budget(_ context.Context, projectID int) (*BudgetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.budgets[projectID]; ok {
		copied := b
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Resources(_ context.Context) ([]UserSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []UserSnapshot
	for _, u := range s.users {
		if u.IsActive {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *MemoryStore) Task(_ context.Context, id int) (*TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[id]; ok {
		copied := t
		return &copied, nil
	}
	return nil, ErrNotFound
}

package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Store looks up workspace memberships
type Store interface {
	// GetMembership returns ErrMembershipNotFound when userID has no role in
	// workspaceID.
	GetMembership(ctx context.Context, userID, workspaceID string) (*Membership, error)
}

// SQLStore reads memberships from the memberships table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed membership store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// GetMembership retrieves the membership for (userID, workspaceID)
func (s *SQLStore) GetMembership(ctx context.Context, userID, workspaceID string) (*Membership, error) {
	query := `
		SELECT id, user_id, workspace_id, role, created_at
		FROM memberships
		WHERE user_id = $1 AND workspace_id = $2
	`

	var m Membership
	var role string
	err := s.db.QueryRowContext(ctx, query, userID, workspaceID).Scan(
		&m.ID,
		&m.UserID,
		&m.WorkspaceID,
		&role,
		&m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	if m.Role, err = ParseRole(role); err != nil {
		return nil, fmt.Errorf("membership %s: %w", m.ID, err)
	}
	return &m, nil
}

// ListMembers returns every membership of workspaceID, owners first
func (s *SQLStore) ListMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	query := `
		SELECT id, user_id, workspace_id, role, created_at
		FROM memberships
		WHERE workspace_id = $1
		ORDER BY CASE role WHEN 'OWNER' THEN 0 ELSE 1 END, created_at
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if m.Role, err = ParseRole(role); err != nil {
			return nil, fmt.Errorf("membership %s: %w", m.ID, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemoryStore is an in-process membership store for tests and demos
type MemoryStore struct {
	mu          sync.RWMutex
	memberships map[string]Membership
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memberships: make(map[string]Membership)}
}

func memoryKey(userID, workspaceID string) string {
	return userID + "|" + workspaceID
}

// Add inserts or replaces a membership
func (s *MemoryStore) Add(m Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[memoryKey(m.UserID, m.WorkspaceID)] = m
}

func (s *MemoryStore) GetMembership(ctx context.Context, userID, workspaceID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[memoryKey(userID, workspaceID)]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	return &m, nil
}

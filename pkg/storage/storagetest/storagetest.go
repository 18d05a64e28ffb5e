// Package storagetest provides migrated in-memory SQLite databases and row
// fixtures for package tests. Timestamps are always written explicitly in
// UTC so range comparisons behave the same as on Postgres.
package storagetest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/storage"
)

// NewSQLite returns a migrated in-memory database closed at test cleanup.
// The pool is pinned to one connection since every :memory: connection
// would otherwise get its own empty database.
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = storage.RunMigrations(context.Background(), db)
	require.NoError(t, err)

	return db
}

// RequirePostgres returns a migrated connection to TEST_POSTGRES_URL or
// skips the test when it is not set.
func RequirePostgres(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_POSTGRES_URL environment variable not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = storage.RunMigrations(context.Background(), db)
	require.NoError(t, err)
	return db
}

// Fixtures inserts rows with sensible defaults
type Fixtures struct {
	DB  *sql.DB
	Now time.Time
}

// NewFixtures creates fixtures stamped at now
func NewFixtures(db *sql.DB, now time.Time) *Fixtures {
	return &Fixtures{DB: db, Now: now.UTC()}
}

func (f *Fixtures) exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()
	_, err := f.DB.Exec(query, args...)
	require.NoError(t, err)
}

// User inserts a user and returns its ID
func (f *Fixtures) User(t *testing.T, email string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, "INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4)", id, email, email, f.Now)
	return id
}

// Workspace inserts a workspace and returns its ID
func (f *Fixtures) Workspace(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, "INSERT INTO workspaces (id, name, created_at) VALUES ($1, $2, $3)", id, name, f.Now)
	return id
}

// Member adds userID to workspaceID with role
func (f *Fixtures) Member(t *testing.T, userID, workspaceID, role string) {
	t.Helper()
	f.exec(t, "INSERT INTO memberships (id, user_id, workspace_id, role, created_at) VALUES ($1, $2, $3, $4, $5)",
		uuid.NewString(), userID, workspaceID, role, f.Now)
}

// Subscription sets the workspace plan without overrides
func (f *Fixtures) Subscription(t *testing.T, workspaceID, tier, status string) {
	t.Helper()
	f.exec(t, "INSERT INTO subscriptions (workspace_id, tier, status, updated_at) VALUES ($1, $2, $3, $4)",
		workspaceID, tier, status, f.Now)
}

// SKUs inserts n SKUs into workspaceID
func (f *Fixtures) SKUs(t *testing.T, workspaceID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.exec(t, "INSERT INTO skus (id, workspace_id, sku, name, created_at) VALUES ($1, $2, $3, $4, $5)",
			uuid.NewString(), workspaceID, uuid.NewString(), "fixture", f.Now)
	}
}

// Competitors inserts n competitors into workspaceID
func (f *Fixtures) Competitors(t *testing.T, workspaceID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.exec(t, "INSERT INTO competitors (id, workspace_id, name, created_at) VALUES ($1, $2, $3, $4)",
			uuid.NewString(), workspaceID, "fixture", f.Now)
	}
}

// Import records a CSV import at createdAt
func (f *Fixtures) Import(t *testing.T, workspaceID, createdBy string, createdAt time.Time) {
	t.Helper()
	f.exec(t, "INSERT INTO csv_imports (id, workspace_id, filename, row_count, status, created_by, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		uuid.NewString(), workspaceID, "fixture.csv", 0, "completed", createdBy, createdAt.UTC())
}

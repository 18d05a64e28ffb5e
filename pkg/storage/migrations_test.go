package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_AppliesOnce(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	ran, err := RunMigrations(ctx, db)
	require.NoError(t, err)
	assert.Len(t, ran, len(Migrations()))

	ran, err = RunMigrations(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, ran)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(Migrations()), count)
}

func TestMigrations_VersionsIncrease(t *testing.T) {
	prev := 0
	for _, m := range Migrations() {
		assert.Greater(t, m.Version, prev)
		assert.NotEmpty(t, m.Description)
		prev = m.Version
	}
}

func TestMigrations_Constraints(t *testing.T) {
	db := openSQLite(t)
	_, err := RunMigrations(context.Background(), db)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, email, created_at) VALUES ('u1', 'a@example.com', '2026-01-01 00:00:00+00:00')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO workspaces (id, name, created_at) VALUES ('w1', 'Acme', '2026-01-01 00:00:00+00:00')`)
	require.NoError(t, err)

	insertMember := `INSERT INTO memberships (id, user_id, workspace_id, role, created_at) VALUES ($1, 'u1', 'w1', $2, '2026-01-01 00:00:00+00:00')`
	_, err = db.Exec(insertMember, "m1", "OWNER")
	require.NoError(t, err)

	_, err = db.Exec(insertMember, "m2", "ANALYST")
	assert.Error(t, err, "one membership per user and workspace")

	_, err = db.Exec(`INSERT INTO memberships (id, user_id, workspace_id, role, created_at) VALUES ('m3', 'u1', 'w1', 'ADMIN', '2026-01-01 00:00:00+00:00')`)
	assert.Error(t, err, "role is a closed set")

	_, err = db.Exec(`INSERT INTO memberships (id, user_id, workspace_id, role, created_at) VALUES ('m4', 'nobody', 'w1', 'OWNER', '2026-01-01 00:00:00+00:00')`)
	assert.Error(t, err, "foreign keys enforced")
}

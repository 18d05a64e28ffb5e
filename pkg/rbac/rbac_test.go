package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/contextkeys"
	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/session"
	"github.com/pharoshq/pharos/pkg/storage/storagetest"
)

func withUser(userID string) context.Context {
	return session.WithSession(context.Background(), &session.Session{ID: "sess-" + userID, UserID: userID})
}

func TestRole(t *testing.T) {
	assert.True(t, RoleOwner.AtLeast(RoleAnalyst))
	assert.True(t, RoleOwner.AtLeast(RoleOwner))
	assert.True(t, RoleAnalyst.AtLeast(RoleAnalyst))
	assert.False(t, RoleAnalyst.AtLeast(RoleOwner))
	assert.False(t, Role("ADMIN").AtLeast(RoleAnalyst))
	assert.False(t, RoleOwner.AtLeast(Role("")))

	r, err := ParseRole(" owner ")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, r)

	_, err = ParseRole("viewer")
	assert.Error(t, err)
}

func TestResolver_GetActorAndRole(t *testing.T) {
	store := NewMemoryStore()
	store.Add(Membership{UserID: "alice", WorkspaceID: "ws-a", Role: RoleOwner})
	store.Add(Membership{UserID: "bob", WorkspaceID: "ws-a", Role: RoleAnalyst})
	store.Add(Membership{UserID: "bob", WorkspaceID: "ws-b", Role: RoleOwner})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	resolver := NewResolver(store, metrics)

	t.Run("no session", func(t *testing.T) {
		_, err := resolver.GetActorAndRole(context.Background(), "ws-a")
		assert.ErrorIs(t, err, guarderr.Unauthorized())
	})

	t.Run("member", func(t *testing.T) {
		actor, err := resolver.GetActorAndRole(withUser("bob"), "ws-a")
		require.NoError(t, err)
		assert.Equal(t, RoleAnalyst, actor.Role)
		assert.Equal(t, "sess-bob", actor.SessionID)
		assert.False(t, actor.Role.AtLeast(RoleOwner))
	})

	t.Run("cross tenant", func(t *testing.T) {
		_, err := resolver.GetActorAndRole(withUser("alice"), "ws-b")
		assert.ErrorIs(t, err, guarderr.Forbidden())
	})

	t.Run("empty workspace", func(t *testing.T) {
		_, err := resolver.GetActorAndRole(withUser("alice"), "")
		assert.ErrorIs(t, err, guarderr.Forbidden())
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(
		metrics.GuardDecisionsTotal.WithLabelValues("membership", "", observability.OutcomeDenied)))
}

func TestResolver_RequireRole(t *testing.T) {
	store := NewMemoryStore()
	store.Add(Membership{UserID: "alice", WorkspaceID: "ws-a", Role: RoleOwner})
	store.Add(Membership{UserID: "bob", WorkspaceID: "ws-a", Role: RoleAnalyst})
	resolver := NewResolver(store, nil)

	actor, err := resolver.RequireRole(withUser("alice"), "ws-a", RoleOwner)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, actor.Role)

	_, err = resolver.RequireRole(withUser("bob"), "ws-a", RoleAnalyst)
	assert.NoError(t, err)

	_, lowErr := resolver.RequireRole(withUser("bob"), "ws-a", RoleOwner)
	_, missingErr := resolver.RequireRole(withUser("carol"), "ws-a", RoleOwner)

	low, ok := guarderr.As(lowErr)
	require.True(t, ok)
	missing, ok := guarderr.As(missingErr)
	require.True(t, ok)
	assert.Equal(t, missing.Response(), low.Response())
}

func TestResolver_StoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("alice", "ws-a").
		WillReturnError(errors.New("connection refused"))

	_, err = NewResolver(NewSQLStore(db), nil).GetActorAndRole(withUser("alice"), "ws-a")
	require.Error(t, err)
	_, isGuard := guarderr.As(err)
	assert.False(t, isGuard)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore(t *testing.T) {
	db := storagetest.NewSQLite(t)
	fx := storagetest.NewFixtures(db, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	owner := fx.User(t, "owner@example.com")
	analyst := fx.User(t, "analyst@example.com")
	wsA := fx.Workspace(t, "Acme")
	wsB := fx.Workspace(t, "Globex")
	fx.Member(t, analyst, wsA, "ANALYST")
	fx.Member(t, owner, wsA, "OWNER")
	fx.Member(t, owner, wsB, "OWNER")

	store := NewSQLStore(db)
	ctx := context.Background()

	m, err := store.GetMembership(ctx, analyst, wsA)
	require.NoError(t, err)
	assert.Equal(t, RoleAnalyst, m.Role)

	_, err = store.GetMembership(ctx, analyst, wsB)
	assert.ErrorIs(t, err, ErrMembershipNotFound)

	members, err := store.ListMembers(ctx, wsA)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, owner, members[0].UserID)
	assert.Equal(t, analyst, members[1].UserID)
}

func TestResolver_SessionStoreOutage(t *testing.T) {
	store := NewMemoryStore()
	store.Add(Membership{UserID: "alice", WorkspaceID: "ws-a", Role: RoleOwner})
	resolver := NewResolver(store, nil)

	ctx := contextkeys.WithSessionError(context.Background(), errors.New("redis: connection refused"))
	_, err := resolver.RequireRole(ctx, "ws-a", RoleAnalyst)
	require.Error(t, err)
	_, isGuard := guarderr.As(err)
	assert.False(t, isGuard)
}

func TestSQLStore_RoleParsing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "user_id", "workspace_id", "role", "created_at"}
	created := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("alice", "ws-a").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("m1", "alice", "ws-a", "owner", created))
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("ws-a").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("m2", "bob", "ws-a", "ADMIN", created))

	store := NewSQLStore(db)
	m, err := store.GetMembership(context.Background(), "alice", "ws-a")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, m.Role)

	_, err = store.ListMembers(context.Background(), "ws-a")
	assert.ErrorContains(t, err, `invalid role "ADMIN"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashcompass/internal/core"
	"cashcompass/internal/storage"
)

func setupStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewStore(repo.DB(), opts...)
}

func TestNamespacedReadWrite(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "alice", core.Money{Cents: 100000}))
	require.NoError(t, s.SetBudget(ctx, "bob", core.Money{Cents: 50000}))

	assert.Equal(t, int64(100000), s.Budget(ctx, "alice").Cents)
	assert.Equal(t, int64(50000), s.Budget(ctx, "bob").Cents)
	assert.Zero(t, s.Budget(ctx, "carol").Cents, "unset budget is zero")
}

func TestNoCrossAccountBleed(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCurrency(ctx, "alice", "EUR"))

	assert.Equal(t, "EUR", s.Currency(ctx, "alice"))
	assert.Equal(t, DefaultCurrency, s.Currency(ctx, "bob"))
}

func TestLegacyGlobalReads(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	namespaced := NewStore(repo.DB())
	legacy := NewStore(repo.DB(), WithLegacyGlobalReads())
	ctx := context.Background()

	// Global key under the empty namespace, plus a per-user copy.
	require.NoError(t, namespaced.Set(ctx, "", KeyCurrency, "USD"))
	require.NoError(t, namespaced.SetCurrency(ctx, "alice", "EUR"))

	assert.Equal(t, "EUR", namespaced.Currency(ctx, "alice"))
	assert.Equal(t, "USD", legacy.Currency(ctx, "alice"), "legacy path ignores the namespace")
}

func TestSeedDefaults(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedDefaults(ctx, "alice"))

	assert.Zero(t, s.Budget(ctx, "alice").Cents)
	assert.Equal(t, DefaultCurrency, s.Currency(ctx, "alice"))
}

func TestGetUnset(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "alice", KeyMinGoal)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

package tokens_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/melih/lightd/internal/storage"
	"github.com/melih/lightd/internal/tokens"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *tokens.Manager {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "tokens.db"), "tokens")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return tokens.NewManager(db)
}

func TestGenerateAndValidate(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	token, err := m.Generate(ctx, time.Hour, false)
	require.NoError(t, err)
	require.Contains(t, token, "lightd_")

	ok, err := m.Validate(ctx, token, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveOnUseInvalidatesAfterFirstUse(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	token, err := m.Generate(ctx, time.Hour, true)
	require.NoError(t, err)

	ok, err := m.Validate(ctx, token, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Validate(ctx, token, true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredTokenInvalid(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	token, err := m.Generate(ctx, -time.Second, false)
	require.NoError(t, err)

	ok, err := m.Validate(ctx, token, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.Generate(ctx, -time.Second, false)
	require.NoError(t, err)
	_, err = m.Generate(ctx, time.Hour, false)
	require.NoError(t, err)

	removed, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

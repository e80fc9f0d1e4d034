package sftpseam_test

import (
	"context"
	"testing"

	"github.com/melih/lightd/internal/sftpseam"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAuthorize(t *testing.T) {
	ctx := context.Background()
	provider := sftpseam.NewInMemory()
	provider.Grant("v1", "SHA256:abc")

	ok, err := provider.Authorize(ctx, "v1", "anyuser", "SHA256:abc")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = provider.Authorize(ctx, "v1", "anyuser", "SHA256:other")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = provider.Authorize(ctx, "v2", "anyuser", "SHA256:abc")
	require.NoError(t, err)
	require.False(t, ok)
}

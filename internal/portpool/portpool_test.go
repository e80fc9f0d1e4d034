package portpool_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/firewall"
	"github.com/melih/lightd/internal/portpool"
	"github.com/melih/lightd/internal/storage"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T) *portpool.Pool {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ports.db"), "ports")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return portpool.New(db, firewall.Noop{})
}

func TestAddReserveRelease(t *testing.T) {
	ctx := context.Background()
	p := newPool(t)

	_, err := p.Add(ctx, "10.0.0.2", 8080, domain.ProtocolTCP)
	require.NoError(t, err)

	_, err = p.Add(ctx, "10.0.0.2", 8080, domain.ProtocolTCP)
	require.Error(t, err, "duplicate add must conflict")

	e, err := p.Reserve(ctx, "10.0.0.2", 8080, domain.ProtocolTCP)
	require.NoError(t, err)
	require.True(t, e.InUse)

	_, err = p.Reserve(ctx, "10.0.0.2", 8080, domain.ProtocolTCP)
	require.Error(t, err, "double reservation must conflict")

	require.NoError(t, p.Release(ctx, "10.0.0.2", 8080, domain.ProtocolTCP))

	e, err = p.Reserve(ctx, "10.0.0.2", 8080, domain.ProtocolTCP)
	require.NoError(t, err)
	require.True(t, e.InUse)
}

func TestPickRandomFreeExcludesInUse(t *testing.T) {
	ctx := context.Background()
	p := newPool(t)

	_, err := p.Add(ctx, "10.0.0.2", 9000, domain.ProtocolTCP)
	require.NoError(t, err)
	_, err = p.Add(ctx, "10.0.0.2", 9001, domain.ProtocolTCP)
	require.NoError(t, err)

	_, err = p.Reserve(ctx, "10.0.0.2", 9000, domain.ProtocolTCP)
	require.NoError(t, err)

	picked, err := p.PickRandomFree(ctx, domain.ProtocolTCP)
	require.NoError(t, err)
	require.Equal(t, uint16(9001), picked.Port)
}

func TestPickRandomFreeExhausted(t *testing.T) {
	ctx := context.Background()
	p := newPool(t)

	_, err := p.Add(ctx, "10.0.0.2", 7000, domain.ProtocolTCP)
	require.NoError(t, err)
	_, err = p.Reserve(ctx, "10.0.0.2", 7000, domain.ProtocolTCP)
	require.NoError(t, err)

	_, err = p.PickRandomFree(ctx, domain.ProtocolTCP)
	require.Error(t, err)
}

func TestBulkDeletePartialSuccess(t *testing.T) {
	ctx := context.Background()
	p := newPool(t)

	_, err := p.Add(ctx, "10.0.0.2", 6000, domain.ProtocolTCP)
	require.NoError(t, err)
	_, err = p.Add(ctx, "10.0.0.2", 6001, domain.ProtocolTCP)
	require.NoError(t, err)
	_, err = p.Reserve(ctx, "10.0.0.2", 6001, domain.ProtocolTCP)
	require.NoError(t, err)

	results, err := p.BulkDelete(ctx, []struct {
		IP   string
		Port uint16
	}{
		{IP: "10.0.0.2", Port: 6000},
		{IP: "10.0.0.2", Port: 6001},
		{IP: "10.0.0.2", Port: 9999},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].Deleted)
	require.False(t, results[1].Deleted)
	require.Equal(t, "in_use", results[1].Reason)
	require.False(t, results[2].Deleted)
	require.Equal(t, "not_found", results[2].Reason)
}

func TestDeleteRefusesInUse(t *testing.T) {
	ctx := context.Background()
	p := newPool(t)

	_, err := p.Add(ctx, "10.0.0.2", 5000, domain.ProtocolTCP)
	require.NoError(t, err)
	_, err = p.Reserve(ctx, "10.0.0.2", 5000, domain.ProtocolTCP)
	require.NoError(t, err)

	err = p.Delete(ctx, "10.0.0.2", 5000, domain.ProtocolTCP)
	require.Error(t, err)

	require.NoError(t, p.Release(ctx, "10.0.0.2", 5000, domain.ProtocolTCP))
	require.NoError(t, p.Delete(ctx, "10.0.0.2", 5000, domain.ProtocolTCP))
}

package containerstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/storage"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *containerstore.Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "containers.db"), "containers")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return containerstore.New(db)
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := domain.NewContainerRecord("c1", "v1", "alpine", "/start.sh")
	require.NoError(t, s.Create(ctx, rec))

	err := s.Create(ctx, rec)
	require.Error(t, err, "duplicate create must conflict")

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateInstalling, got.InstallState)

	updated, err := s.Update(ctx, "c1", func(r *domain.ContainerRecord) error {
		r.InstallState = domain.InstallStateReady
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateReady, updated.InstallState)
	require.Greater(t, updated.UpdatedAt, int64(0))
}

func TestUpdateMissingRecordNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Update(ctx, "missing", func(r *domain.ContainerRecord) error { return nil })
	require.Error(t, err)
}

type fakeInspector struct{ existing map[string]bool }

func (f fakeInspector) Exists(ctx context.Context, dockerID string) (bool, error) {
	return f.existing[dockerID], nil
}

func TestReconcileFailsOrphanedInstalls(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	stillInstalling := domain.NewContainerRecord("c1", "v1", "alpine", "/start.sh")
	stillInstalling.DockerID = "d1"
	require.NoError(t, s.Create(ctx, stillInstalling))

	orphaned := domain.NewContainerRecord("c2", "v2", "alpine", "/start.sh")
	orphaned.DockerID = "d2"
	require.NoError(t, s.Create(ctx, orphaned))

	ready := domain.NewContainerRecord("c3", "v3", "alpine", "/start.sh")
	ready.InstallState = domain.InstallStateReady
	require.NoError(t, s.Create(ctx, ready))

	fixed, err := s.Reconcile(ctx, fakeInspector{existing: map[string]bool{"d1": true}})
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	got1, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateInstalling, got1.InstallState)

	got2, err := s.Get(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateFailed, got2.InstallState)

	got3, err := s.Get(ctx, "c3")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateReady, got3.InstallState)
}

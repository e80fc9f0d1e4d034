package install_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver/fake"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/melih/lightd/internal/firewall"
	"github.com/melih/lightd/internal/install"
	"github.com/melih/lightd/internal/portpool"
	"github.com/melih/lightd/internal/runtime"
	"github.com/melih/lightd/internal/storage"
	"github.com/melih/lightd/internal/volumeimport"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*containerstore.Store, *portpool.Pool, *fake.Driver, *eventbus.Bus, *install.Pipeline) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "lightd.db"), "containers", "ports")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := containerstore.New(db)
	pool := portpool.New(db, firewall.Noop{})
	driver := fake.New()
	bus := eventbus.New()
	locks := runtime.NewLocks()
	volumes := volumeimport.New(t.TempDir())
	pipeline := install.NewPipeline(store, pool, driver, bus, locks, nil, volumes)
	return store, pool, driver, bus, pipeline
}

func TestInstallHappyPath(t *testing.T) {
	ctx := context.Background()
	store, pool, _, bus, pipeline := newHarness(t)

	_, err := pool.Add(ctx, "0.0.0.0", 25565, domain.ProtocolTCP)
	require.NoError(t, err)

	sub := bus.Subscribe("s1")
	defer sub.Close()

	rec := domain.NewContainerRecord("s1", "v1", "alpine:latest", "sh -c 'echo Ready; sleep 3600'")
	rec.Ports = []domain.PortBinding{{IP: "0.0.0.0", Port: 25565, Protocol: domain.ProtocolTCP}}

	require.NoError(t, pipeline.Install(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateReady, got.InstallState)
	require.NotEmpty(t, got.DockerID)

	entries, err := pool.List(ctx)
	require.NoError(t, err)
	require.True(t, entries[0].InUse)
}

func TestInstallMissingPortFails(t *testing.T) {
	ctx := context.Background()
	store, pool, _, _, pipeline := newHarness(t)

	rec := domain.NewContainerRecord("s2", "v1", "alpine:latest", "sleep 3600")
	rec.Ports = []domain.PortBinding{{IP: "0.0.0.0", Port: 25565, Protocol: domain.ProtocolTCP}}

	err := pipeline.Install(ctx, rec)
	require.Error(t, err)

	got, err := store.Get(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateFailed, got.InstallState)

	entries, err := pool.List(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInstallScriptFailureKeepsContainer(t *testing.T) {
	ctx := context.Background()
	store, _, driver, _, pipeline := newHarness(t)
	driver.ExecExitCode = 7

	rec := domain.NewContainerRecord("s3", "v1", "alpine:latest", "sleep 3600")
	rec.InstallScript = "#!/bin/sh\nexit 7"

	err := pipeline.Install(ctx, rec)
	require.Error(t, err)

	got, err := store.Get(ctx, "s3")
	require.NoError(t, err)
	require.Equal(t, domain.InstallStateFailed, got.InstallState)
	require.NotEmpty(t, got.DockerID)

	exists, err := driver.Exists(ctx, got.DockerID)
	require.NoError(t, err)
	require.True(t, exists, "docker container must remain for diagnosis")
}

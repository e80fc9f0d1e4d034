package runtime_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver"
	"github.com/melih/lightd/internal/dockerdriver/fake"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/melih/lightd/internal/runtime"
	"github.com/melih/lightd/internal/storage"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*containerstore.Store, *fake.Driver, *eventbus.Bus, *runtime.Supervisor) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "containers.db"), "containers")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := containerstore.New(db)
	driver := fake.New()
	bus := eventbus.New()
	locks := runtime.NewLocks()
	sup := runtime.NewSupervisor(store, driver, bus, locks)
	return store, driver, bus, sup
}

func TestStartWithoutPatternReachesRunning(t *testing.T) {
	ctx := context.Background()
	store, driver, bus, sup := newHarness(t)

	rec := domain.NewContainerRecord("s1", "v1", "alpine", "sleep 3600")
	rec.InstallState = domain.InstallStateReady
	require.NoError(t, store.Create(ctx, rec))
	dockerID, err := driver.Create(ctx, dockerdriver.Spec{Image: "alpine"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "s1", func(r *domain.ContainerRecord) error {
		r.DockerID = dockerID
		return nil
	})
	require.NoError(t, err)

	sub := bus.Subscribe("s1")
	defer sub.Close()

	require.NoError(t, sup.Start(ctx, "s1"))

	deadline := time.After(2 * time.Second)
	sawRunning := false
	for !sawRunning {
		select {
		case ev := <-sub.Events:
			if ev.Tag == domain.EventState && ev.Data == domain.StateRunning {
				sawRunning = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for running state")
		}
	}

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.RuntimeRunning, got.RuntimeState)
}

func TestStartPublishesConsoleDuplicateForEachLine(t *testing.T) {
	ctx := context.Background()
	store, driver, bus, sup := newHarness(t)
	driver.LogChunks = []string{"Ready to accept connections"}

	rec := domain.NewContainerRecord("s4", "v1", "alpine", "sleep 3600")
	rec.InstallState = domain.InstallStateReady
	require.NoError(t, store.Create(ctx, rec))
	dockerID, err := driver.Create(ctx, dockerdriver.Spec{Image: "alpine"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "s4", func(r *domain.ContainerRecord) error {
		r.DockerID = dockerID
		return nil
	})
	require.NoError(t, err)

	sub := bus.Subscribe("s4")
	defer sub.Close()

	require.NoError(t, sup.Start(ctx, "s4"))

	deadline := time.After(2 * time.Second)
	sawConsole, sawDup := false, false
	for !sawConsole || !sawDup {
		select {
		case ev := <-sub.Events:
			switch ev.Tag {
			case domain.EventConsole:
				require.Equal(t, "Ready to accept connections", ev.Data)
				sawConsole = true
			case domain.EventConsoleDup:
				require.Equal(t, "Ready to accept connections", ev.Data)
				sawDup = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for console and console duplicate events")
		}
	}
}

func TestStartRequiresReady(t *testing.T) {
	ctx := context.Background()
	store, _, _, sup := newHarness(t)

	rec := domain.NewContainerRecord("s2", "v1", "alpine", "sleep 3600")
	require.NoError(t, store.Create(ctx, rec))

	err := sup.Start(ctx, "s2")
	require.Error(t, err)
}

func TestKillTransitionsToStopped(t *testing.T) {
	ctx := context.Background()
	store, driver, bus, sup := newHarness(t)

	rec := domain.NewContainerRecord("s3", "v1", "alpine", "sleep 3600")
	rec.InstallState = domain.InstallStateReady
	require.NoError(t, store.Create(ctx, rec))
	dockerID, err := driver.Create(ctx, dockerdriver.Spec{Image: "alpine"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "s3", func(r *domain.ContainerRecord) error {
		r.DockerID = dockerID
		r.RuntimeState = domain.RuntimeRunning
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, driver.Start(ctx, dockerID))

	sub := bus.Subscribe("s3")
	defer sub.Close()

	require.NoError(t, sup.Kill(ctx, "s3"))

	got, err := store.Get(ctx, "s3")
	require.NoError(t, err)
	require.Equal(t, domain.RuntimeStopped, got.RuntimeState)

	running, err := driver.IsRunning(ctx, dockerID)
	require.NoError(t, err)
	require.False(t, running)
}

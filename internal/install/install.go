// Package install implements InstallPipeline (spec.md §4.5): the
// one-shot install and reinstall sequence that provisions ports, creates
// the Docker container, and runs the optional install script.
package install

import (
	"context"
	"fmt"

	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/containerstore"
	"github.com/melih/lightd/internal/dockerdriver"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/eventbus"
	"github.com/melih/lightd/internal/portpool"
	"github.com/melih/lightd/internal/remotesync"
	"github.com/melih/lightd/internal/runtime"
	"github.com/melih/lightd/internal/volumeimport"
	"github.com/rs/zerolog/log"
)

const entrypointTemplate = "#!/bin/bash\ncd /home/container\nexec %s\n"

// Pipeline drives install/reinstall. Each call runs synchronously against
// the caller's goroutine; internal/httpapi's ContainerHandler spawns it so the API
// request returns immediately with the 202-style "installing" response,
// mirroring the original's tokio::spawn pattern in lifecycle.rs.
type Pipeline struct {
	store   *containerstore.Store
	pool    *portpool.Pool
	driver  dockerdriver.Driver
	bus     *eventbus.Bus
	locks   *runtime.Locks
	remote  *remotesync.Client
	volumes *volumeimport.Importer
}

func NewPipeline(store *containerstore.Store, pool *portpool.Pool, driver dockerdriver.Driver, bus *eventbus.Bus, locks *runtime.Locks, remote *remotesync.Client, volumes *volumeimport.Importer) *Pipeline {
	return &Pipeline{store: store, pool: pool, driver: driver, bus: bus, locks: locks, remote: remote, volumes: volumes}
}

func (p *Pipeline) publish(internalID string, kind domain.EventKind, data string) {
	p.bus.Publish(internalID, domain.Event{Tag: kind, Data: data})
}

func (p *Pipeline) publishState(internalID, state string) {
	p.publish(internalID, domain.EventState, state)
}

// Install runs the full sequence from spec.md §4.5 against a
// newly-created record.
func (p *Pipeline) Install(ctx context.Context, rec *domain.ContainerRecord) error {
	lock := p.locks.For(rec.InternalID)
	lock.Lock()
	defer lock.Unlock()

	if err := p.store.Create(ctx, rec); err != nil {
		return err
	}
	p.publishState(rec.InternalID, domain.StateInstalling)

	if rec.VolumeRepoURL != "" {
		if err := p.volumes.PopulateFromGit(ctx, rec.VolumeID, rec.VolumeRepoURL); err != nil {
			return p.fail(ctx, rec.InternalID, fmt.Sprintf("volume import failed: %v", err))
		}
	} else if err := p.volumes.EnsureDir(rec.VolumeID); err != nil {
		return p.fail(ctx, rec.InternalID, fmt.Sprintf("volume directory creation failed: %v", err))
	}

	if err := p.runPipeline(ctx, rec.InternalID, rec.Ports, true); err != nil {
		return err
	}
	return nil
}

// Reinstall reuses the install pipeline after removing the existing
// Docker container. Ports are not released across reinstall.
func (p *Pipeline) Reinstall(ctx context.Context, internalID string, newImage, newScript *string) error {
	lock := p.locks.For(internalID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := p.store.Get(ctx, internalID)
	if err != nil {
		return err
	}

	if rec.DockerID != "" {
		if err := p.driver.Remove(ctx, rec.DockerID); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("failed to remove container before reinstall")
		}
	}

	rec, err = p.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.DockerID = ""
		r.InstallState = domain.InstallStateInstalling
		if newImage != nil {
			r.Image = *newImage
		}
		if newScript != nil {
			r.InstallScript = *newScript
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.publishState(internalID, domain.StateInstalling)

	return p.runPipeline(ctx, internalID, rec.Ports, false)
}

// runPipeline is steps 2-7 of spec.md §4.5, shared by install and
// reinstall. reservePorts is false for reinstall, whose ports are still
// held from the original install.
func (p *Pipeline) runPipeline(ctx context.Context, internalID string, ports []domain.PortBinding, reservePorts bool) error {
	rec, err := p.store.Get(ctx, internalID)
	if err != nil {
		return err
	}

	// Step 2: reserve every port, rolling back in reverse order on
	// failure.
	reserved := make([]domain.PortBinding, 0, len(ports))
	for _, port := range ports {
		if !reservePorts {
			break
		}
		if _, err := p.pool.Reserve(ctx, port.IP, port.Port, port.Protocol); err != nil {
			for i := len(reserved) - 1; i >= 0; i-- {
				_ = p.pool.Release(ctx, reserved[i].IP, reserved[i].Port, reserved[i].Protocol)
			}
			return p.fail(ctx, internalID, fmt.Sprintf("port reservation failed: %v", err))
		}
		reserved = append(reserved, port)
	}

	// Step 3: create the Docker container.
	spec := dockerdriver.Spec{
		Image:          rec.Image,
		VolumeHostPath: p.volumes.HostPath(rec.VolumeID),
		Limits:         rec.Limits,
		Ports:          ports,
		Mounts:         rec.Mounts,
	}
	dockerID, err := p.driver.Create(ctx, spec)
	if err != nil {
		for _, port := range reserved {
			_ = p.pool.Release(ctx, port.IP, port.Port, port.Protocol)
		}
		return p.fail(ctx, internalID, fmt.Sprintf("docker create failed: %v", err))
	}

	if _, err := p.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.DockerID = dockerID
		return nil
	}); err != nil {
		return err
	}

	// Step 4: write entrypoint.sh.
	entrypoint := fmt.Sprintf(entrypointTemplate, rec.StartupCommand)
	if err := p.driver.WriteFile(ctx, dockerID, "/app/data/entrypoint.sh", []byte(entrypoint), 0o755); err != nil {
		return p.fail(ctx, internalID, fmt.Sprintf("writing entrypoint.sh failed: %v", err))
	}

	// Step 5: run the install script, if any.
	if rec.InstallScript != "" {
		if err := p.driver.WriteFile(ctx, dockerID, "/app/data/install.sh", []byte(rec.InstallScript), 0o755); err != nil {
			return p.fail(ctx, internalID, fmt.Sprintf("writing install.sh failed: %v", err))
		}
		exitCode, output, err := p.driver.ExecScript(ctx, dockerID, "/app/data/install.sh")
		if err != nil {
			return p.fail(ctx, internalID, fmt.Sprintf("install script exec failed: %v", err))
		}
		if err := p.driver.WriteFile(ctx, dockerID, "/app/data/install.log", output, 0o644); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("failed to persist install.log")
		}
		if exitCode != 0 {
			// Docker container is left in place for diagnosis per spec.md §4.5.
			return p.fail(ctx, internalID, fmt.Sprintf("install exit %d", exitCode))
		}
	}

	// Step 6-7: mark ready, commit, notify remote-sync.
	if _, err := p.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.InstallState = domain.InstallStateReady
		return nil
	}); err != nil {
		return err
	}
	p.publishState(internalID, domain.StateInstalled)

	if p.remote != nil {
		if err := p.remote.SendStatusUpdate(ctx, internalID, "installed"); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("remote-sync status update failed")
		}
	}
	return nil
}

// fail marks the record failed and emits the corresponding event and
// remote-sync error update, then returns the *apierr.Error the caller
// should surface.
func (p *Pipeline) fail(ctx context.Context, internalID, reason string) error {
	_, updateErr := p.store.Update(ctx, internalID, func(r *domain.ContainerRecord) error {
		r.InstallState = domain.InstallStateFailed
		return nil
	})
	if updateErr != nil {
		log.Error().Err(updateErr).Str("internal_id", internalID).Msg("failed to mark container failed after install error")
	}
	p.publishState(internalID, domain.StateFailed)
	p.publish(internalID, domain.EventDaemonMessage, reason)

	if p.remote != nil {
		if err := p.remote.SendErrorUpdate(ctx, internalID, "failed", reason); err != nil {
			log.Warn().Err(err).Str("internal_id", internalID).Msg("remote-sync error update failed")
		}
	}
	return apierr.New(apierr.KindExternal, reason)
}

// Package containerstore implements ContainerStore from spec.md §4.2: a
// durable, unique-by-internal_id table of container records with atomic
// read-modify-write updates.
package containerstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/storage"
)

const bucket = "containers"

// updateTimeout bounds how long Update waits to acquire a record's lock,
// matching original's 5s deadlock guard on its per-id mutex.
const updateTimeout = 5 * time.Second

// Store is the ContainerStore component. Per-record mutual exclusion for
// Create, Update and Delete is handled by a locks map keyed by
// internal_id (locksMu guards only that map), matching the original's
// per-container DashMap<String, Mutex<()>>. Get and List take no lock.
type Store struct {
	db *storage.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(db *storage.DB) *Store {
	return &Store{db: db, locks: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create inserts a brand-new record. Conflict if internal_id is taken.
func (s *Store) Create(ctx context.Context, rec *domain.ContainerRecord) error {
	l := s.lockFor(rec.InternalID)
	l.Lock()
	defer l.Unlock()

	var existing domain.ContainerRecord
	found, err := s.db.Get(bucket, rec.InternalID, &existing)
	if err != nil {
		return apierr.External(err)
	}
	if found {
		return apierr.Conflict("container %s already exists", rec.InternalID)
	}
	if err := s.db.Put(bucket, rec.InternalID, rec); err != nil {
		return apierr.External(err)
	}
	return nil
}

// Get fetches a record by internal_id.
func (s *Store) Get(ctx context.Context, internalID string) (*domain.ContainerRecord, error) {
	var rec domain.ContainerRecord
	found, err := s.db.Get(bucket, internalID, &rec)
	if err != nil {
		return nil, apierr.External(err)
	}
	if !found {
		return nil, apierr.NotFound("container %s not found", internalID)
	}
	return &rec, nil
}

// List returns every record.
func (s *Store) List(ctx context.Context) ([]*domain.ContainerRecord, error) {
	var all []*domain.ContainerRecord
	err := s.db.ForEach(bucket, func(k string, raw []byte) error {
		rec := &domain.ContainerRecord{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return err
		}
		all = append(all, rec)
		return nil
	})
	if err != nil {
		return nil, apierr.External(err)
	}
	return all, nil
}

// Update performs an atomic read-modify-write against the record
// identified by internalID, serialized against every other Update on the
// same id. fn mutates rec in place; returning an error aborts the write.
func (s *Store) Update(ctx context.Context, internalID string, fn func(rec *domain.ContainerRecord) error) (*domain.ContainerRecord, error) {
	l := s.lockFor(internalID)

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(updateTimeout):
		return nil, apierr.Timeout("timed out acquiring lock for container %s", internalID)
	case <-ctx.Done():
		return nil, apierr.Timeout("context canceled acquiring lock for container %s", internalID)
	}
	defer l.Unlock()

	var rec domain.ContainerRecord
	found, err := s.db.Get(bucket, internalID, &rec)
	if err != nil {
		return nil, apierr.External(err)
	}
	if !found {
		return nil, apierr.NotFound("container %s not found", internalID)
	}

	if err := fn(&rec); err != nil {
		return nil, err
	}
	rec.Touch()

	if err := s.db.Put(bucket, internalID, &rec); err != nil {
		return nil, apierr.External(err)
	}
	return &rec, nil
}

// Delete removes a record outright.
func (s *Store) Delete(ctx context.Context, internalID string) error {
	l := s.lockFor(internalID)
	l.Lock()
	defer l.Unlock()
	return s.db.Delete(bucket, internalID)
}

// DockerInspector is the narrow seam Reconcile needs from the driver
// layer: does a Docker container for this record still exist.
type DockerInspector interface {
	Exists(ctx context.Context, dockerID string) (bool, error)
}

// Reconcile runs once at boot. Any record stuck in InstallStateInstalling
// with no matching Docker container is assumed to have been interrupted
// mid-install by a daemon crash or restart, and is marked failed rather
// than left to install forever — original_source's verify_container_sync
// makes the same call on boot.
func (s *Store) Reconcile(ctx context.Context, docker DockerInspector) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, rec := range recs {
		if !rec.IsInstalling() {
			continue
		}
		exists := false
		if rec.DockerID != "" {
			exists, err = docker.Exists(ctx, rec.DockerID)
			if err != nil {
				return fixed, err
			}
		}
		if exists {
			continue
		}
		_, err := s.Update(ctx, rec.InternalID, func(r *domain.ContainerRecord) error {
			r.InstallState = domain.InstallStateFailed
			return nil
		})
		if err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}

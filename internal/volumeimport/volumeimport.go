// Package volumeimport populates a container's volume directory from a
// git repository, adapted from the teacher's builder.Adapter.BuildImage:
// the same go-git clone step, but targeting a volume directory instead
// of a Docker image build context, since image building is an explicit
// non-goal of this daemon.
package volumeimport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// Importer clones repositories into volume root directories.
type Importer struct {
	// VolumesBasePath is the parent directory under which every
	// volume_id gets its own subdirectory, matching config.Storage's
	// volumes_path.
	VolumesBasePath string
}

func New(volumesBasePath string) *Importer {
	return &Importer{VolumesBasePath: volumesBasePath}
}

// PopulateFromGit clones repoURL directly into the volume's root
// directory (creating it if absent). A shallow, depth-1 clone is used,
// matching the teacher's build-context clone.
func (imp *Importer) PopulateFromGit(ctx context.Context, volumeID, repoURL string) error {
	dest := imp.volumePath(volumeID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create volume directory %s: %w", dest, err)
	}

	empty, err := dirIsEmpty(dest)
	if err != nil {
		return fmt.Errorf("check volume directory %s: %w", dest, err)
	}
	if !empty {
		return fmt.Errorf("volume %s is not empty, refusing to import over existing data", volumeID)
	}

	_, err = git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: io.Discard,
		Depth:    1,
	})
	if err != nil {
		return fmt.Errorf("clone %s into volume %s: %w", repoURL, volumeID, err)
	}
	return nil
}

func (imp *Importer) volumePath(volumeID string) string {
	return filepath.Join(imp.VolumesBasePath, volumeID)
}

// HostPath returns the directory a volume_id is rooted at on the host,
// the same path PopulateFromGit clones into. Callers bind-mount this into
// a container at /home/container.
func (imp *Importer) HostPath(volumeID string) string {
	return imp.volumePath(volumeID)
}

// EnsureDir creates the volume's root directory if it doesn't already
// exist, for volumes with no git import to seed it.
func (imp *Importer) EnsureDir(volumeID string) error {
	return os.MkdirAll(imp.volumePath(volumeID), 0o755)
}

func dirIsEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

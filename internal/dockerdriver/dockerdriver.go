// Package dockerdriver defines the capability interface spec.md §4.4
// names, so RuntimeSupervisor and InstallPipeline never depend on the
// Docker SDK directly and tests can substitute an in-memory fake, per
// the "Dynamic dispatch on Docker backend" design note in spec.md §9.
package dockerdriver

import (
	"context"
	"io"

	"github.com/melih/lightd/internal/domain"
)

// Spec is the translation input for Create: a ContainerRecord plus the
// mount/limit fields the driver needs to build a Docker container.
type Spec struct {
	Image          string
	VolumeHostPath string
	Limits         domain.Limits
	Ports          []domain.PortBinding
	Mounts         map[string]string
}

// StatSample is one point of the ~1Hz series attach_stats produces.
type StatSample = domain.Stats

// Driver is the Docker façade: the operations spec.md §4.4 requires plus
// WriteFile, Exists, IsRunning and SendInput, twelve methods in all.
type Driver interface {
	// Create builds a container from spec and returns its docker_id.
	// Timeout 60s.
	Create(ctx context.Context, spec Spec) (dockerID string, err error)
	// Remove force-removes a container. Timeout 30s.
	Remove(ctx context.Context, dockerID string) error
	// Start starts an existing container. Timeout 30s.
	Start(ctx context.Context, dockerID string) error
	// Kill sends signal (default SIGKILL) to the container. Timeout 10s.
	Kill(ctx context.Context, dockerID string, signal string) error
	// Restart is kill+start. Timeout 30s.
	Restart(ctx context.Context, dockerID string) error
	// WriteFile copies content to path inside the container, used to
	// deliver entrypoint.sh and install.sh.
	WriteFile(ctx context.Context, dockerID, path string, content []byte, mode int64) error
	// ExecScript runs scriptPath inside the container, capturing combined
	// stdout/stderr and returning its exit code. Default timeout 600s.
	ExecScript(ctx context.Context, dockerID, scriptPath string) (exitCode int, output []byte, err error)
	// AttachLogs streams raw console chunks until ctx is canceled or the
	// container exits. The returned ReadCloser is the sole console
	// producer for dockerID.
	AttachLogs(ctx context.Context, dockerID string) (io.ReadCloser, error)
	// AttachStats streams sampled stats until ctx is canceled. The sole
	// stats producer for dockerID.
	AttachStats(ctx context.Context, dockerID string) (<-chan StatSample, error)
	// Exists reports whether dockerID currently exists, used by
	// ContainerStore's boot-time Reconcile.
	Exists(ctx context.Context, dockerID string) (bool, error)
	// IsRunning reports Docker's own view of the container's running
	// state, used when no start_pattern is configured.
	IsRunning(ctx context.Context, dockerID string) (bool, error)
	// SendInput writes data to the container's attached stdin stream,
	// backing send_command.
	SendInput(ctx context.Context, dockerID string, data []byte) error
}

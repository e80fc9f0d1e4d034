package dockerdriver

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/melih/lightd/internal/domain"
)

// Adapter implements Driver against a real Docker daemon, evolving the
// teacher's docker.Adapter from a 4-method CRUD façade into the full
// lifecycle surface spec.md §4.4 requires.
type Adapter struct {
	cli *client.Client
}

func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

func (a *Adapter) Create(ctx context.Context, spec Spec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	exposed, bindings := portConfig(spec.Ports)

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: spec.VolumeHostPath,
		Target: "/home/container",
	}}
	for hostPath, containerPath := range spec.Mounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: hostPath, Target: containerPath})
	}

	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts,
	}
	if spec.Limits.MemoryBytes > 0 {
		hostConfig.Resources.Memory = int64(spec.Limits.MemoryBytes)
	}
	if spec.Limits.CPUCores > 0 {
		hostConfig.Resources.NanoCPUs = int64(spec.Limits.CPUCores * 1e9)
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		ExposedPorts: exposed,
		WorkingDir:   "/home/container",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// portConfig translates our PortBinding list into the exposed-ports set
// and host-binding map the Docker SDK's ContainerCreate expects.
func portConfig(bindings []domain.PortBinding) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	portMap := nat.PortMap{}
	for _, b := range bindings {
		p, err := nat.NewPort(string(b.Protocol), strconv.Itoa(int(b.Port)))
		if err != nil {
			continue
		}
		exposed[p] = struct{}{}
		portMap[p] = []nat.PortBinding{{HostIP: b.IP, HostPort: strconv.Itoa(int(b.Port))}}
	}
	return exposed, portMap
}

func (a *Adapter) Remove(ctx context.Context, dockerID string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return a.cli.ContainerRemove(ctx, dockerID, types.ContainerRemoveOptions{Force: true})
}

func (a *Adapter) Start(ctx context.Context, dockerID string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return a.cli.ContainerStart(ctx, dockerID, types.ContainerStartOptions{})
}

func (a *Adapter) Kill(ctx context.Context, dockerID string, signal string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if signal == "" {
		signal = "SIGKILL"
	}
	return a.cli.ContainerKill(ctx, dockerID, signal)
}

func (a *Adapter) Restart(ctx context.Context, dockerID string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.Kill(ctx, dockerID, "SIGKILL"); err != nil {
		return err
	}
	return a.Start(ctx, dockerID)
}

// WriteFile delivers content into the container's filesystem via the
// tar-stream copy API Docker exposes for this purpose.
func (a *Adapter) WriteFile(ctx context.Context, dockerID, path string, content []byte, mode int64) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dir, name := splitDir(path)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: mode, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header for %s: %w", path, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write %s: %w", path, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close %s: %w", path, err)
	}

	return a.cli.CopyToContainer(ctx, dockerID, dir, &buf, types.CopyToContainerOptions{})
}

func splitDir(path string) (dir, name string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "/", path
}

// ExecScript runs scriptPath inside the container and captures combined
// stdout/stderr, matching install.sh execution semantics from spec.md
// §4.5.
func (a *Adapter) ExecScript(ctx context.Context, dockerID, scriptPath string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 600*time.Second)
	defer cancel()

	execResp, err := a.cli.ContainerExecCreate(ctx, dockerID, types.ExecConfig{
		Cmd:          []string{"sh", scriptPath},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := a.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	output, err := io.ReadAll(attach.Reader)
	if err != nil {
		return -1, nil, fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, output, fmt.Errorf("exec inspect: %w", err)
	}
	return inspect.ExitCode, output, nil
}

// AttachLogs streams raw console chunks until ctx is canceled.
func (a *Adapter) AttachLogs(ctx context.Context, dockerID string) (io.ReadCloser, error) {
	return a.cli.ContainerLogs(ctx, dockerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
	})
}

// AttachStats streams sampled stats at roughly 1Hz by decoding Docker's
// stats stream, translating raw byte counters into the domain.Stats
// shape EventBus publishes.
func (a *Adapter) AttachStats(ctx context.Context, dockerID string) (<-chan StatSample, error) {
	resp, err := a.cli.ContainerStats(ctx, dockerID, true)
	if err != nil {
		return nil, fmt.Errorf("attach stats: %w", err)
	}

	out := make(chan StatSample, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		decodeStatsStream(ctx, resp.Body, out)
	}()
	return out, nil
}

func (a *Adapter) Exists(ctx context.Context, dockerID string) (bool, error) {
	if dockerID == "" {
		return false, nil
	}
	_, err := a.cli.ContainerInspect(ctx, dockerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %w", dockerID, err)
	}
	return true, nil
}

func (a *Adapter) IsRunning(ctx context.Context, dockerID string) (bool, error) {
	info, err := a.cli.ContainerInspect(ctx, dockerID)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", dockerID, err)
	}
	return info.State != nil && info.State.Running, nil
}

// SendInput attaches to the container's stdin just long enough to write
// data, then detaches. RuntimeSupervisor is responsible for coalescing
// repeated calls if a long-lived attachment is desired later.
func (a *Adapter) SendInput(ctx context.Context, dockerID string, data []byte) error {
	hijacked, err := a.cli.ContainerAttach(ctx, dockerID, types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return fmt.Errorf("attach stdin: %w", err)
	}
	defer hijacked.Close()
	_, err = hijacked.Conn.Write(data)
	return err
}

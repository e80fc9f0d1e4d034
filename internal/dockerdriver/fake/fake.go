// Package fake provides an in-memory dockerdriver.Driver for tests,
// exactly the substitution spec.md §9's "Dynamic dispatch on Docker
// backend" design note calls for.
package fake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/melih/lightd/internal/dockerdriver"
)

type container struct {
	spec    dockerdriver.Spec
	running bool
	files   map[string][]byte
	stdin   []byte
}

// Driver is a deterministic, single-process Docker stand-in. Tests
// configure ExecExitCode / LogChunks to control exec_script's exit code
// and any pattern the start-pattern matcher should observe.
type Driver struct {
	mu         sync.Mutex
	containers map[string]*container
	nextID     int

	// ExecExitCode is returned by ExecScript for every call, unless
	// ExecExitCodeFor names a script path with its own override.
	ExecExitCode    int
	ExecExitCodeFor map[string]int
	ExecOutput      []byte

	// LogChunks are fed to AttachLogs, one at a time, allowing tests to
	// drive start_pattern matching deterministically.
	LogChunks []string
}

func New() *Driver {
	return &Driver{containers: map[string]*container{}, ExecExitCodeFor: map[string]int{}}
}

func (d *Driver) Create(ctx context.Context, spec dockerdriver.Spec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("fake-%d", d.nextID)
	d.containers[id] = &container{spec: spec, files: map[string][]byte{}}
	return id, nil
}

func (d *Driver) Remove(ctx context.Context, dockerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.containers[dockerID]; !ok {
		return fmt.Errorf("no such container %s", dockerID)
	}
	delete(d.containers, dockerID)
	return nil
}

func (d *Driver) Start(ctx context.Context, dockerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[dockerID]
	if !ok {
		return fmt.Errorf("no such container %s", dockerID)
	}
	c.running = true
	return nil
}

func (d *Driver) Kill(ctx context.Context, dockerID string, signal string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[dockerID]
	if !ok {
		return fmt.Errorf("no such container %s", dockerID)
	}
	c.running = false
	return nil
}

func (d *Driver) Restart(ctx context.Context, dockerID string) error {
	if err := d.Kill(ctx, dockerID, "SIGKILL"); err != nil {
		return err
	}
	return d.Start(ctx, dockerID)
}

func (d *Driver) WriteFile(ctx context.Context, dockerID, path string, content []byte, mode int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[dockerID]
	if !ok {
		return fmt.Errorf("no such container %s", dockerID)
	}
	c.files[path] = content
	return nil
}

func (d *Driver) ExecScript(ctx context.Context, dockerID, scriptPath string) (int, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.containers[dockerID]; !ok {
		return -1, nil, fmt.Errorf("no such container %s", dockerID)
	}
	if code, ok := d.ExecExitCodeFor[scriptPath]; ok {
		return code, d.ExecOutput, nil
	}
	return d.ExecExitCode, d.ExecOutput, nil
}

func (d *Driver) AttachLogs(ctx context.Context, dockerID string) (io.ReadCloser, error) {
	d.mu.Lock()
	chunks := append([]string(nil), d.LogChunks...)
	d.mu.Unlock()
	return io.NopCloser(strings.NewReader(strings.Join(chunks, "\n"))), nil
}

func (d *Driver) AttachStats(ctx context.Context, dockerID string) (<-chan dockerdriver.StatSample, error) {
	ch := make(chan dockerdriver.StatSample)
	close(ch)
	return ch, nil
}

func (d *Driver) Exists(ctx context.Context, dockerID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.containers[dockerID]
	return ok, nil
}

func (d *Driver) IsRunning(ctx context.Context, dockerID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[dockerID]
	if !ok {
		return false, fmt.Errorf("no such container %s", dockerID)
	}
	return c.running, nil
}

// StdinLog records everything written via SendInput, per dockerID.
func (d *Driver) StdinLog(dockerID string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[dockerID]; ok {
		return c.stdin
	}
	return nil
}

func (d *Driver) SendInput(ctx context.Context, dockerID string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.containers[dockerID]
	if !ok {
		return fmt.Errorf("no such container %s", dockerID)
	}
	c.stdin = append(c.stdin, data...)
	return nil
}

// Package domain holds the shared data model for container records, port
// bindings, and the events the rest of the daemon publishes about them.
package domain

import "time"

// InstallState is the one-shot install pipeline's outcome.
type InstallState string

const (
	InstallStateInstalling InstallState = "installing"
	InstallStateReady      InstallState = "ready"
	InstallStateFailed     InstallState = "failed"
)

// RuntimeState tracks the running phase of an already-installed container.
// It is reconstructed from Docker at boot rather than persisted — see
// DESIGN.md for the open-question resolution.
type RuntimeState string

const (
	RuntimeStopped  RuntimeState = "stopped"
	RuntimeStarting RuntimeState = "starting"
	RuntimeRunning  RuntimeState = "running"
	RuntimeStopping RuntimeState = "stopping"
	RuntimeExited   RuntimeState = "exited"
)

// Protocol is a port binding's transport protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// PortBinding is one (ip, port, protocol) triple a container holds.
type PortBinding struct {
	IP       string   `json:"ip"`
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// Limits caps a container's resource usage. Zero means unlimited.
type Limits struct {
	MemoryBytes uint64  `json:"memory_bytes"`
	CPUCores    float64 `json:"cpu_cores"`
}

// ContainerRecord is the durable, unique-by-InternalID row ContainerStore
// persists. See spec.md §3 for the invariants it must uphold.
type ContainerRecord struct {
	InternalID     string            `json:"internal_id"`
	DockerID       string            `json:"docker_id,omitempty"`
	VolumeID       string            `json:"volume_id"`
	VolumeRepoURL  string            `json:"volume_repo_url,omitempty"`
	Image          string            `json:"image"`
	StartupCommand string            `json:"startup_command"`
	StartPattern   string            `json:"start_pattern,omitempty"`
	Ports          []PortBinding     `json:"ports"`
	Limits         Limits            `json:"limits"`
	Mounts         map[string]string `json:"mounts"`
	InstallScript  string            `json:"install_script,omitempty"`
	InstallState   InstallState      `json:"install_state"`
	RuntimeState   RuntimeState      `json:"runtime_state"`

	// Owner labels the record for operator-side listing/filtering only;
	// it plays no role in any invariant.
	Owner string `json:"owner,omitempty"`

	// RebindingSince is non-nil while a network rebind is in flight. It
	// widens invariant 3 of spec.md §3 for the duration of the rebind
	// without touching InstallState, per the design note in spec.md §9.
	RebindingSince *int64 `json:"rebinding_since,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Touch stamps UpdatedAt with the current time.
func (c *ContainerRecord) Touch() {
	c.UpdatedAt = time.Now().Unix()
}

// NewContainerRecord builds a fresh record in the installing state.
func NewContainerRecord(internalID, volumeID, image, startupCommand string) *ContainerRecord {
	now := time.Now().Unix()
	return &ContainerRecord{
		InternalID:     internalID,
		VolumeID:       volumeID,
		Image:          image,
		StartupCommand: startupCommand,
		Mounts:         map[string]string{},
		InstallState:   InstallStateInstalling,
		RuntimeState:   RuntimeStopped,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsInstalling reports whether the install pipeline currently owns the
// record (mirrors the original's is_installing flag).
func (c *ContainerRecord) IsInstalling() bool {
	return c.InstallState == InstallStateInstalling
}

// Package docker is the boundary to the container engine: building images
// from unpacked bundle contexts and supervising runtime instances.
package docker

import (
	"context"
	"time"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client abstracts the container engine operations the core depends on.
type Client interface {
	// Image operations
	BuildImage(ctx context.Context, contextDir, tag string) (imageID string, err error)
	RemoveImage(ctx context.Context, ref string, force bool) error

	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	Ports  []PortBinding
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     string // "running", "exited", "created", etc.
	CreatedAt time.Time
	Ports     []PortBinding
	Labels    map[string]string
	ExitCode  int
}

// Running reports whether the container is currently running.
func (c *ContainerInfo) Running() bool {
	return c.State == "running"
}

// HostPort returns the first bound host port, or 0 if none is bound.
func (c *ContainerInfo) HostPort() int {
	for _, p := range c.Ports {
		if p.HostPort != 0 {
			return p.HostPort
		}
	}
	return 0
}

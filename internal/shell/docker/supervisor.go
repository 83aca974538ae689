package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Labels applied to every managed container.
const (
	LabelManaged    = "io.appdock.managed"
	LabelDeployment = "io.appdock.deployment"
)

// stopGracePeriod is how long a container gets to stop cleanly before the
// engine kills it.
const stopGracePeriod = 10 * time.Second

// =============================================================================
// Supervisor - Runs and Tears Down Instances
// =============================================================================

// Supervisor launches containers from built images and tears them down. It
// consumes host ports assigned by the caller; it never allocates ports itself.
type Supervisor struct {
	docker        Client
	containerPort int
	logger        *slog.Logger
}

// NewSupervisor creates a supervisor. containerPort is the port the
// application listens on inside the container.
func NewSupervisor(docker Client, containerPort int, logger *slog.Logger) *Supervisor {
	if containerPort == 0 {
		containerPort = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		docker:        docker,
		containerPort: containerPort,
		logger:        logger,
	}
}

// =============================================================================
// Launch
// =============================================================================

// Launch creates and starts a container for a deployment, binding the
// application port to hostPort. On failure the half-created container is
// removed best-effort and the error wraps ErrLaunchFailed; releasing the
// host port is the caller's job.
func (s *Supervisor) Launch(ctx context.Context, deploymentID, imageRef string, hostPort int, env map[string]string) (string, error) {
	spec := ContainerSpec{
		Name:  "appdock-" + deploymentID,
		Image: imageRef,
		Env:   env,
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelDeployment: deploymentID,
		},
		Ports: []PortBinding{
			{ContainerPort: s.containerPort, HostPort: hostPort, Protocol: "tcp"},
		},
	}

	containerID, err := s.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	s.logger.Debug("created container",
		"deployment_id", deploymentID,
		"container_id", shortID(containerID),
	)

	if err := s.docker.StartContainer(ctx, containerID); err != nil {
		if rmErr := s.docker.RemoveContainer(ctx, containerID, true); rmErr != nil {
			s.logger.Warn("failed to remove container after start failure",
				"container_id", shortID(containerID), "error", rmErr)
		}
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	s.logger.Info("instance launched",
		"deployment_id", deploymentID,
		"container_id", shortID(containerID),
		"host_port", hostPort,
	)
	return containerID, nil
}

// =============================================================================
// Teardown
// =============================================================================

// StopAndRemove stops and removes an instance. Stop and remove are attempted
// independently; an instance that is already gone counts as success, so the
// operation is idempotent. The returned port is the host port the instance
// was bound to, discovered best-effort from the engine (0 if unknown), so the
// caller can return it to the pool.
func (s *Supervisor) StopAndRemove(ctx context.Context, instanceID string) (int, error) {
	if instanceID == "" {
		return 0, nil
	}

	// Discover the bound host port before the container disappears.
	hostPort := 0
	info, err := s.docker.InspectContainer(ctx, instanceID)
	switch {
	case err == nil:
		hostPort = info.HostPort()
	case errors.Is(err, ErrContainerNotFound):
		s.logger.Info("instance already gone", "container_id", shortID(instanceID))
		return 0, nil
	default:
		s.logger.Warn("failed to inspect instance before teardown",
			"container_id", shortID(instanceID), "error", err)
	}

	var teardownErr error

	timeout := stopGracePeriod
	if err := s.docker.StopContainer(ctx, instanceID, &timeout); err != nil && !errors.Is(err, ErrContainerNotFound) {
		s.logger.Warn("failed to stop instance",
			"container_id", shortID(instanceID), "error", err)
		teardownErr = err
	}

	if err := s.docker.RemoveContainer(ctx, instanceID, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
		s.logger.Warn("failed to remove instance",
			"container_id", shortID(instanceID), "error", err)
		teardownErr = err
	}

	if teardownErr == nil {
		s.logger.Info("instance removed", "container_id", shortID(instanceID), "host_port", hostPort)
	}
	return hostPort, teardownErr
}

// shortID trims a container ID for log output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

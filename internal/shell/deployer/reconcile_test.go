package deployer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appdock/appdock/internal/core/domain"
	"github.com/appdock/appdock/internal/core/ports"
	"github.com/appdock/appdock/internal/shell/docker"
)

// seedRecord writes a deployment straight into the store, the way a previous
// process would have left it.
func seedRecord(t *testing.T, h *harness, name string, mutate func(*domain.Deployment)) *domain.Deployment {
	t.Helper()
	dep, err := domain.NewDeployment(name, "")
	require.NoError(t, err)
	if mutate != nil {
		mutate(dep)
	}
	require.NoError(t, h.store.CreateDeployment(context.Background(), dep))
	return dep
}

func TestReconcile_InterruptedDeploymentsMarkedFailed(t *testing.T) {
	h := setupDeployer(t, ports.Range{Min: 10000, Max: 10010})
	ctx := context.Background()

	queued := seedRecord(t, h, "queued-app", nil)
	building := seedRecord(t, h, "building-app", func(d *domain.Deployment) {
		require.NoError(t, d.Transition(domain.StateDeploying))
	})

	require.NoError(t, h.deployer.Reconcile(ctx))

	for _, id := range []string{queued.ID, building.ID} {
		dep, err := h.store.GetDeployment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateError, dep.State)
		assert.Contains(t, dep.ErrorMessage, "interrupted by restart")
	}
	assert.Zero(t, h.pool.Used())
}

func TestReconcile_SurvivingInstanceKeepsPort(t *testing.T) {
	h := setupDeployer(t, ports.Range{Min: 10000, Max: 10010})
	ctx := context.Background()

	// A container that survived the restart.
	instanceID, err := h.engine.CreateContainer(ctx, containerSpecForPort(10003))
	require.NoError(t, err)
	require.NoError(t, h.engine.StartContainer(ctx, instanceID))

	survivor := seedRecord(t, h, "survivor-app", func(d *domain.Deployment) {
		require.NoError(t, d.Transition(domain.StateDeploying))
		require.NoError(t, d.MarkRunning(instanceID, 10003))
	})

	require.NoError(t, h.deployer.Reconcile(ctx))

	dep, err := h.store.GetDeployment(ctx, survivor.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, dep.State)
	assert.Equal(t, 10003, dep.Port)

	// The surviving port is reserved again, so new allocations skip it.
	assert.Equal(t, 1, h.pool.Used())
	assert.ErrorIs(t, h.pool.Reserve(10003), ports.ErrAlreadyAllocated)
}

func TestReconcile_StoppedInstanceCleanedUp(t *testing.T) {
	h := setupDeployer(t, ports.Range{Min: 10000, Max: 10010})
	ctx := context.Background()

	// The container outlived the restart but is no longer running.
	instanceID, err := h.engine.CreateContainer(ctx, containerSpecForPort(10004))
	require.NoError(t, err)

	stopped := seedRecord(t, h, "stopped-app", func(d *domain.Deployment) {
		require.NoError(t, d.Transition(domain.StateDeploying))
		require.NoError(t, d.MarkRunning(instanceID, 10004))
	})
	h.engine.images[stopped.ImageRef] = true

	require.NoError(t, h.deployer.Reconcile(ctx))

	dep, err := h.store.GetDeployment(ctx, stopped.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, dep.State)
	assert.Empty(t, dep.InstanceID)
	assert.Zero(t, dep.Port)

	// The exited container and its image are gone from the engine.
	assert.Zero(t, h.engine.containerCount())
	assert.Zero(t, h.engine.imageCount())
	assert.Zero(t, h.pool.Used())
}

func TestReconcile_LostInstanceMarkedFailed(t *testing.T) {
	h := setupDeployer(t, ports.Range{Min: 10000, Max: 10010})
	ctx := context.Background()

	lost := seedRecord(t, h, "lost-app", func(d *domain.Deployment) {
		require.NoError(t, d.Transition(domain.StateDeploying))
		require.NoError(t, d.MarkRunning("container-gone", 10005))
	})

	require.NoError(t, h.deployer.Reconcile(ctx))

	dep, err := h.store.GetDeployment(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, dep.State)
	assert.Contains(t, dep.ErrorMessage, "instance missing")
	assert.Empty(t, dep.InstanceID)
	assert.Zero(t, dep.Port)
	assert.Zero(t, h.pool.Used())
}

func containerSpecForPort(hostPort int) docker.ContainerSpec {
	return docker.ContainerSpec{
		Name:  "appdock-test",
		Image: "appdock-test:cafe0001",
		Ports: []docker.PortBinding{{ContainerPort: 80, HostPort: hostPort, Protocol: "tcp"}},
	}
}

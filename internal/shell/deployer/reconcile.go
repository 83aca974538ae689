package deployer

import (
	"context"
	"errors"
	"time"

	"github.com/appdock/appdock/internal/core/domain"
	"github.com/appdock/appdock/internal/shell/docker"
)

// Reconcile aligns the record store with reality after a restart. The port
// pool is empty at this point; running deployments whose containers survived
// get their ports re-reserved, everything caught mid-flight is marked failed.
func (d *Deployer) Reconcile(ctx context.Context) error {
	for _, state := range []domain.State{domain.StateCreating, domain.StateDeploying} {
		interrupted, err := d.store.ListDeploymentsByState(ctx, state)
		if err != nil {
			return err
		}
		for i := range interrupted {
			dep := interrupted[i]
			if err := dep.MarkError("deployment interrupted by restart"); err != nil {
				d.logger.Error("failed to mark interrupted deployment",
					"deployment_id", dep.ID, "error", err)
				continue
			}
			if err := d.store.UpdateDeployment(ctx, &dep); err != nil {
				d.logger.Error("failed to record interrupted deployment",
					"deployment_id", dep.ID, "error", err)
				continue
			}
			d.logger.Info("marked interrupted deployment as failed",
				"deployment_id", dep.ID, "previous_state", state)
		}
	}

	running, err := d.store.ListDeploymentsByState(ctx, domain.StateRunning)
	if err != nil {
		return err
	}
	for i := range running {
		dep := running[i]
		if d.verifyInstance(ctx, &dep) {
			if err := d.pool.Reserve(dep.Port); err != nil {
				d.logger.Error("failed to re-reserve port",
					"deployment_id", dep.ID, "port", dep.Port, "error", err)
			}
			continue
		}

		// Nothing references the stale container or its image once the
		// record turns error; clean both up best-effort.
		if _, err := d.supervisor.StopAndRemove(ctx, dep.InstanceID); err != nil {
			d.logger.Warn("failed to remove stale instance",
				"deployment_id", dep.ID, "instance_id", dep.InstanceID, "error", err)
		}
		d.removeImage(dep.ImageRef)

		// Running is terminal in the user-facing lifecycle; losing the
		// instance across a restart is the one correction made outside it.
		dep.State = domain.StateError
		dep.InstanceID = ""
		dep.Port = 0
		dep.ErrorMessage = "instance missing after restart"
		dep.UpdatedAt = time.Now().UTC()
		if err := d.store.UpdateDeployment(ctx, &dep); err != nil {
			d.logger.Error("failed to record lost instance",
				"deployment_id", dep.ID, "error", err)
			continue
		}
		d.logger.Warn("instance missing after restart",
			"deployment_id", dep.ID)
	}

	d.logger.Info("reconciliation complete", "ports_reserved", d.pool.Used())
	return nil
}

// verifyInstance reports whether the deployment's container still exists and
// is running.
func (d *Deployer) verifyInstance(ctx context.Context, dep *domain.Deployment) bool {
	if dep.InstanceID == "" {
		return false
	}
	info, err := d.engine.InspectContainer(ctx, dep.InstanceID)
	if err != nil {
		if !errors.Is(err, docker.ErrContainerNotFound) {
			d.logger.Warn("failed to inspect instance during reconciliation",
				"deployment_id", dep.ID, "instance_id", dep.InstanceID, "error", err)
		}
		return false
	}
	return info.Running()
}

// Package deployer coordinates the full deployment lifecycle: accepting an
// uploaded bundle, building its image, launching an instance on an allocated
// host port, and tearing everything down on delete. The request path stays
// synchronous and cheap; build and launch run in background units.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/appdock/appdock/internal/core/domain"
	"github.com/appdock/appdock/internal/core/ports"
	"github.com/appdock/appdock/internal/shell/bundle"
	"github.com/appdock/appdock/internal/shell/docker"
	"github.com/appdock/appdock/internal/shell/store"
)

// EnvDeploymentID is injected into every instance so the application can
// identify its own deployment.
const EnvDeploymentID = "APPDOCK_DEPLOYMENT_ID"

// Config tunes the deployer.
type Config struct {
	// MaxConcurrent bounds how many build+launch units run at once.
	MaxConcurrent int
	// ContainerPort is the port the application listens on inside the
	// container, exported to it as the PORT environment variable.
	ContainerPort int
}

// task tracks one in-flight background unit so Delete can cancel it and wait
// for it to finalize.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Deployer owns the deployment lifecycle end to end.
type Deployer struct {
	store      store.Store
	engine     docker.Client
	supervisor *docker.Supervisor
	bundles    *bundle.Handler
	pool       *ports.Pool
	cfg        Config
	logger     *slog.Logger

	sem chan struct{}

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a deployer.
func New(st store.Store, engine docker.Client, supervisor *docker.Supervisor, bundles *bundle.Handler, pool *ports.Pool, cfg Config, logger *slog.Logger) *Deployer {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ContainerPort <= 0 {
		cfg.ContainerPort = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:      st,
		engine:     engine,
		supervisor: supervisor,
		bundles:    bundles,
		pool:       pool,
		cfg:        cfg,
		logger:     logger,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		tasks:      make(map[string]*task),
	}
}

// =============================================================================
// Submit
// =============================================================================

// SubmitRequest carries one deployment submission.
type SubmitRequest struct {
	Name        string
	Description string
	Bundle      io.Reader
}

// Submit accepts a deployment: the bundle is persisted and validated, the
// record is created in the creating state, and a background unit is spawned
// to build and launch. The returned record reflects the accepted submission,
// not the final outcome. On any synchronous failure nothing is left behind.
func (d *Deployer) Submit(ctx context.Context, req SubmitRequest) (*domain.Deployment, error) {
	deployment, err := domain.NewDeployment(req.Name, req.Description)
	if err != nil {
		return nil, err
	}

	uploadPath, err := d.bundles.Save(req.Bundle)
	if err != nil {
		return nil, err
	}

	if err := d.bundles.CheckDescriptor(uploadPath); err != nil {
		d.removeUpload(uploadPath)
		return nil, err
	}

	if err := d.store.CreateDeployment(ctx, deployment); err != nil {
		d.removeUpload(uploadPath)
		return nil, err
	}

	unitCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.tasks[deployment.ID] = t
	d.mu.Unlock()

	d.logger.Info("deployment accepted",
		"deployment_id", deployment.ID,
		"name", deployment.Name,
		"image_ref", deployment.ImageRef,
	)

	go d.runUnit(unitCtx, t, *deployment, uploadPath)

	return deployment, nil
}

// =============================================================================
// Background Unit
// =============================================================================

// runUnit drives one deployment from creating to running (or error). It owns
// the stored upload and any temp dir it creates; both are always cleaned up.
func (d *Deployer) runUnit(ctx context.Context, t *task, deployment domain.Deployment, uploadPath string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in deployment unit",
				"deployment_id", deployment.ID, "panic", fmt.Sprint(r))
			d.fail(&deployment, fmt.Sprintf("internal error: %v", r))
		}
		d.removeUpload(uploadPath)
		d.deregister(deployment.ID)
		close(t.done)
	}()

	// Queued deployments hold no resources and stay in creating.
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return
	}

	if err := deployment.Transition(domain.StateDeploying); err != nil {
		d.logger.Error("unexpected state before deploy",
			"deployment_id", deployment.ID, "state", deployment.State, "error", err)
		return
	}
	if err := d.store.UpdateDeployment(ctx, &deployment); err != nil {
		d.logger.Error("failed to record deploying state",
			"deployment_id", deployment.ID, "error", err)
		return
	}

	contextDir, err := os.MkdirTemp("", "appdock-build-")
	if err != nil {
		d.fail(&deployment, "failed to create build directory")
		return
	}
	defer os.RemoveAll(contextDir)

	if err := d.bundles.Extract(uploadPath, contextDir); err != nil {
		d.fail(&deployment, err.Error())
		return
	}

	if ctx.Err() != nil {
		return
	}

	if _, err := d.engine.BuildImage(ctx, contextDir, deployment.ImageRef); err != nil {
		if ctx.Err() != nil {
			d.removeImage(deployment.ImageRef)
			return
		}
		d.logger.Warn("image build failed",
			"deployment_id", deployment.ID, "image_ref", deployment.ImageRef, "error", err)
		d.fail(&deployment, buildFailureReason(err))
		return
	}

	if ctx.Err() != nil {
		d.removeImage(deployment.ImageRef)
		return
	}

	port, err := d.pool.Allocate()
	if err != nil {
		d.removeImage(deployment.ImageRef)
		d.fail(&deployment, err.Error())
		return
	}

	env := map[string]string{
		"PORT":          strconv.Itoa(d.cfg.ContainerPort),
		EnvDeploymentID: deployment.ID,
	}
	instanceID, err := d.supervisor.Launch(ctx, deployment.ID, deployment.ImageRef, port, env)
	if err != nil {
		d.pool.Release(port)
		d.removeImage(deployment.ImageRef)
		if ctx.Err() != nil {
			return
		}
		d.fail(&deployment, err.Error())
		return
	}

	if err := deployment.MarkRunning(instanceID, port); err != nil {
		d.rollbackInstance(instanceID, port, deployment.ImageRef)
		d.logger.Error("unexpected state at launch",
			"deployment_id", deployment.ID, "state", deployment.State, "error", err)
		return
	}
	if err := d.store.UpdateDeployment(ctx, &deployment); err != nil {
		// The record vanished (deleted mid-flight) or the store failed; the
		// instance must not outlive its record.
		d.rollbackInstance(instanceID, port, deployment.ImageRef)
		d.logger.Error("failed to record running state",
			"deployment_id", deployment.ID, "error", err)
		return
	}

	d.logger.Info("deployment running",
		"deployment_id", deployment.ID,
		"instance_id", instanceID,
		"port", port,
	)
}

// fail transitions the deployment to error with a reason and persists it.
func (d *Deployer) fail(deployment *domain.Deployment, reason string) {
	if deployment.State == domain.StateError {
		return
	}
	if err := deployment.MarkError(reason); err != nil {
		d.logger.Error("failed to mark deployment as errored",
			"deployment_id", deployment.ID, "error", err)
		return
	}
	if err := d.store.UpdateDeployment(context.Background(), deployment); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("failed to record error state",
				"deployment_id", deployment.ID, "error", err)
		}
		return
	}
	d.logger.Info("deployment failed",
		"deployment_id", deployment.ID, "reason", reason)
}

// rollbackInstance tears down a launched instance whose record could not be
// moved to running.
func (d *Deployer) rollbackInstance(instanceID string, port int, imageRef string) {
	if _, err := d.supervisor.StopAndRemove(context.Background(), instanceID); err != nil {
		d.logger.Warn("failed to roll back instance", "instance_id", instanceID, "error", err)
	}
	d.pool.Release(port)
	d.removeImage(imageRef)
}

func (d *Deployer) removeImage(imageRef string) {
	err := d.engine.RemoveImage(context.Background(), imageRef, true)
	if err != nil && !errors.Is(err, docker.ErrImageNotFound) {
		d.logger.Warn("failed to remove image", "image_ref", imageRef, "error", err)
	}
}

func (d *Deployer) removeUpload(path string) {
	if err := d.bundles.Remove(path); err != nil {
		d.logger.Warn("failed to remove upload", "path", path, "error", err)
	}
}

func (d *Deployer) deregister(id string) {
	d.mu.Lock()
	delete(d.tasks, id)
	d.mu.Unlock()
}

// buildFailureReason produces the persisted error message for a failed build,
// keeping the tail of the build log so the user can see what broke.
func buildFailureReason(err error) string {
	var buildErr *docker.BuildError
	if errors.As(err, &buildErr) && len(buildErr.Log) > 0 {
		tail := buildErr.Log
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		return fmt.Sprintf("image build failed: %s", tail[len(tail)-1])
	}
	return fmt.Sprintf("image build failed: %v", err)
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes a deployment: any in-flight unit is cancelled and awaited,
// the instance is stopped and removed if one exists, its port returns to the
// pool, and the record is deleted. Teardown problems are logged but never
// block deletion.
func (d *Deployer) Delete(ctx context.Context, id string) error {
	// Cancel and await any in-flight unit before reading the record. The unit
	// persists its final state before deregistering, so the read below is
	// authoritative whether a task was found or not.
	d.mu.Lock()
	t := d.tasks[id]
	d.mu.Unlock()
	if t != nil {
		t.cancel()
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	deployment, err := d.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}

	if deployment.InstanceID != "" {
		hostPort, err := d.supervisor.StopAndRemove(ctx, deployment.InstanceID)
		if err != nil {
			d.logger.Warn("instance teardown incomplete",
				"deployment_id", id, "instance_id", deployment.InstanceID, "error", err)
		}
		if hostPort == 0 {
			hostPort = deployment.Port
		}
		d.pool.Release(hostPort)
	}

	if deployment.ImageRef != "" {
		d.removeImage(deployment.ImageRef)
	}

	if err := d.store.DeleteDeployment(ctx, id); err != nil {
		return err
	}

	d.logger.Info("deployment deleted", "deployment_id", id, "name", deployment.Name)
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a deployment by ID.
func (d *Deployer) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return d.store.GetDeployment(ctx, id)
}

// GetByName returns a deployment by its unique name.
func (d *Deployer) GetByName(ctx context.Context, name string) (*domain.Deployment, error) {
	return d.store.GetDeploymentByName(ctx, name)
}

// List returns deployments ordered newest first.
func (d *Deployer) List(ctx context.Context, opts store.ListOptions) ([]domain.Deployment, error) {
	return d.store.ListDeployments(ctx, opts)
}

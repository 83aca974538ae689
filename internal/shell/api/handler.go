// Package api provides the HTTP surface for submitting and managing
// deployments.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/appdock/appdock/internal/core/domain"
	"github.com/appdock/appdock/internal/shell/bundle"
	"github.com/appdock/appdock/internal/shell/deployer"
	"github.com/appdock/appdock/internal/shell/docker"
	"github.com/appdock/appdock/internal/shell/store"
)

// multipartMemoryLimit is how much of a parsed multipart form is held in
// memory before spilling to disk.
const multipartMemoryLimit = 8 << 20

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the deployment API.
type Handler struct {
	deployer  *deployer.Deployer
	engine    docker.Client
	store     store.Store
	logger    *slog.Logger
	maxUpload int64
}

// NewHandler creates a new API handler. maxUpload caps the accepted request
// body for submissions, in bytes.
func NewHandler(d *deployer.Deployer, engine docker.Client, st store.Store, maxUpload int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deployer:  d,
		engine:    engine,
		store:     st,
		logger:    logger,
		maxUpload: maxUpload,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)

	r.Get("/health", h.handleHealth)

	r.Route("/api/deployments", func(r chi.Router) {
		r.Post("/", h.handleSubmitDeployment)
		r.Get("/", h.handleListDeployments)
		r.Get("/{id}", h.handleGetDeployment)
		r.Delete("/{id}", h.handleDeleteDeployment)
	})

	return r
}

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handler
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "docker": "ok"}
	healthy := true

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "failed"
		healthy = false
	}
	if err := h.engine.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		healthy = false
	}

	if !healthy {
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "degraded",
			Checks: checks,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

// handleSubmitDeployment accepts a multipart form with name, description and
// a zipped bundle, and answers 202 as soon as the submission is durably
// recorded; build and launch continue in the background.
func (h *Handler) handleSubmitDeployment(w http.ResponseWriter, r *http.Request) {
	// Generous margin over the bundle cap for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemoryLimit)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "bundle exceeds the upload limit", "bundle_too_large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "expected a multipart form", "validation_error")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("bundle")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bundle file is required", "validation_error")
		return
	}
	defer file.Close()

	deployment, err := h.deployer.Submit(r.Context(), deployer.SubmitRequest{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Bundle:      file,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, deploymentToResponse(deployment))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts = opts.Normalize()

	deployments, err := h.deployer.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Total:       len(deployments),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range deployments {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&deployments[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deployment, err := h.deployer.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to get deployment", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(deployment))
}

func (h *Handler) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.deployer.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to delete deployment", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete deployment", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, DeleteResponse{Message: "deployment deleted"})
}

// =============================================================================
// Helpers
// =============================================================================

// writeSubmitError maps submission failures onto HTTP statuses.
func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrInvalidDescription):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
	case errors.Is(err, bundle.ErrTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "bundle exceeds the upload limit", "bundle_too_large")
	case errors.Is(err, bundle.ErrNotZip):
		h.writeError(w, http.StatusBadRequest, "bundle must be a zip archive", "invalid_bundle")
	case errors.Is(err, bundle.ErrNoDockerfile):
		h.writeError(w, http.StatusBadRequest, "bundle must contain a Dockerfile at its root", "invalid_bundle")
	case errors.Is(err, store.ErrDuplicateName):
		h.writeError(w, http.StatusConflict, "a deployment with this name already exists", "duplicate_name")
	default:
		h.logger.Error("failed to submit deployment", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to submit deployment", "internal_error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// Package domain contains the pure deployment model: the entity, its
// lifecycle state machine, and input validation. No I/O happens here.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidName        = errors.New("name must be between 1 and 100 characters")
	ErrInvalidDescription = errors.New("description must be at most 500 characters")
	ErrInvalidTransition  = errors.New("invalid state transition")
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// =============================================================================
// Deployment State
// =============================================================================

type State string

const (
	StateCreating  State = "creating"
	StateDeploying State = "deploying"
	StateRunning   State = "running"
	StateError     State = "error"
)

// validTransitions defines the allowed state transitions.
// There is no way out of running or error except deletion of the record.
var validTransitions = map[State][]State{
	StateCreating:  {StateDeploying, StateError},
	StateDeploying: {StateRunning, StateError},
	StateRunning:   {},
	StateError:     {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether a state has no outgoing transitions.
func (s State) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment represents one user application through its build/run lifecycle.
type Deployment struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ImageRef     string    `json:"image_ref"`
	State        State     `json:"state"`
	InstanceID   string    `json:"instance_id,omitempty"`
	Port         int       `json:"port,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewDeployment validates the submitted fields and builds a deployment in the
// creating state with a fresh ID and a collision-free image reference.
func NewDeployment(name, description string) (*Deployment, error) {
	if len(name) == 0 || len(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if len(description) > MaxDescriptionLength {
		return nil, ErrInvalidDescription
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	return &Deployment{
		ID:          id,
		Name:        name,
		Description: description,
		ImageRef:    GenerateImageRef(name, id),
		State:       StateCreating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition attempts to move the deployment to a new state.
func (d *Deployment) Transition(to State) error {
	if err := ValidateTransition(d.State, to); err != nil {
		return err
	}
	d.State = to
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRunning transitions to running and records the instance identity and
// host port in the same mutation, so both are observed together.
func (d *Deployment) MarkRunning(instanceID string, port int) error {
	if err := ValidateTransition(d.State, StateRunning); err != nil {
		return err
	}
	d.State = StateRunning
	d.InstanceID = instanceID
	d.Port = port
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkError transitions to error with a human-readable reason and clears any
// instance/port association; the caller has already rolled those back.
func (d *Deployment) MarkError(reason string) error {
	if err := ValidateTransition(d.State, StateError); err != nil {
		return err
	}
	d.State = StateError
	d.InstanceID = ""
	d.Port = 0
	d.ErrorMessage = reason
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// Image Reference Generation
// =============================================================================

// GenerateImageRef derives an image tag from the deployment name plus a random
// suffix. Re-deploying a deleted name must never collide with an image still
// referenced by another instance, hence the suffix. A name whose slug comes
// out empty falls back to the deployment ID so the reference stays valid.
func GenerateImageRef(name, id string) string {
	slug := Slugify(name)
	if slug == "" {
		slug = strings.SplitN(id, "-", 2)[0]
	}
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("appdock-%s:%s", slug, hex.EncodeToString(suffix))
}

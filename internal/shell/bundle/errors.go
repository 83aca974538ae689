// Package bundle receives, validates and unpacks uploaded application bundles.
package bundle

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrTooLarge is returned when an upload exceeds the configured size limit.
	ErrTooLarge = errors.New("bundle exceeds maximum allowed size")

	// ErrNotZip is returned when the payload is not a well-formed zip archive.
	ErrNotZip = errors.New("bundle is not a valid zip archive")

	// ErrNoDockerfile is returned when the archive root has no Dockerfile.
	ErrNoDockerfile = errors.New("bundle does not contain a Dockerfile at its root")

	// ErrUnsafePath is returned when an archive entry resolves outside the
	// extraction root.
	ErrUnsafePath = errors.New("archive entry escapes extraction root")
)

// BundleError wraps errors with the operation and path that failed.
type BundleError struct {
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *BundleError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

// NewBundleError creates a new BundleError.
func NewBundleError(op, path, message string, err error) *BundleError {
	return &BundleError{
		Op:      op,
		Path:    path,
		Message: message,
		Err:     err,
	}
}

package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Descriptor is the build descriptor every bundle must carry at its root.
const Descriptor = "Dockerfile"

const copyChunkSize = 32 * 1024

// extractBudgetFactor bounds how far an archive may expand on disk relative
// to the upload cap.
const extractBudgetFactor = 10

// Handler stores and unpacks uploaded bundles under a working directory.
type Handler struct {
	dir     string
	maxSize int64
}

// NewHandler creates a handler that stores uploads in dir. Uploads larger
// than maxSize bytes are rejected mid-stream.
func NewHandler(dir string, maxSize int64) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewBundleError("NewHandler", dir, "failed to create upload directory", err)
	}
	return &Handler{dir: dir, maxSize: maxSize}, nil
}

// =============================================================================
// Upload Persistence
// =============================================================================

// Save streams an upload to a uniquely named file. The size limit is enforced
// incrementally so an oversized upload is aborted as soon as it crosses the
// limit rather than after full buffering; partial files are removed.
func (h *Handler) Save(r io.Reader) (string, error) {
	path := filepath.Join(h.dir, uuid.New().String()+".zip")

	f, err := os.Create(path)
	if err != nil {
		return "", NewBundleError("Save", path, "failed to create upload file", err)
	}

	var written int64
	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > h.maxSize {
				f.Close()
				os.Remove(path)
				return "", NewBundleError("Save", path,
					fmt.Sprintf("upload exceeds %d bytes", h.maxSize), ErrTooLarge)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(path)
				return "", NewBundleError("Save", path, "failed to write upload", werr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(path)
			return "", NewBundleError("Save", path, "failed to read upload stream", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", NewBundleError("Save", path, "failed to close upload file", err)
	}
	return path, nil
}

// Remove deletes a stored upload. Missing files are not an error.
func (h *Handler) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return NewBundleError("Remove", path, "failed to remove upload", err)
	}
	return nil
}

// =============================================================================
// Archive Validation
// =============================================================================

// CheckDescriptor verifies the archive is a readable zip whose root contains
// the build descriptor. A nested copy (e.g. app/Dockerfile) does not count.
func (h *Handler) CheckDescriptor(zipPath string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return NewBundleError("CheckDescriptor", zipPath, err.Error(), ErrNotZip)
	}
	defer r.Close()

	for _, zf := range r.File {
		if zf.Name == Descriptor {
			return nil
		}
	}
	return NewBundleError("CheckDescriptor", zipPath,
		"include a "+Descriptor+" at the root of your application archive", ErrNoDockerfile)
}

// =============================================================================
// Extraction
// =============================================================================

// Extract unpacks the archive into destDir. Entry paths are confined to the
// extraction root; anything resolving outside it fails with ErrUnsafePath.
// Symlinks and other special entries are skipped. The cumulative size of the
// extracted contents is capped at a multiple of the upload limit, so an
// archive that inflates far beyond its compressed size fails with ErrTooLarge
// instead of filling the disk.
func (h *Handler) Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return NewBundleError("Extract", zipPath, err.Error(), ErrNotZip)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return NewBundleError("Extract", destDir, "failed to create extraction root", err)
	}

	budget := h.maxSize * extractBudgetFactor
	var written int64
	for _, zf := range r.File {
		target := filepath.Join(destDir, zf.Name)
		if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return NewBundleError("Extract", zf.Name, "entry path escapes extraction root", ErrUnsafePath)
		}

		mode := zf.FileInfo().Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewBundleError("Extract", target, "failed to create directory", err)
			}
		case mode.IsRegular():
			n, err := extractFile(zf, target, budget-written+1)
			if err != nil {
				return err
			}
			written += n
			if written > budget {
				return NewBundleError("Extract", zf.Name,
					fmt.Sprintf("archive contents exceed %d bytes", budget), ErrTooLarge)
			}
		default:
			// Symlinks, devices and other special entries are skipped.
			continue
		}
	}
	return nil
}

// extractFile writes one archive entry, copying at most limit bytes so the
// caller can enforce the cumulative extraction budget.
func extractFile(zf *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, NewBundleError("Extract", target, "failed to create parent directory", err)
	}

	rc, err := zf.Open()
	if err != nil {
		return 0, NewBundleError("Extract", zf.Name, err.Error(), ErrNotZip)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.FileInfo().Mode().Perm()&0o777)
	if err != nil {
		return 0, NewBundleError("Extract", target, "failed to create file", err)
	}

	n, err := io.Copy(out, io.LimitReader(rc, limit))
	if err != nil {
		out.Close()
		return n, NewBundleError("Extract", target, "failed to write file", err)
	}
	return n, out.Close()
}

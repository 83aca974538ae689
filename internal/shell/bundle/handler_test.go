package bundle

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupHandler(t *testing.T, maxSize int64) *Handler {
	t.Helper()
	h, err := NewHandler(t.TempDir(), maxSize)
	require.NoError(t, err)
	return h
}

// makeZip builds a zip archive in memory from entry name -> content.
func makeZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeZipFile(t *testing.T, h *Handler, entries map[string]string) string {
	t.Helper()
	path, err := h.Save(bytes.NewReader(makeZip(t, entries)))
	require.NoError(t, err)
	return path
}

// =============================================================================
// Save Tests
// =============================================================================

func TestSave_StoresUpload(t *testing.T) {
	h := setupHandler(t, 1<<20)

	path, err := h.Save(strings.NewReader("payload"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestSave_RejectsOversizedUpload(t *testing.T) {
	h := setupHandler(t, 10)

	_, err := h.Save(strings.NewReader(strings.Repeat("x", 11)))
	assert.ErrorIs(t, err, ErrTooLarge)

	// The partial file must not be left behind.
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_AcceptsUploadAtLimit(t *testing.T) {
	h := setupHandler(t, 10)

	_, err := h.Save(strings.NewReader(strings.Repeat("x", 10)))
	assert.NoError(t, err)
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	h := setupHandler(t, 1<<20)
	assert.NoError(t, h.Remove(filepath.Join(h.dir, "never-existed.zip")))
}

// =============================================================================
// Descriptor Check Tests
// =============================================================================

func TestCheckDescriptor_RootDockerfile(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path := writeZipFile(t, h, map[string]string{
		"Dockerfile": "FROM scratch",
		"index.html": "<h1>hi</h1>",
	})

	assert.NoError(t, h.CheckDescriptor(path))
}

func TestCheckDescriptor_MissingDockerfile(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path := writeZipFile(t, h, map[string]string{
		"index.html": "<h1>hi</h1>",
	})

	assert.ErrorIs(t, h.CheckDescriptor(path), ErrNoDockerfile)
}

func TestCheckDescriptor_NestedDockerfileDoesNotCount(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path := writeZipFile(t, h, map[string]string{
		"app/Dockerfile": "FROM scratch",
	})

	assert.ErrorIs(t, h.CheckDescriptor(path), ErrNoDockerfile)
}

func TestCheckDescriptor_NotAZip(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path, err := h.Save(strings.NewReader("this is not a zip"))
	require.NoError(t, err)

	assert.ErrorIs(t, h.CheckDescriptor(path), ErrNotZip)
}

// =============================================================================
// Extraction Tests
// =============================================================================

func TestExtract_WritesEntries(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path := writeZipFile(t, h, map[string]string{
		"Dockerfile":        "FROM scratch",
		"static/index.html": "<h1>hi</h1>",
	})

	dest := t.TempDir()
	require.NoError(t, h.Extract(path, dest))

	data, err := os.ReadFile(filepath.Join(dest, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, "FROM scratch", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "static", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path := writeZipFile(t, h, map[string]string{
		"../../etc/passwd": "root:x:0:0",
	})

	dest := t.TempDir()
	err := h.Extract(path, dest)
	assert.ErrorIs(t, err, ErrUnsafePath)

	// Nothing may have been written outside the extraction root.
	_, statErr := os.Stat(filepath.Join(dest, "..", "..", "etc", "passwd"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_RejectsOversizedContents(t *testing.T) {
	h := setupHandler(t, 1024)

	// Highly compressible payload: well under the upload cap compressed, far
	// past the extraction budget once inflated.
	path := writeZipFile(t, h, map[string]string{
		"Dockerfile": "FROM scratch",
		"bomb.bin":   strings.Repeat("\x00", 64<<10),
	})

	dest := t.TempDir()
	assert.ErrorIs(t, h.Extract(path, dest), ErrTooLarge)

	// The oversized entry must not have reached disk in full.
	if st, err := os.Stat(filepath.Join(dest, "bomb.bin")); err == nil {
		assert.Less(t, st.Size(), int64(64<<10))
	}
}

func TestExtract_NotAZip(t *testing.T) {
	h := setupHandler(t, 1<<20)
	path, err := h.Save(strings.NewReader("garbage"))
	require.NoError(t, err)

	assert.ErrorIs(t, h.Extract(path, t.TempDir()), ErrNotZip)
}

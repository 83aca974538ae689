// Package e2e exercises a live appdock server end to end. The suite is
// skipped unless APPDOCK_E2E_URL points at a running instance with a real
// Docker engine behind it.
package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serverURL returns the target server, skipping the test when none is
// configured.
func serverURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("APPDOCK_E2E_URL")
	if url == "" {
		t.Skip("APPDOCK_E2E_URL not set; skipping end-to-end test")
	}
	return url
}

// =============================================================================
// HTTP Helpers
// =============================================================================

func httpGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp
}

func httpDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(v))
}

// =============================================================================
// Deployment Helpers
// =============================================================================

type deploymentJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	Port         int    `json:"port"`
	ErrorMessage string `json:"error_message"`
}

// submitBundle posts a zipped bundle and returns the response.
func submitBundle(t *testing.T, base, name string, files map[string]string) *http.Response {
	t.Helper()

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for entry, content := range files {
		f, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", name))
	part, err := mw.CreateFormFile("bundle", "bundle.zip")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(base+"/api/deployments", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

// waitForTerminal polls until the deployment leaves the transient states.
func waitForTerminal(t *testing.T, base, id string, timeout time.Duration) deploymentJSON {
	t.Helper()
	var dep deploymentJSON
	require.Eventually(t, func() bool {
		resp := httpGet(t, base+"/api/deployments/"+id)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		decodeJSON(t, resp.Body, &dep)
		return dep.State == "running" || dep.State == "error"
	}, timeout, 500*time.Millisecond)
	return dep
}

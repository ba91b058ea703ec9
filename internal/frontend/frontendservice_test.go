package frontend

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShellServer(t *testing.T) *echo.Echo {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":           "<html>shell</html>",
		"offline.html":         "<html>offline</html>",
		"sw.js":                "// worker",
		"manifest.webmanifest": "{}",
		"app.js":               "// app",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	e := echo.New()
	e.GET("/api/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	NewFrontendService(dir, "/api", "/health").SetRoutes(e)
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServesShellFiles(t *testing.T) {
	e := newShellServer(t)
	rec := get(e, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "// app", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Cache-Control"), "static asset should not be marked no-cache")
}

func TestWorkerAndManifestAreNotCached(t *testing.T) {
	e := newShellServer(t)
	for _, path := range []string{"/sw.js", "/manifest.webmanifest"} {
		rec := get(e, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store", path)
	}
}

func TestUnknownRouteFallsBackToIndex(t *testing.T) {
	e := newShellServer(t)
	rec := get(e, "/gallery/42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>shell</html>", rec.Body.String())
}

func TestAPIRoutesAreNotShadowed(t *testing.T) {
	e := newShellServer(t)
	assert.Equal(t, "pong", get(e, "/api/ping").Body.String())
	assert.Equal(t, http.StatusNotFound, get(e, "/api/missing").Code)
}

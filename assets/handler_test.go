package assets

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashgate/dashgate/mimetype"
)

func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>home</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log('hi');"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "css", "main.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.html"), []byte("<html>docs</html>"), 0o644))
	return root
}

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	opts = append([]Option{WithTypes(mimetype.NewTable(nil))}, opts...)
	return New(newTestRoot(t), opts...)
}

func get(h *Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServeFile(t *testing.T) {
	h := newTestHandler(t)

	w := get(h, "/app.js")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	require.Equal(t, "console.log('hi');", w.Body.String())

	w = get(h, "/css/main.css")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/css", w.Header().Get("Content-Type"))
}

func TestServeDirectoryIndex(t *testing.T) {
	h := newTestHandler(t)

	w := get(h, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/html", w.Header().Get("Content-Type"))
	require.Equal(t, "<html>home</html>", w.Body.String())

	w = get(h, "/docs/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "<html>docs</html>", w.Body.String())
}

func TestServeNotFound(t *testing.T) {
	h := newTestHandler(t)

	w := get(h, "/missing.js")
	require.Equal(t, http.StatusNotFound, w.Code)

	// Directory without an index file.
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "empty"), 0o755))
	w = get(h, "/empty/")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectsTraversal(t *testing.T) {
	h := newTestHandler(t)

	for _, target := range []string{
		"/../secret.txt",
		"/static/../../etc/passwd",
		"/..",
		"/a/..\\..\\b",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.Path = target
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code, "path %s", target)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/app.js", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestETagConditionalRequests(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "etags.db"), nil)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	h := newTestHandler(t, WithETagIndex(ix))

	w := get(h, "/app.js")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.True(t, etag[0] == '"', "expected a strong quoted ETag, got %s", etag)

	// Second request hits the persisted entry and returns the same tag.
	w = get(h, "/app.js")
	require.Equal(t, etag, w.Header().Get("ETag"))

	// A matching validator short-circuits to 304 with no body.
	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotModified, w.Code)
	require.Zero(t, w.Body.Len())
}

func TestETagRecomputedAfterChange(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "etags.db"), nil)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	h := newTestHandler(t, WithETagIndex(ix))

	w := get(h, "/app.js")
	before := w.Header().Get("ETag")
	require.NotEmpty(t, before)

	full := filepath.Join(h.root, "app.js")
	require.NoError(t, os.WriteFile(full, []byte("console.log('changed');"), 0o644))
	// Force a distinct mtime in case the rewrite lands in the same instant.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(full, future, future))

	w = get(h, "/app.js")
	after := w.Header().Get("ETag")
	require.NotEmpty(t, after)
	require.NotEqual(t, before, after)
}

func TestIfModifiedSince(t *testing.T) {
	h := newTestHandler(t)

	// Pin the mtime so the header comparison is exact.
	mtime := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, "app.js"), mtime, mtime))

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Header.Set("If-Modified-Since", mtime.Format(http.TimeFormat))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotModified, w.Code)
}

func TestRangeRequest(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Header.Set("Range", "bytes=0-6")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	require.Equal(t, "console", w.Body.String())
}

func TestFailMapsErrors(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		err  error
		want int
	}{
		{fs.ErrNotExist, http.StatusNotFound},
		{fs.ErrPermission, http.StatusForbidden},
		{fs.ErrClosed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		h.fail(w, req, tt.err)
		require.Equal(t, tt.want, w.Code)
	}
}

func TestContainsDotDot(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b", false},
		{"/a..b/c", false},
		{"/..", true},
		{"/a/../b", true},
		{"\\..\\x", true},
		{"", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, containsDotDot(tt.path), "path %q", tt.path)
	}
}

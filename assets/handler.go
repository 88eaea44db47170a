// Package assets serves static files from the GUI document root.
package assets

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dashgate/dashgate/mimetype"
	"github.com/dashgate/dashgate/telemetry"
)

// Handler serves files from a document root with MIME resolution, content
// ETags, and conditional request support (If-None-Match, If-Modified-Since,
// Range). The URL path maps onto the root by concatenation; paths with ".."
// segments are rejected before touching the filesystem.
type Handler struct {
	root   string
	types  *mimetype.Table
	index  *Index
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTypes sets the MIME table used for Content-Type resolution.
func WithTypes(t *mimetype.Table) Option {
	return func(h *Handler) {
		if t != nil {
			h.types = t
		}
	}
}

// WithETagIndex enables persistent content ETags. Without an index the
// handler serves Last-Modified validators only.
func WithETagIndex(ix *Index) Option {
	return func(h *Handler) {
		h.index = ix
	}
}

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New creates a handler serving files under root.
func New(root string, opts ...Option) *Handler {
	h := &Handler{
		root:   root,
		types:  mimetype.NewTable(nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.SetBackend(r, telemetry.BackendStatic)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if containsDotDot(r.URL.Path) {
		telemetry.SetOutcome(r, "rejected")
		telemetry.RecordStaticServe(r.Context(), "rejected")
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	f, fi, name, err := h.open(r.URL.Path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", h.types.Lookup(name))
	if etag := h.etag(r, name, fi); etag != "" {
		w.Header().Set("ETag", etag)
	}

	telemetry.SetOutcome(r, "ok")
	telemetry.RecordStaticServe(r.Context(), "ok")
	// Content-Type is already set, so ServeContent won't sniff; it handles
	// conditional and range requests.
	http.ServeContent(w, r, "", fi.ModTime(), f)
}

// open resolves the URL path under the document root. Directories resolve
// to their index.html. Returns the open file, its info, and the cleaned
// request path used as the ETag index key.
func (h *Handler) open(urlPath string) (*os.File, os.FileInfo, string, error) {
	name := path.Clean(urlPath)
	f, fi, err := h.openFile(name)
	if err != nil {
		return nil, nil, name, err
	}
	if fi.IsDir() {
		_ = f.Close()
		name = path.Join(name, "index.html")
		f, fi, err = h.openFile(name)
		if err != nil {
			return nil, nil, name, err
		}
	}
	return f, fi, name, nil
}

func (h *Handler) openFile(name string) (*os.File, os.FileInfo, error) {
	full := filepath.Join(h.root, filepath.FromSlash(name))
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, fi, nil
}

// etag returns the strong validator for the file, consulting the index
// first and rehashing only when the file's size or mtime changed.
func (h *Handler) etag(r *http.Request, name string, fi os.FileInfo) string {
	if h.index == nil {
		return ""
	}

	e, ok := h.index.Get(name)
	if ok && e.Size == fi.Size() && e.ModTime == fi.ModTime().UnixNano() {
		telemetry.RecordETagLookup(r.Context(), "hit")
		return e.ETag
	}
	result := "miss"
	if ok {
		result = "stale"
	}
	telemetry.RecordETagLookup(r.Context(), result)

	full := filepath.Join(h.root, filepath.FromSlash(name))
	etag, err := computeETag(full)
	if err != nil {
		h.logger.Warn("etag hash failed", "path", name, "error", err)
		return ""
	}
	entry := Entry{ETag: etag, Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}
	if err := h.index.Put(name, entry); err != nil {
		h.logger.Warn("etag index write failed", "path", name, "error", err)
	}
	return etag
}

// fail maps filesystem errors onto response statuses: missing files are
// 404, permission errors are 403, anything else is a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		telemetry.SetOutcome(r, "not_found")
		telemetry.RecordStaticServe(r.Context(), "not_found")
		http.NotFound(w, r)
	case errors.Is(err, fs.ErrPermission):
		telemetry.SetOutcome(r, "forbidden")
		telemetry.RecordStaticServe(r.Context(), "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		telemetry.SetOutcome(r, "error")
		telemetry.RecordStaticServe(r.Context(), "error")
		h.logger.Error("static serve failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// containsDotDot reports whether any slash-separated path segment is "..".
// Such paths are rejected outright rather than resolved, so a traversal
// attempt can never escape the document root.
func containsDotDot(v string) bool {
	if !strings.Contains(v, "..") {
		return false
	}
	for _, seg := range strings.FieldsFunc(v, isSlashRune) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isSlashRune(r rune) bool { return r == '/' || r == '\\' }

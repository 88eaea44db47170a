// Package compression provides the gzip response filter.
package compression

import (
	"bufio"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/dashgate/dashgate/telemetry"
)

const (
	// DefaultLevel is the gzip compression level used when none is configured.
	DefaultLevel = 4

	// DefaultBufferSize is the per-response write buffer size.
	DefaultBufferSize = 8 * 1024

	// DefaultBufferCount bounds the pool of warm gzip writers.
	DefaultBufferCount = 4
)

// Policy decides which responses are compressed and how.
type Policy struct {
	// Enabled turns the filter on.
	Enabled bool

	// Level is the gzip compression level, 1 (fastest) to 9 (best).
	Level int

	// Types lists the eligible content types. Matching ignores parameters
	// such as charset and is case-insensitive.
	Types []string

	// BufferSize is the size of the buffered writer in front of the
	// network connection.
	BufferSize int

	// BufferCount bounds how many idle gzip writers are kept for reuse.
	BufferCount int
}

func (p Policy) withDefaults() Policy {
	if p.Level < gzip.BestSpeed || p.Level > gzip.BestCompression {
		p.Level = DefaultLevel
	}
	if p.BufferSize <= 0 {
		p.BufferSize = DefaultBufferSize
	}
	if p.BufferCount <= 0 {
		p.BufferCount = DefaultBufferCount
	}
	return p
}

// Eligible reports whether a response content type qualifies under the policy.
func (p Policy) Eligible(contentType string) bool {
	ct := contentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, t := range p.Types {
		if ct == strings.ToLower(t) {
			return true
		}
	}
	return false
}

// Middleware returns the gzip filter for the policy. A response passes
// through untouched unless the client advertises gzip support, the request
// is HTTP/1.0 or newer, the response carries an eligible content type, and
// no content encoding was already applied.
func Middleware(p Policy) func(http.Handler) http.Handler {
	p = p.withDefaults()
	if !p.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	pool := make(chan *gzip.Writer, p.BufferCount)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || !r.ProtoAtLeast(1, 0) || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(w, r)
				return
			}
			gw := &responseWriter{ResponseWriter: w, req: r, policy: p, pool: pool}
			defer gw.finish()
			next.ServeHTTP(gw, r)
		})
	}
}

// acceptsGzip reports whether the Accept-Encoding header includes gzip.
func acceptsGzip(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		enc := strings.TrimSpace(part)
		if i := strings.IndexByte(enc, ';'); i >= 0 {
			enc = strings.TrimSpace(enc[:i])
		}
		if strings.EqualFold(enc, "gzip") || enc == "*" {
			return true
		}
	}
	return false
}

// responseWriter defers the compress-or-passthrough decision until the
// response headers are final, then streams the body through a pooled gzip
// writer when the policy allows.
type responseWriter struct {
	http.ResponseWriter
	req     *http.Request
	policy  Policy
	pool    chan *gzip.Writer
	buf     *bufio.Writer
	gz      *gzip.Writer
	decided bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.decided {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.decided = true

	h := w.Header()
	ct := h.Get("Content-Type")
	switch {
	// Range responses pass through untouched: Content-Range describes
	// identity bytes, so a gzipped body would corrupt resumed downloads.
	case bodyless(status), status == http.StatusPartialContent,
		h.Get("Content-Encoding") != "", !w.policy.Eligible(ct):
		w.ResponseWriter.WriteHeader(status)
		return
	}

	// Compressing invalidates the declared length, and a strong validator
	// cannot cover two codings of the same content.
	h.Del("Content-Length")
	if etag := h.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		h.Set("ETag", "W/"+etag)
	}
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")

	w.buf = bufio.NewWriterSize(w.ResponseWriter, w.policy.BufferSize)
	w.gz = w.acquire()
	w.gz.Reset(w.buf)
	w.ResponseWriter.WriteHeader(status)
	telemetry.RecordCompressed(w.req.Context(), ct)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.decided {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher so streamed upstream responses keep flowing
// through the filter.
func (w *responseWriter) Flush() {
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish closes the gzip stream and returns the writer to the pool.
func (w *responseWriter) finish() {
	if w.gz == nil {
		return
	}
	_ = w.gz.Close()
	_ = w.buf.Flush()
	w.release(w.gz)
	w.gz = nil
	w.buf = nil
}

func (w *responseWriter) acquire() *gzip.Writer {
	select {
	case gz := <-w.pool:
		return gz
	default:
		gz, _ := gzip.NewWriterLevel(nil, w.policy.Level)
		return gz
	}
}

func (w *responseWriter) release(gz *gzip.Writer) {
	select {
	case w.pool <- gz:
	default:
	}
}

// bodyless reports whether the status code forbids a response body.
func bodyless(status int) bool {
	return status == http.StatusNoContent ||
		status == http.StatusNotModified ||
		(status >= 100 && status < 200)
}

package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dashgate/dashgate/telemetry"
)

// Forwarder is an http.Handler that relays requests to a single upstream.
// It forwards method, headers, and body unmodified apart from the standard
// proxy header rewrites, and streams the upstream response back as-is.
// Failed exchanges are reported immediately; there are no retries.
type Forwarder struct {
	upstream    *Upstream
	stripPrefix string
	logger      *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithStripPrefix removes the route prefix from the path before forwarding,
// so the upstream sees paths relative to its own root.
func WithStripPrefix(prefix string) ForwarderOption {
	return func(f *Forwarder) {
		f.stripPrefix = prefix
	}
}

// WithLogger sets the logger for the forwarder.
func WithLogger(logger *slog.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder for the upstream.
func NewForwarder(upstream *Upstream, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		upstream: upstream,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.SetBackend(r, telemetry.BackendProxy)

	ctx, cancel := context.WithTimeout(r.Context(), f.upstream.timeout)
	defer cancel()

	out, err := f.outboundRequest(ctx, r)
	if err != nil {
		f.logger.Error("building upstream request failed", "upstream", f.upstream.name, "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := f.upstream.transport.RoundTrip(out)
	if err != nil {
		f.fail(w, r, ctx, err, time.Since(start))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	dropHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	telemetry.SetOutcome(r, "ok")

	written, relayErr := relay(w, resp.Body)
	outcome := "ok"
	if relayErr != nil {
		// Client disconnects mid-stream land here; the upstream connection
		// is released by the deferred body close.
		outcome = "client_gone"
		telemetry.SetOutcome(r, "client_gone")
		f.logger.Debug("response relay aborted", "upstream", f.upstream.name, "error", relayErr)
	}
	telemetry.RecordUpstreamForward(r.Context(), f.upstream.name, time.Since(start), written, outcome)
}

// outboundRequest builds the upstream request: rewritten URL, cloned
// headers without hop-by-hop fields, and the standard forwarding headers.
func (f *Forwarder) outboundRequest(ctx context.Context, r *http.Request) (*http.Request, error) {
	target := *f.upstream.baseURL
	p := r.URL.Path
	if f.stripPrefix != "" {
		p = strings.TrimPrefix(p, f.stripPrefix)
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
	}
	target.Path = joinPath(f.upstream.baseURL.Path, p)
	target.RawQuery = r.URL.RawQuery
	target.Fragment = ""

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength

	out.Header = r.Header.Clone()
	dropHopByHop(out.Header)
	setForwardHeaders(out.Header, r)
	out.Host = f.upstream.baseURL.Host
	return out, nil
}

// fail translates transport errors into the proxy error statuses:
// deadline exceeded means the upstream was reached but too slow (504),
// anything else means it could not be reached (502). A request whose own
// context is gone gets no response at all; the client already left.
func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, ctx context.Context, err error, elapsed time.Duration) {
	var outcome string
	switch {
	case r.Context().Err() != nil:
		outcome = "client_gone"
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		outcome = "upstream_timeout"
		f.logger.Error("upstream timed out", "upstream", f.upstream.name, "timeout", f.upstream.timeout, "error", err)
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		outcome = "upstream_unreachable"
		f.logger.Error("upstream unreachable", "upstream", f.upstream.name, "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
	}
	telemetry.SetOutcome(r, outcome)
	telemetry.RecordUpstreamForward(r.Context(), f.upstream.name, elapsed, 0, outcome)
}

// relay streams the upstream body to the client, flushing as data arrives
// so long-polling dashboard responses are not held back. It returns the
// number of bytes relayed.
func relay(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// setForwardHeaders applies the standard proxy header rewrites.
func setForwardHeaders(h http.Header, r *http.Request) {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			h.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			h.Set("X-Forwarded-For", ip)
		}
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Host", r.Host)
}

// hopByHop lists connection-scoped headers that must not be forwarded.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// dropHopByHop removes hop-by-hop headers, including any named by the
// Connection header itself.
func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for name := range hopByHop {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// joinPath joins a base path and a request path with exactly one slash.
func joinPath(a, b string) string {
	switch {
	case a == "" || a == "/":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}

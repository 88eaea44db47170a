// Package server assembles the gateway HTTP server.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/dashgate/dashgate/assets"
	"github.com/dashgate/dashgate/compression"
	"github.com/dashgate/dashgate/config"
	"github.com/dashgate/dashgate/mimetype"
	"github.com/dashgate/dashgate/proxy"
	"github.com/dashgate/dashgate/router"
	"github.com/dashgate/dashgate/telemetry"
)

// Server is the gateway HTTP server. It wires the router, static file
// handler, and upstream forwarders behind a middleware chain, and enforces
// the connection ceiling and keepalive timeout on its listener.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	etagIndex  *assets.Index

	mu       sync.Mutex
	listener net.Listener
}

// New builds a server from the configuration. The configuration is
// validated and then treated as read-only.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger}

	types := mimetype.NewTable(cfg.MIMETypes)

	var staticOpts []assets.Option
	staticOpts = append(staticOpts,
		assets.WithTypes(types),
		assets.WithLogger(logger.With("component", "assets")),
	)
	if cfg.ETagIndexPath != "" {
		ix, err := assets.OpenIndex(cfg.ETagIndexPath, logger.With("component", "etag-index"))
		if err != nil {
			return nil, err
		}
		s.etagIndex = ix
		staticOpts = append(staticOpts, assets.WithETagIndex(ix))
	}
	static := assets.New(cfg.DocRoot, staticOpts...)

	upstreams := make(map[string]*proxy.Upstream, len(cfg.Upstreams))
	for name, raw := range cfg.Upstreams {
		up, err := proxy.NewUpstream(name, raw, proxy.WithTimeout(cfg.UpstreamTimeout))
		if err != nil {
			_ = s.etagIndex.Close()
			return nil, err
		}
		upstreams[name] = up
	}

	rules := make([]router.Rule, 0, len(cfg.Routes))
	for _, rr := range cfg.Routes {
		var handler http.Handler
		if rr.Target == config.TargetStatic {
			handler = static
		} else {
			opts := []proxy.ForwarderOption{
				proxy.WithLogger(logger.With("component", "proxy", "upstream", rr.Target)),
			}
			if rr.StripPrefix {
				opts = append(opts, proxy.WithStripPrefix(rr.Prefix))
			}
			handler = proxy.NewForwarder(upstreams[rr.Target], opts...)
		}
		kind := router.MatchPrefix
		if rr.Match == config.MatchPrefixStop {
			kind = router.MatchPrefixStop
		}
		rules = append(rules, router.Rule{
			Name:    rr.Name,
			Prefix:  rr.Prefix,
			Kind:    kind,
			Handler: handler,
		})
	}
	table, err := router.New(rules)
	if err != nil {
		_ = s.etagIndex.Close()
		return nil, err
	}

	// Exact-path endpoints are dispatched by hand: a ServeMux canonicalizes
	// ".." paths into a redirect before the static handler can reject them.
	gzipped := compression.Middleware(cfg.Gzip)(table)
	prom := telemetry.PrometheusHandler()
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			s.handleHealth(w, r)
		case "/metrics":
			prom.ServeHTTP(w, r)
		default:
			gzipped.ServeHTTP(w, r)
		}
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.loggingMiddleware(s.compatMiddleware(root)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // dashboards long-poll
		IdleTimeout:       cfg.KeepaliveTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s, nil
}

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetBackend(r, telemetry.BackendInternal)
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// compatMiddleware stamps the legacy IE rendering hint on every response.
func (s *Server) compatMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-UA-Compatible", "IE=edge")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so the router and handlers can set route,
		// backend, and outcome.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		if tags.Route != "" {
			attrs = append(attrs, "route", tags.Route)
		}
		if tags.Backend != "" {
			attrs = append(attrs, "backend", string(tags.Backend))
		}
		if tags.Outcome != "" {
			attrs = append(attrs, "outcome", tags.Outcome)
		}
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start listens and serves until Shutdown is called. The listener is
// capped at MaxConnections; connections beyond the ceiling wait in the
// kernel accept queue rather than being accepted.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = netutil.LimitListener(ln, s.cfg.MaxConnections)
	s.mu.Unlock()

	s.logger.Info("starting server",
		"address", ln.Addr().String(),
		"doc_root", s.cfg.DocRoot,
		"max_connections", s.cfg.MaxConnections,
		"keepalive_timeout", s.cfg.KeepaliveTimeout,
	)

	s.mu.Lock()
	ln = s.listener
	s.mu.Unlock()
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.etagIndex.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Address returns the bound listen address once Start has been called, or
// the configured address before that.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// Handler returns the server's root handler, including the full middleware
// chain. Used by tests to exercise the server without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Package proxy forwards matched requests to upstream dashboard services.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single proxied exchange when no timeout is
// configured.
const DefaultTimeout = 60 * time.Second

// Upstream describes an external HTTP service requests are forwarded to.
// Connections are transient: one exchange per proxied request, released on
// completion. The upstream owns no lifecycle beyond its idle connection pool.
type Upstream struct {
	name      string
	baseURL   *url.URL
	timeout   time.Duration
	transport http.RoundTripper
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithTimeout bounds each proxied exchange. Exceeding it surfaces as a
// 504 to the client.
func WithTimeout(d time.Duration) UpstreamOption {
	return func(u *Upstream) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithTransport sets a custom transport (mainly for tests).
func WithTransport(rt http.RoundTripper) UpstreamOption {
	return func(u *Upstream) {
		u.transport = rt
	}
}

// NewUpstream parses the upstream base URL and applies options.
func NewUpstream(name, rawURL string, opts ...UpstreamOption) (*Upstream, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream %s URL: %w", name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream %s: unsupported scheme %q", name, base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("upstream %s: missing host in %q", name, rawURL)
	}

	u := &Upstream{
		name:    name,
		baseURL: base,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.transport == nil {
		u.transport = newTransport()
	}
	return u, nil
}

// Name returns the upstream's configured name.
func (u *Upstream) Name() string {
	return u.name
}

// Timeout returns the per-exchange deadline.
func (u *Upstream) Timeout() time.Duration {
	return u.timeout
}

// newTransport builds the default transport for upstream connections.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

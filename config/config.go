// Package config loads gateway configuration from compiled-in defaults and
// an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dashgate/dashgate/compression"
)

// Route targets. Anything else names an entry in Upstreams.
const TargetStatic = "static"

// Route match kinds as spelled in the config file.
const (
	MatchPrefixStop = "prefix-stop"
	MatchPrefix     = "prefix"
)

// RouteRule binds a path prefix to a target: the static document root or a
// named upstream.
type RouteRule struct {
	Name        string
	Prefix      string
	Match       string
	Target      string
	StripPrefix bool
}

// Config is the gateway configuration. Loaded once at startup and treated
// as read-only for the life of the process.
type Config struct {
	// Listen is the address the gateway binds to.
	Listen string

	// DocRoot is the static file document root.
	DocRoot string

	// MaxConnections caps simultaneously accepted connections.
	MaxConnections int

	// KeepaliveTimeout closes idle client connections.
	KeepaliveTimeout time.Duration

	// UpstreamTimeout bounds each proxied exchange.
	UpstreamTimeout time.Duration

	// Upstreams maps upstream names to base URLs.
	Upstreams map[string]string

	// Routes is the ordered routing table. A "/" plain prefix rule is
	// required as the final fallback.
	Routes []RouteRule

	// Gzip is the response compression policy.
	Gzip compression.Policy

	// MIMETypes adds or overrides extension -> content type entries.
	MIMETypes map[string]string

	// ETagIndexPath is the bbolt file backing persistent content ETags.
	// Empty disables content ETags.
	ETagIndexPath string
}

// Default returns the stock gateway configuration: the GUI document root,
// the two dashboard upstreams, and the standard route table.
func Default() Config {
	return Config{
		Listen:           ":80",
		DocRoot:          "gui/browser",
		MaxConnections:   1024,
		KeepaliveTimeout: 60 * time.Second,
		UpstreamTimeout:  60 * time.Second,
		Upstreams: map[string]string{
			"fluent":     "http://127.0.0.1:9292",
			"supervisor": "http://127.0.0.1:9001",
		},
		Routes: []RouteRule{
			{Name: "fluent", Prefix: "/fluent", Match: MatchPrefixStop, Target: "fluent"},
			{Name: "supervisor", Prefix: "/supervisor/", Match: MatchPrefixStop, Target: "supervisor", StripPrefix: true},
			{Name: "static", Prefix: "/static", Match: MatchPrefixStop, Target: TargetStatic},
			{Name: "root", Prefix: "/", Match: MatchPrefix, Target: TargetStatic},
		},
		Gzip: compression.Policy{
			Enabled: true,
			Level:   4,
			Types: []string{
				"text/plain",
				"image/svg+xml",
				"text/css",
				"application/javascript",
				"text/xml",
				"application/xml",
				"application/json",
				"text/javascript",
				"application/octet-stream",
			},
			BufferSize:  8 * 1024,
			BufferCount: 4,
		},
		ETagIndexPath: "dashgate-etags.db",
	}
}

// rawConfig mirrors the YAML file shape. Pointer fields distinguish
// "absent" from zero values so the file only overrides what it names.
type rawConfig struct {
	Listen           *string           `yaml:"listen"`
	DocRoot          *string           `yaml:"doc_root"`
	MaxConnections   *int              `yaml:"max_connections"`
	KeepaliveTimeout *string           `yaml:"keepalive_timeout"`
	UpstreamTimeout  *string           `yaml:"upstream_timeout"`
	ETagIndex        *string           `yaml:"etag_index"`
	Upstreams        map[string]string `yaml:"upstreams"`
	Gzip             *struct {
		Enabled     *bool    `yaml:"enabled"`
		Level       *int     `yaml:"level"`
		Types       []string `yaml:"types"`
		BufferSize  *int     `yaml:"buffer_size"`
		BufferCount *int     `yaml:"buffer_count"`
	} `yaml:"gzip"`
	MIMETypes map[string]string `yaml:"mime_types"`
	Routes    []struct {
		Name        string `yaml:"name"`
		Prefix      string `yaml:"prefix"`
		Match       string `yaml:"match"`
		Target      string `yaml:"target"`
		StripPrefix bool   `yaml:"strip_prefix"`
	} `yaml:"routes"`
}

// Load reads the YAML file at path and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}

	if rc.Listen != nil {
		cfg.Listen = strings.TrimSpace(*rc.Listen)
	}
	if rc.DocRoot != nil {
		cfg.DocRoot = *rc.DocRoot
	}
	if rc.MaxConnections != nil {
		cfg.MaxConnections = *rc.MaxConnections
	}
	if rc.KeepaliveTimeout != nil {
		d, err := time.ParseDuration(*rc.KeepaliveTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("keepalive_timeout: %w", err)
		}
		cfg.KeepaliveTimeout = d
	}
	if rc.UpstreamTimeout != nil {
		d, err := time.ParseDuration(*rc.UpstreamTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("upstream_timeout: %w", err)
		}
		cfg.UpstreamTimeout = d
	}
	if rc.ETagIndex != nil {
		cfg.ETagIndexPath = *rc.ETagIndex
	}
	for name, raw := range rc.Upstreams {
		cfg.Upstreams[name] = raw
	}
	if rc.Gzip != nil {
		if rc.Gzip.Enabled != nil {
			cfg.Gzip.Enabled = *rc.Gzip.Enabled
		}
		if rc.Gzip.Level != nil {
			cfg.Gzip.Level = *rc.Gzip.Level
		}
		if rc.Gzip.Types != nil {
			cfg.Gzip.Types = rc.Gzip.Types
		}
		if rc.Gzip.BufferSize != nil {
			cfg.Gzip.BufferSize = *rc.Gzip.BufferSize
		}
		if rc.Gzip.BufferCount != nil {
			cfg.Gzip.BufferCount = *rc.Gzip.BufferCount
		}
	}
	if rc.MIMETypes != nil {
		cfg.MIMETypes = rc.MIMETypes
	}
	if rc.Routes != nil {
		cfg.Routes = cfg.Routes[:0]
		for _, r := range rc.Routes {
			cfg.Routes = append(cfg.Routes, RouteRule(r))
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("keepalive_timeout must be positive, got %s", c.KeepaliveTimeout)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive, got %s", c.UpstreamTimeout)
	}
	if c.Gzip.Enabled && (c.Gzip.Level < 1 || c.Gzip.Level > 9) {
		return fmt.Errorf("gzip level must be 1..9, got %d", c.Gzip.Level)
	}
	for name, raw := range c.Upstreams {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("upstream %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream %s: unsupported scheme %q", name, u.Scheme)
		}
	}
	fallback := false
	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("routes[%d] (%s): prefix %q must start with /", i, r.Name, r.Prefix)
		}
		switch r.Match {
		case MatchPrefixStop, MatchPrefix:
		default:
			return fmt.Errorf("routes[%d] (%s): unknown match kind %q", i, r.Name, r.Match)
		}
		if r.Target != TargetStatic {
			if _, ok := c.Upstreams[r.Target]; !ok {
				return fmt.Errorf("routes[%d] (%s): unknown target %q", i, r.Name, r.Target)
			}
		}
		if r.Match == MatchPrefix && r.Prefix == "/" {
			fallback = true
		}
	}
	if !fallback {
		return fmt.Errorf(`routes: a "/" prefix rule is required as the final fallback`)
	}
	return nil
}

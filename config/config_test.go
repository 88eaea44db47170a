package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":80", cfg.Listen)
	require.Equal(t, "gui/browser", cfg.DocRoot)
	require.Equal(t, 1024, cfg.MaxConnections)
	require.Equal(t, 60*time.Second, cfg.KeepaliveTimeout)
	require.Equal(t, 60*time.Second, cfg.UpstreamTimeout)

	require.Equal(t, "http://127.0.0.1:9292", cfg.Upstreams["fluent"])
	require.Equal(t, "http://127.0.0.1:9001", cfg.Upstreams["supervisor"])

	require.Len(t, cfg.Routes, 4)
	require.Equal(t, RouteRule{Name: "fluent", Prefix: "/fluent", Match: MatchPrefixStop, Target: "fluent"}, cfg.Routes[0])
	require.Equal(t, RouteRule{Name: "supervisor", Prefix: "/supervisor/", Match: MatchPrefixStop, Target: "supervisor", StripPrefix: true}, cfg.Routes[1])
	require.Equal(t, RouteRule{Name: "static", Prefix: "/static", Match: MatchPrefixStop, Target: TargetStatic}, cfg.Routes[2])
	require.Equal(t, RouteRule{Name: "root", Prefix: "/", Match: MatchPrefix, Target: TargetStatic}, cfg.Routes[3])

	require.True(t, cfg.Gzip.Enabled)
	require.Equal(t, 4, cfg.Gzip.Level)
	require.Contains(t, cfg.Gzip.Types, "application/javascript")
	require.Contains(t, cfg.Gzip.Types, "image/svg+xml")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:8080"
doc_root: /srv/gui
keepalive_timeout: 30s
upstream_timeout: 2m
max_connections: 256
upstreams:
  fluent: http://10.0.0.5:9292
gzip:
  level: 6
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8080", cfg.Listen)
	require.Equal(t, "/srv/gui", cfg.DocRoot)
	require.Equal(t, 30*time.Second, cfg.KeepaliveTimeout)
	require.Equal(t, 2*time.Minute, cfg.UpstreamTimeout)
	require.Equal(t, 256, cfg.MaxConnections)

	// Named upstreams are overridden, unnamed ones keep their defaults.
	require.Equal(t, "http://10.0.0.5:9292", cfg.Upstreams["fluent"])
	require.Equal(t, "http://127.0.0.1:9001", cfg.Upstreams["supervisor"])

	// The route table is untouched when the file doesn't name one.
	require.Len(t, cfg.Routes, 4)

	require.Equal(t, 6, cfg.Gzip.Level)
	require.True(t, cfg.Gzip.Enabled)
}

func TestLoadReplacesRoutes(t *testing.T) {
	path := writeConfig(t, `
routes:
  - name: api
    prefix: /api/
    match: prefix-stop
    target: fluent
    strip_prefix: true
  - name: root
    prefix: /
    match: prefix
    target: static
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Routes, 2)
	require.Equal(t, RouteRule{Name: "api", Prefix: "/api/", Match: MatchPrefixStop, Target: "fluent", StripPrefix: true}, cfg.Routes[0])
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "keepalive_timeout: sixty\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "keepalive_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "routes: [}\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "yaml")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty listen",
			mutate:  func(c *Config) { c.Listen = " " },
			wantErr: "listen",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.MaxConnections = 0 },
			wantErr: "max_connections",
		},
		{
			name:    "negative keepalive",
			mutate:  func(c *Config) { c.KeepaliveTimeout = -time.Second },
			wantErr: "keepalive_timeout",
		},
		{
			name:    "zero upstream timeout",
			mutate:  func(c *Config) { c.UpstreamTimeout = 0 },
			wantErr: "upstream_timeout",
		},
		{
			name:    "gzip level out of range",
			mutate:  func(c *Config) { c.Gzip.Level = 12 },
			wantErr: "gzip level",
		},
		{
			name:    "bad upstream scheme",
			mutate:  func(c *Config) { c.Upstreams["fluent"] = "ftp://x" },
			wantErr: "unsupported scheme",
		},
		{
			name:    "relative route prefix",
			mutate:  func(c *Config) { c.Routes[0].Prefix = "fluent" },
			wantErr: "must start with /",
		},
		{
			name:    "unknown match kind",
			mutate:  func(c *Config) { c.Routes[0].Match = "regex" },
			wantErr: "unknown match kind",
		},
		{
			name:    "unknown target",
			mutate:  func(c *Config) { c.Routes[0].Target = "ghost" },
			wantErr: "unknown target",
		},
		{
			name:    "missing fallback",
			mutate:  func(c *Config) { c.Routes = c.Routes[:3] },
			wantErr: "fallback",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

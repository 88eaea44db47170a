package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUpstream(t *testing.T) {
	up, err := NewUpstream("fluent", "http://127.0.0.1:9292")
	require.NoError(t, err)
	require.Equal(t, "fluent", up.Name())
	require.Equal(t, DefaultTimeout, up.Timeout())
}

func TestNewUpstreamWithTimeout(t *testing.T) {
	up, err := NewUpstream("fluent", "http://127.0.0.1:9292", WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, up.Timeout())
}

func TestNewUpstreamRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{
		"",
		"127.0.0.1:9292",       // missing scheme
		"ftp://127.0.0.1:9292", // unsupported scheme
		"http://",              // missing host
		"://bad",
	} {
		_, err := NewUpstream("x", raw)
		require.Error(t, err, "url %q", raw)
	}
}

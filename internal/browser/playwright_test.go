package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyServerURL(t *testing.T) {
	assert.Equal(t, "", proxyServerURL(nil))
	assert.Equal(t, "http://p1.example.com:8080", proxyServerURL(&ProxySettings{Server: "p1.example.com:8080"}))
	assert.Equal(t, "socks5://p1.example.com:1080", proxyServerURL(&ProxySettings{Server: "socks5://p1.example.com:1080"}))
}

func TestBuildLaunchOptions(t *testing.T) {
	opts := buildLaunchOptions(LaunchOptions{
		Headless: true,
		Args:     []string{"--lang=en-US"},
		Proxy: &ProxySettings{
			Server:   "p1.example.com:8080",
			Username: "alice",
			Password: "s3cret",
		},
	})

	require.NotNil(t, opts.Headless)
	assert.True(t, *opts.Headless)
	assert.Contains(t, opts.Args, "--lang=en-US")
	assert.Contains(t, opts.Args, "--no-sandbox")

	require.NotNil(t, opts.Proxy)
	assert.Equal(t, "http://p1.example.com:8080", opts.Proxy.Server)
	require.NotNil(t, opts.Proxy.Username)
	assert.Equal(t, "alice", *opts.Proxy.Username)
}

func TestBuildLaunchOptionsNoProxy(t *testing.T) {
	opts := buildLaunchOptions(LaunchOptions{Headless: false})

	require.NotNil(t, opts.Headless)
	assert.False(t, *opts.Headless)
	assert.Nil(t, opts.Proxy)
}

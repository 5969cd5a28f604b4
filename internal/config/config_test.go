package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k3s-io/edge-proxy/internal/registry"
)

const sampleTOML = `
listen_port = 8080
listen_port_tls = 8443
max_clients = 1000
proxy_timeout_ms = 5000
upstream_timeout_ms = 3000

[apps.web]
server_name = "a.example"
default = true
load_balance = "round_robin"

[[apps.web.reverse_proxy]]
path = "/"
upstream = "http://up1:8080"

[apps.web.tls]
tls_cert_path = "/etc/edge-proxy/a.crt"
tls_cert_key_path = "/etc/edge-proxy/a.key"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))
	return path
}

func TestLoadParsesAndValidates(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Equal(t, uint16(8080), cfg.ListenPort)
	require.Equal(t, uint32(1024), cfg.TCPListenBacklog)

	app, ok := cfg.Apps["web"]
	require.True(t, ok)
	require.Equal(t, "a.example", app.ServerName)
	require.True(t, app.Default)
}

func TestValidateRejectsMissingListenPort(t *testing.T) {
	cfg := &Config{MaxClients: 10}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateDefault(t *testing.T) {
	cfg := &Config{
		ListenPort: 8080,
		MaxClients: 10,
		Apps: map[string]App{
			"a": {ServerName: "a.example", Default: true, ReverseProxy: []ReverseProxyEntry{{Path: "/", Upstream: "http://a:80"}}},
			"b": {ServerName: "b.example", Default: true, ReverseProxy: []ReverseProxyEntry{{Path: "/", Upstream: "http://b:80"}}},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnrecognizedLoadBalance(t *testing.T) {
	cfg := &Config{
		ListenPort: 8080,
		MaxClients: 10,
		Apps: map[string]App{
			"a": {ServerName: "a.example", LoadBalance: "weighted", ReverseProxy: []ReverseProxyEntry{{Path: "/", Upstream: "http://a:80"}}},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestBuildTableProducesRoutableHost(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	table, err := cfg.BuildTable()
	require.NoError(t, err)

	h, ok := table.Lookup("a.example")
	require.True(t, ok)
	require.Len(t, h.Rules, 1)
	require.Equal(t, registry.LBRoundRobin, h.Rules[0].Group.Balancer)
	require.Equal(t, "up1", h.Rules[0].Group.Upstreams[0].Host)
	require.Equal(t, 8080, h.Rules[0].Group.Upstreams[0].Port)
}

func TestBuildCertSourcesCollectsTLSApps(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	sources := cfg.BuildCertSources()
	require.Len(t, sources, 1)
	require.Equal(t, "a.example", sources[0].ServerName)
	require.True(t, sources[0].Default)
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := &Config{
		Apps: map[string]App{
			"a": {LoadBalance: "weighted"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "listen_port is required")
	require.Contains(t, msg, "max_clients must be greater than zero")
	require.Contains(t, msg, "server_name is required")
	require.Contains(t, msg, "unrecognized load_balance")
}

func TestValidateAllowsMissingTLSWhenACMEConfigured(t *testing.T) {
	cfg := &Config{
		ListenPort:    8080,
		ListenPortTLS: 8443,
		MaxClients:    10,
		ACME: &ACMEEntry{
			Email:        "ops@example.com",
			DirectoryURL: "https://acme.example.com/directory",
		},
		Apps: map[string]App{
			"a": {ServerName: "a.example", ReverseProxy: []ReverseProxyEntry{{Path: "/", Upstream: "http://a:80"}}},
		},
	}
	require.NoError(t, cfg.Validate())
}

func TestBuildTableGroupsSamePathUpstreamsForLoadBalancing(t *testing.T) {
	cfg := &Config{
		ListenPort: 8080,
		MaxClients: 10,
		Apps: map[string]App{
			"web": {
				ServerName:  "a.example",
				LoadBalance: "round_robin",
				ReverseProxy: []ReverseProxyEntry{
					{Path: "/", Upstream: "http://up1:8080"},
					{Path: "/", Upstream: "http://up2:8080"},
					{Path: "/", Upstream: "http://up3:8080"},
				},
			},
		},
	}

	table, err := cfg.BuildTable()
	require.NoError(t, err)

	h, ok := table.Lookup("a.example")
	require.True(t, ok)
	require.Len(t, h.Rules, 1)

	group := h.Rules[0].Group
	require.Equal(t, registry.LBRoundRobin, group.Balancer)
	require.Len(t, group.Upstreams, 3)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[group.Pick(nil, "").Host] = true
	}
	require.Len(t, seen, 3, "round robin should cycle through every upstream in the group")
}

func TestACMEDomainsCollectsAppsWithoutTLS(t *testing.T) {
	cfg := &Config{
		ACME: &ACMEEntry{Email: "ops@example.com", DirectoryURL: "https://acme.example.com/directory"},
		Apps: map[string]App{
			"a": {ServerName: "a.example"},
			"b": {ServerName: "b.example", TLS: &TLSEntry{CertPath: "/c", CertKeyPath: "/k"}},
		},
	}
	require.ElementsMatch(t, []string{"a.example"}, cfg.ACMEDomains())
}

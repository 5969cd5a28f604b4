// Package config parses and validates the TOML configuration file (spec
// §6), the exhaustive set of recognized options translated into Go structs
// decoded with github.com/pelletier/go-toml, the same TOML library
// nabbar-golib's cobra/configure.go uses for its own config marshal/unmarshal
// round trip.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/rancher/wrangler/v3/pkg/merr"

	"github.com/k3s-io/edge-proxy/internal/proxyerr"
)

// ReverseProxyEntry is one `apps.<id>.reverse_proxy[]` entry.
type ReverseProxyEntry struct {
	Path         string `toml:"path"`
	Upstream     string `toml:"upstream"` // "scheme://host:port"
	HostOverride string `toml:"host_override,omitempty"`
}

// TLSEntry is an app's `tls` table.
type TLSEntry struct {
	CertPath     string `toml:"tls_cert_path"`
	CertKeyPath  string `toml:"tls_cert_key_path"`
	ClientCAPath string `toml:"client_ca_cert_path,omitempty"`
}

// ACMEEntry is the top-level optional `acme` table.
type ACMEEntry struct {
	Email         string   `toml:"email"`
	DirectoryURL  string   `toml:"directory_url"`
	ChallengeDirs []string `toml:"challenge_dirs,omitempty"`
}

// App is one `apps.<id>` table.
type App struct {
	ServerName   string              `toml:"server_name"`
	Default      bool                `toml:"default,omitempty"`
	ReverseProxy []ReverseProxyEntry `toml:"reverse_proxy"`
	TLS          *TLSEntry           `toml:"tls,omitempty"`
	LoadBalance  string              `toml:"load_balance,omitempty"` // none|round_robin|random|sticky
	StickyCookie string              `toml:"sticky_cookie,omitempty"`
}

// Config is the full decoded configuration file.
type Config struct {
	ListenPort           uint16         `toml:"listen_port"`
	ListenPortTLS        uint16         `toml:"listen_port_tls,omitempty"`
	ListenIPv6           bool           `toml:"listen_ipv6,omitempty"`
	TCPListenBacklog     uint32         `toml:"tcp_listen_backlog,omitempty"`
	MaxClients           uint32         `toml:"max_clients"`
	MaxConcurrentStreams uint32         `toml:"max_concurrent_streams,omitempty"`
	Keepalive            bool           `toml:"keepalive,omitempty"`
	ProxyTimeoutMs       uint32         `toml:"proxy_timeout_ms"`
	UpstreamTimeoutMs    uint32         `toml:"upstream_timeout_ms"`
	Apps                 map[string]App `toml:"apps"`
	ACME                 *ACMEEntry     `toml:"acme,omitempty"`
}

const (
	defaultBacklog = 1024
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindConfiguration, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, proxyerr.New(proxyerr.KindConfiguration, errors.Wrap(err, "parsing configuration"))
	}

	if cfg.TCPListenBacklog == 0 {
		cfg.TCPListenBacklog = defaultBacklog
	}

	if err := cfg.Validate(); err != nil {
		return nil, proxyerr.New(proxyerr.KindConfiguration, err)
	}

	return &cfg, nil
}

// Validate checks the exhaustive invariants spec §3/§6 name: at most one
// default app, recognized load_balance values, non-empty reverse_proxy
// tables, and a listen_port_tls paired with either a tls table or an acme
// account able to obtain one. Every violation found is collected and
// returned together via merr, the same multi-error aggregator the teacher
// uses at its own validate-then-report points (pkg/server/cert.go,
// pkg/server/handlers/cert.go).
func (c *Config) Validate() error {
	errs := []error{}

	if c.ListenPort == 0 {
		errs = append(errs, errors.New("listen_port is required"))
	}
	if c.MaxClients == 0 {
		errs = append(errs, errors.New("max_clients must be greater than zero"))
	}

	defaultSeen := ""
	for id, app := range c.Apps {
		if app.ServerName == "" {
			errs = append(errs, errors.Errorf("apps.%s: server_name is required", id))
		}
		if len(app.ReverseProxy) == 0 {
			errs = append(errs, errors.Errorf("apps.%s: reverse_proxy must have at least one entry", id))
		}
		if app.Default {
			if defaultSeen != "" {
				errs = append(errs, errors.Errorf("apps.%s and apps.%s both set default=true", defaultSeen, id))
			}
			defaultSeen = id
		}
		switch app.LoadBalance {
		case "", "none", "round_robin", "random", "sticky":
		default:
			errs = append(errs, errors.Errorf("apps.%s: unrecognized load_balance %q", id, app.LoadBalance))
		}
		if c.ListenPortTLS != 0 && app.TLS == nil && c.ACME == nil {
			errs = append(errs, errors.Errorf("apps.%s: tls table required when listen_port_tls is set and no acme account is configured", id))
		}
	}

	if c.ACME != nil {
		if c.ACME.Email == "" {
			errs = append(errs, errors.New("acme.email is required when acme is configured"))
		}
		if c.ACME.DirectoryURL == "" {
			errs = append(errs, errors.New("acme.directory_url is required when acme is configured"))
		}
	}

	return merr.NewErrors(errs...)
}

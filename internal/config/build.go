package config

import (
	"net/url"
	"strconv"
	"time"

	"github.com/k3s-io/edge-proxy/internal/certstore"
	"github.com/k3s-io/edge-proxy/internal/registry"
)

// BuildTable translates the decoded apps table into a registry.Table ready
// to be swapped into a Registry.
func (c *Config) BuildTable() (*registry.Table, error) {
	var hosts []*registry.VirtualHost
	for _, app := range c.Apps {
		vh, err := app.buildVirtualHost(time.Duration(c.UpstreamTimeoutMs) * time.Millisecond)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, vh)
	}
	return registry.NewTable(hosts)
}

// buildVirtualHost groups every reverse_proxy entry sharing the same path
// into a single UpstreamGroup, so a load_balance strategy configured for the
// app actually has more than one member to choose among (spec §4.5 step 4,
// §3 UpstreamGroup "ordered list of Upstream"). DeclOrder records the
// position of each path's first occurrence, preserving MatchPath's
// declaration-order tie-break (internal/registry/table.go) regardless of
// where later entries for that same path appear in the config.
func (a App) buildVirtualHost(defaultUpstreamTimeout time.Duration) (*registry.VirtualHost, error) {
	balancer := parseLoadBalancer(a.LoadBalance)

	var order []string
	groups := map[string]*registry.UpstreamGroup{}
	declOrder := map[string]int{}

	for i, rp := range a.ReverseProxy {
		u, err := parseUpstream(rp.Upstream, rp.HostOverride)
		if err != nil {
			return nil, err
		}
		g, ok := groups[rp.Path]
		if !ok {
			g = &registry.UpstreamGroup{Balancer: balancer, CookieName: a.StickyCookie}
			groups[rp.Path] = g
			declOrder[rp.Path] = i
			order = append(order, rp.Path)
		}
		g.Upstreams = append(g.Upstreams, u)
	}

	rules := make([]registry.PathRule, 0, len(order))
	for _, path := range order {
		rules = append(rules, registry.PathRule{
			Prefix:    path,
			Group:     groups[path],
			DeclOrder: declOrder[path],
		})
	}

	return &registry.VirtualHost{
		Name:            a.ServerName,
		Default:         a.Default,
		Rules:           rules,
		UpstreamTimeout: defaultUpstreamTimeout,
		RequireTLS:      a.TLS != nil,
	}, nil
}

func parseLoadBalancer(s string) registry.LoadBalancer {
	switch s {
	case "round_robin":
		return registry.LBRoundRobin
	case "random":
		return registry.LBRandom
	case "sticky":
		return registry.LBStickyCookie
	default:
		return registry.LBNone
	}
}

func parseUpstream(raw, hostOverride string) (registry.Upstream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return registry.Upstream{}, err
	}

	scheme := registry.SchemeHTTP
	if u.Scheme == "https" {
		scheme = registry.SchemeHTTPS
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 80
	if scheme == registry.SchemeHTTPS {
		port = 443
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return registry.Upstream{}, err
		}
		port = p
	}

	return registry.Upstream{
		Scheme:       scheme,
		Host:         host,
		Port:         port,
		HostOverride: hostOverride,
	}, nil
}

// ACMEDomains returns the server names of every app that has no tls table
// of its own, when an acme account is configured. These are the hosts the
// ACME challenge server is responsible for obtaining and renewing
// certificates for (spec §4.7 "the ACME challenge server"; an app that
// carries its own tls table is always served from that file pair instead,
// per the Certificate Store's static-over-ACME precedence).
func (c *Config) ACMEDomains() []string {
	if c.ACME == nil {
		return nil
	}
	var domains []string
	for _, app := range c.Apps {
		if app.TLS == nil {
			domains = append(domains, app.ServerName)
		}
	}
	return domains
}

// BuildCertSources translates each app's tls table into a
// certstore.HostCertSource.
func (c *Config) BuildCertSources() []certstore.HostCertSource {
	var sources []certstore.HostCertSource
	for _, app := range c.Apps {
		if app.TLS == nil {
			continue
		}
		sources = append(sources, certstore.HostCertSource{
			ServerName:   app.ServerName,
			CertFile:     app.TLS.CertPath,
			KeyFile:      app.TLS.CertKeyPath,
			ClientCAFile: app.TLS.ClientCAPath,
			Default:      app.Default,
		})
	}
	return sources
}

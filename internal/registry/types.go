// Package registry implements the Backend Registry (spec §4.3, §4.6): the
// static per-process table of virtual hosts, path rules and upstream groups
// that the HTTP Message Handler consults on every request. The table is an
// immutable value swapped atomically on config reload, mirroring the
// Certificate Store's snapshot-publish pattern so readers never lock.
package registry

import (
	"strconv"
	"time"
)

// LoadBalancer selects which Upstream in a group serves a given request.
type LoadBalancer int

const (
	// LBNone always picks index 0.
	LBNone LoadBalancer = iota
	// LBRoundRobin increments a per-group atomic counter.
	LBRoundRobin
	// LBRandom draws a per-request index with a PRNG.
	LBRandom
	// LBStickyCookie hashes a configured cookie value to a group member.
	LBStickyCookie
)

// Scheme is the upstream dial scheme.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Upstream is one backend origin server.
type Upstream struct {
	Scheme       Scheme
	Host         string
	Port         int
	HostOverride string // optional Host header override
	SNIOverride  string // optional upstream TLS SNI override
}

// Authority returns the upstream's dial target, host:port.
func (u Upstream) Authority() string {
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// UpstreamGroup is an ordered, non-empty list of Upstream plus a load
// balancing strategy.
type UpstreamGroup struct {
	Upstreams []Upstream
	Balancer  LoadBalancer
	// CookieName names the sticky cookie when Balancer == LBStickyCookie.
	CookieName string

	counter uint64
}

// PathRule matches a longest path prefix and dispatches to an UpstreamGroup.
// Optionally rewrites the matched prefix before forwarding.
type PathRule struct {
	Prefix       string
	Replace      string // replacement prefix; empty means no rewrite
	Group        *UpstreamGroup
	DeclOrder    int
}

// VirtualHost is a routing entity selected by request host identity.
type VirtualHost struct {
	// Name is the normalized (lowercased, punycoded, port-stripped) host
	// name. A leading "*." marks a wildcard host.
	Name string

	Default         bool
	Rules           []PathRule
	UpstreamTimeout time.Duration // zero means "use the global default"
	RequireTLS      bool

	// VirtualHost carries no client-CA set: the TLS Acceptor requests and
	// verifies a client certificate from the certstore Entry.ClientCAs of
	// the SNI's certificate entry, not from the registry.
}

// IsWildcard reports whether Name is a "*.suffix" wildcard pattern.
func (h VirtualHost) IsWildcard() bool {
	return len(h.Name) > 2 && h.Name[0] == '*' && h.Name[1] == '.'
}

// Suffix returns the suffix a wildcard host matches against (the part after
// "*."), or the literal name for non-wildcard hosts.
func (h VirtualHost) Suffix() string {
	if h.IsWildcard() {
		return h.Name[2:]
	}
	return h.Name
}

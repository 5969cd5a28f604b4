package registry

import (
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
)

// Table is the immutable, per-config-generation set of virtual hosts for one
// listener binding. It is swapped atomically on reload (spec §3, §5: "the
// Backend Registry is swapped atomically on reload; readers always see a
// consistent generation").
type Table struct {
	hosts       map[string]*VirtualHost // exact name -> host
	wildcards   []*VirtualHost          // sorted longest-suffix-first
	defaultHost *VirtualHost
}

// NewTable builds a Table from a flat list of hosts, validating the
// at-most-one-default invariant (spec §3).
func NewTable(hosts []*VirtualHost) (*Table, error) {
	t := &Table{hosts: map[string]*VirtualHost{}}
	for _, h := range hosts {
		if h.Default {
			if t.defaultHost != nil {
				return nil, &DuplicateDefaultError{First: t.defaultHost.Name, Second: h.Name}
			}
			t.defaultHost = h
		}
		if h.IsWildcard() {
			t.wildcards = append(t.wildcards, h)
		} else {
			t.hosts[h.Name] = h
		}
	}
	sort.Slice(t.wildcards, func(i, j int) bool {
		return len(t.wildcards[i].Suffix()) > len(t.wildcards[j].Suffix())
	})
	return t, nil
}

// DuplicateDefaultError reports a config with more than one default host on
// the same listener binding.
type DuplicateDefaultError struct {
	First, Second string
}

func (e *DuplicateDefaultError) Error() string {
	return "duplicate default host: " + e.First + " and " + e.Second
}

// Lookup finds the VirtualHost for a normalized server name using
// longest-suffix match: exact match first, then the most specific "*.suffix"
// wildcard (longer suffix wins), then the per-listener default.
func (t *Table) Lookup(name string) (*VirtualHost, bool) {
	if h, ok := t.hosts[name]; ok {
		return h, true
	}
	for _, w := range t.wildcards {
		suffix := w.Suffix()
		if strings.HasSuffix(name, "."+suffix) {
			return w, true
		}
	}
	if t.defaultHost != nil {
		return t.defaultHost, true
	}
	return nil, false
}

// MatchPath picks the longest matching path prefix among h's rules. Exact
// matches beat prefix matches of equal length; ties of equal length are
// broken by declaration order (spec §3 PathRule invariant).
func MatchPath(h *VirtualHost, path string) (*PathRule, bool) {
	var best *PathRule
	for i := range h.Rules {
		r := &h.Rules[i]
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if len(r.Prefix) > len(best.Prefix) {
			best = r
			continue
		}
		if len(r.Prefix) == len(best.Prefix) && r.DeclOrder < best.DeclOrder {
			best = r
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// RewritePath applies a PathRule's prefix replacement to a request path.
func RewritePath(r *PathRule, path string) string {
	if r.Replace == "" {
		return path
	}
	return r.Replace + strings.TrimPrefix(path, r.Prefix)
}

// Pick selects an Upstream from the group according to its LoadBalancer
// policy. cookieValue is the value of the sticky cookie if present; req may
// be nil for non-sticky policies.
func (g *UpstreamGroup) Pick(req *http.Request, cookieValue string) Upstream {
	switch g.Balancer {
	case LBRoundRobin:
		n := atomic.AddUint64(&g.counter, 1) - 1
		return g.Upstreams[int(n)%len(g.Upstreams)]
	case LBRandom:
		return g.Upstreams[rand.Intn(len(g.Upstreams))]
	case LBStickyCookie:
		if cookieValue != "" {
			idx := stickyHash(cookieValue) % uint32(len(g.Upstreams))
			return g.Upstreams[idx]
		}
		n := atomic.AddUint64(&g.counter, 1) - 1
		return g.Upstreams[int(n)%len(g.Upstreams)]
	default: // LBNone
		return g.Upstreams[0]
	}
}

// stickyHash is a small FNV-1a style hash, used only to map a sticky cookie
// value onto a group member index; it need not be cryptographic.
func stickyHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Registry holds the currently active Table behind an atomic pointer, swapped
// wholesale on every config reload.
type Registry struct {
	current atomic.Pointer[Table]
}

// NewRegistry returns a Registry seeded with t.
func NewRegistry(t *Table) *Registry {
	r := &Registry{}
	r.current.Store(t)
	return r
}

// Current returns the active Table. Cheap, lock-free.
func (r *Registry) Current() *Table {
	return r.current.Load()
}

// Swap atomically replaces the active Table, e.g. on config reload.
func (r *Registry) Swap(t *Table) {
	r.current.Store(t)
}

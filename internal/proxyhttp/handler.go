// Package proxyhttp implements the HTTP Message Handler (spec §4.5): host
// resolution, virtual-host and path routing, load-balancer pick, header
// rewrite, and upstream dispatch.
//
// Dispatch is built on k8s.io/apimachinery/pkg/util/proxy.UpgradeAwareHandler,
// the same library pkg/proxy/proxy_server.go's SimpleProxy uses, generalized
// so the director's target comes from the load-balancer-selected Upstream on
// every request instead of one fixed host baked in at construction time.
package proxyhttp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/proxy"

	"github.com/k3s-io/edge-proxy/internal/proxyerr"
	"github.com/k3s-io/edge-proxy/internal/registry"
)

// Handler routes and dispatches one listener binding's requests. It holds no
// per-request state; registry lookups go through the Registry's atomically
// swapped Table so a config reload is visible to the very next request.
type Handler struct {
	Registry       *registry.Registry
	Transport      http.RoundTripper
	DefaultTimeout time.Duration
}

// NewHandler returns a Handler dispatching through a shared transport. A
// single *http.Transport is reused across every upstream: Go's transport
// already pools connections per scheme+authority, which is exactly the
// "shared HTTP/1.1+HTTP/2 client pool keyed by upstream scheme+authority"
// spec §4.5 step 6 calls for.
func NewHandler(reg *registry.Registry, defaultTimeout time.Duration) *Handler {
	return &Handler{
		Registry:       reg,
		Transport:      &http.Transport{},
		DefaultTimeout: defaultTimeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	host, err := h.resolveHost(req)
	if err != nil {
		var pe *proxyerr.Error
		if proxyerr.As(err, &pe) {
			writeError(w, pe.Kind, pe)
			return
		}
		writeError(w, proxyerr.KindBadRequest, err)
		return
	}

	table := h.Registry.Current()
	vhost, ok := table.Lookup(host)
	if !ok {
		writeError(w, proxyerr.KindNotFound, proxyerr.Newf(proxyerr.KindNotFound, "no virtual host configured for %s", host))
		return
	}

	rule, ok := registry.MatchPath(vhost, req.URL.Path)
	if !ok {
		writeError(w, proxyerr.KindNotFound, proxyerr.Newf(proxyerr.KindNotFound, "no path rule matches %s", req.URL.Path))
		return
	}

	cookieValue := ""
	if rule.Group.Balancer == registry.LBStickyCookie && rule.Group.CookieName != "" {
		if c, err := req.Cookie(rule.Group.CookieName); err == nil {
			cookieValue = c.Value
		}
	}
	var upstream registry.Upstream
	pinned := false
	for _, u := range rule.Group.Upstreams {
		if cookieValue != "" && stickyToken(u) == cookieValue {
			upstream, pinned = u, true
			break
		}
	}
	if !pinned {
		upstream = rule.Group.Pick(req, cookieValue)
	}

	h.rewriteRequest(req, host, rule, upstream)

	timeout := vhost.UpstreamTimeout
	if timeout <= 0 {
		timeout = h.DefaultTimeout
	}

	respWriter := w
	if rule.Group.Balancer == registry.LBStickyCookie && rule.Group.CookieName != "" && cookieValue == "" {
		respWriter = &stickyCookieWriter{ResponseWriter: w, cookieName: rule.Group.CookieName, cookieValue: stickyToken(upstream)}
	}

	h.dispatch(respWriter, req, upstream, timeout)
}

// resolveHost implements spec §4.5 step 1: TLS connections resolve the
// effective host from SNI, with a mismatching Host header rejected as
// MisdirectedRequest(421); cleartext connections resolve from the Host
// header, failing BadRequest when absent or malformed.
func (h *Handler) resolveHost(req *http.Request) (string, error) {
	if req.TLS != nil {
		sni := normalizeHost(req.TLS.ServerName)
		if req.Host != "" {
			hostOnly := normalizeHost(req.Host)
			if hostOnly != sni {
				return "", proxyerr.Newf(proxyerr.KindMisdirectedRequest,
					"request Host %q does not match TLS SNI %q", hostOnly, sni)
			}
		}
		return sni, nil
	}

	if req.Host == "" {
		return "", proxyerr.Newf(proxyerr.KindBadRequest, "missing Host header")
	}
	return normalizeHost(req.Host), nil
}

func normalizeHost(host string) string {
	if h, _, err := splitHostMaybePort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

func splitHostMaybePort(host string) (string, string, error) {
	if !strings.Contains(host, ":") {
		return host, "", nil
	}
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, "", nil
	}
	return host[:idx], host[idx+1:], nil
}

// rewriteRequest implements spec §4.5 step 5: hop-by-hop stripping, RFC 7239
// Forwarded/X-Forwarded-* append, path prefix rewrite, and Host substitution.
func (h *Handler) rewriteRequest(req *http.Request, originalHost string, rule *registry.PathRule, upstream registry.Upstream) {
	proto := "http"
	if req.TLS != nil {
		proto = "https"
	}

	stripHopByHop(req)
	appendForwarded(req, req.RemoteAddr, proto, originalHost)

	req.URL.Path = registry.RewritePath(rule, req.URL.Path)

	if upstream.HostOverride != "" {
		req.Host = upstream.HostOverride
	} else {
		req.Host = upstream.Authority()
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, req *http.Request, upstream registry.Upstream, timeout time.Duration) {
	location := &url.URL{
		Scheme:   string(upstream.Scheme),
		Host:     upstream.Authority(),
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}

	ctx := req.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	handler := proxy.NewUpgradeAwareHandler(location, h.Transport, false, isUpgrade(req), errorResponder{})
	handler.ServeHTTP(w, req)
}

// stickyToken derives a stable cookie value for an upstream so requests
// carrying the cookie set on an earlier response are routed back to the
// same member; a cookie value matching no current member falls back to
// UpstreamGroup.Pick's hash. It need not be unguessable, only stable
// per-upstream and free of characters the cookie grammar disallows unquoted.
func stickyToken(u registry.Upstream) string {
	return strings.NewReplacer(":", "_", ".", "-").Replace(u.Authority())
}

type stickyCookieWriter struct {
	http.ResponseWriter
	cookieName  string
	cookieValue string
	wrote       bool
}

func (s *stickyCookieWriter) WriteHeader(status int) {
	if !s.wrote {
		http.SetCookie(s.ResponseWriter, &http.Cookie{Name: s.cookieName, Value: s.cookieValue, Path: "/"})
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *stickyCookieWriter) Write(b []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

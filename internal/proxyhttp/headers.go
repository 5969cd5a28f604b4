package proxyhttp

import (
	"net"
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped before forwarding a request upstream (spec
// §4.5 step 5), mirroring the classic Go reverse-proxy hop-by-hop list
// (net/http/httputil's unexported hopHeaders) generalized to also honor
// whatever the client names in its own Connection header.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// isUpgrade reports whether req is an HTTP Upgrade request (e.g. WebSocket).
func isUpgrade(req *http.Request) bool {
	return req.Header.Get("Upgrade") != "" && headerContainsToken(req.Header.Get("Connection"), "upgrade")
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// stripHopByHop removes the standard hop-by-hop headers, plus any header
// named in the incoming Connection value, from req's headers (spec §4.5
// step 5). When req is an Upgrade request, Upgrade and Connection: upgrade
// are preserved so the upstream still sees the protocol switch request.
func stripHopByHop(req *http.Request) {
	upgrade := isUpgrade(req)

	if conn := req.Header.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if upgrade && strings.EqualFold(name, "upgrade") {
				continue
			}
			req.Header.Del(name)
		}
	}

	for _, name := range hopByHopHeaders {
		if upgrade && (strings.EqualFold(name, "Upgrade") || strings.EqualFold(name, "Connection")) {
			continue
		}
		req.Header.Del(name)
	}
}

// appendForwarded appends this hop's RFC 7239 Forwarded entry and sets
// X-Forwarded-Proto/X-Forwarded-Host when absent, never overwriting any
// upstream chain already present (spec §4.5 step 5). X-Forwarded-For is
// left to the dispatch library, which appends the client address to any
// existing chain on both the plain and the upgrade path.
func appendForwarded(req *http.Request, clientAddr, proto, originalHost string) {
	forwardedFor := clientAddr
	if host, _, err := net.SplitHostPort(clientAddr); err == nil {
		forwardedFor = host
	}

	entry := "for=" + forwardedFor + "; proto=" + proto + "; host=" + originalHost + "; by=edge-proxy"
	if existing := req.Header.Get("Forwarded"); existing != "" {
		req.Header.Set("Forwarded", existing+", "+entry)
	} else {
		req.Header.Set("Forwarded", entry)
	}

	if req.Header.Get("X-Forwarded-Proto") == "" {
		req.Header.Set("X-Forwarded-Proto", proto)
	}
	if req.Header.Get("X-Forwarded-Host") == "" {
		req.Header.Set("X-Forwarded-Host", originalHost)
	}
}

func appendCommaHeader(h http.Header, name, value string) {
	if existing := h.Get(name); existing != "" {
		h.Set(name, existing+", "+value)
		return
	}
	h.Set(name, value)
}

// Package listener implements the Listener (spec §4.6): the per-binding
// accept loop that couples admission control, optional TLS termination, and
// HTTP serving, bounded by a hard per-connection deadline.
package listener

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k3s-io/edge-proxy/internal/admission"
	"github.com/k3s-io/edge-proxy/internal/lifecycle"
	"github.com/k3s-io/edge-proxy/internal/netutil"
	"github.com/k3s-io/edge-proxy/internal/tlsaccept"
)

// Binding configures one Listener: the address to bind, whether to
// TLS-terminate, and the timeouts that bound a connection's lifetime.
type Binding struct {
	Addr         string
	Backlog      int
	TLS          bool
	Acceptor     *tlsaccept.Acceptor // nil when TLS is false
	Handler      http.Handler
	ProxyTimeout time.Duration // "hard ceiling" component of spec §4.6
}

// Listener owns one accept loop.
type Listener struct {
	binding   Binding
	admission *admission.Counter
}

// New returns a Listener for binding, gated by the shared admission Counter.
func New(binding Binding, adm *admission.Counter) *Listener {
	return &Listener{binding: binding, admission: adm}
}

// Run binds the socket and accepts connections until token is cancelled.
// Per spec §4.6: "accept -> try_admit -> spawn task(handshake if tls, serve
// connection, release)"; on cancellation the accept loop exits immediately
// but already-spawned tasks continue until their own deadline.
func (l *Listener) Run(token *lifecycle.Token) error {
	ln, err := netutil.Bind(token.Context(), l.binding.Addr, l.binding.Backlog)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-token.Done()
		ln.Close()
	}()

	srv := &http.Server{Handler: l.binding.Handler}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-token.Done():
				return nil
			default:
				return err
			}
		}

		if !l.admission.TryAdmit() {
			conn.Close()
			continue
		}

		// Detached from token's cancellation: an accepted connection outlives
		// the accept loop, bounded by serve's own deadline.
		connToken := lifecycle.New(context.WithoutCancel(token.Context()))
		go l.serve(connToken, conn, srv)
	}
}

// serve handshakes (if TLS) and serves one connection, releasing its
// admission slot exactly once regardless of outcome. It returns once the
// HTTP server has closed the connection or the ceiling deadline
// (ProxyTimeout plus one second) expires; a hijacked (upgraded) connection
// is held until that deadline. The serve task runs under a second token
// derived from the per-connection token, mirroring original_source's
// two-cancel-tokens-per-connection split; cancelling the per-connection
// token also cancels the serve token and closes the connection.
func (l *Listener) serve(acceptToken *lifecycle.Token, conn net.Conn, srv *http.Server) {
	defer l.admission.Release()
	defer acceptToken.Cancel()

	serveToken := acceptToken.Child()
	defer serveToken.Cancel()

	ceiling := l.binding.ProxyTimeout + time.Second
	ctx, cancel := context.WithDeadline(serveToken.Context(), time.Now().Add(ceiling))
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if l.binding.TLS {
		accepted, err := l.binding.Acceptor.Handshake(ctx, conn)
		if err != nil {
			logrus.Debugf("edge-proxy: listener %s: handshake failed: %v", l.binding.Addr, err)
			return
		}
		conn = accepted.Conn
	}

	// http.Server.Serve returns as soon as singleConnListener reports
	// net.ErrClosed, while the connection is still being served; wait for
	// the server to report it closed before releasing the admission slot.
	closed := make(chan struct{})
	connSrv := &http.Server{Handler: srv.Handler, ConnState: func(_ net.Conn, st http.ConnState) {
		if st == http.StateClosed {
			close(closed)
		}
	}}
	connSrv.Serve(&singleConnListener{conn: conn})
	select {
	case <-closed:
	case <-ctx.Done():
	}
}

// singleConnListener adapts one already-accepted net.Conn into the
// net.Listener shape http.Server.Serve expects, so each connection gets its
// own Serve call and its own deadline context rather than sharing a
// process-wide http.Server across every listener binding. Accept yields the
// connection exactly once; the second call returns net.ErrClosed, which
// http.Server.Serve treats as a permanent error and returns from immediately
// (it is not a net.Error, so Serve's retry-with-backoff path never triggers).
type singleConnListener struct {
	conn net.Conn
	used bool
}

func (s *singleConnListener) Accept() (net.Conn, error) {
	if !s.used {
		s.used = true
		return s.conn, nil
	}
	return nil, net.ErrClosed
}

func (s *singleConnListener) Close() error   { return nil }
func (s *singleConnListener) Addr() net.Addr { return s.conn.LocalAddr() }

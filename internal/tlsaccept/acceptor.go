// Package tlsaccept implements the TLS Acceptor (spec §4.4): it performs the
// TLS handshake over an accepted connection, selecting the serving
// certificate and, where a host requires it, a client certificate, purely
// from the Certificate Store's current Snapshot.
//
// ALPN negotiation (h2, http/1.1) mirrors pkg/cluster/https.go's
// dynamiclistener.Config.TLSConfig.NextProtos; per-host client-cert
// verification generalizes that file's always-on
// ClientAuth: tls.RequestClientCert into a conditional policy driven by
// whether the matched host's Snapshot entry carries a client-CA pool.
package tlsaccept

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/k3s-io/edge-proxy/internal/certstore"
	"github.com/k3s-io/edge-proxy/internal/proxyerr"
)

// Acceptor wraps plain TCP connections in TLS using the live Certificate
// Store for per-SNI certificate and client-CA selection.
type Acceptor struct {
	store            *certstore.Store
	handshakeTimeout time.Duration
}

// NewAcceptor returns an Acceptor reading certificates from store. A
// handshakeTimeout of zero disables the per-handshake deadline.
func NewAcceptor(store *certstore.Store, handshakeTimeout time.Duration) *Acceptor {
	return &Acceptor{store: store, handshakeTimeout: handshakeTimeout}
}

// Accepted is the result of a completed handshake (spec §4.4: "the Acceptor
// returns {stream, negotiated_alpn, sni}").
type Accepted struct {
	Conn           *tls.Conn
	NegotiatedALPN string
	ServerName     string
}

// Handshake performs the TLS handshake over conn. On success it returns the
// negotiated connection, ALPN protocol and SNI; on failure the underlying
// socket is always closed and a *proxyerr.Error is returned with one of
// NoSni, NoCertificate, ClientCertRejected, HandshakeTimeout, or Internal.
func (a *Acceptor) Handshake(ctx context.Context, conn net.Conn) (*Accepted, error) {
	if a.handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.handshakeTimeout))
	}

	cfg := &tls.Config{
		NextProtos:         []string{"h2", "http/1.1"},
		GetCertificate:     a.getCertificate,
		GetConfigForClient: a.getConfigForClient,
	}

	tconn := tls.Server(conn, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- tconn.HandshakeContext(ctx) }()

	select {
	case err := <-errCh:
		if a.handshakeTimeout > 0 {
			_ = conn.SetDeadline(time.Time{})
		}
		if err != nil {
			conn.Close()
			return nil, classifyHandshakeError(err)
		}
		state := tconn.ConnectionState()
		return &Accepted{Conn: tconn, NegotiatedALPN: state.NegotiatedProtocol, ServerName: state.ServerName}, nil
	case <-ctx.Done():
		conn.Close()
		return nil, proxyerr.New(proxyerr.KindHandshakeTimeout, ctx.Err())
	}
}

func classifyHandshakeError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return proxyerr.New(proxyerr.KindHandshakeTimeout, err)
	}
	if isNoSni(err) {
		return proxyerr.New(proxyerr.KindNoSni, err)
	}
	if isNoCertificate(err) {
		return proxyerr.New(proxyerr.KindNoCertificate, err)
	}
	if isClientCertFailure(err) {
		return proxyerr.New(proxyerr.KindClientCertRejected, err)
	}
	return proxyerr.New(proxyerr.KindInternal, err)
}

// getCertificate implements crypto/tls.Config.GetCertificate: it looks the
// ClientHello's ServerName up in the current Snapshot. An absent SNI with no
// configured default aborts the handshake with NoSni (spec §4.4).
func (a *Acceptor) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	snap := a.store.Current()
	if hello.ServerName == "" && !snap.HasDefault() {
		return nil, errNoSni
	}
	entry, err := snap.Lookup(hello.ServerName)
	if err != nil {
		return nil, err
	}
	return &entry.Certificate, nil
}

// getConfigForClient implements crypto/tls.Config.GetConfigForClient: when
// the matched host's Snapshot entry carries a client-CA pool, it derives a
// *tls.Config requiring and verifying a client certificate against that
// pool; otherwise it returns nil and the caller's base config applies
// unmodified (spec §4.4: client-cert verification is per-host).
//
// Go's TLS server calls GetConfigForClient before GetCertificate, so an
// absent-SNI handshake must be rejected with the same NoSni classification
// here as in getCertificate — otherwise Lookup("") would surface a plain
// ErrNoCertificate first and getCertificate's guard would never run.
func (a *Acceptor) getConfigForClient(hello *tls.ClientHelloInfo) (*tls.Config, error) {
	snap := a.store.Current()
	if hello.ServerName == "" && !snap.HasDefault() {
		return nil, errNoSni
	}
	entry, err := snap.Lookup(hello.ServerName)
	if err != nil {
		return nil, err
	}
	if entry.ClientCAs == nil {
		return nil, nil
	}

	return &tls.Config{
		NextProtos:     []string{"h2", "http/1.1"},
		GetCertificate: a.getCertificate,
		ClientAuth:     tls.RequireAndVerifyClientCert,
		ClientCAs:      entry.ClientCAs,
	}, nil
}

var errNoSni = &noSniError{}

type noSniError struct{}

func (*noSniError) Error() string { return "tls: no SNI presented and no default certificate configured" }

func isNoSni(err error) bool {
	var ns *noSniError
	return errors.As(err, &ns)
}

func isNoCertificate(err error) bool {
	var nc *certstore.ErrNoCertificate
	return errors.As(err, &nc)
}

func isClientCertFailure(err error) bool {
	var verr *tls.CertificateVerificationError
	return errors.As(err, &verr)
}

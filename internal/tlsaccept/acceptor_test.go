package tlsaccept

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k3s-io/edge-proxy/internal/certstore"
	"github.com/k3s-io/edge-proxy/internal/proxyerr"
)

func selfSignedEntry(t *testing.T, commonName string) *certstore.Entry {
	t.Helper()
	certPEM, keyPEM := generateSelfSigned(t, commonName)
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return &certstore.Entry{Certificate: cert}
}

func dialPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-acceptCh
	return server, client
}

func TestHandshakeSelectsCertificateBySNI(t *testing.T) {
	store := certstore.NewStore()
	store.Publish(certstore.NewSnapshot(map[string]*certstore.Entry{
		"a.example": selfSignedEntry(t, "a.example"),
	}, ""))

	a := NewAcceptor(store, 2*time.Second)

	server, client := dialPair(t)
	defer client.Close()

	resultCh := make(chan *Accepted, 1)
	errCh := make(chan error, 1)
	go func() {
		accepted, err := a.Handshake(context.Background(), server)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- accepted
	}()

	clientConn := tls.Client(client, &tls.Config{ServerName: "a.example", InsecureSkipVerify: true})
	require.NoError(t, clientConn.Handshake())
	defer clientConn.Close()

	select {
	case accepted := <-resultCh:
		require.Equal(t, "a.example", accepted.ServerName)
	case err := <-errCh:
		t.Fatalf("handshake failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshakeRejectsNoSniWithoutDefault(t *testing.T) {
	store := certstore.NewStore()
	store.Publish(certstore.NewSnapshot(map[string]*certstore.Entry{
		"a.example": selfSignedEntry(t, "a.example"),
	}, "")) // no default configured

	a := NewAcceptor(store, 2*time.Second)

	server, client := dialPair(t)
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Handshake(context.Background(), server)
		errCh <- err
	}()

	// ServerName left empty: the client sends no SNI extension at all.
	clientConn := tls.Client(client, &tls.Config{InsecureSkipVerify: true})
	_ = clientConn.Handshake()
	defer clientConn.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
		var perr *proxyerr.Error
		require.True(t, proxyerr.As(err, &perr))
		require.Equal(t, proxyerr.KindNoSni, perr.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshakeTimesOutWithoutClient(t *testing.T) {
	store := certstore.NewStore()
	store.Publish(certstore.NewSnapshot(map[string]*certstore.Entry{
		"a.example": selfSignedEntry(t, "a.example"),
	}, ""))

	a := NewAcceptor(store, 50*time.Millisecond)

	server, client := dialPair(t)
	defer client.Close()

	_, err := a.Handshake(context.Background(), server)
	require.Error(t, err)
}

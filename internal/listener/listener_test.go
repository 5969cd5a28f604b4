package listener

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k3s-io/edge-proxy/internal/admission"
	"github.com/k3s-io/edge-proxy/internal/lifecycle"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestListenerServesPlainHTTP(t *testing.T) {
	addr := freeAddr(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	l := New(Binding{Addr: addr, Handler: handler, ProxyTimeout: time.Second}, admission.NewCounter(10))
	token := lifecycle.New(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(token) }()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ok", string(body))

	token.Cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListenerRejectsBeyondAdmissionCeiling(t *testing.T) {
	addr := freeAddr(t)
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "ok")
	})

	adm := admission.NewCounter(1)
	l := New(Binding{Addr: addr, Handler: handler, ProxyTimeout: time.Second}, adm)
	token := lifecycle.New(context.Background())

	go l.Run(token)
	time.Sleep(50 * time.Millisecond)
	defer func() { close(release); token.Cancel() }()

	client := &http.Client{Timeout: 300 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		client.Get("http://" + addr + "/")
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, readErr := conn.Read(buf)
	require.Error(t, readErr) // connection closed without a response: rejected at admission
}

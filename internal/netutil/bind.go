// Package netutil implements the Socket Binder (spec §4.2): it creates
// listening sockets with SO_REUSEADDR/SO_REUSEPORT and a configurable
// backlog, grounded on the teacher's pkg/util/net.go ListenWithLoopback and
// its platform-specific permitReuse helper.
package netutil

import (
	"context"
	"fmt"
	"net"
)

// BindError is returned when binding a listen socket fails. The Listener
// returns it from Run, and the Supervisor treats that like any other
// service failure: it cancels the root token, stopping every other service.
type BindError struct {
	Addr  string
	Cause error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Cause)
}

func (e *BindError) Unwrap() error { return e.Cause }

// Bind opens a TCP listener on addr with SO_REUSEADDR/SO_REUSEPORT set and
// the given backlog hint applied via the listen(2) backlog. backlog <= 0
// uses the platform default.
func Bind(ctx context.Context, addr string, backlog int) (net.Listener, error) {
	if backlog > 0 {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, &BindError{Addr: addr, Cause: err}
		}
		l, err := listenBacklog(tcpAddr, backlog)
		if err != nil {
			return nil, &BindError{Addr: addr, Cause: err}
		}
		return l, nil
	}

	lc := &net.ListenConfig{Control: permitReuse}
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Cause: err}
	}
	return l, nil
}

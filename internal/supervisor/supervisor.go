// Package supervisor implements the Supervisor (spec §4.7): it owns the
// root CancelToken, spawns one task per listener binding plus the
// Certificate Reloader and (when enabled) the ACME challenge server, and
// joins them with a first-failure-wins policy, mirroring
// pkg/spegel/bootstrap.go's chainingBootstrapper.Run's
// errgroup.WithContext(ctx); eg.Go(...); eg.Wait() shape.
package supervisor

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/k3s-io/edge-proxy/internal/lifecycle"
)

// Service is anything the Supervisor spawns and joins: listener accept
// loops, the Certificate Reloader, the ACME challenge server.
type Service interface {
	Run(token *lifecycle.Token) error
}

// ServiceFunc adapts a plain func(*lifecycle.Token) error to Service.
type ServiceFunc func(token *lifecycle.Token) error

func (f ServiceFunc) Run(token *lifecycle.Token) error { return f(token) }

// Supervisor owns a root CancelToken and joins every spawned Service.
type Supervisor struct {
	Root         *lifecycle.Token
	DrainTimeout time.Duration // bounds how long Run waits after the root is cancelled

	services []namedService
}

type namedService struct {
	name string
	svc  Service
}

// New returns a Supervisor rooted at root. A zero DrainTimeout defaults to
// 30 seconds.
func New(root *lifecycle.Token, drainTimeout time.Duration) *Supervisor {
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Supervisor{Root: root, DrainTimeout: drainTimeout}
}

// Add registers a named Service to be started by Run.
func (s *Supervisor) Add(name string, svc Service) {
	s.services = append(s.services, namedService{name: name, svc: svc})
}

// Run starts every registered Service, each under its own child of Root, and
// blocks until all have returned or the bounded drain expires. The first
// Service to return a non-nil error cancels Root, which cascades to every
// other child token; Run returns that first error (spec §4.7: "the first
// task to return an error cancels the root token and the Supervisor
// collects the remaining outcomes with a bounded drain").
func (s *Supervisor) Run() error {
	eg, _ := errgroup.WithContext(s.Root.Context())

	for _, ns := range s.services {
		ns := ns
		token := s.Root.Child()
		eg.Go(func() error {
			err := ns.svc.Run(token)
			if err != nil {
				logrus.Errorf("edge-proxy: service %s failed, cancelling: %v", ns.name, err)
				s.Root.Cancel()
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-s.Root.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(s.DrainTimeout):
			logrus.Warnf("edge-proxy: drain timeout of %s exceeded, some services may still be shutting down", s.DrainTimeout)
			return nil
		}
	}
}

// Package acmeserve implements the ACME challenge server (spec §4.7: "the
// ACME challenge server, when enabled"). It keeps the Certificate Store
// stocked with certificates for every ACME-managed host, obtaining and
// renewing them on a fixed schedule. It answers no ACME challenge itself:
// any challenge exchange happens inside the Issuer, and the TLS Acceptor
// does not consult this package during a handshake.
//
// The ACME order state machine itself (directory discovery, nonce
// handling, account registration, authorization polling, CSR finalization)
// is treated as an external collaborator: this package depends on it only
// through the Issuer interface below, grounded on the one concretely
// demonstrated mholt/acmez/v3 call pattern in the example pack -
// TLSALPN01ChallengeCert synthesizing a challenge-response certificate from
// an in-progress acme.Challenge (other_examples' certmagic handshake.go and
// caddytls connpolicy.go). A production Issuer backs Obtain with acmez.Client
// driving that documented flow end to end.
package acmeserve

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k3s-io/edge-proxy/internal/certstore"
	"github.com/k3s-io/edge-proxy/internal/lifecycle"
)

// Issuer obtains a certificate for domain from an ACME CA, performing
// whatever challenge exchange the CA requires. Obtain should block until
// issuance succeeds, fails, or ctx is cancelled.
type Issuer interface {
	Obtain(ctx context.Context, domain string) (*tls.Certificate, error)
}

// Config is the decoded `acme` configuration table (spec §6), plus the
// resolved set of hosts this server is responsible for.
type Config struct {
	Email        string
	DirectoryURL string
	Domains      []string      // server names with no static tls table
	RenewBefore  time.Duration // renew once expiry is closer than this; default 30d
	PollInterval time.Duration // how often to check for due renewals; default 12h
}

// Server drives certificate issuance/renewal for Config.Domains and
// publishes the results into the Certificate Store.
type Server struct {
	cfg    Config
	issuer Issuer
	store  *certstore.Store

	mu      sync.Mutex
	expires map[string]time.Time
}

// New returns a Server. issuer may be nil only if len(cfg.Domains) == 0.
func New(cfg Config, issuer Issuer, store *certstore.Store) *Server {
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = 30 * 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Hour
	}
	return &Server{
		cfg:     cfg,
		issuer:  issuer,
		store:   store,
		expires: map[string]time.Time{},
	}
}

// Run obtains an initial certificate for every configured domain, then
// rechecks for due renewals every PollInterval until token is cancelled.
// Suitable as a supervisor.Service alongside the listeners and Certificate
// Reloader (spec §4.7).
func (s *Server) Run(token *lifecycle.Token) error {
	if len(s.cfg.Domains) == 0 {
		<-token.Done()
		return nil
	}

	s.renewDue(token.Context())

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-token.Done():
			return nil
		case <-ticker.C:
			s.renewDue(token.Context())
		}
	}
}

func (s *Server) renewDue(ctx context.Context) {
	for _, domain := range s.cfg.Domains {
		if !s.due(domain) {
			continue
		}
		cert, err := s.issuer.Obtain(ctx, domain)
		if err != nil {
			logrus.Warnf("edge-proxy: acme: obtaining certificate for %s failed: %v", domain, err)
			continue
		}

		expiry := time.Now().Add(s.cfg.RenewBefore + s.cfg.PollInterval)
		if cert.Leaf != nil {
			expiry = cert.Leaf.NotAfter
		}

		s.mu.Lock()
		s.expires[domain] = expiry
		s.mu.Unlock()

		s.store.PublishACMEEntry(domain, &certstore.Entry{Certificate: *cert})
		logrus.Infof("edge-proxy: acme: issued certificate for %s, valid until %s", domain, expiry.UTC().Format(time.RFC3339))
	}
}

func (s *Server) due(domain string) bool {
	s.mu.Lock()
	exp, ok := s.expires[domain]
	s.mu.Unlock()
	if !ok {
		return true
	}
	return time.Until(exp) <= s.cfg.RenewBefore
}

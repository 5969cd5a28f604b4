// Package certstore implements the Certificate Store (spec §3, §4.3): an
// immutable snapshot of {server-name -> certificate chain + private key +
// optional client-CA set + optional OCSP staple}, published by a single
// writer and read lock-free by every TLS handshake.
//
// Certificate parsing leans on rancher/dynamiclistener/cert (certutil),
// the same PEM/X.509 helper package the teacher uses in pkg/server/cert.go.
package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"sort"
	"strings"
)

// Entry is one host's certificate material.
type Entry struct {
	Certificate tls.Certificate
	ClientCAs   *x509.CertPool // optional; non-nil enables client-cert verification
	OCSPStaple  []byte         // optional
}

// Snapshot is the immutable, point-in-time certificate table. It is never
// mutated after construction: readers hold a reference for as long as a
// handshake needs it, even across a later publish (spec §3: "the previous
// [snapshot] remains valid for any in-flight handshake holding a
// reference").
type Snapshot struct {
	exact     map[string]*Entry
	wildcards []wildcardEntry // sorted longest-suffix-first
	def       *Entry
	defName   string
}

type wildcardEntry struct {
	suffix string
	entry  *Entry
}

// NewSnapshot builds a Snapshot from a flat {name -> Entry} map. A name of
// "*.suffix" registers a wildcard entry; defaultName (optional) names the
// entry served when no exact or wildcard match exists.
func NewSnapshot(byName map[string]*Entry, defaultName string) *Snapshot {
	s := &Snapshot{exact: map[string]*Entry{}, defName: defaultName}
	for name, e := range byName {
		if strings.HasPrefix(name, "*.") {
			s.wildcards = append(s.wildcards, wildcardEntry{suffix: name[2:], entry: e})
			continue
		}
		s.exact[name] = e
	}
	sort.Slice(s.wildcards, func(i, j int) bool {
		return len(s.wildcards[i].suffix) > len(s.wildcards[j].suffix)
	})
	if defaultName != "" {
		s.def = byName[defaultName]
	}
	return s
}

// ErrNoCertificate is returned by Lookup when no entry matches a server name
// and no default is configured (spec §4.3 lookup step 4).
type ErrNoCertificate struct {
	ServerName string
}

func (e *ErrNoCertificate) Error() string {
	return "no certificate for server name " + e.ServerName
}

// Lookup implements the Store lookup algorithm (spec §4.3): (1) exact match;
// (2) most-specific wildcard ("*.a.b" beats "*.b"); (3) configured default;
// (4) NoCertificate.
func (s *Snapshot) Lookup(serverName string) (*Entry, error) {
	name := strings.ToLower(serverName)
	if e, ok := s.exact[name]; ok {
		return e, nil
	}
	for _, w := range s.wildcards {
		if strings.HasSuffix(name, "."+w.suffix) {
			return w.entry, nil
		}
	}
	if s.def != nil {
		return s.def, nil
	}
	return nil, &ErrNoCertificate{ServerName: serverName}
}

// mergeACME returns a new Snapshot combining s's static entries with acme,
// a {server-name -> Entry} map of ACME-issued certificates. A name present
// in both keeps its static entry: operator-supplied certificates always
// take priority over ACME-issued ones for the same host.
func (s *Snapshot) mergeACME(acme map[string]*Entry) *Snapshot {
	if len(acme) == 0 {
		return s
	}

	byName := make(map[string]*Entry, len(s.exact)+len(s.wildcards)+len(acme))
	for name, e := range acme {
		byName[name] = e
	}
	for name, e := range s.exact {
		byName[name] = e
	}
	for _, w := range s.wildcards {
		byName["*."+w.suffix] = w.entry
	}

	return NewSnapshot(byName, s.defName)
}

// HasDefault reports whether this snapshot has a default certificate,
// needed by the TLS Acceptor to decide how to treat handshakes without SNI
// (spec §4.4, §9 Open Question: reject at TLS when SNI is absent and no
// default is configured).
func (s *Snapshot) HasDefault() bool {
	return s.def != nil
}

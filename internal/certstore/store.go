package certstore

import (
	"sync"
	"sync/atomic"
)

// Store exposes the currently published Snapshot and a change notifier. It
// mirrors the Backend Registry's atomic-pointer publish pattern: Current is
// the hot read path, Subscribe is for the Reloader's own bookkeeping and for
// tests observing publish events.
//
// The combined Snapshot served by Current layers two sources: the
// file-based entries the Reloader publishes via Publish, and the
// account-wide entries the ACME challenge server publishes one host at a
// time via PublishACMEEntry as certificates are issued or renewed. A static
// entry always wins over an ACME entry for the same host name, so an
// operator-supplied certificate/key pair is never silently shadowed by a
// later ACME issuance.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	staticSnap  *Snapshot
	acmeEntries map[string]*Entry
	subs        []chan struct{}
}

// NewStore returns a Store seeded with an empty Snapshot.
func NewStore() *Store {
	empty := NewSnapshot(nil, "")
	s := &Store{staticSnap: empty, acmeEntries: map[string]*Entry{}}
	s.current.Store(empty)
	return s
}

// Current returns a handle to the currently published Snapshot. Cheap,
// lock-free; safe to call from every handshake.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Subscribe registers for a notification on every successful publish. The
// returned channel is closed and replaced on each publish (spec §4.3:
// "subscribe() -> ChangeStream that yields on every successful publish");
// callers should re-subscribe after each receive if they want to keep
// observing future publishes.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Publish swaps in a new file-based Snapshot (the Reloader's source of
// truth) and republishes the combined view. Last-writer-wins among static
// publishes; readers already holding a reference to the previous combined
// Snapshot are unaffected (spec §4.3).
func (s *Store) Publish(snap *Snapshot) {
	s.mu.Lock()
	s.staticSnap = snap
	s.mu.Unlock()
	s.recombine()
}

// PublishACMEEntry records a freshly issued or renewed ACME certificate for
// one host and republishes the combined view. It never overrides a host
// already served by a static (file-based) entry.
func (s *Store) PublishACMEEntry(serverName string, entry *Entry) {
	s.mu.Lock()
	s.acmeEntries[serverName] = entry
	s.mu.Unlock()
	s.recombine()
}

func (s *Store) recombine() {
	s.mu.Lock()
	static := s.staticSnap
	acme := make(map[string]*Entry, len(s.acmeEntries))
	for name, e := range s.acmeEntries {
		acme[name] = e
	}
	s.mu.Unlock()

	s.current.Store(static.mergeACME(acme))

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

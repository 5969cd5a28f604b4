package certstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	certutil "github.com/rancher/dynamiclistener/cert"
	"github.com/rancher/dynamiclistener/factory"
	"github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
)

// HostCertSource is one operator-configured {server-name -> files} entry
// from the "tls" table of an app's config block (spec §6).
type HostCertSource struct {
	ServerName   string
	CertFile     string
	KeyFile      string
	ClientCAFile string // optional
	Default      bool
}

// Reloader owns the certificate sources (filesystem paths) and periodically
// rebuilds a Snapshot, publishing it to the Store (spec §4.3). A failure to
// parse a new snapshot is non-fatal: it leaves the previous snapshot in
// place and logs a warning, mirroring spec §7's "Certificate Reloader parse
// failures are non-fatal and retain the previous snapshot".
type Reloader struct {
	store    *Store
	sources  []HostCertSource
	interval time.Duration
}

// NewReloader returns a Reloader that rebuilds snapshots for sources and
// publishes them to store.
func NewReloader(store *Store, sources []HostCertSource, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reloader{store: store, sources: sources, interval: interval}
}

// Run rebuilds and publishes an initial snapshot, then watches the
// configured certificate/key files with fsnotify where possible, falling
// back to polling at the configured interval for sources whose
// watch-registration fails (e.g. a filesystem that does not support inotify).
// Run blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	if err := r.reloadOnce(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Warnf("certstore: fsnotify unavailable, falling back to polling every %s: %v", r.interval, err)
		return r.pollLoop(ctx)
	}
	defer watcher.Close()

	for _, src := range r.sources {
		for _, f := range []string{src.CertFile, src.KeyFile, src.ClientCAFile} {
			if f == "" {
				continue
			}
			if err := watcher.Add(f); err != nil {
				logrus.Warnf("certstore: could not watch %s, falling back to polling for this source: %v", f, err)
			}
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reloadAndLog()
		case ev, ok := <-watcher.Events:
			if !ok {
				return r.pollLoop(ctx)
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.reloadAndLog()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return r.pollLoop(ctx)
			}
			logrus.Warnf("certstore: watch error: %v", err)
		}
	}
}

func (r *Reloader) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reloadAndLog()
		}
	}
}

func (r *Reloader) reloadAndLog() {
	if err := r.reloadOnce(); err != nil {
		logrus.Warnf("certstore: keeping previous snapshot, reload failed: %v", err)
	}
}

// reloadOnce builds a brand-new Snapshot from disk and publishes it. A host
// whose files fail to parse keeps its entry from the previous snapshot (or
// is left out if it had none), while every other host gets its freshly
// loaded entry: a single bad certificate must not take down every other
// host's TLS. Nothing is published, and the error is returned, only when no
// host at all could be loaded or carried over.
func (r *Reloader) reloadOnce() error {
	byName := map[string]*Entry{}
	defaultName := ""

	var anyError error
	for _, src := range r.sources {
		entry, err := loadEntry(src)
		if err != nil {
			logrus.Warnf("certstore: skipping %s, using previous certificate if any: %v", src.ServerName, err)
			if anyError == nil {
				anyError = err
			}
			if prev, lookupErr := r.store.Current().Lookup(src.ServerName); lookupErr == nil {
				byName[src.ServerName] = prev
				if src.Default {
					defaultName = src.ServerName
				}
			}
			continue
		}
		byName[src.ServerName] = entry
		if src.Default {
			defaultName = src.ServerName
		}
	}

	if len(byName) == 0 && len(r.sources) > 0 {
		return anyError
	}

	r.store.Publish(NewSnapshot(byName, defaultName))
	return nil
}

// loadEntry reads one host's certificate material from disk using
// dynamiclistener's own cert-loading helpers, the same library the teacher
// uses for this exact concern (factory.LoadCerts in pkg/cluster/https.go,
// certutil.CertsFromFile in pkg/server/cert.go), rather than reaching past
// it for the stdlib equivalents.
func loadEntry(src HostCertSource) (*Entry, error) {
	certPEM, keyPEM, err := factory.LoadCerts(src.CertFile, src.KeyFile)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	entry := &Entry{Certificate: cert}

	if src.ClientCAFile != "" {
		cas, err := certutil.CertsFromFile(src.ClientCAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		for _, ca := range cas {
			pool.AddCert(ca)
		}
		entry.ClientCAs = pool
	}

	return entry, nil
}

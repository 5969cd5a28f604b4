package certstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeSelfSigned generates a fresh self-signed cert/key PEM pair for name
// on every call and writes it to name.crt and name.key under dir.
func writeSelfSigned(t *testing.T, dir, name string) (certPath, keyPath string) {
	t.Helper()
	certPEM, keyPEM := generateSelfSigned(t, name)
	certPath = filepath.Join(dir, name+".crt")
	keyPath = filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	return certPath, keyPath
}

func TestReloaderPublishesInitialSnapshot(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "a.example")

	store := NewStore()
	rl := NewReloader(store, []HostCertSource{
		{ServerName: "a.example", CertFile: certPath, KeyFile: keyPath},
	}, time.Hour)

	require.NoError(t, rl.reloadOnce())

	entry, err := store.Current().Lookup("a.example")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestReloaderKeepsPreviousSnapshotOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "a.example")

	store := NewStore()
	rl := NewReloader(store, []HostCertSource{
		{ServerName: "a.example", CertFile: certPath, KeyFile: keyPath},
	}, time.Hour)
	require.NoError(t, rl.reloadOnce())
	first := store.Current()

	// Corrupt the key file; the next reload must not wipe the entry.
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))
	rl.reloadAndLog()

	second := store.Current()
	entry, err := second.Lookup("a.example")
	require.NoError(t, err)
	require.NotNil(t, entry)

	firstEntry, _ := first.Lookup("a.example")
	require.Equal(t, firstEntry, entry)
}

func TestReloaderRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "a.example")

	store := NewStore()
	rl := NewReloader(store, []HostCertSource{
		{ServerName: "a.example", CertFile: certPath, KeyFile: keyPath},
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestReloaderDefaultSourceBecomesSnapshotDefault(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir, "a.example")

	store := NewStore()
	rl := NewReloader(store, []HostCertSource{
		{ServerName: "a.example", CertFile: certPath, KeyFile: keyPath, Default: true},
	}, time.Hour)
	require.NoError(t, rl.reloadOnce())

	require.True(t, store.Current().HasDefault())

	entry, err := store.Current().Lookup("unknown.example")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

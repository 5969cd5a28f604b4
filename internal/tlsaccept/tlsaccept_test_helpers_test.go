package tlsaccept

import (
	"testing"

	certutil "github.com/rancher/dynamiclistener/cert"
	"github.com/stretchr/testify/require"
)

// generateSelfSigned mints a throwaway self-signed cert/key PEM pair for
// commonName, the same certutil helpers cmd/server uses for the cluster CA
// and serving certs.
func generateSelfSigned(t *testing.T, commonName string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := certutil.NewPrivateKey()
	require.NoError(t, err)

	cfg := certutil.Config{CommonName: commonName}
	cert, err := certutil.NewSelfSignedCACert(cfg, key)
	require.NoError(t, err)

	return certutil.EncodeCertPEM(cert), certutil.EncodePrivateKeyPEM(key)
}

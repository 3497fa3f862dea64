package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyforge/internal/config"
)

// testCertPEM returns a self-signed certificate and key as PEM strings.
// A negative validFor produces an already-expired certificate.
func testCertPEM(t *testing.T, validFor time.Duration) (certPEM, keyPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "applyforge-test"},
		NotBefore:             now.Add(-2 * time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

// contentManager builds a manager fed by inline PEM content, with watchers,
// Vault, and observability all absent.
func contentManager(t *testing.T, tlsCfg *config.TLSConfig) *CertificateManager {
	t.Helper()

	cm := NewCertificateManager(tlsCfg, nil, nil, nil, nil)
	t.Cleanup(func() { _ = cm.Stop() })
	return cm
}

func TestCertificateManagerLifecycle(t *testing.T) {
	certPEM, keyPEM := testCertPEM(t, 24*time.Hour)
	cm := contentManager(t, &config.TLSConfig{
		Mode:        config.TLSModeServer,
		CertContent: certPEM,
		KeyContent:  keyPEM,
	})

	require.NoError(t, cm.Start())

	cert, err := cm.GetServerCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.NotNil(t, cert)

	remaining, err := cm.CheckExpiry()
	require.NoError(t, err)
	assert.Greater(t, remaining, 23*time.Hour)

	metrics := cm.GetMetrics()
	assert.Equal(t, int64(1), metrics.ReloadCount)
	assert.Equal(t, int64(1), metrics.ReloadSuccessCount)
	assert.True(t, metrics.LastReloadSuccess)
	assert.Empty(t, metrics.LastReloadError)

	require.NoError(t, cm.ReloadCertificates())
	assert.Equal(t, int64(2), cm.GetMetrics().ReloadCount)
}

func TestCertificateManagerStartFailsOnBadMaterial(t *testing.T) {
	cm := contentManager(t, &config.TLSConfig{
		Mode:        config.TLSModeServer,
		CertContent: "not a certificate",
		KeyContent:  "not a key",
	})

	err := cm.Start()
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load initial certificates")
}

func TestCertificateManagerWithoutMaterial(t *testing.T) {
	cm := contentManager(t, &config.TLSConfig{Mode: config.TLSModeDisabled})

	// No sources configured loads nothing but is not an error.
	require.NoError(t, cm.Start())

	_, err := cm.GetServerCertificate(&tls.ClientHelloInfo{})
	assert.ErrorContains(t, err, "no server certificate available")

	_, err = cm.CheckExpiry()
	assert.ErrorContains(t, err, "no certificates loaded")
}

func TestCertificateManagerRejectsExpiredCert(t *testing.T) {
	certPEM, keyPEM := testCertPEM(t, -30*time.Minute)
	cm := contentManager(t, &config.TLSConfig{
		Mode:        config.TLSModeServer,
		CertContent: certPEM,
		KeyContent:  keyPEM,
	})

	// Loading expired material succeeds; handing it to a handshake does not.
	require.NoError(t, cm.Start())

	_, err := cm.GetServerCertificate(&tls.ClientHelloInfo{})
	assert.ErrorContains(t, err, "server certificate expired")

	remaining, err := cm.CheckExpiry()
	require.NoError(t, err)
	assert.Negative(t, remaining)
}

func TestCertificateManagerReloadFailureBookkeeping(t *testing.T) {
	certPEM, keyPEM := testCertPEM(t, 24*time.Hour)
	tlsCfg := &config.TLSConfig{
		Mode:        config.TLSModeServer,
		CertContent: certPEM,
		KeyContent:  keyPEM,
	}
	cm := contentManager(t, tlsCfg)
	require.NoError(t, cm.Start())

	type outcome struct {
		success bool
		err     error
	}
	outcomes := make(chan outcome, 1)
	cm.AddReloadCallback(func(success bool, err error) {
		outcomes <- outcome{success, err}
	})

	tlsCfg.CertContent = "corrupted material"
	cm.triggerReload()

	select {
	case got := <-outcomes:
		assert.False(t, got.success)
		assert.Error(t, got.err)
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback was not invoked")
	}

	metrics := cm.GetMetrics()
	assert.Equal(t, int64(2), metrics.ReloadCount)
	assert.Equal(t, int64(1), metrics.ReloadFailureCount)
	assert.False(t, metrics.LastReloadSuccess)
	assert.NotEmpty(t, metrics.LastReloadError)

	// The previously loaded certificate stays in service through the failure.
	cert, err := cm.GetServerCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotNil(t, cert)
}

func TestCertificateManagerVerifyPeerCertificate(t *testing.T) {
	certPEM, keyPEM := testCertPEM(t, 24*time.Hour)
	cm := contentManager(t, &config.TLSConfig{
		Mode:        config.TLSModeMutual,
		CertContent: certPEM,
		KeyContent:  keyPEM,
		CAContent:   certPEM,
	})
	require.NoError(t, cm.Start())
	require.NotNil(t, cm.GetCACertPool())

	block, _ := pem.Decode([]byte(certPEM))
	require.NotNil(t, block)

	assert.NoError(t, cm.VerifyPeerCertificate([][]byte{block.Bytes}, nil))

	assert.ErrorContains(t, cm.VerifyPeerCertificate(nil, nil),
		"no peer certificates provided")

	strangerPEM, _ := testCertPEM(t, 24*time.Hour)
	strangerBlock, _ := pem.Decode([]byte(strangerPEM))
	require.NotNil(t, strangerBlock)
	assert.ErrorContains(t, cm.VerifyPeerCertificate([][]byte{strangerBlock.Bytes}, nil),
		"peer certificate verification failed")
}

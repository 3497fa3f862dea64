package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"applyforge/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVaultClient is an in-memory SecretReader serving one mutable secret.
// failOnCall makes the n-th GetSecretV2 call fail, which is how the tests
// split the version check from the fetch.
type fakeVaultClient struct {
	mu         sync.Mutex
	path       string
	data       map[string]any
	version    int64
	failOnCall int
	calls      int
}

func (f *fakeVaultClient) GetSecretV2(path string) (*config.VaultSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOnCall != 0 && f.calls == f.failOnCall {
		return nil, fmt.Errorf("vault is sealed")
	}
	if path != f.path {
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}
	return &config.VaultSecret{Data: f.data, Version: f.version}, nil
}

func (f *fakeVaultClient) setVersion(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

func TestVaultWatcherDetectsVersionAdvance(t *testing.T) {
	client := &fakeVaultClient{
		path:    "secret/data/applyforge/tls",
		data:    map[string]any{"cert": "CERT-PEM", "key": "KEY-PEM", "ca": "CA-PEM"},
		version: 3,
	}

	var received []*CertificateData
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", time.Hour,
		func(data *CertificateData, err error) {
			require.NoError(t, err)
			received = append(received, data)
		}, nil)

	require.NoError(t, vw.Start())
	defer vw.Stop()

	// Start primed the baseline at version 3, so an unchanged secret stays
	// quiet.
	vw.poll()
	assert.Empty(t, received)

	client.setVersion(4)
	vw.poll()
	require.Len(t, received, 1)
	assert.Equal(t, "CERT-PEM", received[0].CertContent)
	assert.Equal(t, "KEY-PEM", received[0].KeyContent)
	assert.Equal(t, "CA-PEM", received[0].CAContent)

	// Same version again: nothing new to report.
	vw.poll()
	assert.Len(t, received, 1)
}

func TestVaultWatcherStartStopStatus(t *testing.T) {
	client := &fakeVaultClient{path: "secret/data/applyforge/tls", version: 7}
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", 30*time.Second,
		func(*CertificateData, error) {}, nil)

	assert.Equal(t, false, vw.Status()["running"])

	require.NoError(t, vw.Start())
	assert.Error(t, vw.Start(), "second Start must be rejected")

	status := vw.Status()
	assert.Equal(t, true, status["running"])
	assert.Equal(t, "30s", status["poll_interval"])
	assert.Equal(t, "secret/data/applyforge/tls", status["secret_path"])
	assert.Equal(t, int64(7), status["last_version"], "Start primes the baseline version")

	require.NoError(t, vw.Stop())
	assert.Equal(t, false, vw.Status()["running"])
	assert.NoError(t, vw.Stop(), "second Stop is a no-op")
}

func TestVaultWatcherReportsFetchError(t *testing.T) {
	// Call 1 primes the baseline, call 2 is the version check, call 3 is the
	// content fetch.
	client := &fakeVaultClient{
		path:       "secret/data/applyforge/tls",
		data:       map[string]any{"cert": "CERT-PEM"},
		version:    1,
		failOnCall: 3,
	}

	var gotData *CertificateData
	var gotErr error
	called := false
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", time.Hour,
		func(data *CertificateData, err error) {
			called = true
			gotData, gotErr = data, err
		}, nil)

	require.NoError(t, vw.Start())
	defer vw.Stop()

	client.setVersion(2)
	vw.poll()

	require.True(t, called, "fetch failures must reach the callback")
	assert.Nil(t, gotData)
	assert.ErrorContains(t, gotErr, "vault is sealed")
}

func TestVaultWatcherSkipsCallbackOnCheckError(t *testing.T) {
	client := &fakeVaultClient{
		path:       "secret/data/applyforge/tls",
		version:    1,
		failOnCall: 2, // the version check after priming
	}

	called := false
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", time.Hour,
		func(*CertificateData, error) { called = true }, nil)

	require.NoError(t, vw.Start())
	defer vw.Stop()

	vw.poll()
	assert.False(t, called, "a failed version check is logged, not dispatched")
}

func TestVaultWatcherStartWithoutBaseline(t *testing.T) {
	// Priming fails; the watcher falls back to baseline 0 and the first poll
	// treats the current version as a change.
	client := &fakeVaultClient{
		path:       "secret/data/applyforge/tls",
		data:       map[string]any{"cert": "CERT-PEM"},
		version:    9,
		failOnCall: 1,
	}

	var got *CertificateData
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", time.Hour,
		func(data *CertificateData, err error) {
			require.NoError(t, err)
			got = data
		}, nil)

	require.NoError(t, vw.Start())
	defer vw.Stop()

	vw.poll()
	require.NotNil(t, got)
	assert.Equal(t, "CERT-PEM", got.CertContent)
}

func TestVaultWatcherFetchCertificateDataPartial(t *testing.T) {
	client := &fakeVaultClient{
		path:    "secret/data/applyforge/tls",
		data:    map[string]any{"cert": "CERT-PEM", "unrelated": 42},
		version: 1,
	}
	vw := NewVaultWatcher(client, "secret/data/applyforge/tls", time.Hour,
		func(*CertificateData, error) {}, nil)

	data, err := vw.fetchCertificateData()
	require.NoError(t, err)
	assert.Equal(t, "CERT-PEM", data.CertContent)
	assert.Empty(t, data.KeyContent)
	assert.Empty(t, data.CAContent)
}

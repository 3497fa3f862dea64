package server

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertWatcherDetectsFileChange(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	require.NoError(t, os.WriteFile(certPath, []byte("cert-v1"), 0o600))

	var reloads atomic.Int32
	cw := NewCertWatcher(certPath, "", "", 50*time.Millisecond, func() {
		reloads.Add(1)
	}, nil)

	require.NoError(t, cw.Start())
	t.Cleanup(func() { _ = cw.Stop() })

	assert.True(t, cw.IsRunning())
	assert.Equal(t, []string{certPath}, cw.GetWatchedFiles())
	assert.ErrorContains(t, cw.Start(), "already running")

	// Give the rewrite a later mtime than the startup snapshot.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(certPath, []byte("cert-v2"), 0o600))

	require.Eventually(t, func() bool { return reloads.Load() > 0 },
		3*time.Second, 20*time.Millisecond, "no reload after certificate rewrite")
}

// A watched path that does not exist yet is covered through its parent
// directory, so the file appearing later still triggers a reload.
func TestCertWatcherCatchesFileAppearing(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "late.crt")

	var reloads atomic.Int32
	cw := NewCertWatcher(certPath, "", "", 50*time.Millisecond, func() {
		reloads.Add(1)
	}, nil)

	require.NoError(t, cw.Start())
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(certPath, []byte("now present"), 0o600))

	require.Eventually(t, func() bool { return reloads.Load() > 0 },
		3*time.Second, 20*time.Millisecond, "no reload after certificate appeared")
}

func TestCertWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	require.NoError(t, os.WriteFile(certPath, []byte("cert"), 0o600))

	var reloads atomic.Int32
	cw := NewCertWatcher(certPath, "", "", 20*time.Millisecond, func() {
		reloads.Add(1)
	}, nil)

	require.NoError(t, cw.Start())
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, reloads.Load(), "unrelated file must not trigger a reload")
}

func TestCertWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	require.NoError(t, os.WriteFile(certPath, []byte("cert"), 0o600))

	cw := NewCertWatcher(certPath, "", "", 0, func() {}, nil)
	require.NoError(t, cw.Start())

	require.NoError(t, cw.Stop())
	assert.False(t, cw.IsRunning())
	require.NoError(t, cw.Stop())
}

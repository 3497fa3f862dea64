package server

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"applyforge/internal/errors"

	"github.com/fsnotify/fsnotify"
)

// CertWatcher triggers certificate reloads when the watched PEM files
// change on disk. Events are debounced so a multi-file rotation (cert,
// key, and CA written one after another) produces a single reload.
type CertWatcher struct {
	mu sync.RWMutex

	files []string

	// Modification times from the last change check, used to filter
	// spurious fsnotify events.
	lastModTime map[string]time.Time

	fsWatcher     *fsnotify.Watcher
	debounceDelay time.Duration
	debounceTimer *time.Timer

	stopChan   chan struct{}
	reloadChan chan struct{}

	reloadCallback func()
	logger         *errors.Logger

	running bool
}

// NewCertWatcher creates a watcher over the given certificate files.
// Empty paths are skipped. A zero debounce delay falls back to one
// second.
func NewCertWatcher(certFile, keyFile, caFile string, debounceDelay time.Duration, reloadCallback func(), logger *errors.Logger) *CertWatcher {
	if debounceDelay == 0 {
		debounceDelay = time.Second
	}
	if logger == nil {
		logger = errors.Discard()
	}

	files := make([]string, 0, 3)
	for _, f := range []string{certFile, keyFile, caFile} {
		if f != "" {
			files = append(files, f)
		}
	}

	return &CertWatcher{
		files:          files,
		lastModTime:    make(map[string]time.Time),
		debounceDelay:  debounceDelay,
		stopChan:       make(chan struct{}),
		reloadChan:     make(chan struct{}, 1),
		reloadCallback: reloadCallback,
		logger:         logger,
	}
}

// Start registers the certificate files with fsnotify and launches the
// event loop.
func (cw *CertWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("certificate watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	cw.fsWatcher = watcher

	if err := cw.snapshotModTimes(); err != nil {
		cw.closeWatcher()
		return fmt.Errorf("failed to get initial file modification times: %w", err)
	}

	for _, file := range cw.files {
		if err := cw.watchFile(file); err != nil {
			cw.logger.Warn("Failed to watch certificate file", "file", file, "error", err)
		}
	}

	cw.running = true
	go cw.watchLoop()

	cw.logger.Info("Certificate file watcher started",
		"files", cw.files,
		"debounce_delay", cw.debounceDelay)
	return nil
}

// closeWatcher closes the fsnotify watcher, logging close errors.
func (cw *CertWatcher) closeWatcher() {
	if cw.fsWatcher == nil {
		return
	}
	if err := cw.fsWatcher.Close(); err != nil {
		cw.logger.LogError(err, "Failed to close file watcher during cleanup")
	}
}

// Stop shuts down the event loop and the fsnotify watcher.
func (cw *CertWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running {
		return nil
	}

	close(cw.stopChan)

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}

	if cw.fsWatcher != nil {
		if err := cw.fsWatcher.Close(); err != nil {
			cw.logger.LogError(err, "Failed to close file system watcher")
			return err
		}
	}

	cw.running = false

	cw.logger.Info("Certificate file watcher stopped")
	return nil
}

// watchFile registers a file with fsnotify. A missing file falls back to
// watching its directory so the watcher catches the file appearing
// later; the directory is watched in any case because atomic writes land
// as renames in the parent.
func (cw *CertWatcher) watchFile(file string) error {
	dir := filepath.Dir(file)

	if err := cw.fsWatcher.Add(file); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to watch file %s: %w", file, err)
		}
		if err := cw.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		cw.logger.Info("Watching directory for certificate file",
			"file", file, "directory", dir)
		return nil
	}

	if err := cw.fsWatcher.Add(dir); err != nil {
		cw.logger.Warn("Failed to watch directory for atomic writes",
			"directory", dir, "error", err)
	}
	return nil
}

// snapshotModTimes primes the modification-time map so the first change
// check has a baseline.
func (cw *CertWatcher) snapshotModTimes() error {
	for _, file := range cw.files {
		stat, err := os.Stat(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to stat file %s: %w", file, err)
		}
		cw.lastModTime[file] = stat.ModTime()
	}
	return nil
}

// fileChanged reports whether the file was modified or deleted since the
// last check, updating the stored modification time as a side effect.
func (cw *CertWatcher) fileChanged(file string) bool {
	stat, err := os.Stat(file)
	if err != nil {
		if os.IsNotExist(err) {
			if _, tracked := cw.lastModTime[file]; tracked {
				delete(cw.lastModTime, file)
				return true
			}
		}
		return false
	}

	last, tracked := cw.lastModTime[file]
	if !tracked || stat.ModTime().After(last) {
		cw.lastModTime[file] = stat.ModTime()
		return true
	}
	return false
}

// watchLoop drains fsnotify events and runs the debounced reload passes.
// The reload callback runs on its own goroutine so a slow reload cannot
// back up event processing.
func (cw *CertWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-cw.fsWatcher.Events:
			if !ok {
				return
			}
			if cw.relevantEvent(event) {
				cw.scheduleReload()
			}

		case err, ok := <-cw.fsWatcher.Errors:
			if !ok {
				return
			}
			cw.logger.LogError(err, "File watcher error")

		case <-cw.reloadChan:
			if slices.ContainsFunc(cw.files, cw.fileChanged) {
				cw.logger.Info("Certificate files changed, triggering reload")
				go cw.reloadCallback()
			}

		case <-cw.stopChan:
			return
		}
	}
}

// relevantEvent reports whether a filesystem event concerns one of the
// watched files. Editors and rotation tooling produce chmod and remove
// noise that never warrants a reload.
func (cw *CertWatcher) relevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return slices.ContainsFunc(cw.files, func(file string) bool {
		return event.Name == file || filepath.Base(event.Name) == filepath.Base(file)
	})
}

// scheduleReload arms the debounce timer; repeated events inside the
// window collapse into a single pass over the files.
func (cw *CertWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debounceDelay, func() {
		select {
		case cw.reloadChan <- struct{}{}:
		default: // a reload pass is already queued
		}
	})
}

// IsRunning reports whether the watcher loop is active.
func (cw *CertWatcher) IsRunning() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.running
}

// GetWatchedFiles returns the certificate paths under watch.
func (cw *CertWatcher) GetWatchedFiles() []string {
	return slices.Clone(cw.files)
}

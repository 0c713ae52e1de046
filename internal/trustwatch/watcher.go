// Package trustwatch watches a directory of trusted signer public keys
// and loads keys into certverify's trust store when they are added or
// changed on disk. A removed key file is reported as a ReloadEvent with
// Removed set; the key stays in the trust store.
package trustwatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"saferase/internal/certverify"
	"saferase/internal/signer"
)

// ReloadEvent describes one trust-store reload triggered by a file
// system change.
type ReloadEvent struct {
	Path      string
	KeyID     string
	Removed   bool
	Timestamp time.Time
}

// Watcher monitors a trust-store directory for *.pem changes and loads
// new or changed keys into a certverify.Verifier's trusted key set.
// Removals are reported but not applied to the verifier.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	interval  time.Duration
	verifier  *certverify.Verifier

	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan ReloadEvent
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher over dir, reloading verifier's trust store on
// changes debounced by intervalSec seconds.
func New(dir string, verifier *certverify.Verifier, intervalSec int) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		interval:  time.Duration(intervalSec) * time.Second,
		verifier:  verifier,
		state:     make(map[string]time.Time),
		events:    make(chan ReloadEvent, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of trust-store reload events.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start performs an initial load of every trusted key already in the
// directory, then begins watching it for changes.
func (w *Watcher) Start() error {
	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	w.dir = absDir

	if _, err := os.Stat(absDir); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absDir); err != nil {
		return err
	}

	if _, errs := w.verifier.LoadDir(absDir); len(errs) > 0 {
		for _, e := range errs {
			select {
			case w.errors <- e:
			default:
			}
		}
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		w.trackFile(filepath.Join(absDir, entry.Name()))
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *Watcher) trackFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".pem") {
				continue
			}

			if event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0 {
				w.handleRemoval(event.Name)
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleRemoval(path string) {
	w.stateMu.Lock()
	delete(w.state, path)
	w.stateMu.Unlock()

	// The key that was removed can no longer be parsed from disk to
	// recover its key_id, so the removal is reported by path only. A
	// deployment that needs precise trust revocation should track
	// path-to-key_id mappings separately and call Verifier.RemoveKey
	// directly rather than relying on this best-effort notification.
	select {
	case w.events <- ReloadEvent{Path: path, Removed: true, Timestamp: time.Now()}:
	default:
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

func (w *Watcher) checkStableFiles(now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	threshold := now.Add(-w.interval)

	for path, lastMod := range w.state {
		if !lastMod.Before(threshold) {
			continue
		}

		pub, err := signer.LoadPublicKey(path)
		if err != nil {
			select {
			case w.errors <- err:
			default:
			}
			delete(w.state, path)
			continue
		}

		keyID, err := w.verifier.AddKey(pub)
		if err != nil {
			select {
			case w.errors <- err:
			default:
			}
			delete(w.state, path)
			continue
		}

		event := ReloadEvent{Path: path, KeyID: keyID, Timestamp: now}
		select {
		case w.events <- event:
			delete(w.state, path)
		default:
		}
	}
}

// WatchedDir returns the trust-store directory being watched.
func (w *Watcher) WatchedDir() string {
	return w.dir
}

// TrackedFiles returns the number of keys currently pending a stable
// debounce check.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}

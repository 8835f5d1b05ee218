package config

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWatchInterval is how often the watcher polls the config file
// mtime.
const DefaultWatchInterval = 2 * time.Second

// Watcher polls the store's backing file and routes external edits through
// ReloadFromDisk, so hand-edited configs behave like Update calls.
type Watcher struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	lastMod time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewWatcher builds a watcher for the store's file. A non-positive
// interval falls back to DefaultWatchInterval.
func NewWatcher(store *Store, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{store: store, interval: interval}
}

// Start launches the polling goroutine. Starting twice is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	if info, err := os.Stat(w.store.Path()); err == nil {
		w.lastMod = info.ModTime()
	}
	w.stopCh = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.loop(w.stopCh)
}

// Stop terminates the polling goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.running = false
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(stopCh chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.store.Path())
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()
	if !changed {
		return
	}

	if _, err := w.store.ReloadFromDisk(); err != nil {
		log.Warn().Err(err).Str("path", w.store.Path()).Msg("config file changed but reload failed")
	}
}

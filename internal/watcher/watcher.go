package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounceInterval = 500 * time.Millisecond

// ChangeCallback is called once per debounce window after any watched file
// changed.
type ChangeCallback func(key string)

// Watcher monitors sets of files for changes. Each set is registered under a
// key and has its own debounce timer.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*fileWatcher // key → watcher
	debounce time.Duration
}

type fileWatcher struct {
	key       string
	names     map[string]bool // absolute paths of watched files
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	callback  ChangeCallback
}

// New creates a new file watcher. A zero debounce uses the default of 500ms.
func New(debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounceInterval
	}
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounce,
	}
}

// Watch starts watching paths under key, replacing any earlier registration
// for the same key. Files need not exist yet; their parent directories must.
func (w *Watcher) Watch(key string, paths []string, callback ChangeCallback) error {
	if len(paths) == 0 {
		return fmt.Errorf("watch %s: no paths", key)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	fw := &fileWatcher{
		key:       key,
		names:     make(map[string]bool),
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		callback:  callback,
	}

	// Watch parent directories so that editors replacing the file via
	// rename are still noticed.
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsW.Close()
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		fw.names[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsW.Add(dir); err != nil {
			fsW.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.Unwatch(key)

	w.mu.Lock()
	w.watchers[key] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching the files registered under key.
func (w *Watcher) Unwatch(key string) {
	w.mu.Lock()
	fw, ok := w.watchers[key]
	if ok {
		delete(w.watchers, key)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if !fw.names[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case <-fw.cancel:
					return
				default:
				}
				if fw.callback != nil {
					fw.callback(fw.key)
				}
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] error for %s: %v", fw.key, err)
		}
	}
}

// Keys returns the keys currently being watched.
func (w *Watcher) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, len(w.watchers))
	for key := range w.watchers {
		keys = append(keys, key)
	}
	return keys
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	for _, key := range w.Keys() {
		w.Unwatch(key)
	}
}

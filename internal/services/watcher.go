package services

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obot-platform/fleetgate/internal/logger"
)

// reloadDebounce collapses the burst of events editors produce per save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a services file whenever it changes on disk.
type Watcher struct {
	path     string
	isLocal  bool
	log      *logger.Logger
	onChange func(map[string]Target)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a Watcher for path. onChange receives every successfully
// parsed version; invalid edits are logged and the previous map stays active.
func NewWatcher(path string, isLocal bool, log *logger.Logger, onChange func(map[string]Target)) *Watcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		isLocal:  isLocal,
		log:      log.With("component", "services"),
		onChange: onChange,
	}
}

// Start begins watching. The parent directory is watched so that files
// replaced by rename are still picked up.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.done = make(chan struct{})

	go w.run(fw, w.done)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher, w.done = nil, nil
	w.mu.Unlock()

	if fw == nil {
		return
	}
	_ = fw.Close()
	<-done
}

func (w *Watcher) run(fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Services watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	targets, err := Load(w.path, w.isLocal)
	if err != nil {
		w.log.Warn("Services reload rejected, keeping previous map", "error", err)
		return
	}
	w.log.Info("Services reloaded", "count", len(targets))
	if w.onChange != nil {
		w.onChange(targets)
	}
}

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/stopfilter/internal/logging"
)

// reloadDebounce coalesces the bursts of write events editors produce
// when saving a file.
const reloadDebounce = 250 * time.Millisecond

// ReloadFunc receives every successfully reloaded configuration.
type ReloadFunc func(*Config)

// Watcher reloads a configuration file on change. A malformed edit is
// logged and the previously loaded configuration stays active.
type Watcher struct {
	path   string
	reload ReloadFunc
	log    *logging.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// Watch starts watching path. The containing directory is watched, not
// the file itself: editors replace files via rename, which would
// otherwise silently drop the watch.
func Watch(path string, log *logging.Logger, reload ReloadFunc) (*Watcher, error) {
	if log == nil {
		log = logging.Nop
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:   absPath,
		reload: reload,
		log:    log.WithComponent("config"),
		fsw:    fsw,
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Name != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.apply()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

// apply reloads the file and hands the result to the callback.
func (w *Watcher) apply() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("reload failed, keeping previous configuration: %v", err)
		return
	}
	w.log.Info("configuration reloaded from %s", w.path)
	w.reload(cfg)
}

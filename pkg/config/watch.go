package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/droverd/drover/pkg/log"
)

// debounceWindow absorbs the editor write/rename bursts fsnotify reports for
// a single save, so one change produces one reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the config file on change and hands validated snapshots to
// a callback. A file that fails to parse or validate is skipped and the
// previous configuration stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)

	fw     *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer
}

// Watch starts watching the directory containing path. The callback runs on
// the watcher goroutine; it must not block for long.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a file watch dies with the old inode.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		fw:       fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop terminates the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fw.Close()
	<-w.doneCh

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	logger := log.WithComponent("config")

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug().Str("path", w.path).Msg("config change detected, scheduling reload")
			w.debounce()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) debounce() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *Watcher) reload() {
	logger := log.WithComponent("config")
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warn().Err(err).Str("path", w.path).Msg("config reload rejected, keeping previous")
		return
	}
	logger.Info().Str("path", w.path).Msg("config reloaded")
	w.onChange(cfg)
}

package datasource

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "calview/internal/log"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a FileSource whenever its file changes and hands the
// result to onChange as a reset. The parent directory is watched so that
// editors replacing the file by rename are still seen.
type Watcher struct {
	source   *FileSource
	onChange func(Change, *Contents)
	debounce time.Duration

	watcher *fsnotify.Watcher
	target  string

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(src *FileSource, onChange func(Change, *Contents)) (*Watcher, error) {
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		source:   src,
		onChange: onChange,
		debounce: defaultDebounce,
		watcher:  fw,
		target:   abs,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			appLog.Warn("appointments watcher error", "path", w.target, "err", err)

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	ch, c, err := w.source.Change()
	if err != nil {
		appLog.Error("appointments reload failed", err, "path", w.target)
		return
	}
	appLog.Info("appointments reloaded", "path", w.target, "count", len(ch.Appointments))
	if w.onChange != nil {
		w.onChange(ch, c)
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

package store

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "appdate/internal/log"
)

const watchDebounce = 100 * time.Millisecond

// fileWatcher calls onChange once a burst of writes to a database file (or
// its -wal / -shm companions) has settled.
type fileWatcher struct {
	watcher  *fsnotify.Watcher
	base     string
	onChange func()

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

// newFileWatcher watches the directory holding path; SQLite replaces and
// creates companion files, which a watch on the file alone would miss.
func newFileWatcher(path string, onChange func()) (*fileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	fw := &fileWatcher{
		watcher:  w,
		base:     abs,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go fw.watch()
	return fw, nil
}

func (fw *fileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(event.Name, fw.base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fw.schedule()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			appLog.Warn("store watcher error", "err", err, "path", fw.base)

		case <-fw.done:
			return
		}
	}
}

func (fw *fileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(watchDebounce, func() {
		select {
		case <-fw.done:
		default:
			fw.onChange()
		}
	})
}

// Close stops watching. It does not wait for a pending callback.
func (fw *fileWatcher) Close() {
	fw.once.Do(func() {
		close(fw.done)
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
		fw.watcher.Close()
	})
}

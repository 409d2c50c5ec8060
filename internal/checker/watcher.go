package checker

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads checker modules when their source files change on disk.
type Watcher struct {
	loader *Loader
	log    *zap.Logger
	fs     *fsnotify.Watcher
	done   chan struct{}
}

// NewWatcher starts watching the given directories. A write or create of
// <name>.lua reloads the loaded module of that name; other files are
// ignored.
func NewWatcher(loader *Loader, logger *zap.Logger, dirs ...string) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fs.Add(dir); err != nil {
			fs.Close()
			return nil, err
		}
	}

	w := &Watcher{loader: loader, log: logger, fs: fs, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("checker watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(path string) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".lua") {
		return
	}
	name := strings.TrimSuffix(base, ".lua")
	if w.loader.Module(name) == nil {
		return
	}
	if err := w.loader.Reload(name); err != nil {
		w.log.Warn("checker reload failed", zap.String("module", name), zap.Error(err))
		return
	}
	w.log.Info("checker module reloaded", zap.String("module", name))
}

// Close stops watching and waits for the event loop to drain.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

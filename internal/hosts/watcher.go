package hosts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/logging"
)

// Watcher keeps the parsed host list in memory and reloads it whenever the
// file changes. The parent directory is watched so editors that replace the
// file by rename are picked up too. A reload that fails keeps the last good
// list.
type Watcher struct {
	path    string
	logger  logrus.FieldLogger
	watcher *fsnotify.Watcher
	closed  sync.Once

	mu      sync.RWMutex
	hosts   []string
	reloads chan struct{}
}

// NewWatcher loads path once and starts watching its directory.
func NewWatcher(path string, logger logrus.FieldLogger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	list, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %q: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		logger:  logger.WithField("hosts_file", path),
		watcher: fw,
		hosts:   list,
		reloads: make(chan struct{}, 1),
	}, nil
}

// Hosts returns a copy of the current list.
func (w *Watcher) Hosts() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.hosts...), nil
}

// Reloaded is signalled after every successful reload.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloads
}

// Close stops watching. Run returns once the watcher is closed. Safe to call
// more than once, and without Run ever having started.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() { err = w.watcher.Close() })
	return err
}

// Run processes file events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("host list watcher error")
		}
	}
}

func (w *Watcher) reload() {
	list, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("reload host list; keeping previous list")
		return
	}
	w.mu.Lock()
	w.hosts = list
	w.mu.Unlock()
	w.logger.WithField("hosts", len(list)).Info("host list reloaded")
	select {
	case w.reloads <- struct{}{}:
	default:
	}
}

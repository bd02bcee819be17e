package params

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Reload carries the outcome of re-reading a watched settings file.
type Reload struct {
	Settings Settings
	Err      error
}

// Watcher re-reads a settings file whenever it changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan Reload
}

// Watch starts watching path. The parent directory is watched so editors that
// replace the file by rename are still noticed.
func Watch(ctx context.Context, path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		updates: make(chan Reload, 1),
	}
	go w.loop(ctx)
	return w, nil
}

// Updates delivers one Reload per observed change. The channel is closed when
// the watcher stops.
func (w *Watcher) Updates() <-chan Reload {
	return w.updates
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.updates)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			s, err := Load(w.path)
			w.publish(Reload{Settings: s, Err: err})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.publish(Reload{Err: err})
		}
	}
}

// publish keeps only the newest pending reload.
func (w *Watcher) publish(r Reload) {
	select {
	case w.updates <- r:
		return
	default:
	}
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- r:
	default:
	}
}

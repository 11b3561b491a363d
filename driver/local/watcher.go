package local

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports files created or written in dir (relative to the root) whose
// base name matches pattern. Paths are delivered relative to the root. A
// file written in several chunks may be reported more than once. Both
// channels close when ctx is cancelled or the watcher fails.
func (a *Adapter) Watch(ctx context.Context, dir, pattern string) (<-chan string, <-chan error, error) {
	watchPath, err := a.resolve(dir)
	if err != nil {
		return nil, nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(watchPath); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	paths := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(paths)
		defer close(errs)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if matched, _ := filepath.Match(pattern, filepath.Base(event.Name)); !matched {
					continue
				}
				rel, err := filepath.Rel(a.root, event.Name)
				if err != nil {
					continue
				}
				select {
				case paths <- rel:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
					// Keep watching; the previous error is still unread.
				}
			}
		}
	}()

	return paths, errs, nil
}

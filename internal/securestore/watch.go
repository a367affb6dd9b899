package securestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/oidcflow/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last file change
// before notifying watchers.
const DefaultDebounceInterval = 200 * time.Millisecond

// Watch calls fn when store files are changed by another writer, until ctx is
// done. Bursts of events (temp file plus rename) are debounced into one call.
func (f *File) Watch(ctx context.Context, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	// Capture channels before starting the goroutine
	eventsCh := watcher.Events
	errorsCh := watcher.Errors

	go f.processEvents(ctx, watcher, eventsCh, errorsCh, fn)

	logging.Info("SecureStore", "Watching %s for changes", f.dir)
	return nil
}

func (f *File) processEvents(ctx context.Context, watcher *fsnotify.Watcher, eventsCh <-chan fsnotify.Event, errorsCh <-chan error, fn func()) {
	var (
		debounceMu    sync.Mutex
		debounceTimer *time.Timer
	)
	defer func() {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceMu.Unlock()
		watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if !isRelevantEvent(event) {
				continue
			}
			logging.Debug("SecureStore", "Store file changed: %s (%s)", filepath.Base(event.Name), event.Op)

			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(f.debounce, func() {
				if ctx.Err() == nil {
					fn()
				}
			})
			debounceMu.Unlock()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("SecureStore", err, "fsnotify error")
		}
	}
}

// isRelevantEvent filters out temp files and the salt file.
func isRelevantEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != fileExt {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

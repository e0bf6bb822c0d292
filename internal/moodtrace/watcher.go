package moodtrace

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes the mock-backend document on disk and reloads the store
// when something else modifies it, publishing a sync-complete event so
// subscribed clients refetch. Write bursts are debounced.
type Watcher struct {
	store     *RecordStore
	bus       *EventBus
	path      string
	logger    *zap.Logger
	debounce  time.Duration
	fsWatcher *fsnotify.Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewWatcher(store *RecordStore, bus *EventBus, path string, logger *zap.Logger) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: atomic saves replace the file by rename, which
	// drops a watch registered on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		store:     store,
		bus:       bus,
		path:      filepath.Clean(path),
		logger:    logger,
		debounce:  200 * time.Millisecond,
		fsWatcher: fsWatcher,
		cancel:    cancel,
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return w, nil
}

func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		_ = w.fsWatcher.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("backend document watch error", zap.Error(err))
		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		w.logger.Warn("failed to reload backend document", zap.Error(err))
		return
	}
	w.logger.Info("backend document changed on disk; store reloaded",
		zap.String("path", w.path),
		zap.Int("entries", w.store.Count()))
	if w.bus != nil {
		w.bus.Publish(Event{Type: EventSyncComplete})
	}
}

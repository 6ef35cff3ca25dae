package roles

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent reports the outcome of one configuration reload attempt.
type ReloadedEvent struct {
	Timestamp time.Time
	Version   uint64
	Roles     []string
	Error     error
}

// FileWatcher monitors the roles file for changes and swaps a freshly loaded
// snapshot into the store on each change. A failed load leaves the previous
// snapshot active.
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	rolesPath       string
	loader          *Loader
	store           *Store
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.Mutex
	isWatching      bool
}

// NewFileWatcher creates a watcher for the given roles file.
func NewFileWatcher(path string, store *Store, loader *Loader, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		rolesPath:       path,
		loader:          loader,
		store:           store,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the roles file's directory for changes. Editors and
// config management tools replace the file rather than rewrite it in place,
// so the directory is watched and events are filtered by name.
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	dir := filepath.Dir(fw.rolesPath)
	if err := fw.watcher.Add(dir); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("Starting role configuration watcher",
		zap.String("path", fw.rolesPath),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Role configuration watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(fw.rolesPath) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// handleEvent debounces bursts of file events into a single reload.
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("Role configuration change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.performReload)
}

// performReload loads the roles file and atomically swaps the snapshot.
func (fw *FileWatcher) performReload() {
	fw.logger.Info("Reloading role configuration",
		zap.String("path", fw.rolesPath),
	)

	snap, err := fw.loader.LoadFile(fw.rolesPath)
	if err != nil {
		fw.logger.Error("Failed to reload role configuration, keeping previous snapshot",
			zap.String("path", fw.rolesPath),
			zap.Error(err),
		)
		fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	fw.store.Swap(snap)
	fw.emit(ReloadedEvent{
		Timestamp: time.Now(),
		Version:   snap.Version(),
		Roles:     snap.RoleNames(),
	})
}

func (fw *FileWatcher) emit(ev ReloadedEvent) {
	select {
	case fw.eventChan <- ev:
	default:
		// Slow consumer; drop rather than block the reload path.
	}
}

// EventChan returns a channel for receiving reload events.
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.isWatching {
		return nil
	}

	close(fw.stopChan)
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	return nil
}

// SetDebounceTimeout sets the debounce timeout for file changes.
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching returns true if the watcher is currently active.
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.isWatching
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package update

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocumentChange represents one detected document change.
type DocumentChange struct {
	// Path is the absolute path to the changed document.
	Path string

	// Op is the type of change.
	Op ChangeOp

	// Time is when the change was detected.
	Time time.Time
}

// ChangeOp represents the type of document change.
type ChangeOp int

const (
	// ChangeCreate indicates a document was created.
	ChangeCreate ChangeOp = iota

	// ChangeModify indicates a document was modified.
	ChangeModify

	// ChangeDelete indicates a document was deleted or renamed away.
	ChangeDelete
)

// String returns the string representation of the operation.
func (op ChangeOp) String() string {
	switch op {
	case ChangeCreate:
		return "create"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with a debounced, deduplicated batch.
type ChangeHandler func(changes []DocumentChange)

// Watcher watches document directories for changes with debouncing.
//
// # Description
//
// Watches one or more roots recursively and batches raw fsnotify
// events behind a debounce window, so a file being saved repeatedly
// during editing triggers one pipeline update, not one per write.
// Events for unsupported file types are dropped at the source.
//
// # Debouncing
//
// Changes accumulate in a buffer. Each new change resets the timer;
// when the window expires without further events the batch is
// deduplicated (newest change per path wins) and handed off.
//
// # Thread Safety
//
// Safe for concurrent use. The handler runs on a single goroutine.
type Watcher struct {
	roots      []string
	watcher    *fsnotify.Watcher
	handler    ChangeHandler
	debounce   time.Duration
	extensions map[string]struct{}
	logger     *slog.Logger

	changes  chan DocumentChange
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// flushing a batch. Default: 5s
	DebounceWindow time.Duration

	// Extensions is the set of document extensions to watch, with
	// leading dot, lowercase. Default: common document types.
	Extensions []string

	// BufferSize is the size of the change buffer channel.
	// Default: 1000
	BufferSize int

	// Logger for watcher events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns the production defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 5 * time.Second,
		Extensions:     []string{".txt", ".md", ".markdown", ".pdf", ".html", ".json", ".csv"},
		BufferSize:     1000,
	}
}

// NewWatcher creates a watcher over the given root directories.
// Call Start to begin watching and Stop to release the inotify handle.
func NewWatcher(roots []string, handler ChangeHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = 5 * time.Second
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultWatcherOptions().Extensions
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	extensions := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	return &Watcher{
		roots:      roots,
		watcher:    fsWatcher,
		handler:    handler,
		debounce:   opts.DebounceWindow,
		extensions: extensions,
		logger:     opts.Logger.With(slog.String("component", "watcher")),
		changes:    make(chan DocumentChange, opts.BufferSize),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. Spawns the event processor and the debounce
// loop; both exit when Stop is called or ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.watching = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
		w.logger.Info("watching directory", slog.String("path", root))
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher and releases the underlying handle. It joins
// the event and debounce loops before returning, so an in-flight batch
// flush has completed by the time Stop returns.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive adds a directory and all subdirectories to the watch
// list. Unreadable subtrees are skipped, not fatal.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// supported reports whether the path has a watched document extension.
func (w *Watcher) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := w.extensions[ext]
	return ok
}

// processEvents converts fsnotify events to DocumentChange values and
// feeds the debounce channel.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// A new directory must be added before its files matter.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
					continue
				}
			}

			if !w.supported(event.Name) {
				continue
			}

			change := DocumentChange{
				Path: event.Name,
				Time: time.Now(),
				Op:   convertOp(event.Op),
			}

			select {
			case w.changes <- change:
			default:
				w.logger.Warn("change buffer full, dropping event",
					slog.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// convertOp maps fsnotify operations onto the document change types.
// Renames surface as deletes; the rename target arrives as a create.
func convertOp(op fsnotify.Op) ChangeOp {
	switch {
	case op.Has(fsnotify.Create):
		return ChangeCreate
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ChangeDelete
	default:
		return ChangeModify
	}
}

// debounceLoop batches changes and calls the handler after the window
// expires without new events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var batch []DocumentChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := dedupeChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupeChanges keeps the newest change per path, preserving first-seen
// order between paths.
func dedupeChanges(changes []DocumentChange) []DocumentChange {
	seen := make(map[string]int)
	result := make([]DocumentChange, 0, len(changes))

	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
		} else {
			seen[change.Path] = len(result)
			result = append(result, change)
		}
	}
	return result
}

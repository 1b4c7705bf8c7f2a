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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
)

// Pipeline is the ingestion surface the updater drives. The RAG
// pipeline implements it; tests substitute a fake.
type Pipeline interface {
	// Ingest chunks, embeds, and stores one document.
	Ingest(ctx context.Context, path string) error

	// DeleteBySource removes all chunks ingested from the given path.
	DeleteBySource(ctx context.Context, source string) error

	// ClearAll removes every stored chunk. Used by rollback.
	ClearAll(ctx context.Context) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// UpdaterConfig configures the AutoUpdater.
type UpdaterConfig struct {
	// WatchDirs are the document roots to watch and reindex.
	WatchDirs []string

	// IndexPath is where the content index JSON is persisted.
	// Default: <first watch dir>/.rag/document_index.json
	IndexPath string

	// VersionsDir is where snapshots are stored.
	// Default: <first watch dir>/.rag/versions
	VersionsDir string

	// MaxVersions bounds snapshot retention. Default: 5
	MaxVersions int

	// DebounceWindow for the file watcher. Default: 5s
	DebounceWindow time.Duration

	// MaxFileSizeMB caps individual document size; larger files are
	// skipped with a warning. Default: 50
	MaxFileSizeMB int64

	// BatchSize is how many documents a full reindex processes per
	// batch. Default: 10
	BatchSize int

	// Extensions are supported document extensions. Default: the
	// watcher defaults.
	Extensions []string

	// Engine supplies retry, breaker, and telemetry wrapping for
	// pipeline calls. Default: a fresh engine with stock settings.
	Engine *resilience.Engine

	// Logger for updater events. Default: slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills in zero values with defaults.
func (c *UpdaterConfig) applyDefaults() {
	base := "."
	if len(c.WatchDirs) > 0 {
		base = c.WatchDirs[0]
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(base, ".rag", "document_index.json")
	}
	if c.VersionsDir == "" {
		c.VersionsDir = filepath.Join(base, ".rag", "versions")
	}
	if c.MaxVersions == 0 {
		c.MaxVersions = 5
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 5 * time.Second
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = 50
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultWatcherOptions().Extensions
	}
	if c.Engine == nil {
		c.Engine = resilience.NewEngine(resilience.Config{Logger: c.Logger})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Statistics summarizes updater activity since start.
type Statistics struct {
	Running          bool       `json:"running"`
	TrackedDocuments int        `json:"tracked_documents"`
	BatchesProcessed int        `json:"batches_processed"`
	DocumentsUpdated int        `json:"documents_updated"`
	DocumentsDeleted int        `json:"documents_deleted"`
	LastUpdate       *time.Time `json:"last_update,omitempty"`
	LastReindex      *time.Time `json:"last_reindex,omitempty"`
	Versions         int        `json:"versions"`
}

// AutoUpdater keeps the vector store synchronized with the corpus.
//
// # Description
//
// Incremental path: the watcher delivers debounced change batches,
// deletions are applied before updates, unchanged files are skipped by
// hash comparison, and every applied batch ends with a persisted index
// and a version snapshot. Full path: FullReindex rescans every watch
// root, re-ingests new and modified documents in batches, and removes
// orphans whose files disappeared while the process was down.
//
// # Thread Safety
//
// Safe for concurrent use. Batch application, reindex, and rollback
// serialize on one mutex so the vector store and the index never
// diverge under concurrent writers.
type AutoUpdater struct {
	config   UpdaterConfig
	logger   *slog.Logger
	engine   *resilience.Engine
	pipeline Pipeline
	index    *ContentIndex
	hasher   Hasher
	versions *VersionStore
	watcher  *Watcher

	// applyMu serializes every operation that mutates the vector
	// store or the index.
	applyMu sync.Mutex

	mu      sync.Mutex
	running bool
	stats   Statistics
}

// NewAutoUpdater creates an updater over the given pipeline.
func NewAutoUpdater(pipeline Pipeline, config UpdaterConfig) (*AutoUpdater, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if len(config.WatchDirs) == 0 {
		return nil, errors.New("at least one watch directory is required")
	}
	config.applyDefaults()

	versions, err := NewVersionStore(config.VersionsDir, config.MaxVersions, config.Logger)
	if err != nil {
		return nil, err
	}

	u := &AutoUpdater{
		config:   config,
		logger:   config.Logger.With(slog.String("component", "auto_updater")),
		engine:   config.Engine,
		pipeline: pipeline,
		index:    NewContentIndex(config.IndexPath),
		hasher:   NewSHA256Hasher(config.MaxFileSizeMB * 1024 * 1024),
		versions: versions,
	}
	if err := u.index.Load(); err != nil {
		return nil, err
	}
	return u, nil
}

// Start loads state and begins watching. Watching continues until
// Stop is called or ctx is canceled.
func (u *AutoUpdater) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return ErrAlreadyRunning
	}
	u.running = true
	u.mu.Unlock()

	watcher, err := NewWatcher(u.config.WatchDirs, func(changes []DocumentChange) {
		if err := u.ProcessChanges(ctx, changes); err != nil {
			u.logger.Error("change batch failed", slog.String("error", err.Error()))
		}
	}, &WatcherOptions{
		DebounceWindow: u.config.DebounceWindow,
		Extensions:     u.config.Extensions,
		Logger:         u.config.Logger,
	})
	if err != nil {
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
		return err
	}
	u.watcher = watcher

	if err := watcher.Start(ctx); err != nil {
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
		return err
	}

	u.logger.Info("auto-updater started",
		slog.Int("watch_dirs", len(u.config.WatchDirs)),
		slog.Int("tracked_documents", u.index.Len()))
	return nil
}

// Stop stops watching. It joins the watch loop, so an in-flight batch
// application has completed by the time Stop returns, then persists
// the content index once so the on-disk state matches memory.
func (u *AutoUpdater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	watcher := u.watcher
	u.mu.Unlock()

	// Joining the watcher must happen outside u.mu: a final flush can
	// still be inside ProcessChanges, which takes u.mu for stats.
	if watcher != nil {
		watcher.Stop()
	}

	u.applyMu.Lock()
	defer u.applyMu.Unlock()
	if err := u.index.Save(); err != nil {
		u.logger.Error("index save on stop failed", slog.String("error", err.Error()))
	}
	u.logger.Info("auto-updater stopped")
}

// IsRunning reports whether the watch loop is active.
func (u *AutoUpdater) IsRunning() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// ProcessChanges applies one debounced change batch: deletions first,
// then creations and modifications, then a persisted index and a
// version snapshot. The snapshot happens even when some documents in
// the batch failed, so the retained history reflects what was actually
// applied.
func (u *AutoUpdater) ProcessChanges(ctx context.Context, changes []DocumentChange) error {
	if len(changes) == 0 {
		return nil
	}

	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	var deletes, updates []string
	for _, change := range changes {
		switch {
		case change.Op == ChangeDelete:
			deletes = append(deletes, change.Path)
		default:
			// A create/modify for a path that vanished during the
			// debounce window is a delete by the time we act on it.
			if _, err := os.Stat(change.Path); os.IsNotExist(err) {
				deletes = append(deletes, change.Path)
			} else {
				updates = append(updates, change.Path)
			}
		}
	}

	u.logger.Info("processing change batch",
		slog.Int("total", len(changes)),
		slog.Int("updates", len(updates)),
		slog.Int("deletes", len(deletes)))

	var errs []error
	deleted, err := u.deleteLocked(ctx, deletes)
	if err != nil {
		errs = append(errs, err)
	}
	updated, err := u.updateLocked(ctx, updates)
	if err != nil {
		errs = append(errs, err)
	}

	if err := u.index.Save(); err != nil {
		errs = append(errs, err)
	}
	if _, err := u.versions.CreateSnapshot(u.index.Snapshot()); err != nil {
		errs = append(errs, err)
	}

	now := time.Now()
	u.mu.Lock()
	u.stats.BatchesProcessed++
	u.stats.DocumentsUpdated += updated
	u.stats.DocumentsDeleted += deleted
	u.stats.LastUpdate = &now
	u.mu.Unlock()

	return errors.Join(errs...)
}

// UpdateDocuments ingests the given paths, skipping unchanged and
// oversized files. Failures are isolated per document.
func (u *AutoUpdater) UpdateDocuments(ctx context.Context, paths []string) (int, error) {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()
	updated, err := u.updateLocked(ctx, paths)
	if err != nil {
		return updated, err
	}
	return updated, u.index.Save()
}

// updateLocked ingests paths under applyMu. Returns how many documents
// were actually (re)ingested.
func (u *AutoUpdater) updateLocked(ctx context.Context, paths []string) (int, error) {
	var errs []error
	updated := 0

	for _, path := range paths {
		hash, err := u.hasher.HashFile(path)
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				u.logger.Warn("skipping oversized document", slog.String("path", path))
				continue
			}
			errs = append(errs, err)
			continue
		}

		if entry, ok := u.index.Get(path); ok && entry.Hash == hash {
			u.logger.Debug("document unchanged", slog.String("path", path))
			continue
		}

		if err := u.reingest(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", path, err))
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		u.index.Put(path, IndexEntry{
			Hash:        hash,
			Size:        info.Size(),
			LastUpdated: time.Now(),
		})
		updated++
		u.logger.Info("document updated", slog.String("path", path))
	}

	return updated, errors.Join(errs...)
}

// reingest replaces a document's chunks: old chunks out, fresh ingest
// in, both behind the resilience wrappers.
func (u *AutoUpdater) reingest(ctx context.Context, path string) error {
	if err := u.engine.Invoke(ctx, "document_delete", func() error {
		return u.pipeline.DeleteBySource(ctx, path)
	}); err != nil {
		return err
	}
	return u.engine.Invoke(ctx, "document_ingest", func() error {
		return u.pipeline.Ingest(ctx, path)
	})
}

// DeleteDocuments removes the given paths from the store and index.
func (u *AutoUpdater) DeleteDocuments(ctx context.Context, paths []string) (int, error) {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()
	deleted, err := u.deleteLocked(ctx, paths)
	if err != nil {
		return deleted, err
	}
	return deleted, u.index.Save()
}

// deleteLocked removes paths under applyMu.
func (u *AutoUpdater) deleteLocked(ctx context.Context, paths []string) (int, error) {
	var errs []error
	deleted := 0

	for _, path := range paths {
		if err := u.engine.Invoke(ctx, "document_delete", func() error {
			return u.pipeline.DeleteBySource(ctx, path)
		}); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", path, err))
			continue
		}
		u.index.Delete(path)
		deleted++
		u.logger.Info("document deleted", slog.String("path", path))
	}

	return deleted, errors.Join(errs...)
}

// FullReindex rescans every watch root and reconciles the store.
//
// # Description
//
// New and modified documents (by hash) are re-ingested in sequential
// batches. Index entries whose files no longer exist are deleted as
// orphans. The reconciled index is persisted and exactly one snapshot
// is taken, regardless of batch count.
func (u *AutoUpdater) FullReindex(ctx context.Context) (int, error) {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	u.logger.Info("full reindex started")
	start := time.Now()

	present := make(map[string]struct{})
	var changed []string
	var errs []error

	for _, root := range u.config.WatchDirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !u.supported(path) {
				return nil
			}

			hash, err := u.hasher.HashFile(path)
			if err != nil {
				if errors.Is(err, ErrFileTooLarge) {
					u.logger.Warn("skipping oversized document", slog.String("path", path))
					return nil
				}
				errs = append(errs, err)
				return nil
			}

			present[path] = struct{}{}
			if entry, ok := u.index.Get(path); !ok || entry.Hash != hash {
				changed = append(changed, path)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", root, err))
		}
	}

	var orphans []string
	for _, path := range u.index.Paths() {
		if _, ok := present[path]; !ok {
			orphans = append(orphans, path)
		}
	}

	u.logger.Info("reindex scan complete",
		slog.Int("present", len(present)),
		slog.Int("changed", len(changed)),
		slog.Int("orphans", len(orphans)))

	deleted, err := u.deleteLocked(ctx, orphans)
	if err != nil {
		errs = append(errs, err)
	}

	updated := 0
	for i := 0; i < len(changed); i += u.config.BatchSize {
		end := i + u.config.BatchSize
		if end > len(changed) {
			end = len(changed)
		}
		n, err := u.updateLocked(ctx, changed[i:end])
		updated += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := u.index.Save(); err != nil {
		errs = append(errs, err)
	}
	if _, err := u.versions.CreateSnapshot(u.index.Snapshot()); err != nil {
		errs = append(errs, err)
	}

	now := time.Now()
	u.mu.Lock()
	u.stats.DocumentsUpdated += updated
	u.stats.DocumentsDeleted += deleted
	u.stats.LastReindex = &now
	u.mu.Unlock()

	u.logger.Info("full reindex complete",
		slog.Int("updated", updated),
		slog.Int("deleted", deleted),
		slog.Duration("elapsed", time.Since(start)))
	return updated, errors.Join(errs...)
}

// supported reports whether the path has a configured extension.
func (u *AutoUpdater) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range u.config.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Versions lists retained snapshots, newest first.
func (u *AutoUpdater) Versions() []Version {
	return u.versions.List()
}

// Rollback restores the store to a retained version: the vector store
// is cleared, every document in the snapshot is re-ingested, and the
// snapshot mapping becomes the new index wholesale. Documents that can
// no longer be ingested, including files that have since disappeared,
// surface as joined errors but stay in the restored index.
func (u *AutoUpdater) Rollback(ctx context.Context, versionID string) error {
	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	entries, err := u.versions.Load(versionID)
	if err != nil {
		return err
	}

	u.logger.Info("rolling back",
		slog.String("version", versionID),
		slog.Int("documents", len(entries)))

	if err := u.engine.Invoke(ctx, "store_clear", func() error {
		return u.pipeline.ClearAll(ctx)
	}); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	var errs []error
	for path := range entries {
		if err := u.engine.Invoke(ctx, "document_ingest", func() error {
			return u.pipeline.Ingest(ctx, path)
		}); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", path, err))
		}
	}

	u.index.Replace(entries)
	if err := u.index.Save(); err != nil {
		errs = append(errs, err)
	}

	u.logger.Info("rollback complete",
		slog.String("version", versionID),
		slog.Int("restored", len(entries)),
		slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Stats returns a point-in-time activity summary.
func (u *AutoUpdater) Stats() Statistics {
	u.mu.Lock()
	defer u.mu.Unlock()
	stats := u.stats
	stats.Running = u.running
	stats.TrackedDocuments = u.index.Len()
	stats.Versions = len(u.versions.List())
	return stats
}

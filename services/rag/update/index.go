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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// IndexEntry records what the pipeline last ingested for one document.
type IndexEntry struct {
	// Hash is the lowercase hex SHA-256 of the file contents.
	Hash string `json:"hash"`

	// Size is the file size in bytes at ingest time.
	Size int64 `json:"size"`

	// LastUpdated is when the document was last (re)ingested.
	LastUpdated time.Time `json:"last_updated"`
}

// ContentIndex maps absolute document paths to their ingest state.
//
// # Description
//
// The index is the source of truth for incremental updates: a document
// whose on-disk hash matches its entry is skipped, a mismatch triggers
// re-ingestion, and entries without a backing file are orphans to be
// deleted from the vector store. The index is persisted as JSON so
// state survives restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type ContentIndex struct {
	path string

	mu      sync.RWMutex
	entries map[string]IndexEntry
}

// NewContentIndex creates an empty index persisted at path.
func NewContentIndex(path string) *ContentIndex {
	return &ContentIndex{
		path:    path,
		entries: make(map[string]IndexEntry),
	}
}

// Load reads the persisted index. A missing file leaves the index
// empty and is not an error; a corrupt file is.
func (x *ContentIndex) Load() error {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load index: %w", err)
	}

	entries := make(map[string]IndexEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse index %s: %w", x.path, err)
	}

	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
	return nil
}

// Save writes the index to its JSON file. The write goes through a
// temp file and rename so a crash never leaves a truncated index.
func (x *ContentIndex) Save() error {
	x.mu.RLock()
	data, err := json.MarshalIndent(x.entries, "", "  ")
	x.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp := x.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	return nil
}

// Get returns the entry for a path.
func (x *ContentIndex) Get(path string) (IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.entries[path]
	return entry, ok
}

// Put records or replaces the entry for a path.
func (x *ContentIndex) Put(path string, entry IndexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[path] = entry
}

// Delete removes the entry for a path. Deleting an absent path is a
// no-op.
func (x *ContentIndex) Delete(path string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, path)
}

// Len returns the number of tracked documents.
func (x *ContentIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Paths returns all tracked document paths, sorted.
func (x *ContentIndex) Paths() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	paths := make([]string, 0, len(x.entries))
	for path := range x.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a copy of all entries.
func (x *ContentIndex) Snapshot() map[string]IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	snapshot := make(map[string]IndexEntry, len(x.entries))
	for path, entry := range x.entries {
		snapshot[path] = entry
	}
	return snapshot
}

// Replace swaps the full entry set. Used by rollback and full reindex.
func (x *ContentIndex) Replace(entries map[string]IndexEntry) {
	copied := make(map[string]IndexEntry, len(entries))
	for path, entry := range entries {
		copied[path] = entry
	}
	x.mu.Lock()
	x.entries = copied
	x.mu.Unlock()
}

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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// versionIDLayout produces lexicographically sortable ids, so sorting
// snapshot filenames sorts them chronologically.
const versionIDLayout = "20060102T150405.000000000"

const versionFilePrefix = "version_"

// Version describes one retained index snapshot.
type Version struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	DocumentCount int       `json:"document_count"`
}

// versionFile is the on-disk snapshot format.
type versionFile struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	Documents map[string]IndexEntry `json:"documents"`
}

// VersionStore retains full index snapshots for rollback.
//
// # Description
//
// Every snapshot is a complete copy of the content index, written as
// one JSON file under the store directory. Retention is FIFO: when a
// new snapshot pushes the count past the cap, the oldest file is
// removed. The in-memory metadata list mirrors the disk state.
//
// # Thread Safety
//
// Safe for concurrent use.
type VersionStore struct {
	dir         string
	maxVersions int
	logger      *slog.Logger

	mu       sync.Mutex
	versions []Version
	lastID   string

	// now is injectable for tests.
	now func() time.Time
}

// NewVersionStore opens (or creates) a snapshot store at dir, keeping
// at most maxVersions snapshots. Existing snapshot files beyond the
// cap are pruned oldest-first.
func NewVersionStore(dir string, maxVersions int, logger *slog.Logger) (*VersionStore, error) {
	if maxVersions < 1 {
		maxVersions = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create version dir: %w", err)
	}

	s := &VersionStore{
		dir:         dir,
		maxVersions: maxVersions,
		logger:      logger.With(slog.String("component", "versions")),
		now:         time.Now,
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// restore rebuilds the metadata list from snapshot files on disk and
// enforces retention.
func (s *VersionStore) restore() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, versionFilePrefix+"*.json"))
	if err != nil {
		return fmt.Errorf("scan version dir: %w", err)
	}
	for _, path := range paths {
		vf, err := s.read(path)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		s.versions = append(s.versions, Version{
			ID:            vf.ID,
			CreatedAt:     vf.CreatedAt,
			DocumentCount: len(vf.Documents),
		})
	}

	// Ids sort chronologically; filenames do not once a collision
	// bump suffix is involved.
	sort.Slice(s.versions, func(i, j int) bool {
		return s.versions[i].ID < s.versions[j].ID
	})
	if len(s.versions) > 0 {
		s.lastID = s.versions[len(s.versions)-1].ID
	}

	s.prune()
	return nil
}

// CreateSnapshot writes a full copy of the given index entries as a
// new version and enforces retention.
func (s *VersionStore) CreateSnapshot(entries map[string]IndexEntry) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.now().UTC().Format(versionIDLayout)
	// Two snapshots inside one clock tick must still produce distinct,
	// ordered ids.
	if id <= s.lastID {
		id = s.lastID + "+"
	}

	documents := make(map[string]IndexEntry, len(entries))
	for path, entry := range entries {
		documents[path] = entry
	}

	vf := versionFile{
		ID:        id,
		CreatedAt: s.now().UTC(),
		Documents: documents,
	}
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return Version{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(s.filename(id), data, 0o644); err != nil {
		return Version{}, fmt.Errorf("write snapshot: %w", err)
	}

	version := Version{ID: id, CreatedAt: vf.CreatedAt, DocumentCount: len(documents)}
	s.versions = append(s.versions, version)
	s.lastID = id
	s.prune()

	s.logger.Info("created version snapshot",
		slog.String("version", id),
		slog.Int("documents", len(documents)))
	return version, nil
}

// List returns retained versions, newest first.
func (s *VersionStore) List() []Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Version, len(s.versions))
	for i, v := range s.versions {
		result[len(s.versions)-1-i] = v
	}
	return result
}

// Load reads the full index entries of a retained version. Returns
// ErrVersionNotFound for unknown or already-pruned ids.
func (s *VersionStore) Load(id string) (map[string]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, v := range s.versions {
		if v.ID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}

	vf, err := s.read(s.filename(id))
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", id, err)
	}
	return vf.Documents, nil
}

// Latest returns the newest retained version, if any.
func (s *VersionStore) Latest() (Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return Version{}, false
	}
	return s.versions[len(s.versions)-1], true
}

// prune drops the oldest versions past the cap, in memory and on disk.
// Caller holds the lock (or is single-threaded during restore).
func (s *VersionStore) prune() {
	for len(s.versions) > s.maxVersions {
		oldest := s.versions[0]
		s.versions = s.versions[1:]
		if err := os.Remove(s.filename(oldest.ID)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove pruned snapshot",
				slog.String("version", oldest.ID),
				slog.String("error", err.Error()))
		}
	}
}

// filename maps a version id to its snapshot path. Ids contain no path
// separators by construction; "+" suffixes from collision bumps are
// filename-safe.
func (s *VersionStore) filename(id string) string {
	return filepath.Join(s.dir, versionFilePrefix+id+".json")
}

// read parses one snapshot file.
func (s *VersionStore) read(path string) (*versionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vf versionFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &vf, nil
}

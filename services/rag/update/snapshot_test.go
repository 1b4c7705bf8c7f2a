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
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, maxVersions int) *VersionStore {
	t.Helper()
	s, err := NewVersionStore(filepath.Join(t.TempDir(), "versions"), maxVersions, nil)
	if err != nil {
		t.Fatalf("NewVersionStore: %v", err)
	}
	return s
}

func entriesOf(paths ...string) map[string]IndexEntry {
	entries := make(map[string]IndexEntry, len(paths))
	for _, p := range paths {
		entries[p] = IndexEntry{Hash: "h-" + p}
	}
	return entries
}

func TestVersionStore_CreateAndLoad(t *testing.T) {
	s := newTestStore(t, 5)

	v, err := s.CreateSnapshot(entriesOf("/docs/a.md", "/docs/b.md"))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if v.DocumentCount != 2 {
		t.Errorf("DocumentCount = %d, want 2", v.DocumentCount)
	}

	loaded, err := s.Load(v.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d entries, want 2", len(loaded))
	}
	if loaded["/docs/a.md"].Hash != "h-/docs/a.md" {
		t.Errorf("entry hash = %q", loaded["/docs/a.md"].Hash)
	}
}

func TestVersionStore_IDsAreOrdered(t *testing.T) {
	s := newTestStore(t, 10)

	var last string
	for i := 0; i < 5; i++ {
		v, err := s.CreateSnapshot(entriesOf("/docs/a.md"))
		if err != nil {
			t.Fatalf("CreateSnapshot: %v", err)
		}
		if v.ID <= last {
			t.Fatalf("id %q not greater than previous %q", v.ID, last)
		}
		last = v.ID
	}
}

func TestVersionStore_RetentionFIFO(t *testing.T) {
	s := newTestStore(t, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		v, err := s.CreateSnapshot(entriesOf("/docs/a.md"))
		if err != nil {
			t.Fatalf("CreateSnapshot: %v", err)
		}
		ids = append(ids, v.ID)
	}

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("List() = %d versions, want 3", len(list))
	}
	// Newest first.
	if list[0].ID != ids[4] || list[2].ID != ids[2] {
		t.Errorf("List() order = [%s %s %s], want newest first", list[0].ID, list[1].ID, list[2].ID)
	}

	// Pruned versions are gone from disk too.
	if _, err := s.Load(ids[0]); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Load(pruned) = %v, want ErrVersionNotFound", err)
	}
}

func TestVersionStore_LoadUnknown(t *testing.T) {
	s := newTestStore(t, 3)
	if _, err := s.Load("20990101T000000.000000000"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Load(unknown) = %v, want ErrVersionNotFound", err)
	}
}

func TestVersionStore_RestoreFromDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "versions")

	s1, err := NewVersionStore(dir, 5, nil)
	if err != nil {
		t.Fatalf("NewVersionStore: %v", err)
	}
	v1, _ := s1.CreateSnapshot(entriesOf("/docs/a.md"))
	v2, _ := s1.CreateSnapshot(entriesOf("/docs/a.md", "/docs/b.md"))

	// A fresh store over the same directory sees both snapshots.
	s2, err := NewVersionStore(dir, 5, nil)
	if err != nil {
		t.Fatalf("NewVersionStore (reopen): %v", err)
	}
	list := s2.List()
	if len(list) != 2 {
		t.Fatalf("List() = %d versions after reopen, want 2", len(list))
	}
	if list[0].ID != v2.ID {
		t.Errorf("newest = %s, want %s", list[0].ID, v2.ID)
	}
	if _, err := s2.Load(v1.ID); err != nil {
		t.Errorf("Load(%s) = %v, want nil", v1.ID, err)
	}

	latest, ok := s2.Latest()
	if !ok || latest.ID != v2.ID {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestVersionStore_ReopenEnforcesRetention(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "versions")

	s1, _ := NewVersionStore(dir, 10, nil)
	for i := 0; i < 6; i++ {
		s1.CreateSnapshot(entriesOf("/docs/a.md"))
	}

	s2, err := NewVersionStore(dir, 2, nil)
	if err != nil {
		t.Fatalf("NewVersionStore: %v", err)
	}
	if got := len(s2.List()); got != 2 {
		t.Errorf("List() = %d versions, want 2 after tighter cap", got)
	}
}

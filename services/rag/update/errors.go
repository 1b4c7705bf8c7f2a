// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package update keeps the vector store synchronized with the document
// corpus on disk: fsnotify-driven change detection with debouncing, a
// hash-based content index, version snapshots with rollback, scheduled
// full reindexing, and incremental ingest/delete orchestration.
package update

import "errors"

// Sentinel errors for update operations.
var (
	// ErrVersionNotFound is returned when a rollback targets a version
	// id that is neither retained in memory nor present on disk.
	ErrVersionNotFound = errors.New("version not found")

	// ErrFileTooLarge is returned when a document exceeds the size cap.
	// Oversized files are skipped to prevent memory exhaustion during
	// hashing and chunking.
	ErrFileTooLarge = errors.New("file too large to index")

	// ErrAlreadyRunning is returned by Start when the updater's watch
	// loop is already active.
	ErrAlreadyRunning = errors.New("auto-updater already running")

	// ErrNotRunning is returned by operations that require an active
	// watch loop.
	ErrNotRunning = errors.New("auto-updater not running")
)

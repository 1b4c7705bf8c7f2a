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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hasher computes content hashes for change detection.
type Hasher interface {
	// HashFile returns the lowercase hex hash of the file's contents.
	HashFile(path string) (string, error)
}

// SHA256Hasher hashes file contents with SHA-256, enforcing an
// optional size cap.
type SHA256Hasher struct {
	// maxFileSize in bytes; 0 disables the cap.
	maxFileSize int64
}

// NewSHA256Hasher creates a hasher with the given size cap in bytes.
func NewSHA256Hasher(maxFileSize int64) *SHA256Hasher {
	return &SHA256Hasher{maxFileSize: maxFileSize}
}

// HashFile streams the file through SHA-256.
//
// Returns ErrFileTooLarge (wrapped with path and sizes) when the file
// exceeds the cap. The size check uses the stat result; a file growing
// past the cap mid-read is still hashed in full.
func (h *SHA256Hasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if h.maxFileSize > 0 && info.Size() > h.maxFileSize {
		return "", fmt.Errorf("%w: %s (%d > %d bytes)", ErrFileTooLarge, path, info.Size(), h.maxFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

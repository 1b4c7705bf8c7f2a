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
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256Hasher_HashFile(t *testing.T) {
	t.Run("known content produces known hash", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.txt")
		if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		hasher := NewSHA256Hasher(0)
		hash, err := hasher.HashFile(path)
		if err != nil {
			t.Fatalf("HashFile: %v", err)
		}

		want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
		if hash != want {
			t.Errorf("hash = %s, want %s", hash, want)
		}
	})

	t.Run("missing file returns error", func(t *testing.T) {
		hasher := NewSHA256Hasher(0)
		if _, err := hasher.HashFile("/nonexistent/doc.txt"); err == nil {
			t.Error("HashFile = nil, want error")
		}
	})

	t.Run("oversized file returns ErrFileTooLarge", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.txt")
		if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		hasher := NewSHA256Hasher(50)
		_, err := hasher.HashFile(path)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("error = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("zero cap disables the limit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.txt")
		if err := os.WriteFile(path, make([]byte, 10_000), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		hasher := NewSHA256Hasher(0)
		if _, err := hasher.HashFile(path); err != nil {
			t.Errorf("HashFile = %v, want nil", err)
		}
	})
}

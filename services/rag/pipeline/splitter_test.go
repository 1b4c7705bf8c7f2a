// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"strings"
	"testing"
)

func TestSplitterForFile_ChunksLongMarkdown(t *testing.T) {
	splitter := splitterForFile("/docs/guide.md")

	var doc strings.Builder
	for i := 0; i < 50; i++ {
		doc.WriteString("## Heading\n\nA paragraph of body text that fills out the section.\n\n")
	}

	chunks, err := splitter.SplitText(doc.String())
	if err != nil {
		t.Fatalf("SplitText: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("chunks = %d, want multiple", len(chunks))
	}
	for i, chunk := range chunks {
		// Overlap can push slightly past the target, never wildly.
		if len(chunk) > 2*chunkSize {
			t.Errorf("chunk[%d] length %d exceeds twice the chunk size", i, len(chunk))
		}
	}
}

func TestSplitterForFile_ShortTextSingleChunk(t *testing.T) {
	splitter := splitterForFile("/docs/note.txt")
	chunks, err := splitter.SplitText("just a short note")
	if err != nil {
		t.Fatalf("SplitText: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(chunks))
	}
}

func TestSplitterForFile_ExtensionCaseInsensitive(t *testing.T) {
	// Selection must not panic or differ on case; both return a
	// usable splitter.
	for _, name := range []string{"/docs/A.MD", "/docs/a.md", "/docs/page.HTML", "/docs/noext"} {
		splitter := splitterForFile(name)
		if _, err := splitter.SplitText("hello world"); err != nil {
			t.Errorf("SplitText(%s): %v", name, err)
		}
	}
}

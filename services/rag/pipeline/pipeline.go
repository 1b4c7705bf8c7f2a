// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the RAG document pipeline: chunking,
// embedding, vector storage, retrieval, and answer generation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// defaultTopK is how many chunks a query retrieves when unspecified.
const defaultTopK = 5

// Answer is the result of one RAG query.
type Answer struct {
	Question string         `json:"question"`
	Text     string         `json:"answer"`
	Sources  []SearchResult `json:"sources"`
}

// Pipeline wires the splitter, embedder, store, and generator into the
// document and query paths.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the backing services.
type Pipeline struct {
	store     VectorStore
	embedder  Embedder
	generator Generator
	logger    *slog.Logger
}

// New assembles a pipeline from its parts.
func New(store VectorStore, embedder Embedder, generator Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		generator: generator,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Ingest reads, chunks, embeds, and stores one document. The source
// recorded on every chunk is the document path, so incremental updates
// can replace a document wholesale.
func (p *Pipeline) Ingest(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	splitter := splitterForFile(path)
	texts, err := splitter.SplitText(string(content))
	if err != nil {
		return fmt.Errorf("split %s: %w", path, err)
	}
	if len(texts) == 0 {
		p.logger.Warn("no chunks produced", slog.String("path", path))
		return nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", path, err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embed %s: %d chunks, %d vectors", path, len(texts), len(vectors))
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			Content:      text,
			Source:       fmt.Sprintf("%s_part_%d", path, i+1),
			ParentSource: path,
			Vector:       vectors[i],
		}
	}

	stored, err := p.store.AddChunks(ctx, chunks)
	if err != nil {
		return err
	}
	p.logger.Info("document ingested",
		slog.String("path", path),
		slog.Int("chunks", stored))
	return nil
}

// DeleteBySource removes all chunks ingested from the given document.
func (p *Pipeline) DeleteBySource(ctx context.Context, source string) error {
	return p.store.DeleteBySource(ctx, source)
}

// ClearAll removes every stored chunk.
func (p *Pipeline) ClearAll(ctx context.Context) error {
	return p.store.DeleteAll(ctx)
}

// Count returns the number of stored chunks.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	return p.store.Count(ctx)
}

// Query answers a question: embed, retrieve topK chunks, generate.
// topK <= 0 uses the default.
func (p *Pipeline) Query(ctx context.Context, question string, topK int) (*Answer, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	vectors, err := p.embedder.EmbedBatch(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	results, err := p.store.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, err
	}

	text, err := p.generator.Generate(ctx, question, results)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &Answer{
		Question: question,
		Text:     text,
		Sources:  results,
	}, nil
}

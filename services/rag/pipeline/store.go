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
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// documentClass is the Weaviate class holding document chunks.
const documentClass = "Document"

// Chunk is one embedded slice of a source document.
type Chunk struct {
	// Content is the chunk text.
	Content string

	// Source identifies the chunk within its document, e.g.
	// "/docs/a.md_part_3".
	Source string

	// ParentSource is the absolute path of the source document.
	ParentSource string

	// Vector is the chunk embedding.
	Vector []float32
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	Content      string  `json:"content"`
	Source       string  `json:"source"`
	ParentSource string  `json:"parent_source"`
	Distance     float64 `json:"distance"`
}

// VectorStore is the chunk storage surface. Weaviate implements it;
// tests substitute a fake.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []Chunk) (int, error)
	DeleteBySource(ctx context.Context, parentSource string) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
}

// WeaviateStore stores chunks in a Weaviate instance.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateStore wraps a connected client and ensures the document
// class exists.
func NewWeaviateStore(ctx context.Context, client *weaviate.Client, logger *slog.Logger) (*WeaviateStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WeaviateStore{
		client: client,
		logger: logger.With(slog.String("component", "weaviate_store")),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the document class if missing.
func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(documentClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      documentClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "parent_source", DataType: []string{"text"}},
			{Name: "ingested_at", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	s.logger.Info("created document class")
	return nil
}

// AddChunks writes all chunks in one batch request. Chunk ids derive
// from the content hash, so re-ingesting identical content overwrites
// instead of duplicating.
func (s *WeaviateStore) AddChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		hash := sha256.Sum256([]byte(chunk.ParentSource + "\x00" + chunk.Content))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  documentClass,
			ID:     strfmt.UUID(docUUID.String()),
			Vector: chunk.Vector,
			Properties: map[string]interface{}{
				"content":       chunk.Content,
				"source":        chunk.Source,
				"parent_source": chunk.ParentSource,
				"ingested_at":   time.Now().UnixMilli(),
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import failed: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				s.logger.Warn("batch item failed", slog.String("error", errItem.Message))
			}
		}
	}
	if stored < len(chunks) {
		s.logger.Warn("partial batch import",
			slog.Int("stored", stored),
			slog.Int("total", len(chunks)))
	}
	return stored, nil
}

// DeleteBySource removes every chunk ingested from one document.
func (s *WeaviateStore) DeleteBySource(ctx context.Context, parentSource string) error {
	where := filters.Where().
		WithPath([]string{"parent_source"}).
		WithOperator(filters.Equal).
		WithValueText(parentSource)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(documentClass).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete by source %s: %w", parentSource, err)
	}
	return nil
}

// DeleteAll drops and recreates the document class.
func (s *WeaviateStore) DeleteAll(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().
		WithClassName(documentClass).
		Do(ctx); err != nil {
		return fmt.Errorf("drop class: %w", err)
	}
	return s.ensureSchema(ctx)
}

// Count returns the stored chunk count via a meta aggregate.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(documentClass).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate count: %w", err)
	}

	// Walk Aggregate.Document[0].meta.count.
	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[documentClass].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, ok := meta["count"].(float64)
	if !ok {
		return 0, nil
	}
	return int(count), nil
}

// weaviateSearchResponse mirrors the GraphQL Get shape for parsing.
type weaviateSearchResponse struct {
	Get struct {
		Document []struct {
			Content      string `json:"content"`
			Source       string `json:"source"`
			ParentSource string `json:"parent_source"`
			Additional   struct {
				Distance float64 `json:"distance"`
			} `json:"_additional"`
		} `json:"Document"`
	} `json:"Get"`
}

// Search retrieves the chunks nearest to the query vector.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "parent_source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(documentClass).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near-vector search: %w", err)
	}

	// Marshal to JSON and unmarshal to a typed struct for
	// compile-time safety.
	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var typed weaviateSearchResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}

	results := make([]SearchResult, 0, len(typed.Get.Document))
	for _, doc := range typed.Get.Document {
		results = append(results, SearchResult{
			Content:      doc.Content,
			Source:       doc.Source,
			ParentSource: doc.ParentSource,
			Distance:     doc.Additional.Distance,
		})
	}
	return results, nil
}

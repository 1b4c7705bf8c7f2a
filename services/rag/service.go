// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag assembles the query, update, and resilience layers into
// one service and exposes them over HTTP.
package rag

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianRAG/services/rag/pipeline"
	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
	"github.com/AleutianAI/AleutianRAG/services/rag/telemetry"
	"github.com/AleutianAI/AleutianRAG/services/rag/update"
)

// QueryPipeline is the query surface the service drives. The RAG
// pipeline implements it; tests substitute a fake.
type QueryPipeline interface {
	Query(ctx context.Context, question string, topK int) (*pipeline.Answer, error)
	Count(ctx context.Context) (int, error)
}

// Service owns the resilience engine, the auto-updater, and the query
// path.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the composed parts.
type Service struct {
	engine    *resilience.Engine
	updater   *update.AutoUpdater
	scheduler *update.Scheduler
	pipeline  QueryPipeline
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewService assembles a service. scheduler and metrics may be nil.
func NewService(
	engine *resilience.Engine,
	updater *update.AutoUpdater,
	scheduler *update.Scheduler,
	queryPipeline QueryPipeline,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    engine,
		updater:   updater,
		scheduler: scheduler,
		pipeline:  queryPipeline,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "rag_service")),
	}
}

// Start launches the watch loop and, if configured, the reindex
// scheduler.
func (s *Service) Start(ctx context.Context) error {
	if err := s.updater.Start(ctx); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			s.updater.Stop()
			return err
		}
	}
	return nil
}

// Stop halts the watch loop and scheduler.
func (s *Service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.updater.Stop()
}

// Query answers a question through the full resilience chain and
// tracks the query pattern.
func (s *Service) Query(ctx context.Context, question string, topK int) (*pipeline.Answer, error) {
	s.engine.TrackQuery(question)

	start := time.Now()
	var answer *pipeline.Answer
	err := s.engine.Invoke(ctx, "rag_query", func() error {
		var qErr error
		answer, qErr = s.pipeline.Query(ctx, question, topK)
		return qErr
	})

	if s.metrics != nil {
		s.metrics.QueriesTotal.Add(ctx, 1, metric.WithAttributes(telemetry.StatusAttr(err)))
		s.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.ErrorsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("operation", "rag_query")))
		}
	}
	return answer, err
}

// UpdateDocuments ingests the given paths immediately.
func (s *Service) UpdateDocuments(ctx context.Context, paths []string) (int, error) {
	updated, err := s.updater.UpdateDocuments(ctx, paths)
	if s.metrics != nil && updated > 0 {
		s.metrics.DocumentsIngested.Add(ctx, int64(updated))
		s.metrics.SnapshotsTotal.Add(ctx, 1)
	}
	return updated, err
}

// DeleteDocuments removes the given paths from the store.
func (s *Service) DeleteDocuments(ctx context.Context, paths []string) (int, error) {
	deleted, err := s.updater.DeleteDocuments(ctx, paths)
	if s.metrics != nil && deleted > 0 {
		s.metrics.DocumentsDeleted.Add(ctx, int64(deleted))
		s.metrics.SnapshotsTotal.Add(ctx, 1)
	}
	return deleted, err
}

// FullReindex reconciles the store against the corpus.
func (s *Service) FullReindex(ctx context.Context) (int, error) {
	start := time.Now()
	updated, err := s.updater.FullReindex(ctx)
	if s.metrics != nil {
		s.metrics.ReindexDuration.Record(ctx, time.Since(start).Seconds())
		if updated > 0 {
			s.metrics.DocumentsIngested.Add(ctx, int64(updated))
		}
		if err == nil {
			s.metrics.SnapshotsTotal.Add(ctx, 1)
		}
	}
	return updated, err
}

// Rollback restores the store to a retained version.
func (s *Service) Rollback(ctx context.Context, versionID string) error {
	err := s.updater.Rollback(ctx, versionID)
	if s.metrics != nil {
		s.metrics.RollbacksTotal.Add(ctx, 1, metric.WithAttributes(telemetry.StatusAttr(err)))
	}
	return err
}

// Versions lists retained snapshots, newest first.
func (s *Service) Versions() []update.Version {
	return s.updater.Versions()
}

// Health evaluates system and dependency health.
func (s *Service) Health() resilience.HealthStatus {
	return s.engine.HealthCheck()
}

// Statistics aggregates updater and engine state for operators.
func (s *Service) Statistics(ctx context.Context) ServiceStatistics {
	chunks, err := s.pipeline.Count(ctx)
	if err != nil {
		s.logger.Warn("chunk count unavailable", slog.String("error", err.Error()))
		chunks = -1
	}
	return ServiceStatistics{
		Updater:      s.updater.Stats(),
		ChunksStored: chunks,
		Performance:  s.engine.PerformanceSummary(),
		Errors:       s.engine.ErrorsInWindow(60 * time.Minute),
	}
}

// Performance summarizes per-operation timing statistics.
func (s *Service) Performance() map[string]resilience.OperationStats {
	return s.engine.PerformanceSummary()
}

// Errors summarizes recent errors within the window.
func (s *Service) Errors(window time.Duration) resilience.ErrorSummary {
	return s.engine.ErrorsInWindow(window)
}

// Patterns returns the most frequent normalized queries.
func (s *Service) Patterns() []resilience.QueryPattern {
	return s.engine.QueryPatterns()
}

// MemoryLeaks runs the leak heuristic over retained samples.
func (s *Service) MemoryLeaks() resilience.LeakReport {
	return s.engine.DetectMemoryLeaks()
}

// ResetMetrics clears telemetry histories.
func (s *Service) ResetMetrics() {
	s.engine.ResetMetrics()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
	"github.com/AleutianAI/AleutianRAG/services/rag/update"
)

// QueryHandler answers a RAG query.
func QueryHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		answer, err := s.Query(c.Request.Context(), req.Question, req.TopK)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, resilience.ErrCircuitOpen) {
				status = http.StatusServiceUnavailable
			}
			slog.Error("query failed", "error", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// UpdateDocumentsHandler ingests documents by path.
func UpdateDocumentsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DocumentsRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		updated, err := s.UpdateDocuments(c.Request.Context(), req.Paths)
		if err != nil {
			slog.Error("document update failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   err.Error(),
				"updated": updated,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "updated": updated})
	}
}

// DeleteDocumentsHandler removes a document by source path.
func DeleteDocumentsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Query("source")
		if source == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source query parameter is required"})
			return
		}

		deleted, err := s.DeleteDocuments(c.Request.Context(), []string{source})
		if err != nil {
			slog.Error("document delete failed", "source", source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted": deleted})
	}
}

// HealthHandler reports aggregated health. Degraded states still
// return 200 so probes distinguish "up but unhappy" from "down";
// critical returns 503.
func HealthHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.Health()
		code := http.StatusOK
		if status.Status == resilience.Critical {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// StatisticsHandler reports updater and engine statistics.
func StatisticsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Statistics(c.Request.Context()))
	}
}

// PerformanceHandler reports per-operation timing statistics. An
// optional operation query parameter narrows the result to one
// operation.
func PerformanceHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary := s.Performance()
		if op := c.Query("operation"); op != "" {
			stats, ok := summary[op]
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "no samples for operation " + op})
				return
			}
			c.JSON(http.StatusOK, map[string]resilience.OperationStats{op: stats})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// ErrorsHandler summarizes recent errors. minutes defaults to 60.
func ErrorsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		minutes := 60
		if raw := c.Query("minutes"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a positive integer"})
				return
			}
			minutes = parsed
		}
		c.JSON(http.StatusOK, s.Errors(time.Duration(minutes)*time.Minute))
	}
}

// ReindexHandler triggers a full reindex.
func ReindexHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.FullReindex(c.Request.Context())
		if err != nil {
			slog.Error("reindex failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   err.Error(),
				"updated": updated,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "updated": updated})
	}
}

// PatternsHandler reports the most frequent query patterns.
func PatternsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"patterns": s.Patterns()})
	}
}

// MemoryLeaksHandler runs the leak heuristic.
func MemoryLeaksHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.MemoryLeaks())
	}
}

// ResetMetricsHandler clears telemetry histories.
func ResetMetricsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.ResetMetrics()
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// VersionsHandler lists retained snapshots.
func VersionsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"versions": s.Versions()})
	}
}

// RollbackHandler restores a retained version.
func RollbackHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RollbackRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if err := s.Rollback(c.Request.Context(), req.Version); err != nil {
			if errors.Is(err, update.ErrVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("rollback failed", "version", req.Version, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "version": req.Version})
	}
}

// ReadyHandler reports process liveness for orchestration probes.
func ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

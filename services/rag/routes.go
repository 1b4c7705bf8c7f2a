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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/rag/telemetry"
)

// SetupRoutes registers the RAG service API on the router.
func SetupRoutes(router *gin.Engine, s *Service) {
	router.GET("/ready", ReadyHandler())
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		rag := v1.Group("/rag")
		{
			rag.POST("/query", QueryHandler(s))
			rag.POST("/documents", UpdateDocumentsHandler(s))
			rag.DELETE("/documents", DeleteDocumentsHandler(s))
			rag.POST("/reindex", ReindexHandler(s))
			rag.GET("/health", HealthHandler(s))
			rag.GET("/statistics", StatisticsHandler(s))
			rag.GET("/performance", PerformanceHandler(s))
			rag.GET("/errors", ErrorsHandler(s))
			rag.GET("/patterns", PatternsHandler(s))
			rag.GET("/memory-leaks", MemoryLeaksHandler(s))
			rag.POST("/metrics/reset", ResetMetricsHandler(s))
			rag.GET("/versions", VersionsHandler(s))
			rag.POST("/rollback", RollbackHandler(s))
			rag.GET("/ready", ReadyHandler())
		}
	}
}

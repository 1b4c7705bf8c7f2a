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
	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
	"github.com/AleutianAI/AleutianRAG/services/rag/update"
)

// QueryRequest is the body of POST /v1/rag/query.
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

// DocumentsRequest is the body of POST /v1/rag/documents.
type DocumentsRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// RollbackRequest is the body of POST /v1/rag/rollback.
type RollbackRequest struct {
	Version string `json:"version" binding:"required"`
}

// ServiceStatistics is the response of GET /v1/rag/statistics.
type ServiceStatistics struct {
	Updater      update.Statistics                    `json:"updater"`
	ChunksStored int                                  `json:"chunks_stored"`
	Performance  map[string]resilience.OperationStats `json:"performance"`
	Errors       resilience.ErrorSummary              `json:"errors"`
}

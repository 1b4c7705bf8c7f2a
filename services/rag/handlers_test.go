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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/services/rag/pipeline"
	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
	"github.com/AleutianAI/AleutianRAG/services/rag/update"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockPipeline implements both the updater's Pipeline and the
// service's QueryPipeline.
type mockPipeline struct {
	mu          sync.Mutex
	stored      map[string]bool
	QueryAnswer *pipeline.Answer
	QueryError  error
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{stored: make(map[string]bool)}
}

func (m *mockPipeline) Ingest(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[path] = true
	return nil
}

func (m *mockPipeline) DeleteBySource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stored, source)
	return nil
}

func (m *mockPipeline) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = make(map[string]bool)
	return nil
}

func (m *mockPipeline) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored), nil
}

func (m *mockPipeline) Query(context.Context, string, int) (*pipeline.Answer, error) {
	return m.QueryAnswer, m.QueryError
}

// newTestService wires a service over a temp corpus directory.
func newTestService(t *testing.T) (*Service, *mockPipeline, string) {
	t.Helper()
	docsDir := t.TempDir()
	mock := newMockPipeline()

	updater, err := update.NewAutoUpdater(mock, update.UpdaterConfig{
		WatchDirs:   []string{docsDir},
		IndexPath:   filepath.Join(t.TempDir(), "index.json"),
		VersionsDir: filepath.Join(t.TempDir(), "versions"),
		Engine:      resilience.NewEngine(resilience.Config{MaxRetryAttempts: 1}),
	})
	require.NoError(t, err)

	engine := resilience.NewEngine(resilience.Config{MaxRetryAttempts: 1})
	svc := NewService(engine, updater, nil, mock, nil, nil)
	return svc, mock, docsDir
}

func newTestRouter(t *testing.T) (*gin.Engine, *mockPipeline, string) {
	t.Helper()
	svc, mock, docsDir := newTestService(t)
	router := gin.New()
	SetupRoutes(router, svc)
	return router, mock, docsDir
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// Query Tests
// =============================================================================

func TestQueryHandler_Success(t *testing.T) {
	router, mock, _ := newTestRouter(t)
	mock.QueryAnswer = &pipeline.Answer{
		Question: "what is the corpus",
		Text:     "A set of documents.",
	}

	w := performRequest(router, "POST", "/v1/rag/query",
		QueryRequest{Question: "what is the corpus"})

	assert.Equal(t, http.StatusOK, w.Code)

	var response pipeline.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "A set of documents.", response.Text)
}

func TestQueryHandler_MissingQuestion(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "POST", "/v1/rag/query", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_PipelineError(t *testing.T) {
	router, mock, _ := newTestRouter(t)
	mock.QueryError = errors.New("store unreachable")

	w := performRequest(router, "POST", "/v1/rag/query",
		QueryRequest{Question: "anything"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// Document Tests
// =============================================================================

func TestUpdateDocumentsHandler_Success(t *testing.T) {
	router, mock, docsDir := newTestRouter(t)
	path := writeDoc(t, docsDir, "a.md", "# Title")

	w := performRequest(router, "POST", "/v1/rag/documents",
		DocumentsRequest{Paths: []string{path}})

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["updated"])

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.True(t, mock.stored[path])
}

func TestUpdateDocumentsHandler_EmptyPaths(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "POST", "/v1/rag/documents",
		map[string][]string{"paths": {}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocumentsHandler_RequiresSource(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "DELETE", "/v1/rag/documents", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocumentsHandler_Success(t *testing.T) {
	router, mock, docsDir := newTestRouter(t)
	path := writeDoc(t, docsDir, "a.md", "# Title")

	w := performRequest(router, "POST", "/v1/rag/documents",
		DocumentsRequest{Paths: []string{path}})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "DELETE", "/v1/rag/documents?source="+path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.False(t, mock.stored[path])
}

// =============================================================================
// Introspection Tests
// =============================================================================

func TestHealthHandler_Healthy(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/v1/rag/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response, "status")
}

func TestStatisticsHandler(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/v1/rag/statistics", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ServiceStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 0, response.ChunksStored)
}

func TestErrorsHandler_BadWindow(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/v1/rag/errors?minutes=zero", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorsHandler_Default(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/v1/rag/errors", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response resilience.ErrorSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 0, response.TotalErrors)
}

func TestPatternsHandler_TracksQueries(t *testing.T) {
	router, mock, _ := newTestRouter(t)
	mock.QueryAnswer = &pipeline.Answer{Text: "ok"}

	for i := 0; i < 2; i++ {
		w := performRequest(router, "POST", "/v1/rag/query",
			QueryRequest{Question: "how do I deploy"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := performRequest(router, "GET", "/v1/rag/patterns", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Patterns []resilience.QueryPattern `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Patterns, 1)
	assert.Equal(t, "how do i deploy", response.Patterns[0].Pattern)
	assert.Equal(t, 2, response.Patterns[0].Count)
}

func TestMemoryLeaksHandler(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/v1/rag/memory-leaks", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response resilience.LeakReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, resilience.LeakNone, response.Status)
}

func TestResetMetricsHandler(t *testing.T) {
	router, mock, _ := newTestRouter(t)
	mock.QueryAnswer = &pipeline.Answer{Text: "ok"}

	w := performRequest(router, "POST", "/v1/rag/query",
		QueryRequest{Question: "seed a sample"})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/v1/rag/metrics/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/v1/rag/performance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{}", w.Body.String())
}

// =============================================================================
// Version Tests
// =============================================================================

func TestVersionsHandler_AfterUpdate(t *testing.T) {
	router, _, docsDir := newTestRouter(t)
	path := writeDoc(t, docsDir, "a.md", "# Title")

	w := performRequest(router, "POST", "/v1/rag/documents",
		DocumentsRequest{Paths: []string{path}})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/v1/rag/versions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Versions []update.Version `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Versions, 1)
}

func TestRollbackHandler_UnknownVersion(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "POST", "/v1/rag/rollback",
		RollbackRequest{Version: "19700101T000000.000000000"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollbackHandler_RestoresSnapshot(t *testing.T) {
	router, mock, docsDir := newTestRouter(t)
	path := writeDoc(t, docsDir, "a.md", "# Title")

	w := performRequest(router, "POST", "/v1/rag/documents",
		DocumentsRequest{Paths: []string{path}})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/v1/rag/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Versions []update.Version `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Versions, 1)

	w = performRequest(router, "POST", "/v1/rag/rollback",
		RollbackRequest{Version: listed.Versions[0].ID})
	assert.Equal(t, http.StatusOK, w.Code)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.True(t, mock.stored[path])
}

func TestReadyHandler(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := performRequest(router, "GET", "/ready", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

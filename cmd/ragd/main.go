// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ragd starts the Aleutian RAG resilience and auto-update
// server.
//
// The server keeps a Weaviate vector store synchronized with one or
// more document directories, answers retrieval-augmented queries
// through OpenAI, and wraps every external call in retry and
// circuit-breaker protection.
//
// Usage:
//
//	go run ./cmd/ragd
//	go run ./cmd/ragd -config /etc/aleutian/rag.yaml
//	go run ./cmd/ragd -port 9090 -debug
//
// Required environment:
//
//	OPENAI_API_KEY (or /run/secrets/openai_api_key)
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/rag/health
//
//	# Ask a question
//	curl -X POST http://localhost:8080/v1/rag/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "How do I configure retention?"}'
//
//	# Trigger a full reindex
//	curl -X POST http://localhost:8080/v1/rag/reindex
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	wvt "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/rag"
	"github.com/AleutianAI/AleutianRAG/services/rag/config"
	"github.com/AleutianAI/AleutianRAG/services/rag/pipeline"
	"github.com/AleutianAI/AleutianRAG/services/rag/resilience"
	"github.com/AleutianAI/AleutianRAG/services/rag/telemetry"
	"github.com/AleutianAI/AleutianRAG/services/rag/update"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	port := flag.Int("port", 0, "Override the configured listen port")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragd: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.LogDir,
		Service: "ragd",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := run(cfg, *debug, logger.Slog()); err != nil {
		slog.Error("ragd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, debug bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian-rag"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// Vector store
	client, err := wvt.NewClient(wvt.Config{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
	})
	if err != nil {
		return fmt.Errorf("create weaviate client: %w", err)
	}
	store, err := pipeline.NewWeaviateStore(ctx, client, logger)
	if err != nil {
		return fmt.Errorf("connect to weaviate at %s: %w", cfg.Weaviate.Host, err)
	}

	// Query path
	embedder, err := pipeline.NewOpenAIEmbedder()
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	generator, err := pipeline.NewOpenAIGenerator()
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	ragPipeline := pipeline.New(store, embedder, generator, logger)

	// Resilience engine
	engine := resilience.NewEngine(resilience.Config{
		MaxRetryAttempts:    cfg.Resilience.MaxRetryAttempts,
		RetryBackoffFactor:  cfg.Resilience.RetryBackoffFactor,
		BreakerThreshold:    cfg.Resilience.BreakerThreshold,
		BreakerTimeout:      cfg.Resilience.BreakerTimeout,
		SelfHealing:         cfg.Resilience.SelfHealing,
		CacheInvalidation:   cfg.Resilience.CacheInvalidation,
		TrackQueryPatterns:  cfg.Resilience.TrackQueryPatterns,
		MemoryLeakDetection: cfg.Resilience.MemoryLeakDetect,
		DiskPath:            cfg.Resilience.DiskPath,
		Logger:              logger,
	})

	// Auto-updater
	updater, err := update.NewAutoUpdater(ragPipeline, update.UpdaterConfig{
		WatchDirs:      cfg.Documents.WatchDirs,
		IndexPath:      filepath.Join(cfg.Documents.StateDir, "document_index.json"),
		VersionsDir:    filepath.Join(cfg.Documents.StateDir, "versions"),
		MaxVersions:    cfg.Documents.MaxVersions,
		DebounceWindow: cfg.Documents.DebounceWindow,
		MaxFileSizeMB:  cfg.Documents.MaxFileSizeMB,
		BatchSize:      cfg.Documents.BatchSize,
		Extensions:     cfg.Documents.Extensions,
		Engine:         engine,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create auto-updater: %w", err)
	}

	// Daily reindex
	var scheduler *update.Scheduler
	if cfg.Documents.ReindexAt != "" {
		scheduler, err = update.NewScheduler(cfg.Documents.ReindexAt, func(ctx context.Context) error {
			_, err := updater.FullReindex(ctx)
			return err
		}, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
	}

	svc := rag.NewService(engine, updater, scheduler, ragPipeline, metrics, logger)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	// HTTP server
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	rag.SetupRoutes(router, svc)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting Aleutian RAG server",
			slog.String("address", addr),
			slog.Any("watch_dirs", cfg.Documents.WatchDirs))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down Aleutian RAG server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

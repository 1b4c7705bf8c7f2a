// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry metrics with a Prometheus
// exporter for the RAG service.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this service in metrics.
	ServiceName string `json:"service_name"`

	// ServiceVersion is the version string for this service.
	ServiceVersion string `json:"service_version"`
}

// DefaultConfig returns opinionated defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "aleutian-rag",
		ServiceVersion: "1.0.0",
	}
}

// Init sets up the OTel MeterProvider with a Prometheus exporter.
// After Init returns, otel.Meter() works throughout the application
// and MetricsHandler serves the scrape endpoint.
//
// Thread Safety: call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Metrics contains the pre-defined instruments for the RAG service.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// QueriesTotal counts RAG queries by status.
	QueriesTotal metric.Int64Counter

	// QueryDuration records query duration in seconds.
	QueryDuration metric.Float64Histogram

	// DocumentsIngested counts documents ingested by trigger
	// (watch, reindex, api).
	DocumentsIngested metric.Int64Counter

	// DocumentsDeleted counts documents deleted.
	DocumentsDeleted metric.Int64Counter

	// ReindexDuration records full reindex duration in seconds.
	ReindexDuration metric.Float64Histogram

	// SnapshotsTotal counts version snapshots created.
	SnapshotsTotal metric.Int64Counter

	// RollbacksTotal counts rollbacks by status.
	RollbacksTotal metric.Int64Counter

	// ErrorsTotal counts recorded errors by kind and operation.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all instruments against the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.QueriesTotal, err = meter.Int64Counter(
		"rag_queries_total",
		metric.WithDescription("Total RAG queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_queries_total: %w", err)
	}

	m.QueryDuration, err = meter.Float64Histogram(
		"rag_query_duration_seconds",
		metric.WithDescription("RAG query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_query_duration_seconds: %w", err)
	}

	m.DocumentsIngested, err = meter.Int64Counter(
		"rag_documents_ingested_total",
		metric.WithDescription("Total documents ingested"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_documents_ingested_total: %w", err)
	}

	m.DocumentsDeleted, err = meter.Int64Counter(
		"rag_documents_deleted_total",
		metric.WithDescription("Total documents deleted"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_documents_deleted_total: %w", err)
	}

	m.ReindexDuration, err = meter.Float64Histogram(
		"rag_reindex_duration_seconds",
		metric.WithDescription("Full reindex duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_reindex_duration_seconds: %w", err)
	}

	m.SnapshotsTotal, err = meter.Int64Counter(
		"rag_snapshots_total",
		metric.WithDescription("Total version snapshots created"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_snapshots_total: %w", err)
	}

	m.RollbacksTotal, err = meter.Int64Counter(
		"rag_rollbacks_total",
		metric.WithDescription("Total rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_rollbacks_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"rag_errors_total",
		metric.WithDescription("Total recorded errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rag_errors_total: %w", err)
	}

	return m, nil
}

// StatusAttr builds the standard status attribute.
func StatusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "success")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"math"
	"sort"
	"time"
)

// OperationStats summarizes the retained samples for one operation.
type OperationStats struct {
	Count       int     `json:"count"`
	MeanMs      float64 `json:"mean_ms"`
	MedianMs    float64 `json:"median_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	MinMs       float64 `json:"min_ms"`
	MaxMs       float64 `json:"max_ms"`
	MeanDeltaMB float64 `json:"mean_memory_delta_mb"`
	MinDeltaMB  float64 `json:"min_memory_delta_mb"`
	MaxDeltaMB  float64 `json:"max_memory_delta_mb"`
}

// PerformanceSummary aggregates execution-time and memory-delta
// statistics per operation over the retained history.
func (e *Engine) PerformanceSummary() map[string]OperationStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := make(map[string]OperationStats, len(e.metrics))
	for operation, m := range e.metrics {
		samples := m.slice()
		if len(samples) == 0 {
			continue
		}
		times := make([]float64, len(samples))
		deltas := make([]float64, len(samples))
		for i, s := range samples {
			times[i] = s.ExecutionMs
			deltas[i] = s.MemoryDeltaMB
		}
		sort.Float64s(times)
		sort.Float64s(deltas)

		summary[operation] = OperationStats{
			Count:       len(times),
			MeanMs:      mean(times),
			MedianMs:    percentile(times, 50),
			P95Ms:       percentile(times, 95),
			P99Ms:       percentile(times, 99),
			MinMs:       times[0],
			MaxMs:       times[len(times)-1],
			MeanDeltaMB: mean(deltas),
			MinDeltaMB:  deltas[0],
			MaxDeltaMB:  deltas[len(deltas)-1],
		}
	}
	return summary
}

// mean averages a non-empty slice.
func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile computes the p-th percentile of sorted values using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ErrorSummary describes the retained error history restricted to a
// time window.
type ErrorSummary struct {
	TotalErrors int            `json:"total_errors"`
	ByKind      map[string]int `json:"by_type"`
	ByOperation map[string]int `json:"by_operation"`
	Recent      []ErrorRecord  `json:"recent"`
}

// ErrorsInWindow summarizes errors recorded within the last window
// duration: totals, counts grouped by kind and by operation, and the
// ten newest records.
func (e *Engine) ErrorsInWindow(window time.Duration) ErrorSummary {
	cutoff := e.now().Add(-window)

	e.mu.Lock()
	defer e.mu.Unlock()

	summary := ErrorSummary{
		ByKind:      map[string]int{},
		ByOperation: map[string]int{},
		Recent:      []ErrorRecord{},
	}

	var windowed []ErrorRecord
	for _, rec := range e.errors.slice() {
		if rec.Timestamp.After(cutoff) {
			windowed = append(windowed, rec)
		}
	}

	summary.TotalErrors = len(windowed)
	for _, rec := range windowed {
		summary.ByKind[rec.Kind]++
		summary.ByOperation[rec.Operation]++
	}

	start := len(windowed) - 10
	if start < 0 {
		start = 0
	}
	summary.Recent = append(summary.Recent, windowed[start:]...)
	return summary
}

// Memory-leak verdicts.
const (
	LeakInsufficientData = "insufficient_data"
	LeakNone             = "no_leak_detected"
	LeakCandidate        = "possible_leak"
	LeakConfirmed        = "leak_detected"
	LeakDisabled         = "disabled"
)

// LeakReport is the result of one leak heuristic evaluation.
type LeakReport struct {
	Status    string  `json:"status"`
	Operation string  `json:"operation,omitempty"`
	RecentMB  float64 `json:"recent_avg_mb,omitempty"`
	PriorMB   float64 `json:"prior_avg_mb,omitempty"`
	Growth    float64 `json:"growth_rate,omitempty"`
}

// Leak heuristic constants. Growth is the relative increase of the
// mean resident memory of the newest 10 samples over the mean of the
// 10 before those: (recent - prior) / prior.
const (
	leakMinSamples      = 20
	leakCandidateGrowth = 0.2
	leakConfirmedGrowth = 0.3
)

// DetectMemoryLeaks applies the growth heuristic to each operation's
// retained memory samples and returns the worst finding. Fewer than 20
// samples for every operation yields LeakInsufficientData.
func (e *Engine) DetectMemoryLeaks() LeakReport {
	if !e.config.MemoryLeakDetection {
		return LeakReport{Status: LeakDisabled}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	worst := LeakReport{Status: LeakInsufficientData}
	evaluated := false

	for operation, m := range e.metrics {
		samples := m.last(leakMinSamples)
		if len(samples) < leakMinSamples {
			continue
		}
		evaluated = true

		recent := make([]float64, 0, 10)
		prior := make([]float64, 0, 10)
		for _, s := range samples[10:] {
			recent = append(recent, s.MemoryUsageMB)
		}
		for _, s := range samples[:10] {
			prior = append(prior, s.MemoryUsageMB)
		}

		recentAvg := mean(recent)
		priorAvg := mean(prior)
		var growth float64
		if priorAvg > 0 {
			growth = (recentAvg - priorAvg) / priorAvg
		}
		report := LeakReport{
			Status:    LeakNone,
			Operation: operation,
			RecentMB:  recentAvg,
			PriorMB:   priorAvg,
			Growth:    growth,
		}
		if growth > leakConfirmedGrowth {
			report.Status = LeakConfirmed
		} else if growth > leakCandidateGrowth {
			report.Status = LeakCandidate
		}

		if leakRank(report.Status) > leakRank(worst.Status) ||
			(leakRank(report.Status) == leakRank(worst.Status) && report.Growth > worst.Growth) {
			worst = report
		}
	}

	if !evaluated {
		return LeakReport{Status: LeakInsufficientData}
	}
	return worst
}

// leakRank orders leak verdicts by severity.
func leakRank(status string) int {
	switch status {
	case LeakConfirmed:
		return 3
	case LeakCandidate:
		return 2
	case LeakNone:
		return 1
	default:
		return 0
	}
}

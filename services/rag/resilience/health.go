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
	"log/slog"
	"time"
)

// Overall health verdicts, ordered by severity.
const (
	Healthy  = "healthy"
	Degraded = "degraded"
	Critical = "critical"
)

// Issue severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Resource thresholds above which an issue is raised, in percent.
const (
	cpuThreshold  = 90.0
	memThreshold  = 90.0
	diskThreshold = 90.0
)

// recentErrorWindow and recentErrorLimit define the "too many recent
// errors" condition.
const (
	recentErrorWindow = 5 * time.Minute
	recentErrorLimit  = 10
)

// Issue is one detected health problem.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// HealthStatus is one point-in-time health evaluation.
type HealthStatus struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	DiskPercent   float64           `json:"disk_percent"`
	RecentErrors  int               `json:"recent_errors"`
	Issues        []Issue           `json:"issues"`
	Breakers      map[string]string `json:"circuit_breakers"`
}

// HealthCheck samples system resources and the recent error rate and
// aggregates them into a single verdict. Any critical issue makes the
// whole status critical; otherwise any warning makes it degraded. A
// probe read failure is itself reported as a warning rather than
// failing the check.
//
// Thread Safety: safe for concurrent use.
func (e *Engine) HealthCheck() HealthStatus {
	status := HealthStatus{
		Status:    Healthy,
		Timestamp: e.now(),
		Issues:    []Issue{},
		Breakers:  map[string]string{},
	}

	cpu, err := e.probe.CPUPercent()
	if err != nil {
		status.Issues = append(status.Issues, Issue{SeverityWarning, "cpu probe failed: " + err.Error()})
	} else {
		status.CPUPercent = cpu
		if cpu > cpuThreshold {
			status.Issues = append(status.Issues, Issue{SeverityWarning, "high CPU usage"})
		}
	}

	mem, err := e.probe.MemoryPercent()
	if err != nil {
		status.Issues = append(status.Issues, Issue{SeverityWarning, "memory probe failed: " + err.Error()})
	} else {
		status.MemoryPercent = mem
		if mem > memThreshold {
			status.Issues = append(status.Issues, Issue{SeverityCritical, "high memory usage"})
		}
	}

	disk, err := e.probe.DiskPercent(e.config.DiskPath)
	if err != nil {
		status.Issues = append(status.Issues, Issue{SeverityWarning, "disk probe failed: " + err.Error()})
	} else {
		status.DiskPercent = disk
		if disk > diskThreshold {
			status.Issues = append(status.Issues, Issue{SeverityWarning, "low disk space"})
		}
	}

	status.RecentErrors = e.recentErrorCount(recentErrorWindow)
	if status.RecentErrors > recentErrorLimit {
		status.Issues = append(status.Issues, Issue{SeverityCritical, "high error rate"})
	}

	for name, state := range e.BreakerStates() {
		status.Breakers[name] = state.String()
		if state == StateOpen {
			status.Issues = append(status.Issues, Issue{SeverityWarning, "circuit breaker open: " + name})
		}
	}

	for _, issue := range status.Issues {
		if issue.Severity == SeverityCritical {
			status.Status = Critical
			break
		}
		status.Status = Degraded
	}

	e.mu.Lock()
	e.lastHealth = &status
	e.mu.Unlock()

	if status.Status != Healthy {
		e.logger.Warn("health check degraded",
			slog.String("status", status.Status),
			slog.Int("issues", len(status.Issues)))
	}
	return status
}

// LastHealth returns the most recent health evaluation, or nil if
// HealthCheck has never run.
func (e *Engine) LastHealth() *HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHealth
}

// recentErrorCount counts error records newer than now-window.
func (e *Engine) recentErrorCount(window time.Duration) int {
	cutoff := e.now().Add(-window)
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, rec := range e.errors.slice() {
		if rec.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

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
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// stubProbe returns fixed readings for deterministic assertions.
type stubProbe struct {
	cpu      float64
	mem      float64
	disk     float64
	procMB   float64
	probeErr error
}

func (p *stubProbe) CPUPercent() (float64, error)        { return p.cpu, p.probeErr }
func (p *stubProbe) MemoryPercent() (float64, error)     { return p.mem, p.probeErr }
func (p *stubProbe) DiskPercent(string) (float64, error) { return p.disk, p.probeErr }
func (p *stubProbe) ProcessMemoryMB() (float64, error)   { return p.procMB, nil }

// newTestEngine builds an Engine with a stub probe, a frozen clock, and
// sleeps captured instead of slept.
func newTestEngine(t *testing.T, config Config) (*Engine, *stubProbe, *[]time.Duration) {
	t.Helper()
	probe := &stubProbe{cpu: 10, mem: 20, disk: 30, procMB: 100}
	config.Probe = probe
	e := NewEngine(config)

	var sleeps []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }
	return e, probe, &sleeps
}

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	e, _, sleeps := newTestEngine(t, Config{})

	calls := 0
	err := e.WithRetry(context.Background(), "query", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestWithRetry_BackoffSequence(t *testing.T) {
	e, _, sleeps := newTestEngine(t, Config{
		MaxRetryAttempts:   3,
		RetryBackoffFactor: 2,
		RetryBackoffUnit:   time.Second,
	})

	calls := 0
	err := e.WithRetry(context.Background(), "query", func() error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithRetry() = %v, want %v", err, errBoom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestWithRetry_RecoversMidway(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	calls := 0
	err := e.WithRetry(context.Background(), "query", func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := e.ErrorsInWindow(time.Hour).TotalErrors; got != 0 {
		t.Errorf("recorded errors = %d, want 0 after recovery", got)
	}
}

func TestWithRetry_RecordsFinalError(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	e.WithRetry(context.Background(), "ingest", func() error { return errBoom })

	summary := e.ErrorsInWindow(time.Hour)
	if summary.TotalErrors != 1 {
		t.Fatalf("TotalErrors = %d, want 1 (only the final failure)", summary.TotalErrors)
	}
	if got := summary.ByOperation["ingest"]; got != 1 {
		t.Errorf("ByOperation[ingest] = %d, want 1", got)
	}
}

func TestWithRetry_ConfigurationErrorsNotRetried(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	calls := 0
	err := e.WithRetry(context.Background(), "embed", func() error {
		calls++
		return WithKind(KindConfiguration, errors.New("unsupported provider"))
	})
	if err == nil {
		t.Fatal("WithRetry() = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for configuration error", calls)
	}
}

func TestWithCircuitBreaker_RegistryPerOperation(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{BreakerThreshold: 1})

	e.WithCircuitBreaker("op_a", func() error { return errBoom })
	if err := e.WithCircuitBreaker("op_a", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("op_a Call() = %v, want ErrCircuitOpen", err)
	}

	// Breakers are independent per name.
	if err := e.WithCircuitBreaker("op_b", func() error { return nil }); err != nil {
		t.Errorf("op_b Call() = %v, want nil", err)
	}

	states := e.BreakerStates()
	if states["op_a"] != StateOpen || states["op_b"] != StateClosed {
		t.Errorf("BreakerStates() = %v", states)
	}
}

func TestMonitor_RecordsSample(t *testing.T) {
	e, probe, _ := newTestEngine(t, Config{})

	probe.procMB = 100
	err := e.Monitor("query", func() error {
		probe.procMB = 112
		return nil
	})
	if err != nil {
		t.Fatalf("Monitor() = %v, want nil", err)
	}

	summary := e.PerformanceSummary()
	stats, ok := summary["query"]
	if !ok {
		t.Fatal("PerformanceSummary() missing query operation")
	}
	if stats.Count != 1 {
		t.Errorf("Count = %d, want 1", stats.Count)
	}

	e.mu.Lock()
	sample := e.metrics["query"].slice()[0]
	e.mu.Unlock()
	if sample.MemoryDeltaMB != 12 {
		t.Errorf("MemoryDeltaMB = %v, want 12", sample.MemoryDeltaMB)
	}
	if sample.MemoryUsageMB != 112 {
		t.Errorf("MemoryUsageMB = %v, want 112", sample.MemoryUsageMB)
	}
}

func TestMonitor_FailureRecordsErrorNotSample(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	if err := e.Monitor("query", func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("Monitor() = %v, want %v", err, errBoom)
	}
	if _, ok := e.PerformanceSummary()["query"]; ok {
		t.Error("failed call produced a performance sample")
	}
	if got := e.ErrorsInWindow(time.Hour).TotalErrors; got != 1 {
		t.Errorf("TotalErrors = %d, want 1", got)
	}
}

func TestTrackQuery_Normalization(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{TrackQueryPatterns: true})

	e.TrackQuery("How Do I Reset The Admin Password Quickly")
	e.TrackQuery("how do i reset the admin password")
	e.TrackQuery("  how   do i RESET the  ")

	patterns := e.QueryPatterns()
	if len(patterns) != 1 {
		t.Fatalf("patterns = %v, want a single merged pattern", patterns)
	}
	if got, want := patterns[0].Pattern, "how do i reset the"; got != want {
		t.Errorf("Pattern = %q, want %q", got, want)
	}
	if patterns[0].Count != 3 {
		t.Errorf("Count = %d, want 3", patterns[0].Count)
	}
}

func TestTrackQuery_TieBreakByFirstSeen(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{TrackQueryPatterns: true})

	e.TrackQuery("alpha query")
	e.TrackQuery("beta query")
	e.TrackQuery("beta query")
	e.TrackQuery("alpha query")

	patterns := e.TopPatterns(2)
	if got := patterns[0].Pattern; got != "alpha query" {
		t.Errorf("first pattern = %q, want alpha (earlier first-seen wins ties)", got)
	}
}

func TestTrackQuery_DisabledAndEmpty(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	e.TrackQuery("anything at all")
	e.TrackQuery("   ")
	if got := e.QueryPatterns(); len(got) != 0 {
		t.Errorf("patterns = %v, want none when disabled", got)
	}
}

func TestSelfHeal_MemoryPressureTrimsHistory(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{SelfHealing: true})

	e.mu.Lock()
	m := newRing[PerformanceSample](1000)
	for i := 0; i < 500; i++ {
		m.push(PerformanceSample{Operation: "query", ExecutionMs: float64(i)})
	}
	e.metrics["query"] = m
	e.mu.Unlock()

	e.RecordError("query", WithKind(KindResourceExhaustion, errBoom))

	e.mu.Lock()
	kept := e.metrics["query"].len()
	e.mu.Unlock()
	if kept != 100 {
		t.Errorf("retained samples = %d, want 100", kept)
	}
}

func TestSelfHeal_TransientPauses(t *testing.T) {
	e, _, sleeps := newTestEngine(t, Config{SelfHealing: true, TransientPause: 5 * time.Second})

	e.RecordError("query", Transientf("connection refused"))

	if len(*sleeps) != 1 || (*sleeps)[0] != 5*time.Second {
		t.Errorf("sleeps = %v, want one 5s pause", *sleeps)
	}
}

func TestSelfHeal_CacheInvalidation(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{SelfHealing: true, CacheInvalidation: true})

	invalidated := false
	e.SetCacheInvalidator(func() { invalidated = true })

	e.RecordError("query_cache_lookup", errBoom)
	if !invalidated {
		t.Error("cache invalidator not invoked for cache operation")
	}

	invalidated = false
	e.RecordError("ingest", errBoom)
	if invalidated {
		t.Error("cache invalidator invoked for non-cache operation")
	}
}

func TestSelfHeal_DisabledDoesNothing(t *testing.T) {
	e, _, sleeps := newTestEngine(t, Config{})

	e.RecordError("query", Transientf("connection refused"))
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none with self-healing disabled", *sleeps)
	}
}

func TestResetMetrics(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{TrackQueryPatterns: true})

	e.RecordError("query", errBoom)
	e.Monitor("query", func() error { return nil })
	e.TrackQuery("some question here")

	e.ResetMetrics()

	if got := e.ErrorsInWindow(time.Hour).TotalErrors; got != 0 {
		t.Errorf("TotalErrors = %d, want 0", got)
	}
	if got := len(e.PerformanceSummary()); got != 0 {
		t.Errorf("PerformanceSummary() entries = %d, want 0", got)
	}
	if got := len(e.QueryPatterns()); got != 0 {
		t.Errorf("patterns = %d, want 0", got)
	}
}

func TestInvoke_FullChain(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{MaxRetryAttempts: 2, BreakerThreshold: 5})

	calls := 0
	err := e.Invoke(context.Background(), "query", func() error {
		calls++
		if calls == 1 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Invoke() = %v, want nil after retry", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if _, ok := e.PerformanceSummary()["query"]; !ok {
		t.Error("Invoke() did not record a performance sample")
	}
}

func TestRecordError_NilIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	e.RecordError("query", nil)
	if got := e.ErrorsInWindow(time.Hour).TotalErrors; got != 0 {
		t.Errorf("TotalErrors = %d, want 0", got)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience implements the fault-tolerance layer around the
// RAG pipeline: retry with deterministic backoff, per-operation circuit
// breakers, rolling error and performance telemetry, health aggregation,
// and best-effort self-healing.
//
// # Design
//
// One Engine instance is constructed at process start and passed by
// handle to every component; there is no package-level state. All
// wrappers preserve the wrapped operation's error kind and message so
// callers can branch on them.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Telemetry state is guarded by one
// mutex; each CircuitBreaker carries its own.
package resilience

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// ErrorRecord is one immutable entry in the bounded error history.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Kind      string    `json:"error_type"`
	Message   string    `json:"error_message"`
	Stack     string    `json:"stack"`
}

// PerformanceSample is one immutable entry in an operation's bounded
// performance history.
type PerformanceSample struct {
	Timestamp     time.Time `json:"timestamp"`
	Operation     string    `json:"operation"`
	ExecutionMs   float64   `json:"execution_time_ms"`
	MemoryDeltaMB float64   `json:"memory_delta_mb"`
	MemoryUsageMB float64   `json:"memory_usage_mb"`
}

// QueryPattern is one normalized query prefix and its observed count.
type QueryPattern struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the Engine.
type Config struct {
	// MaxRetryAttempts is the total attempt count for WithRetry.
	// Default: 3
	MaxRetryAttempts int

	// RetryBackoffFactor is the exponential backoff base. The sleep
	// before attempt n (1-indexed retry) is factor^(n-1) backoff units.
	// No jitter; backoff is deterministic for testability.
	// Default: 2
	RetryBackoffFactor float64

	// RetryBackoffUnit scales the backoff exponent into a duration.
	// Default: 1s
	RetryBackoffUnit time.Duration

	// BreakerThreshold is the consecutive-failure count that opens a
	// circuit breaker. Default: 5
	BreakerThreshold int

	// BreakerTimeout is how long a breaker stays open before allowing
	// a half-open probe. Default: 60s
	BreakerTimeout time.Duration

	// ErrorHistorySize bounds the error ring. Default: 1000
	ErrorHistorySize int

	// MetricHistorySize bounds each operation's performance ring.
	// Default: 1000
	MetricHistorySize int

	// SelfHealing enables the corrective actions dispatched on
	// recorded errors. Default: false (zero value)
	SelfHealing bool

	// CacheInvalidation enables the cache-invalidation self-heal hook.
	CacheInvalidation bool

	// TransientPause is the blocking pause applied when a transient
	// error is recorded, giving the fault a window to clear before the
	// caller's own retry logic resumes. Default: 5s
	TransientPause time.Duration

	// TrackQueryPatterns enables query pattern counting.
	TrackQueryPatterns bool

	// MemoryLeakDetection enables DetectMemoryLeaks.
	MemoryLeakDetection bool

	// DiskPath is the filesystem checked by health probes. Default "/".
	DiskPath string

	// Probe reads system resource usage. Default: NewSystemProbe().
	Probe SystemProbe

	// Logger for engine events. Default: slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = 3
	}
	if c.RetryBackoffFactor == 0 {
		c.RetryBackoffFactor = 2
	}
	if c.RetryBackoffUnit == 0 {
		c.RetryBackoffUnit = time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 60 * time.Second
	}
	if c.ErrorHistorySize == 0 {
		c.ErrorHistorySize = 1000
	}
	if c.MetricHistorySize == 0 {
		c.MetricHistorySize = 1000
	}
	if c.TransientPause == 0 {
		c.TransientPause = 5 * time.Second
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.Probe == nil {
		c.Probe = NewSystemProbe()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// patternEntry tracks one normalized query's count and first-seen order.
type patternEntry struct {
	count int
	seq   int
}

// Engine owns the breaker registry, the bounded error and performance
// histories, the query pattern counter, and health aggregation.
type Engine struct {
	config Config
	logger *slog.Logger
	probe  SystemProbe

	mu         sync.Mutex
	breakers   map[string]*CircuitBreaker
	errors     *ring[ErrorRecord]
	metrics    map[string]*ring[PerformanceSample]
	patterns   map[string]*patternEntry
	patternSeq int
	lastHealth *HealthStatus

	// cacheInvalidator is the host-wired cache self-heal hook; nil
	// means the cache action is a no-op.
	cacheInvalidator func()

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine creates an Engine from the given configuration.
func NewEngine(config Config) *Engine {
	config.applyDefaults()
	return &Engine{
		config:   config,
		logger:   config.Logger.With(slog.String("component", "resilience")),
		probe:    config.Probe,
		breakers: make(map[string]*CircuitBreaker),
		errors:   newRing[ErrorRecord](config.ErrorHistorySize),
		metrics:  make(map[string]*ring[PerformanceSample]),
		patterns: make(map[string]*patternEntry),
		now:      time.Now,
		sleep:    ctxSleep,
	}
}

// ctxSleep blocks for d or until ctx is done, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// -----------------------------------------------------------------------------
// Wrappers
// -----------------------------------------------------------------------------

// WithRetry invokes fn up to MaxRetryAttempts times. Between attempts
// it sleeps factor^attempt backoff units (attempt 0-indexed). The final
// failure is recorded into the error history and returned unchanged;
// intermediate failures are only logged.
func (e *Engine) WithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := e.config.MaxRetryAttempts

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if Classify(err) == KindConfiguration {
			// Misconfiguration cannot resolve by retrying.
			break
		}

		if attempt == maxAttempts-1 {
			break
		}

		wait := e.backoff(attempt)
		e.logger.Warn("retry attempt",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
		e.sleep(ctx, wait)

		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	e.logger.Error("max retries exceeded",
		slog.String("operation", operation),
		slog.Int("attempts", maxAttempts),
		slog.String("error", err.Error()))
	e.RecordError(operation, err)
	return err
}

// backoff returns the deterministic delay before the retry following
// the given 0-indexed attempt.
func (e *Engine) backoff(attempt int) time.Duration {
	scale := math.Pow(e.config.RetryBackoffFactor, float64(attempt))
	return time.Duration(scale * float64(e.config.RetryBackoffUnit))
}

// WithCircuitBreaker routes fn through the breaker registered for the
// operation name, creating one lazily on first use.
func (e *Engine) WithCircuitBreaker(operation string, fn func() error) error {
	return e.breaker(operation).Call(fn)
}

// Breaker returns the breaker for the operation, creating it if needed.
func (e *Engine) breaker(operation string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[operation]
	if !ok {
		b = NewCircuitBreaker(operation, e.config.BreakerThreshold, e.config.BreakerTimeout, e.logger)
		e.breakers[operation] = b
	}
	return b
}

// BreakerStates returns the current state of every registered breaker.
func (e *Engine) BreakerStates() map[string]BreakerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make(map[string]BreakerState, len(e.breakers))
	for name, b := range e.breakers {
		states[name] = b.State()
	}
	return states
}

// Monitor executes fn, measuring wall-clock duration and resident
// memory before and after. A successful call appends a performance
// sample; a failed call records an ErrorRecord before the error is
// propagated unchanged.
func (e *Engine) Monitor(operation string, fn func() error) error {
	start := e.now()
	startMem, _ := e.probe.ProcessMemoryMB()

	err := fn()
	if err != nil {
		e.RecordError(operation, err)
		return err
	}

	endMem, _ := e.probe.ProcessMemoryMB()
	sample := PerformanceSample{
		Timestamp:     e.now(),
		Operation:     operation,
		ExecutionMs:   float64(e.now().Sub(start)) / float64(time.Millisecond),
		MemoryDeltaMB: endMem - startMem,
		MemoryUsageMB: endMem,
	}

	e.mu.Lock()
	m, ok := e.metrics[operation]
	if !ok {
		m = newRing[PerformanceSample](e.config.MetricHistorySize)
		e.metrics[operation] = m
	}
	m.push(sample)
	e.mu.Unlock()

	return nil
}

// Invoke applies the full wrapper chain to one pipeline call:
// performance monitoring outermost, then the operation's circuit
// breaker, then retry with backoff.
func (e *Engine) Invoke(ctx context.Context, operation string, fn func() error) error {
	return e.Monitor(operation, func() error {
		return e.WithCircuitBreaker(operation, func() error {
			return e.WithRetry(ctx, operation, fn)
		})
	})
}

// -----------------------------------------------------------------------------
// Query Patterns
// -----------------------------------------------------------------------------

// TrackQuery counts the normalized form of a user query: lower-cased,
// truncated to its first five whitespace-separated tokens.
func (e *Engine) TrackQuery(query string) {
	if !e.config.TrackQueryPatterns {
		return
	}

	fields := strings.Fields(strings.ToLower(query))
	if len(fields) > 5 {
		fields = fields[:5]
	}
	normalized := strings.Join(fields, " ")
	if normalized == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.patterns[normalized]
	if !ok {
		e.patternSeq++
		entry = &patternEntry{seq: e.patternSeq}
		e.patterns[normalized] = entry
	}
	entry.count++
}

// TopPatterns returns the n highest-count patterns, ties broken by
// first-seen order.
func (e *Engine) TopPatterns(n int) []QueryPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	type kv struct {
		pattern string
		entry   *patternEntry
	}
	all := make([]kv, 0, len(e.patterns))
	for pattern, entry := range e.patterns {
		all = append(all, kv{pattern, entry})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].entry.count != all[j].entry.count {
			return all[i].entry.count > all[j].entry.count
		}
		return all[i].entry.seq < all[j].entry.seq
	})

	if n > len(all) {
		n = len(all)
	}
	result := make([]QueryPattern, 0, n)
	for _, item := range all[:n] {
		result = append(result, QueryPattern{Pattern: item.pattern, Count: item.entry.count})
	}
	return result
}

// QueryPatterns returns the 20 most frequent normalized queries.
func (e *Engine) QueryPatterns() []QueryPattern {
	return e.TopPatterns(20)
}

// -----------------------------------------------------------------------------
// Error Recording & Self-Healing
// -----------------------------------------------------------------------------

// RecordError appends an ErrorRecord and dispatches self-healing.
func (e *Engine) RecordError(operation string, err error) {
	if err == nil {
		return
	}

	kind := Classify(err)
	record := ErrorRecord{
		Timestamp: e.now(),
		Operation: operation,
		Kind:      kind.String(),
		Message:   err.Error(),
		Stack:     captureStack(),
	}

	e.mu.Lock()
	e.errors.push(record)
	e.mu.Unlock()

	e.logger.Error("error recorded",
		slog.String("operation", operation),
		slog.String("error_type", record.Kind),
		slog.String("error_message", record.Message))

	if e.config.SelfHealing {
		e.selfHeal(operation, kind)
	}
}

// selfHeal dispatches the corrective action for an error kind. It is
// advisory: it never returns an error and callers must not depend on
// it resolving the underlying fault.
func (e *Engine) selfHeal(operation string, kind ErrorKind) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("self-heal handler panicked", slog.Any("panic", r))
		}
	}()

	e.logger.Info("attempting self-heal",
		slog.String("operation", operation),
		slog.String("error_type", kind.String()))

	switch kind {
	case KindResourceExhaustion:
		e.shedMemory()
	case KindTransient:
		// Block briefly so a flapping dependency has a window to
		// recover before the caller's retry logic resumes.
		e.logger.Warn("transient fault pause", slog.Duration("pause", e.config.TransientPause))
		e.sleep(context.Background(), e.config.TransientPause)
	default:
		if e.config.CacheInvalidation && strings.Contains(strings.ToLower(operation), "cache") {
			e.invalidateCache()
		}
	}
}

// shedMemory runs a GC and truncates each performance ring to its
// newest 100 samples.
func (e *Engine) shedMemory() {
	e.logger.Warn("handling memory pressure", slog.String("action", "trimming metric history"))
	runtime.GC()

	e.mu.Lock()
	for _, m := range e.metrics {
		m.truncateToLast(100)
	}
	e.mu.Unlock()

	e.logger.Info("memory cleanup completed")
}

// invalidateCache invokes the host-wired hook, if any.
func (e *Engine) invalidateCache() {
	e.logger.Info("invalidating cache")
	if e.cacheInvalidator != nil {
		e.cacheInvalidator()
	}
}

// SetCacheInvalidator wires the cache self-heal hook.
func (e *Engine) SetCacheInvalidator(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cacheInvalidator = fn
}

// ResetMetrics clears the error history, all performance histories,
// and the query pattern counter. Used for test isolation and
// operator-triggered resets.
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("resetting metrics")
	e.errors.clear()
	e.metrics = make(map[string]*ring[PerformanceSample])
	e.patterns = make(map[string]*patternEntry)
	e.patternSeq = 0
}

// captureStack returns a trimmed stack trace for error records.
func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

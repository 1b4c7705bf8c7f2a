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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Breaker State
// -----------------------------------------------------------------------------

// BreakerState represents the circuit breaker state machine position.
type BreakerState int32

const (
	// StateClosed indicates normal operation; calls pass through.
	StateClosed BreakerState = iota

	// StateOpen indicates the breaker is tripped; calls fail fast.
	StateOpen

	// StateHalfOpen indicates the cooldown elapsed; one probe call is
	// allowed through to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Circuit Breaker
// -----------------------------------------------------------------------------

// CircuitBreaker gates one named operation behind a failure threshold.
//
// # Description
//
// Counts consecutive failures while closed. At the threshold the breaker
// opens and every call fails fast with ErrCircuitOpen until the timeout
// elapses. The first call after the timeout runs as a half-open probe:
// success closes the breaker and resets the count, failure re-opens it
// immediately without requiring the full threshold again.
//
// The breaker never converts or swallows the wrapped operation's error;
// after bookkeeping the original error is returned unchanged.
//
// # Thread Safety
//
// Safe for concurrent use. State transitions happen under a mutex; the
// wrapped operation itself runs outside the lock.
type CircuitBreaker struct {
	name      string
	threshold int
	timeout   time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	// probing is set while the single half-open probe call is in
	// flight; concurrent callers fail fast until it lands.
	probing bool

	// now is injectable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named operation.
func NewCircuitBreaker(name string, threshold int, timeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
		state:     StateClosed,
		now:       time.Now,
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Call executes fn through the breaker.
//
// While open and inside the cooldown window it returns ErrCircuitOpen
// (wrapped with the operation name) without invoking fn. Once the
// cooldown elapses the breaker half-opens and exactly one call runs as
// the probe; concurrent callers keep failing fast until the probe
// lands.
func (b *CircuitBreaker) Call(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.timeout {
			b.state = StateHalfOpen
			b.logger.Info("circuit breaker half-open", slog.String("operation", b.name))
		} else {
			b.mu.Unlock()
			return fmt.Errorf("%w for %s", ErrCircuitOpen, b.name)
		}
	}
	wasHalfOpen := b.state == StateHalfOpen
	if wasHalfOpen {
		if b.probing {
			b.mu.Unlock()
			return fmt.Errorf("%w for %s", ErrCircuitOpen, b.name)
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if wasHalfOpen {
		b.probing = false
	}

	if err == nil {
		if wasHalfOpen {
			b.state = StateClosed
			b.failures = 0
			b.logger.Info("circuit breaker closed", slog.String("operation", b.name))
		}
		return nil
	}

	b.failures++
	b.lastFailure = b.now()

	// A failed half-open probe re-opens without a full threshold count.
	if wasHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			b.logger.Error("circuit breaker open",
				slog.String("operation", b.name),
				slog.Int("failures", b.failures),
				slog.Int("threshold", b.threshold))
		}
		b.state = StateOpen
	}

	return err
}

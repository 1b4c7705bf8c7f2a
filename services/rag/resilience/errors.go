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
	"fmt"
	"net"
	"os"
	"syscall"
)

// Sentinel errors for the resilience layer.
var (
	// ErrCircuitOpen is returned when a circuit breaker is open and the
	// cooldown has not elapsed. The wrapped operation is not invoked.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// -----------------------------------------------------------------------------
// Error Kinds
// -----------------------------------------------------------------------------

// ErrorKind classifies an error for retry eligibility and self-healing.
//
// The kinds mirror the operational taxonomy: transient faults are worth
// retrying and trigger the connection pause, resource exhaustion triggers
// metric trimming, configuration errors are fatal and never retried,
// not-found errors are surfaced to the caller unchanged.
type ErrorKind int

const (
	// KindGeneric covers everything without a more specific kind.
	KindGeneric ErrorKind = iota

	// KindTransient marks network/timeout-like faults.
	KindTransient

	// KindResourceExhaustion marks memory-pressure faults.
	KindResourceExhaustion

	// KindConfiguration marks unsupported provider/format faults.
	KindConfiguration

	// KindNotFound marks missing version/document faults.
	KindNotFound
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	default:
		return "generic"
	}
}

// ClassifiedError attaches an ErrorKind to an underlying error without
// altering its message. Unwrap preserves errors.Is/As branching through
// the wrapper chain.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WithKind wraps err with an explicit kind. Returns nil for a nil err.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(format string, args ...any) error {
	return &ClassifiedError{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Classify determines the ErrorKind of err.
//
// A ClassifiedError anywhere in the chain wins. Otherwise network
// timeouts, connection resets/refusals, and context deadlines are
// transient; ENOMEM is resource exhaustion; everything else is generic.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindGeneric
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	if errors.Is(err, syscall.ENOMEM) {
		return KindResourceExhaustion
	}

	if errors.Is(err, os.ErrNotExist) {
		return KindNotFound
	}

	return KindGeneric
}

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

// ring is a fixed-capacity buffer that evicts the oldest entry on
// overflow. It backs the error and performance histories.
//
// Thread Safety: NOT safe for concurrent use; the Engine serializes
// access under its own mutex.
type ring[T any] struct {
	data  []T
	head  int // next write position
	count int
	cap   int
}

// newRing creates a ring with the given capacity (minimum 1).
func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// push appends an item, evicting the oldest when full.
func (r *ring[T]) push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// len returns the number of stored items.
func (r *ring[T]) len() int {
	return r.count
}

// slice returns all items, oldest first. The result is a copy.
func (r *ring[T]) slice() []T {
	if r.count == 0 {
		return nil
	}
	result := make([]T, r.count)
	start := r.head - r.count
	if start < 0 {
		start += r.cap
	}
	for i := 0; i < r.count; i++ {
		result[i] = r.data[(start+i)%r.cap]
	}
	return result
}

// last returns up to n items, oldest first among the newest n.
func (r *ring[T]) last(n int) []T {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	all := r.slice()
	return all[len(all)-n:]
}

// truncateToLast discards everything but the newest n items. Used by
// the memory-pressure self-heal to shed history.
func (r *ring[T]) truncateToLast(n int) {
	if n >= r.count {
		return
	}
	kept := r.last(n)
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
	for _, item := range kept {
		r.push(item)
	}
}

// clear removes all items.
func (r *ring[T]) clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
}

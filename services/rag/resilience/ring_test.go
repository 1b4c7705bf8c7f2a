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
	"reflect"
	"testing"
)

func TestRing_PushAndSlice(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 3; i++ {
		r.push(i)
	}
	if got, want := r.slice(), []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("slice() = %v, want %v", got, want)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	if got, want := r.slice(), []int{3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("slice() = %v, want %v", got, want)
	}
	if r.len() != 3 {
		t.Errorf("len() = %d, want 3", r.len())
	}
}

func TestRing_Last(t *testing.T) {
	r := newRing[int](10)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}

	tests := []struct {
		name string
		n    int
		want []int
	}{
		{"subset", 2, []int{4, 5}},
		{"all", 5, []int{1, 2, 3, 4, 5}},
		{"more than held", 99, []int{1, 2, 3, 4, 5}},
		{"zero", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.last(tt.n); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("last(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestRing_TruncateToLast(t *testing.T) {
	r := newRing[int](1000)
	for i := 1; i <= 200; i++ {
		r.push(i)
	}
	r.truncateToLast(100)

	if r.len() != 100 {
		t.Fatalf("len() = %d, want 100", r.len())
	}
	got := r.slice()
	if got[0] != 101 || got[99] != 200 {
		t.Errorf("kept range [%d..%d], want [101..200]", got[0], got[99])
	}

	// Capacity must survive a trim.
	for i := 201; i <= 1100; i++ {
		r.push(i)
	}
	if r.len() != 1000 {
		t.Errorf("len() after refill = %d, want 1000", r.len())
	}
}

func TestRing_Clear(t *testing.T) {
	r := newRing[string](4)
	r.push("a")
	r.push("b")
	r.clear()
	if r.len() != 0 {
		t.Errorf("len() after clear = %d, want 0", r.len())
	}
	r.push("c")
	if got, want := r.slice(), []string{"c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("slice() = %v, want %v", got, want)
	}
}

func TestRing_SliceIsCopy(t *testing.T) {
	r := newRing[int](4)
	r.push(1)
	s := r.slice()
	s[0] = 42
	if got := r.slice()[0]; got != 1 {
		t.Errorf("ring mutated through returned slice: got %d, want 1", got)
	}
}

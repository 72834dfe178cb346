// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"testing"
	"time"
)

func TestDuplicateFilter_Window(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := MustEncode(PumpStatusRequest(PumpAddress(1), AddressApp))
	d := NewDuplicateFilter(DefaultDebounce)

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{100 * time.Millisecond, false},
		{499 * time.Millisecond, false},
		{500 * time.Millisecond, true},  // window measured from the last forwarded copy
		{900 * time.Millisecond, false}, // repeats do not extend the window
		{1000 * time.Millisecond, true},
	}

	for _, tt := range tests {
		if got := d.Allow(raw, base.Add(tt.offset)); got != tt.want {
			t.Errorf("Allow() at +%v = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestDuplicateFilter_DistinctFrames(t *testing.T) {
	now := time.Now()
	d := NewDuplicateFilter(DefaultDebounce)

	a := MustEncode(ChlorinatorSetOutput(10))
	b := MustEncode(ChlorinatorSetOutput(11))
	if !d.Allow(a, now) || !d.Allow(b, now) {
		t.Error("distinct frames should both pass")
	}
	if d.Allow(a, now) {
		t.Error("repeat of a should be suppressed")
	}
}

func TestDuplicateFilter_Disabled(t *testing.T) {
	now := time.Now()
	d := NewDuplicateFilter(0)
	raw := []byte{1, 2, 3}
	for i := 0; i < 3; i++ {
		if !d.Allow(raw, now) {
			t.Fatal("zero window should never suppress")
		}
	}
}

func TestDuplicateFilter_Prune(t *testing.T) {
	base := time.Now()
	d := NewDuplicateFilter(DefaultDebounce)
	for i := 0; i < 50; i++ {
		d.Allow([]byte{byte(i)}, base)
	}
	if d.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", d.Len())
	}

	d.Allow([]byte{0xFF}, base.Add(time.Second))
	if d.Len() != 1 {
		t.Errorf("Len() after prune = %d, want 1", d.Len())
	}

	d.Reset()
	if d.Len() != 0 {
		t.Errorf("Len() after Reset = %d", d.Len())
	}
}

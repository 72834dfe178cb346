// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import "time"

// DefaultDebounce is the window in which identical frames are suppressed
const DefaultDebounce = 500 * time.Millisecond

// DuplicateFilter suppresses identical frames repeated within a debounce
// window. The window starts at the last copy that was let through; repeats
// inside it do not extend it.
type DuplicateFilter struct {
	window time.Duration
	seen   map[string]time.Time
	last   time.Time // last prune
}

// NewDuplicateFilter creates a filter with the given window.
// A zero or negative window disables filtering.
func NewDuplicateFilter(window time.Duration) *DuplicateFilter {
	return &DuplicateFilter{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Window returns the debounce window
func (d *DuplicateFilter) Window() time.Duration {
	return d.window
}

// Allow reports whether raw seen at time at should be forwarded
func (d *DuplicateFilter) Allow(raw []byte, at time.Time) bool {
	if d.window <= 0 {
		return true
	}
	d.prune(at)

	key := string(raw)
	if prev, ok := d.seen[key]; ok && at.Sub(prev) < d.window {
		return false
	}
	d.seen[key] = at
	return true
}

// Reset forgets every frame seen so far
func (d *DuplicateFilter) Reset() {
	d.seen = make(map[string]time.Time)
	d.last = time.Time{}
}

// Len returns the number of remembered frames
func (d *DuplicateFilter) Len() int {
	return len(d.seen)
}

func (d *DuplicateFilter) prune(now time.Time) {
	if now.Sub(d.last) < d.window {
		return
	}
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
		}
	}
	d.last = now
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"sync"
	"time"
)

// Deduper suppresses repeats of the same message within a window. A
// failing source can otherwise produce the same error on every retry.
type Deduper struct {
	window time.Duration

	mu         sync.Mutex
	seen       map[string]time.Time
	suppressed map[string]int
}

// NewDeduper creates a deduper. A zero window disables suppression.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window:     window,
		seen:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Allow reports whether key may be logged at now. When it returns true
// after suppressing repeats, suppressed holds how many were dropped.
func (d *Deduper) Allow(key string, now time.Time) (ok bool, suppressed int) {
	if d == nil || d.window <= 0 {
		return true, 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, found := d.seen[key]; found && now.Sub(last) < d.window {
		d.suppressed[key]++
		return false, 0
	}

	suppressed = d.suppressed[key]
	delete(d.suppressed, key)
	d.seen[key] = now

	for k, ts := range d.seen {
		if now.Sub(ts) >= 4*d.window {
			delete(d.seen, k)
			delete(d.suppressed, k)
		}
	}

	return true, suppressed
}

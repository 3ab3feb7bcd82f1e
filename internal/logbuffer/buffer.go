/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent output lines of a process.
package logbuffer

import (
	"bytes"
	"sync"
)

// maxLineLength caps a single buffered line; ffmpeg progress output can
// run long without a newline.
const maxLineLength = 4096

// Ring is a thread-safe ring of text lines. It implements io.Writer so it
// can be attached to a process's stderr.
type Ring struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int
	partial  []byte
}

// New creates a ring with the specified line capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

// Write splits p into lines and stores the complete ones.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := p
	for len(data) > 0 {
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			r.partial = append(r.partial, data...)
			if len(r.partial) > maxLineLength {
				r.add(string(r.partial[:maxLineLength]))
				r.partial = r.partial[:0]
			}
			break
		}
		r.partial = append(r.partial, data[:idx]...)
		if len(bytes.TrimSpace(r.partial)) > 0 {
			r.add(string(bytes.TrimSpace(r.partial)))
		}
		r.partial = r.partial[:0]
		data = data[idx+1:]
	}
	return len(p), nil
}

func (r *Ring) add(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// Last returns up to n most recent lines in chronological order.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	result := make([]string, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		result[i] = r.lines[(start+i)%r.capacity]
	}
	return result
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

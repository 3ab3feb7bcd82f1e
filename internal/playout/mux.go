/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"io"
	"sync"
	"sync/atomic"
)

// outputMux forwards the active source's stream into the encoder. Only
// writes tagged with the current owner reach the encoder; anything else
// is drained and dropped so a stale source never blocks.
type outputMux struct {
	owner   atomic.Uint64
	target  atomic.Pointer[io.Writer]
	writeMu sync.Mutex
	dropped atomic.Int64
}

// SetTarget replaces the encoder input. Nil detaches it.
func (m *outputMux) SetTarget(w io.Writer) {
	if w == nil {
		m.target.Store(nil)
		return
	}
	m.target.Store(&w)
}

// SetOwner selects which source may write.
func (m *outputMux) SetOwner(seq uint64) {
	m.owner.Store(seq)
}

// Owner returns the current owner.
func (m *outputMux) Owner() uint64 {
	return m.owner.Load()
}

// Dropped returns the number of bytes discarded so far.
func (m *outputMux) Dropped() int64 {
	return m.dropped.Load()
}

func (m *outputMux) write(seq uint64, p []byte) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	target := m.target.Load()
	if seq != m.owner.Load() || target == nil {
		m.dropped.Add(int64(len(p)))
		return
	}
	if _, err := (*target).Write(p); err != nil {
		// Encoder gone; its exit is handled by the supervisor.
		m.dropped.Add(int64(len(p)))
	}
}

// Writer returns an io.Writer that writes on behalf of seq. It never
// returns an error, so io.Copy drains the source until EOF.
func (m *outputMux) Writer(seq uint64) io.Writer {
	return muxWriter{mux: m, seq: seq}
}

type muxWriter struct {
	mux *outputMux
	seq uint64
}

func (w muxWriter) Write(p []byte) (int, error) {
	w.mux.write(w.seq, p)
	return len(p), nil
}

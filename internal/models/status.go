/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlayoutMode tells whether output comes from the playlist or live ingest.
type PlayoutMode string

const (
	ModePlaylist PlayoutMode = "playlist"
	ModeLive     PlayoutMode = "live"
)

// SchedulerState enumerates the scheduler state machine.
type SchedulerState string

const (
	StateIdle            SchedulerState = "idle"
	StatePlayingPlaylist SchedulerState = "playing_playlist"
	StatePlayingLive     SchedulerState = "playing_live"
	StateRollingOver     SchedulerState = "rolling_over"
	StateStalled         SchedulerState = "stalled"
)

// Health is the coarse channel health reported to operators.
type Health string

const (
	HealthRunning Health = "running"
	HealthStalled Health = "stalled"
	HealthFatal   Health = "fatal"
	HealthStopped Health = "stopped"
)

// PlayoutStatus is an immutable snapshot of a channel's playout.
type PlayoutStatus struct {
	Channel   string         `json:"channel"`
	State     SchedulerState `json:"state"`
	Health    Health         `json:"health"`
	Mode      PlayoutMode    `json:"mode"`
	Date      string         `json:"date,omitempty"`
	Current   *PlayItem      `json:"current,omitempty"`
	Index     int            `json:"index"`
	Elapsed   float64        `json:"elapsed"`
	Shift     float64        `json:"shift"`
	Ingest    bool           `json:"ingest"`
	Title     string         `json:"title,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Copy returns a snapshot that shares no memory with s.
func (s PlayoutStatus) Copy() PlayoutStatus {
	if s.Current != nil {
		item := *s.Current
		s.Current = &item
	}
	return s
}

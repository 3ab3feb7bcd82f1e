/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"
)

// DateLayout is the layout of PlaylistDay.Date.
const DateLayout = "2006-01-02"

// CategoryFiller marks items inserted to cover schedule gaps.
const CategoryFiller = "filler"

// CategoryAdvertisement items never carry the channel logo.
const CategoryAdvertisement = "advertisement"

// SlateSource is the source of filler items on channels without a filler
// clip. The decode stage renders it as black video with silence.
const SlateSource = "slate://black"

// PlayItem is one scheduled entry of a day's program.
//
// Begin is the offset in seconds from the channel's day start. Duration is
// the scheduled on-air length. In and Out are trim points inside the source;
// an Out of zero means In+Duration.
type PlayItem struct {
	UID          string  `json:"uid"`
	Begin        float64 `json:"begin"`
	Source       string  `json:"source"`
	Duration     float64 `json:"duration"`
	In           float64 `json:"in"`
	Out          float64 `json:"out"`
	Audio        string  `json:"audio,omitempty"`
	Category     string  `json:"category,omitempty"`
	CustomFilter string  `json:"custom_filter,omitempty"`
	Overtime     bool    `json:"overtime,omitempty"`
	Title        string  `json:"title,omitempty"`
}

// End returns the scheduled end offset of the item.
func (p PlayItem) End() float64 {
	return p.Begin + p.Duration
}

// OutPoint returns the effective trim end inside the source.
func (p PlayItem) OutPoint() float64 {
	if p.Out > p.In {
		return p.Out
	}
	return p.In + p.Duration
}

// Trimmed reports whether the item stops before the end of its source.
func (p PlayItem) Trimmed(sourceDuration float64) bool {
	return sourceDuration > 0 && p.OutPoint() < sourceDuration
}

// DisplayTitle returns the title, falling back to the source path.
func (p PlayItem) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Source
}

// PlaylistDay is the ordered program of one channel for one date.
type PlaylistDay struct {
	Channel string     `json:"channel"`
	Date    string     `json:"date"`
	Program []PlayItem `json:"program"`
}

// Clone returns a deep copy of the day.
func (d PlaylistDay) Clone() PlaylistDay {
	out := PlaylistDay{Channel: d.Channel, Date: d.Date}
	if d.Program != nil {
		out.Program = make([]PlayItem, len(d.Program))
		copy(out.Program, d.Program)
	}
	return out
}

// Length returns the end offset of the last item.
func (d PlaylistDay) Length() float64 {
	if len(d.Program) == 0 {
		return 0
	}
	return d.Program[len(d.Program)-1].End()
}

// Day parses Date in the given location.
func (d PlaylistDay) Day(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, d.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse playlist date %q: %w", d.Date, err)
	}
	return t, nil
}

// IndexAt returns the index of the item scheduled at offset and the seek
// into it. ok is false when offset is outside the program.
func (d PlaylistDay) IndexAt(offset float64) (index int, seek float64, ok bool) {
	for i, item := range d.Program {
		if offset >= item.Begin && offset < item.End() {
			return i, offset - item.Begin, true
		}
		if offset < item.Begin {
			// Offset falls into a gap; start the next item from its top.
			return i, 0, true
		}
	}
	return -1, 0, false
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// MediaFile caches probe results for a file in a media folder.
type MediaFile struct {
	Path       string `gorm:"primaryKey"`
	Category   string `gorm:"index"`
	Title      string
	Duration   float64
	Size       int64
	ModTime    time.Time
	HasAudio   bool
	HasVideo   bool
	Interlaced bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlaylistDocument stores one serialized PlaylistDay.
type PlaylistDocument struct {
	ChannelID string `gorm:"primaryKey;type:varchar(64)"`
	Date      string `gorm:"primaryKey;type:varchar(10)"`
	Document  string `gorm:"type:text"`
	Items     int
	Length    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrNotFound indicates no playlist exists for the requested day.
var ErrNotFound = errors.New("playlist not found")

// Store persists day playlists.
type Store interface {
	Load(ctx context.Context, channelID string, date time.Time) (models.PlaylistDay, error)
	Save(ctx context.Context, day models.PlaylistDay) error
}

// Watcher is implemented by stores that can report external changes.
type Watcher interface {
	// Watch calls onChange with the date of a changed day until ctx ends.
	Watch(ctx context.Context, channelID string, onChange func(date string)) error
}

// checkLoaded rejects a document stored under the wrong channel or date.
func checkLoaded(day models.PlaylistDay, channelID string, date time.Time) error {
	want := date.Format(models.DateLayout)
	if day.Channel != channelID || day.Date != want {
		return &mismatchError{channel: day.Channel, date: day.Date, wantChannel: channelID, wantDate: want}
	}
	return nil
}

type mismatchError struct {
	channel, date, wantChannel, wantDate string
}

func (e *mismatchError) Error() string {
	return "playlist document for " + e.channel + "/" + e.date + " stored as " + e.wantChannel + "/" + e.wantDate
}

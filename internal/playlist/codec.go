/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist loads and stores day playlists.
package playlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Decode parses a playlist document and checks its structure. Chronological
// consistency is the validator's job and is not checked here.
func Decode(data []byte) (models.PlaylistDay, error) {
	var day models.PlaylistDay
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&day); err != nil {
		return models.PlaylistDay{}, fmt.Errorf("decode playlist: %w", err)
	}
	if err := CheckDocument(day); err != nil {
		return models.PlaylistDay{}, err
	}
	return day, nil
}

// Encode serializes a day in the document format.
func Encode(day models.PlaylistDay) ([]byte, error) {
	if day.Program == nil {
		day.Program = []models.PlayItem{}
	}
	data, err := json.MarshalIndent(day, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode playlist: %w", err)
	}
	return append(data, '\n'), nil
}

// CheckDocument verifies required fields and value ranges.
func CheckDocument(day models.PlaylistDay) error {
	if day.Channel == "" {
		return fmt.Errorf("playlist: channel is required")
	}
	if _, err := time.Parse(models.DateLayout, day.Date); err != nil {
		return fmt.Errorf("playlist: date %q is not YYYY-MM-DD", day.Date)
	}

	uids := make(map[string]int, len(day.Program))
	for i, item := range day.Program {
		switch {
		case item.UID == "":
			return fmt.Errorf("playlist: item %d has no uid", i)
		case item.Source == "":
			return fmt.Errorf("playlist: item %s has no source", item.UID)
		case !finite(item.Begin, item.Duration, item.In, item.Out):
			return fmt.Errorf("playlist: item %s has a non-finite time value", item.UID)
		case item.Begin < 0:
			return fmt.Errorf("playlist: item %s begins before day start", item.UID)
		case item.Duration <= 0:
			return fmt.Errorf("playlist: item %s has non-positive duration", item.UID)
		case item.In < 0:
			return fmt.Errorf("playlist: item %s has negative in point", item.UID)
		case item.Out != 0 && item.Out <= item.In:
			return fmt.Errorf("playlist: item %s has out %.3f not after in %.3f", item.UID, item.Out, item.In)
		}
		if prev, dup := uids[item.UID]; dup {
			return fmt.Errorf("playlist: uid %s used by items %d and %d", item.UID, prev, i)
		}
		uids[item.UID] = i
	}
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

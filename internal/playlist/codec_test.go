/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func sampleDay() models.PlaylistDay {
	return models.PlaylistDay{
		Channel: "news",
		Date:    "2026-03-14",
		Program: []models.PlayItem{
			{UID: "a", Begin: 0, Source: "/media/intro.mp4", Duration: 30, In: 0, Out: 30},
			{UID: "b", Begin: 30, Source: "/media/show.mp4", Duration: 1200, In: 12.5, Out: 1212.5, Title: "Show"},
			{UID: "c", Begin: 1230, Source: "/media/ad.mp4", Duration: 15, Category: models.CategoryAdvertisement},
		},
	}
}

func TestEncodeDecodePreservesDay(t *testing.T) {
	day := sampleDay()
	data, err := Encode(day)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(day, got); diff != "" {
		t.Fatalf("decoded day mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeEmptyProgram(t *testing.T) {
	data, err := Encode(models.PlaylistDay{Channel: "news", Date: "2026-03-14"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"program": []`) {
		t.Fatalf("expected empty program array, got %s", data)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	doc := `{"channel":"news","date":"2026-03-14","program":[],"extra":1}`
	if _, err := Decode([]byte(doc)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestCheckDocument(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.PlaylistDay)
		errSub string
	}{
		{name: "valid", mutate: func(*models.PlaylistDay) {}},
		{name: "no channel", mutate: func(d *models.PlaylistDay) { d.Channel = "" }, errSub: "channel"},
		{name: "bad date", mutate: func(d *models.PlaylistDay) { d.Date = "14.03.2026" }, errSub: "YYYY-MM-DD"},
		{name: "missing uid", mutate: func(d *models.PlaylistDay) { d.Program[1].UID = "" }, errSub: "no uid"},
		{name: "missing source", mutate: func(d *models.PlaylistDay) { d.Program[1].Source = "" }, errSub: "no source"},
		{name: "zero duration", mutate: func(d *models.PlaylistDay) { d.Program[0].Duration = 0 }, errSub: "non-positive"},
		{name: "negative begin", mutate: func(d *models.PlaylistDay) { d.Program[0].Begin = -1 }, errSub: "before day start"},
		{name: "out before in", mutate: func(d *models.PlaylistDay) { d.Program[1].Out = 10 }, errSub: "not after in"},
		{name: "nan", mutate: func(d *models.PlaylistDay) { d.Program[2].In = math.NaN() }, errSub: "non-finite"},
		{name: "duplicate uid", mutate: func(d *models.PlaylistDay) { d.Program[2].UID = "a" }, errSub: "used by items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := sampleDay()
			tt.mutate(&day)
			err := CheckDocument(day)
			if tt.errSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func evenProgram(n int, length float64) []models.PlayItem {
	program := make([]models.PlayItem, n)
	for i := range program {
		program[i] = models.PlayItem{
			UID:      string(rune('a' + i)),
			Begin:    float64(i) * length,
			Source:   "/media/item.mp4",
			Duration: length,
		}
	}
	return program
}

func TestPlanNext(t *testing.T) {
	program := evenProgram(4, 60)
	gapped := []models.PlayItem{
		{UID: "a", Begin: 0, Duration: 60},
		{UID: "b", Begin: 100, Duration: 60},
	}

	tests := []struct {
		name    string
		program []models.PlayItem
		next    int
		offset  float64
		want    plan
	}{
		{
			name:    "on time",
			program: program,
			next:    1,
			offset:  60,
			want:    plan{Index: 1},
		},
		{
			name:    "small shift is tolerated",
			program: program,
			next:    1,
			offset:  60.5,
			want:    plan{Index: 1, Shift: 0.5},
		},
		{
			name:    "late seeks into same item",
			program: program,
			next:    1,
			offset:  63,
			want:    plan{Index: 1, Seek: 3, Shift: 3, Corrected: true},
		},
		{
			name:    "late skips whole items",
			program: program,
			next:    1,
			offset:  130,
			want:    plan{Index: 2, Seek: 10, Shift: 70, Corrected: true, Skipped: []int{1}},
		},
		{
			name:    "tiny tail is skipped",
			program: program,
			next:    1,
			offset:  119.95,
			want:    plan{Index: 2, Shift: 59.95, Corrected: true, Skipped: []int{1}},
		},
		{
			name:    "early fills until due",
			program: program,
			next:    2,
			offset:  110,
			want:    plan{Index: 2, Filler: 10, Shift: -10, Corrected: true},
		},
		{
			name:    "early by a whole slot",
			program: program,
			next:    3,
			offset:  120,
			want:    plan{Index: 3, Filler: 60, Shift: -60, Corrected: true},
		},
		{
			name:    "late into a gap fills",
			program: gapped,
			next:    0,
			offset:  70,
			want:    plan{Index: 1, Filler: 30, Shift: 70, Corrected: true, Skipped: []int{0}},
		},
		{
			name:    "late past the end",
			program: program,
			next:    3,
			offset:  500,
			want:    plan{Index: -1, Shift: 320, Corrected: true, Skipped: []int{3}},
		},
		{
			name:    "nothing left",
			program: program,
			next:    4,
			offset:  240,
			want:    plan{Index: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planNext(tt.program, tt.next, tt.offset, 1.0)
			got.Shift = round3(got.Shift)
			got.Seek = round3(got.Seek)
			got.Filler = round3(got.Filler)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("planNext mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDriftThresholdLogging(t *testing.T) {
	program := []models.PlayItem{
		{UID: "prev", Begin: 0, Duration: 3600},
		{UID: "hour", Begin: 3600, Duration: 1800},
	}

	t.Run("half a second under a one second threshold", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		p := planNext(program, 1, 3600.5, 1.0)
		logPlan(logger, p, program, 3600.5)

		if p.Corrected {
			t.Fatalf("shift %.1f corrected under threshold", p.Shift)
		}
		if p.Shift != 0.5 {
			t.Errorf("Shift = %v, want 0.5", p.Shift)
		}
		if p.Seek != 0 || p.Filler != 0 {
			t.Errorf("unexpected adjustment: %+v", p)
		}
		if buf.Len() != 0 {
			t.Errorf("unexpected log output: %s", buf.String())
		}
	})

	t.Run("above threshold logs the corrective skip", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		p := planNext(program, 1, 3602.5, 1.0)
		logPlan(logger, p, program, 3602.5)

		if !p.Corrected || p.Seek != 2.5 {
			t.Fatalf("expected seek of 2.5s, got %+v", p)
		}

		var entry map[string]any
		line := strings.TrimSpace(buf.String())
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["level"] != "warn" {
			t.Errorf("level = %v, want warn", entry["level"])
		}
		if entry["message"] != "drift correction: seeking into due item" {
			t.Errorf("message = %v", entry["message"])
		}
		if entry["uid"] != "hour" || entry["shift"] != 2.5 {
			t.Errorf("unexpected fields: %v", entry)
		}
	})
}

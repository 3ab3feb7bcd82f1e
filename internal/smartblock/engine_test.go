/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package smartblock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func randomPool(seed int64, n int) []models.MediaFile {
	rng := rand.New(rand.NewSource(seed))
	pool := make([]models.MediaFile, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, models.MediaFile{
			Path:     fmt.Sprintf("/media/music/clip-%03d.mp4", i),
			Category: "music",
			Duration: 60 + float64(rng.Intn(5400))/10,
		})
	}
	return pool
}

func slotTotal(day models.PlaylistDay) float64 {
	var total float64
	for _, item := range day.Program {
		total += item.Duration
	}
	return total
}

func TestGenerator_SlotWithinTolerance(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := randomPool(3, 40)
	tpl := Template{Slots: []Slot{{Name: "block", Duration: 1800, Tolerance: 30, Shuffle: true}}}

	for seed := int64(0); seed < 20; seed++ {
		s := seed
		day, err := gen.Generate(context.Background(), GenerateRequest{
			Channel: "news", Date: "2026-03-14", Template: tpl, Pool: pool, Seed: &s,
		})
		if err != nil {
			t.Fatalf("seed %d: Generate() error = %v", seed, err)
		}
		if total := slotTotal(day); total < 1770 || total > 1830 {
			t.Errorf("seed %d: total = %.1f, want within [1770, 1830]", seed, total)
		}
	}
}

func TestGenerator_ExactSearchAfterGreedyMiss(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := []models.MediaFile{
		{Path: "/media/a.mp4", Duration: 700},
		{Path: "/media/b.mp4", Duration: 600},
		{Path: "/media/c.mp4", Duration: 500},
		{Path: "/media/d.mp4", Duration: 400},
	}
	seed := int64(1)
	day, err := gen.Generate(context.Background(), GenerateRequest{
		Channel:  "news",
		Date:     "2026-03-14",
		Template: Template{Slots: []Slot{{Name: "half", Duration: 900, Tolerance: 5}}},
		Pool:     pool,
		Seed:     &seed,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var sources []string
	for _, item := range day.Program {
		sources = append(sources, item.Source)
	}
	want := []string{"/media/c.mp4", "/media/d.mp4"}
	if diff := cmp.Diff(want, sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
	if day.Program[1].Begin != 500 {
		t.Errorf("second item begins at %v, want 500", day.Program[1].Begin)
	}
}

func TestGenerator_Unsatisfiable(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := []models.MediaFile{
		{Path: "/media/a.mp4", Duration: 100},
		{Path: "/media/b.mp4", Duration: 100},
	}
	tpl := Template{Slots: []Slot{{Name: "hour", Duration: 1000, Tolerance: 10}}}

	_, err := gen.Generate(context.Background(), GenerateRequest{Channel: "news", Date: "2026-03-14", Template: tpl, Pool: pool})
	var unsat *models.GeneratorUnsatisfiable
	if !errors.As(err, &unsat) {
		t.Fatalf("Generate() error = %v, want GeneratorUnsatisfiable", err)
	}
	if unsat.Slot != "hour" || unsat.Index != 0 {
		t.Errorf("slot = %q #%d, want hour #0", unsat.Slot, unsat.Index)
	}
	if unsat.Best != 200 || unsat.Shortfall != 790 {
		t.Errorf("best = %v shortfall = %v, want 200 and 790", unsat.Best, unsat.Shortfall)
	}
}

func TestGenerator_EmptyTemplate(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	_, err := gen.Generate(context.Background(), GenerateRequest{Channel: "news", Date: "2026-03-14"})
	if !errors.Is(err, ErrEmptyTemplate) {
		t.Errorf("Generate() error = %v, want ErrEmptyTemplate", err)
	}
}

func TestGenerator_DeterministicWithSeed(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := randomPool(11, 30)
	tpl := Template{Slots: []Slot{
		{Name: "one", Duration: 1200, Tolerance: 20, Shuffle: true},
		{Name: "two", Duration: 900, Tolerance: 20, Shuffle: true},
	}}
	seed := int64(42)
	req := GenerateRequest{Channel: "news", Date: "2026-03-14", Template: tpl, Pool: pool, Seed: &seed}

	first, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same seed produced different days (-first +second):\n%s", diff)
	}
}

func TestGenerator_FiltersAndBegins(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := []models.MediaFile{
		{Path: "/media/news/n1.mp4", Category: "news", Duration: 300},
		{Path: "/media/news/n2.mp4", Category: "news", Duration: 300},
		{Path: "/media/music/m1.mp4", Category: "music", Duration: 200},
		{Path: "/media/music/m2.mp4", Category: "music", Duration: 400},
		{Path: "/media/extra/m3.mp4", Category: "music", Duration: 600},
	}
	tpl := Template{Slots: []Slot{
		{Name: "news", Duration: 600, Category: "NEWS"},
		{Name: "music", Duration: 600, Folders: []string{"/media/music"}},
	}}

	day, err := gen.Generate(context.Background(), GenerateRequest{Channel: "news", Date: "2026-03-14", Template: tpl, Pool: pool})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var got []string
	for _, item := range day.Program {
		got = append(got, item.Source)
	}
	want := []string{"/media/news/n1.mp4", "/media/news/n2.mp4", "/media/music/m1.mp4", "/media/music/m2.mp4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}

	cursor := 0.0
	seen := map[string]bool{}
	for _, item := range day.Program {
		if item.Begin != cursor {
			t.Errorf("%s begins at %v, want %v", item.Source, item.Begin, cursor)
		}
		if seen[item.UID] {
			t.Errorf("duplicate uid %s", item.UID)
		}
		seen[item.UID] = true
		cursor += item.Duration
	}
}

func TestGenerator_PrefersUnusedMedia(t *testing.T) {
	gen := NewGenerator(zerolog.Nop())
	pool := []models.MediaFile{
		{Path: "/media/a.mp4", Duration: 100},
		{Path: "/media/b.mp4", Duration: 100},
	}
	tpl := Template{Slots: []Slot{
		{Name: "first", Duration: 100},
		{Name: "second", Duration: 100},
		{Name: "third", Duration: 100},
	}}

	day, err := gen.Generate(context.Background(), GenerateRequest{Channel: "news", Date: "2026-03-14", Template: tpl, Pool: pool})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []string{"/media/a.mp4", "/media/b.mp4", "/media/a.mp4"}
	var got []string
	for _, item := range day.Program {
		got = append(got, item.Source)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("yaml clock lengths", func(t *testing.T) {
		path := write("day.yaml", `name: weekday
slots:
  - name: morning
    duration: "01:00:00"
    tolerance: 30
    shuffle: true
    category: music
  - duration: 1800.5
`)
		tpl, err := LoadTemplate(path)
		if err != nil {
			t.Fatalf("LoadTemplate() error = %v", err)
		}
		want := Template{Name: "weekday", Slots: []Slot{
			{Name: "morning", Duration: 3600, Tolerance: 30, Shuffle: true, Category: "music"},
			{Name: "slot-2", Duration: 1800.5},
		}}
		if diff := cmp.Diff(want, tpl); diff != "" {
			t.Errorf("template mismatch (-want +got):\n%s", diff)
		}
		if tpl.Length() != 5400.5 {
			t.Errorf("Length() = %v, want 5400.5", tpl.Length())
		}
	})

	t.Run("json", func(t *testing.T) {
		path := write("day.json", `{"name":"j","slots":[{"name":"a","duration":"00:10:00","tolerance":5}]}`)
		tpl, err := LoadTemplate(path)
		if err != nil {
			t.Fatalf("LoadTemplate() error = %v", err)
		}
		if tpl.Slots[0].Duration != 600 || tpl.Slots[0].Tolerance != 5 {
			t.Errorf("slot = %+v, want 600s ±5s", tpl.Slots[0])
		}
	})

	invalid := []struct {
		name string
		file string
		body string
	}{
		{"no slots", "empty.yaml", "name: empty\nslots: []\n"},
		{"zero duration", "zero.yaml", "slots:\n  - name: a\n    duration: 0\n"},
		{"unknown field", "unknown.yaml", "slots:\n  - name: a\n    duration: 10\n    colour: red\n"},
		{"bad clock", "clock.yaml", "slots:\n  - name: a\n    duration: \"1:xx\"\n"},
		{"json unknown field", "bad.json", `{"slots":[{"duration":10,"weight":2}]}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTemplate(write(tt.file, tt.body)); err == nil {
				t.Error("LoadTemplate() error = nil, want error")
			}
		})
	}

	if _, err := LoadTemplate(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadTemplate() on missing file error = nil, want error")
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"90", 90},
		{"01:30", 90},
		{"01:00:00.5", 3600.5},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := parseSeconds(tt.in)
		if err != nil {
			t.Fatalf("parseSeconds(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

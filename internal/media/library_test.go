/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

type countingProber struct {
	mu     sync.Mutex
	calls  int
	broken map[string]bool
}

func (p *countingProber) ProbeAll(_ context.Context, paths []string, _ int) (map[string]mediaengine.MediaInfo, map[string]error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make(map[string]mediaengine.MediaInfo)
	errs := make(map[string]error)
	for _, path := range paths {
		p.calls++
		if p.broken[filepath.Base(path)] {
			errs[path] = models.ErrProbeFailed
			continue
		}
		infos[path] = mediaengine.MediaInfo{Duration: 120, HasAudio: true, HasVideo: true}
	}
	return infos, errs
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLibraryScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "news/a.mp4", "music/sub/b.MP3", "c.mkv", "readme.txt", "music/broken.mp4")

	prober := &countingProber{broken: map[string]bool{"broken.mp4": true}}
	lib := NewLibrary([]string{root}, []string{".mp4", "mp3", ".mkv"}, prober, nil, zerolog.Nop())

	result, err := lib.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.Total != 4 || result.Probed != 3 || result.Errors != 1 || result.Cached != 0 {
		t.Errorf("result = total %d probed %d errors %d cached %d, want 4/3/1/0",
			result.Total, result.Probed, result.Errors, result.Cached)
	}

	categories := map[string]string{}
	for _, f := range result.Files {
		categories[filepath.Base(f.Path)] = f.Category
		if f.Duration != 120 {
			t.Errorf("%s duration = %v, want 120", f.Path, f.Duration)
		}
	}
	want := map[string]string{"a.mp4": "news", "b.MP3": "music", "c.mkv": ""}
	for name, cat := range want {
		got, ok := categories[name]
		if !ok {
			t.Errorf("%s missing from scan", name)
			continue
		}
		if got != cat {
			t.Errorf("%s category = %q, want %q", name, got, cat)
		}
	}
	if result.Files[0].Title != "c" {
		t.Errorf("first file title = %q, want c", result.Files[0].Title)
	}

	again, err := lib.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if again.Cached != 3 || again.Probed != 0 {
		t.Errorf("second scan cached %d probed %d, want 3 and 0", again.Cached, again.Probed)
	}
	if prober.calls != 5 {
		t.Errorf("probe calls = %d, want 5 (4 first scan, broken retried once)", prober.calls)
	}
}

func TestLibraryScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.mp4")
	lib := NewLibrary([]string{root}, []string{".mp4"}, &countingProber{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lib.Scan(ctx); err == nil {
		t.Error("Scan() with cancelled context error = nil, want error")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/srv/media/a.mp4", ""},
		{"/srv/media/news/a.mp4", "news"},
		{"/srv/media/news/2026/a.mp4", "news"},
	}
	for _, tt := range tests {
		if got := categoryOf("/srv/media", tt.path); got != tt.want {
			t.Errorf("categoryOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDBCache(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MediaFile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cache := NewDBCache(db)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "/srv/a.mp4"); err != nil || ok {
		t.Fatalf("Get() on empty cache = %v, %v; want miss", ok, err)
	}

	file := models.MediaFile{Path: "/srv/a.mp4", Category: "news", Duration: 90, Size: 10}
	if err := cache.Put(ctx, file); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	file.Duration = 95
	if err := cache.Put(ctx, file); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	got, ok, err := cache.Get(ctx, "/srv/a.mp4")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want hit", ok, err)
	}
	if got.Duration != 95 || got.Category != "news" {
		t.Errorf("Get() = %+v, want duration 95 in news", got)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"fmt"
	"testing"

	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

type fakeProber map[string]mediaengine.MediaInfo

func (f fakeProber) Probe(_ context.Context, path string) (mediaengine.MediaInfo, error) {
	switch path {
	case "/srv/media/missing.mp4":
		return mediaengine.MediaInfo{}, fmt.Errorf("%s: %w", path, models.ErrMediaNotFound)
	case "/srv/media/broken.mp4":
		return mediaengine.MediaInfo{}, fmt.Errorf("%s: %w", path, models.ErrProbeFailed)
	}
	info, ok := f[path]
	if !ok {
		return mediaengine.MediaInfo{Duration: 1000, HasAudio: true, HasVideo: true}, nil
	}
	return info, nil
}

func TestReconcile(t *testing.T) {
	prober := fakeProber{
		"/srv/media/short.mp4": {Duration: 8, HasAudio: true, HasVideo: true},
		"/srv/media/long.mp4":  {Duration: 30, HasAudio: true, HasVideo: true},
	}
	v := newTestValidator(testOptions())

	in := day(
		item("short", 0, 10),
		item("missing", 10, 10),
		item("broken", 20, 10),
		item("long", 30, 10),
	)
	result, err := v.Reconcile(context.Background(), in, prober)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	kinds := map[models.ViolationKind]int{}
	for _, w := range result.Warnings {
		kinds[w.Kind]++
	}
	if kinds[models.ViolationMedia] != 1 || kinds[models.ViolationProbe] != 1 {
		t.Errorf("expected one media and one probe warning, got %+v", result.Warnings)
	}
	// short is clamped to 8s and long is reported as a duration mismatch.
	if kinds[models.ViolationDuration] != 2 {
		t.Errorf("expected two duration warnings, got %+v", result.Warnings)
	}

	program := result.Day.Program
	if program[0].Duration != 8 {
		t.Fatalf("short item should be clamped to 8s, got %v", program[0].Duration)
	}
	if program[1].Category != models.CategoryFiller || program[1].Begin != 8 || program[1].Duration != 2 {
		t.Fatalf("clamped gap should be filled, got %+v", program[1])
	}
	if _, ok := result.Media["long"]; !ok {
		t.Error("probe results should be returned for playout")
	}
	if _, ok := result.Media["missing"]; ok {
		t.Error("missing media must not have probe results")
	}
}

func TestReconcile_NoAutoCorrectFailsOnOverlongItem(t *testing.T) {
	opts := testOptions()
	opts.AutoCorrect = false
	v := newTestValidator(opts)
	prober := fakeProber{"/srv/media/a.mp4": {Duration: 5, HasAudio: true}}

	_, err := v.Reconcile(context.Background(), day(item("a", 0, 10)), prober)
	if err == nil {
		t.Fatal("expected validation error for item longer than its source")
	}
}

func TestReconcile_Cancelled(t *testing.T) {
	v := newTestValidator(testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Reconcile(ctx, day(item("a", 0, 10)), fakeProber{}); err == nil {
		t.Fatal("expected context error")
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(Config{RedisAddr: mr.Addr(), StatusTTL: 10 * time.Second}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	if !c.IsAvailable() {
		t.Fatal("cache unavailable")
	}
	return c, mr
}

func TestStatusRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	want := models.PlayoutStatus{
		Channel:   "news",
		State:     models.StatePlayingPlaylist,
		Health:    models.HealthRunning,
		Mode:      models.ModePlaylist,
		Date:      "2026-03-01",
		Current:   &models.PlayItem{UID: "a1", Begin: 60, Source: "/media/a.mp4", Duration: 30},
		Index:     1,
		Elapsed:   12.5,
		Shift:     0.25,
		UpdatedAt: time.Date(2026, 3, 1, 0, 1, 12, 0, time.UTC),
	}
	if err := c.PutStatus(ctx, want); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}

	got, ok, err := c.GetStatus(ctx, "news")
	if err != nil || !ok {
		t.Fatalf("GetStatus: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	if ttl := mr.TTL(KeyStatus + "news"); ttl != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", ttl)
	}
	mr.FastForward(11 * time.Second)
	if _, ok, _ := c.GetStatus(ctx, "news"); ok {
		t.Error("status outlived its TTL")
	}
}

func TestStatusesListsChannels(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"sports", "news", "weather"} {
		if err := c.PutStatus(ctx, models.PlayoutStatus{Channel: id, Health: models.HealthRunning}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.DeleteStatus(ctx, "weather"); err != nil {
		t.Fatal(err)
	}

	list, err := c.Statuses(ctx)
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	var ids []string
	for _, st := range list {
		ids = append(ids, st.Channel)
	}
	if diff := cmp.Diff([]string{"news", "sports"}, ids); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheDisablesOnError(t *testing.T) {
	c, mr := newTestCache(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	mr.Close()

	if err := c.PutStatus(context.Background(), models.PlayoutStatus{Channel: "news"}); err == nil {
		t.Fatal("expected write error")
	}
	if c.IsAvailable() {
		t.Fatal("cache still available after error")
	}
	// Disabled writes are dropped silently.
	if err := c.PutStatus(context.Background(), models.PlayoutStatus{Channel: "news"}); err != nil {
		t.Fatalf("write while disabled: %v", err)
	}

	now = now.Add(c.config.RetryAfter)
	if !c.IsAvailable() {
		t.Error("cache not re-enabled after retry interval")
	}
}

func TestStatusMirrorCopiesBusEvents(t *testing.T) {
	c, _ := newTestCache(t)
	bus := events.NewBus()
	m := NewStatusMirror(c, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	bus.Publish(events.EventStatus, events.Payload{
		"channel": "news",
		"status":  models.PlayoutStatus{Channel: "news", State: models.StatePlayingLive, Health: models.HealthRunning, Mode: models.ModeLive},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, ok, err := c.GetStatus(context.Background(), "news")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			if st.Mode != models.ModeLive {
				t.Errorf("mode = %s, want live", st.Mode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("status never mirrored")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

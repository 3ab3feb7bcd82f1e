/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

type sent struct {
	channel   string
	eventType events.EventType
	data      []byte
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sent
	got  chan struct{}
	err  error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Name() string { return "test" }

func (s *recordingSink) Send(_ context.Context, channel string, eventType events.EventType, data []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, sent{channel: channel, eventType: eventType, data: data})
	err := s.err
	s.mu.Unlock()
	s.got <- struct{}{}
	return err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) wait(t *testing.T) sent {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func TestForwarderSendsBusEvents(t *testing.T) {
	bus := events.NewBus()
	sink := newRecordingSink()
	f := NewForwarder(bus, sink, "node-1", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	bus.Publish(events.EventNowPlaying, events.Payload{"channel": "news", "uid": "a1", "index": 3})

	got := sink.wait(t)
	if got.channel != "news" || got.eventType != events.EventNowPlaying {
		t.Fatalf("sent to %s/%s", got.channel, got.eventType)
	}
	msg, err := unmarshalMessage(got.data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.NodeID != "node-1" || msg.MessageID == "" || msg.Channel != "news" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if msg.Payload["uid"] != "a1" || msg.Payload["index"] != float64(3) {
		t.Errorf("unexpected payload: %v", msg.Payload)
	}

	// Events without a channel still go out.
	bus.Publish(events.EventPlaylist, events.Payload{"date": "2026-03-01"})
	if got := sink.wait(t); got.channel != "_" {
		t.Errorf("channel = %q, want placeholder", got.channel)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}

	// Unsubscribed: publishing must not panic or block.
	bus.Publish(events.EventNowPlaying, events.Payload{"channel": "news"})
}

func TestForwarderSurvivesSinkErrors(t *testing.T) {
	bus := events.NewBus()
	sink := newRecordingSink()
	sink.err = errors.New("broker down")
	f := NewForwarder(bus, sink, "node-1", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	bus.Publish(events.EventHealth, events.Payload{"channel": "news", "health": "stalled"})
	sink.wait(t)
	bus.Publish(events.EventHealth, events.Payload{"channel": "news", "health": "running"})
	sink.wait(t)
}

type fakeConn struct {
	subjects []string
	flushed  bool
	closed   bool
}

func (c *fakeConn) Publish(subject string, _ []byte) error {
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.flushed = true
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestNATSSinkSubjects(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		channel string
		event   events.EventType
		want    string
	}{
		{name: "default root", channel: "news", event: events.EventStatus, want: "playout.news.status"},
		{name: "custom root", root: "studio", channel: "news", event: events.EventNowPlaying, want: "studio.news.now_playing"},
		{name: "dots are escaped", channel: "news.hd", event: events.EventHealth, want: "playout.news_hd.health"},
		{name: "wildcards are escaped", channel: "a*b>", event: events.EventIngest, want: "playout.a_b_.ingest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newNATSSink(&fakeConn{}, tt.root, zerolog.Nop())
			if got := s.Subject(tt.channel, tt.event); got != tt.want {
				t.Errorf("Subject = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNATSSinkSendAndClose(t *testing.T) {
	conn := &fakeConn{}
	s := newNATSSink(conn, "playout", zerolog.Nop())

	if err := s.Send(context.Background(), "news", events.EventCorrection, []byte(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "playout.news.correction" {
		t.Fatalf("published to %v", conn.subjects)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, "news", events.EventStatus, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Send with cancelled context = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.flushed || !conn.closed {
		t.Error("connection not flushed and closed")
	}
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	sink := NewRedisSink(RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ps := client.Subscribe(ctx, "playout:news:health")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	data, err := marshalMessage(events.EventHealth, "news", events.Payload{"health": "running"}, "node-1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Send(ctx, "news", events.EventHealth, data); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case m := <-ps.Channel():
		msg, err := unmarshalMessage([]byte(m.Payload))
		if err != nil {
			t.Fatal(err)
		}
		if msg.EventType != events.EventHealth || msg.Payload["health"] != "running" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestRedisSinkCircuitBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	sink := NewRedisSink(RedisConfig{Addr: mr.Addr(), MaxFailures: 2, CheckInterval: time.Minute}, zerolog.Nop())
	defer sink.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := sink.Send(ctx, "news", events.EventStatus, []byte(`{}`))
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("attempt %d: err = %v, want publish failure", i, err)
		}
	}
	if err := sink.Send(ctx, "news", events.EventStatus, []byte(`{}`)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want circuit open", err)
	}

	now = now.Add(time.Minute)
	if err := sink.Send(ctx, "news", events.EventStatus, []byte(`{}`)); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("circuit still open after check interval")
	}
}
